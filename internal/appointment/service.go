package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-appointments/internal/db"
	"github.com/hackgods/clinic-appointments/internal/directory"
	"github.com/hackgods/clinic-appointments/internal/observability/metrics"
	redisclient "github.com/hackgods/clinic-appointments/internal/redis"
	"github.com/hackgods/clinic-appointments/internal/schedule"
	"github.com/hackgods/clinic-appointments/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.appointment")

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// SlotStore is the part of the schedule service the lifecycle engine needs.
// Both calls join the transaction carried by ctx.
type SlotStore interface {
	Reserve(ctx context.Context, id, doctorID uuid.UUID) (*schedule.Slot, error)
	Release(ctx context.Context, slotID, doctorID uuid.UUID, start, end time.Time) error
}

type Deps struct {
	Repo    Repository
	Slots   SlotStore
	Users   directory.Reader
	Tx      db.Transactor
	Locker  redisclient.Locker
	Metrics *metrics.DomainMetrics
	Logger  *logging.Logger
	Now     func() time.Time
}

type Service struct {
	repo    Repository
	slots   SlotStore
	users   directory.Reader
	tx      db.Transactor
	locker  redisclient.Locker
	metrics *metrics.DomainMetrics
	logger  *logging.Logger
	now     func() time.Time
}

func NewService(d Deps) *Service {
	if d.Locker == nil {
		d.Locker = redisclient.NoopLocker{}
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		repo:    d.Repo,
		slots:   d.Slots,
		users:   d.Users,
		tx:      d.Tx,
		locker:  d.Locker,
		metrics: d.Metrics,
		logger:  d.Logger,
		now:     d.Now,
	}
}

type BookRequest struct {
	DoctorID   uuid.UUID
	ScheduleID uuid.UUID
	Reason     string
	Mode       Mode
}

func (r *BookRequest) normalize() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if r.DoctorID == uuid.Nil || r.ScheduleID == uuid.Nil || r.Reason == "" {
		return ErrMissingFields
	}
	if len([]rune(r.Reason)) > MaxReasonLength {
		return ErrReasonTooLong
	}
	if r.Mode == "" {
		r.Mode = ModeInPerson
	}
	if !r.Mode.Valid() {
		return ErrInvalidMode
	}
	return nil
}

// Book reserves the slot and creates a pending appointment in one
// transaction. Any failure after the reservation rolls it back.
func (s *Service) Book(ctx context.Context, caller *directory.User, req BookRequest) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.book")
	defer span.End()
	defer func() { s.metrics.ObserveBooking(err) }()

	if caller == nil || caller.Role != directory.RolePatient {
		return nil, ErrPatientOnly
	}
	if err := req.normalize(); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("schedule.id", req.ScheduleID.String()),
		attribute.String("doctor.id", req.DoctorID.String()),
	)

	var created *Appointment
	err = s.locker.WithLock(ctx, redisclient.SlotKey(req.ScheduleID), func(ctx context.Context) error {
		return s.tx.RunInTx(ctx, "book_appointment", func(ctx context.Context) error {
			a, err := s.bookAttempt(ctx, caller, req)
			if err != nil {
				return err
			}
			created = a
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			err = ErrSlotBeingBooked
		}
		span.RecordError(err)
		return nil, fmt.Errorf("book appointment: %w", err)
	}

	span.SetAttributes(attribute.String("appointment.id", created.ID.String()))
	s.logger.Info("appointment booked",
		"appointment_id", created.ID,
		"patient_id", created.PatientID,
		"doctor_id", created.DoctorID,
		"schedule_id", req.ScheduleID,
	)
	return created, nil
}

func (s *Service) bookAttempt(ctx context.Context, caller *directory.User, req BookRequest) (*Appointment, error) {
	doctor, err := s.users.GetUser(ctx, req.DoctorID)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	if !doctor.CanAcceptBookings() {
		return nil, ErrDoctorNotFound
	}

	slot, err := s.slots.Reserve(ctx, req.ScheduleID, req.DoctorID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !slot.Start.After(now) {
		return nil, ErrSlotInPast
	}
	if !slot.Start.Before(slot.End) {
		return nil, ErrInvalidSlotTimes
	}

	existing, err := s.repo.FindOverlappingForPatient(ctx, caller.ID, slot.Start, slot.End, now)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrPatientOverlap
	}

	slotID := slot.ID
	a := &Appointment{
		ID:        uuid.New(),
		PatientID: caller.ID,
		DoctorID:  req.DoctorID,
		SlotID:    &slotID,
		Start:     slot.Start,
		End:       slot.End,
		Status:    StatusPending,
		Reason:    req.Reason,
		Mode:      req.Mode,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}

	if err := s.recordEvent(ctx, a.ID, caller.ID, EventBooked, map[string]any{
		"schedule_id": slotID.String(),
		"start":       a.Start,
		"end":         a.End,
	}); err != nil {
		return nil, err
	}
	return a, nil
}

type StatusUpdate struct {
	Status Status
	Reason *string
	Notes  *string
}

// UpdateStatus applies one transition of the appointment state machine.
func (s *Service) UpdateStatus(ctx context.Context, caller *directory.User, id uuid.UUID, req StatusUpdate) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.update_status")
	defer span.End()
	span.SetAttributes(
		attribute.String("appointment.id", id.String()),
		attribute.String("appointment.target_status", string(req.Status)),
	)

	if caller == nil {
		return nil, ErrNotParticipant
	}

	var (
		updated *Appointment
		from    Status
	)
	err := s.tx.RunInTx(ctx, "update_appointment_status", func(ctx context.Context) error {
		a, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := checkTransition(a, caller.ID, req); err != nil {
			return err
		}

		u, err := s.repo.ApplyUpdate(ctx, Update{
			ID:     a.ID,
			From:   a.Status,
			To:     req.Status,
			Reason: trimmed(req.Reason),
			Notes:  trimmed(req.Notes),
		})
		if err != nil {
			return err
		}

		if u.Status == StatusCancelled {
			if err := s.releaseSlot(ctx, a); err != nil {
				return err
			}
		}

		if err := s.recordEvent(ctx, a.ID, caller.ID, eventFor(u.Status), map[string]any{
			"from": a.Status,
			"to":   u.Status,
		}); err != nil {
			return err
		}

		updated, from = u, a.Status
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	s.metrics.ObserveTransition(string(from), string(updated.Status))
	s.logger.Info("appointment status updated",
		"appointment_id", updated.ID,
		"from", from,
		"to", updated.Status,
		"actor_id", caller.ID,
	)
	return updated, nil
}

// checkTransition enforces participation, the role allowed to request the
// target status and the transition table, in that order.
func checkTransition(a *Appointment, callerID uuid.UUID, req StatusUpdate) error {
	isDoctor := callerID == a.DoctorID
	isPatient := callerID == a.PatientID
	if !isDoctor && !isPatient {
		return ErrNotParticipant
	}

	switch req.Status {
	case StatusConfirmed, StatusCancelled, StatusCompleted:
	default:
		return ErrInvalidStatus
	}

	if !isDoctor && req.Status != StatusCancelled {
		return ErrPatientCancelOnly
	}

	switch req.Status {
	case StatusConfirmed:
		if a.Status != StatusPending {
			return ErrApprovePending
		}
	case StatusCompleted:
		if a.Status != StatusConfirmed {
			return ErrCompleteConfirmed
		}
	case StatusCancelled:
		if !a.Status.Cancellable() {
			return ErrNotCancellable
		}
	}

	if req.Reason != nil && !isPatient {
		return ErrReasonByPatient
	}
	if req.Reason != nil {
		n := len([]rune(strings.TrimSpace(*req.Reason)))
		if n == 0 {
			return ErrEmptyReason
		}
		if n > MaxReasonLength {
			return ErrReasonTooLong
		}
	}
	if req.Notes != nil && !isDoctor {
		return ErrNotesByDoctor
	}
	return nil
}

// Remove deletes an appointment booked by the caller while it still holds its
// slot, releasing the slot first.
func (s *Service) Remove(ctx context.Context, caller *directory.User, id uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "appointment.remove")
	defer span.End()
	span.SetAttributes(attribute.String("appointment.id", id.String()))

	if caller == nil {
		return ErrDeleteNotOwner
	}

	err := s.tx.RunInTx(ctx, "delete_appointment", func(ctx context.Context) error {
		a, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.PatientID != caller.ID {
			return ErrDeleteNotOwner
		}
		if !a.Status.Cancellable() {
			return ErrNotDeletable
		}
		if err := s.releaseSlot(ctx, a); err != nil {
			return err
		}
		if err := s.repo.Delete(ctx, a.ID); err != nil {
			return err
		}
		return s.recordEvent(ctx, a.ID, caller.ID, EventDeleted, map[string]any{"status": a.Status})
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete appointment: %w", err)
	}

	s.logger.Info("appointment deleted", "appointment_id", id, "patient_id", caller.ID)
	return nil
}

// Get returns one appointment to a participant or an admin.
func (s *Service) Get(ctx context.Context, caller *directory.User, id uuid.UUID) (*Detail, error) {
	if caller == nil {
		return nil, ErrViewForbidden
	}
	d, err := s.repo.GetDetail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	// Non-participants see the same error as for a missing id.
	if caller.Role != directory.RoleAdmin && caller.ID != d.DoctorID && caller.ID != d.PatientID {
		return nil, ErrAppointmentMissing
	}
	return d, nil
}

// ListForRole returns the appointments where userID is the doctor or the
// patient, ascending by start. Callers may only list their own unless admin.
func (s *Service) ListForRole(ctx context.Context, caller *directory.User, role directory.Role, userID uuid.UUID, limit, offset int) ([]Detail, error) {
	if caller == nil || (caller.Role != directory.RoleAdmin && caller.ID != userID) {
		return nil, ErrViewForbidden
	}
	if role != directory.RoleDoctor && role != directory.RolePatient {
		return nil, ErrInvalidRole
	}

	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	out, err := s.repo.ListForUser(ctx, userID, role == directory.RoleDoctor, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return out, nil
}

func (s *Service) releaseSlot(ctx context.Context, a *Appointment) error {
	slotID := uuid.Nil
	if a.SlotID != nil {
		slotID = *a.SlotID
	}
	return s.slots.Release(ctx, slotID, a.DoctorID, a.Start, a.End)
}

func (s *Service) recordEvent(ctx context.Context, appointmentID, actorID uuid.UUID, eventType string, payload map[string]any) error {
	data, err := eventPayload(payload)
	if err != nil {
		s.logger.Warn("marshal event payload", "event_type", eventType, "error", err)
	}

	id := appointmentID
	return s.repo.InsertEvent(ctx, EventLog{
		EventType:     eventType,
		AppointmentID: &id,
		ActorID:       actorID,
		Payload:       data,
		CreatedAt:     s.now(),
	})
}

// eventPayload encodes payload for the event log. The payload column is
// NOT NULL, so an encoding failure yields an empty object.
func eventPayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return []byte("{}"), err
	}
	return data, nil
}

func eventFor(status Status) string {
	switch status {
	case StatusConfirmed:
		return EventConfirmed
	case StatusCancelled:
		return EventCancelled
	case StatusCompleted:
		return EventCompleted
	default:
		return EventBooked
	}
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}
