package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-appointments/internal/db"
	"github.com/hackgods/clinic-appointments/internal/directory"
	"github.com/hackgods/clinic-appointments/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.schedule")

const dateLayout = "2006-01-02"

type Service struct {
	repo   Repository
	tx     db.Transactor
	logger *logging.Logger
	loc    *time.Location
	now    func() time.Time
}

type Option func(*Service)

// WithLocation sets the time zone that defines a calendar day.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(repo Repository, tx db.Transactor, logger *logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		repo:   repo,
		tx:     tx,
		logger: logger,
		loc:    time.UTC,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) validateRange(start, end time.Time) error {
	if !start.Before(end) {
		return ErrInvalidTimeRange
	}
	sy, sm, sd := start.In(s.loc).Date()
	ey, em, ed := end.In(s.loc).Date()
	if sy != ey || sm != em || sd != ed {
		return ErrDifferentDays
	}
	if !start.After(s.now()) {
		return ErrStartInPast
	}
	return nil
}

func requireDoctor(caller *directory.User) error {
	if caller == nil || caller.Role != directory.RoleDoctor {
		return ErrDoctorOnly
	}
	return nil
}

// Declare creates an available slot for the calling doctor.
func (s *Service) Declare(ctx context.Context, caller *directory.User, start, end time.Time) (*Slot, error) {
	ctx, span := tracer.Start(ctx, "schedule.declare")
	defer span.End()

	if err := requireDoctor(caller); err != nil {
		return nil, err
	}
	if err := s.validateRange(start, end); err != nil {
		return nil, err
	}

	var created *Slot
	err := s.tx.RunInTx(ctx, "declare_schedule", func(ctx context.Context) error {
		overlap, err := s.repo.HasOverlap(ctx, caller.ID, start, end, nil)
		if err != nil {
			return err
		}
		if overlap {
			return ErrOverlap
		}

		slot := &Slot{
			ID:        uuid.New(),
			DoctorID:  caller.ID,
			Start:     start,
			End:       end,
			Available: true,
		}
		if err := s.repo.Create(ctx, slot); err != nil {
			return err
		}
		created = slot
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("declare schedule: %w", err)
	}

	span.SetAttributes(attribute.String("schedule.id", created.ID.String()))
	s.logger.Info("schedule declared",
		"schedule_id", created.ID,
		"doctor_id", caller.ID,
		"start", created.Start,
		"end", created.End,
	)
	return created, nil
}

// ListAvailable returns the doctor's open future slots grouped by calendar
// date. date, when not empty, restricts the result to that day.
func (s *Service) ListAvailable(ctx context.Context, doctorID uuid.UUID, date string) ([]DayGroup, error) {
	ctx, span := tracer.Start(ctx, "schedule.list_available")
	defer span.End()

	now := s.now()
	from := now
	var to *time.Time
	if date != "" {
		day, err := time.ParseInLocation(dateLayout, date, s.loc)
		if err != nil {
			return nil, ErrInvalidDate
		}
		next := day.AddDate(0, 0, 1)
		to = &next
		if day.After(from) {
			from = day
		}
	}

	slots, err := s.repo.ListAvailable(ctx, doctorID, from, to)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list available schedules: %w", err)
	}
	return s.groupByDate(slots), nil
}

func (s *Service) groupByDate(slots []Slot) []DayGroup {
	groups := []DayGroup{}
	for _, slot := range slots {
		key := slot.Start.In(s.loc).Format(dateLayout)
		if n := len(groups); n > 0 && groups[n-1].Date == key {
			groups[n-1].Slots = append(groups[n-1].Slots, slot)
			continue
		}
		groups = append(groups, DayGroup{Date: key, Slots: []Slot{slot}})
	}
	return groups
}

func (s *Service) ListDoctorSlots(ctx context.Context, doctorID uuid.UUID) ([]Slot, error) {
	slots, err := s.repo.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list doctor schedules: %w", err)
	}
	return slots, nil
}

// loadOwned fetches a slot and checks the caller owns it and it is unbooked.
func (s *Service) loadOwned(ctx context.Context, caller *directory.User, id uuid.UUID) (*Slot, error) {
	slot, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if slot.DoctorID != caller.ID {
		return nil, ErrNotOwner
	}
	if !slot.Available {
		return nil, ErrSlotBooked
	}
	return slot, nil
}

func (s *Service) Update(ctx context.Context, caller *directory.User, id uuid.UUID, start, end time.Time) (*Slot, error) {
	ctx, span := tracer.Start(ctx, "schedule.update")
	defer span.End()
	span.SetAttributes(attribute.String("schedule.id", id.String()))

	if err := requireDoctor(caller); err != nil {
		return nil, err
	}

	var updated *Slot
	err := s.tx.RunInTx(ctx, "update_schedule", func(ctx context.Context) error {
		if _, err := s.loadOwned(ctx, caller, id); err != nil {
			return err
		}
		if err := s.validateRange(start, end); err != nil {
			return err
		}
		overlap, err := s.repo.HasOverlap(ctx, caller.ID, start, end, &id)
		if err != nil {
			return err
		}
		if overlap {
			return ErrOverlap
		}
		updated, err = s.repo.UpdateTimes(ctx, id, caller.ID, start, end)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("update schedule: %w", err)
	}

	s.logger.Info("schedule updated", "schedule_id", id, "start", updated.Start, "end", updated.End)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, caller *directory.User, id uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "schedule.delete")
	defer span.End()
	span.SetAttributes(attribute.String("schedule.id", id.String()))

	if err := requireDoctor(caller); err != nil {
		return err
	}

	err := s.tx.RunInTx(ctx, "delete_schedule", func(ctx context.Context) error {
		if _, err := s.loadOwned(ctx, caller, id); err != nil {
			return err
		}
		return s.repo.Delete(ctx, id, caller.ID)
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete schedule: %w", err)
	}

	s.logger.Info("schedule deleted", "schedule_id", id, "doctor_id", caller.ID)
	return nil
}

// Reserve consumes an available slot. It joins the caller's transaction.
func (s *Service) Reserve(ctx context.Context, id, doctorID uuid.UUID) (*Slot, error) {
	return s.repo.Reserve(ctx, id, doctorID)
}

// Release makes a booked slot available again. It prefers the direct slot
// reference and falls back to matching doctor and exact times. Finding
// nothing to release is not an error.
func (s *Service) Release(ctx context.Context, slotID uuid.UUID, doctorID uuid.UUID, start, end time.Time) error {
	var (
		released bool
		err      error
	)
	if slotID != uuid.Nil {
		released, err = s.repo.ReleaseByID(ctx, slotID)
	} else {
		released, err = s.repo.ReleaseByTime(ctx, doctorID, start, end)
	}
	if err != nil {
		return err
	}
	if !released {
		s.logger.Warn("no booked schedule to release",
			"schedule_id", slotID,
			"doctor_id", doctorID,
			"start", start,
			"end", end,
		)
	}
	return nil
}
