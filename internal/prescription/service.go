package prescription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/db"
	"github.com/hackgods/clinic-appointments/internal/directory"
	"github.com/hackgods/clinic-appointments/internal/observability/metrics"
	"github.com/hackgods/clinic-appointments/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.prescription")

// AppointmentStore is the slice of the appointment repository used here.
type AppointmentStore interface {
	GetCompletedForDoctor(ctx context.Context, id, doctorID uuid.UUID) (*appointment.Appointment, error)
	SetHasPrescription(ctx context.Context, id uuid.UUID, has bool) error
}

type Deps struct {
	Repo         Repository
	Appointments AppointmentStore
	Tx           db.Transactor
	Metrics      *metrics.DomainMetrics
	Logger       *logging.Logger
	Now          func() time.Time
}

type Service struct {
	repo         Repository
	appointments AppointmentStore
	tx           db.Transactor
	metrics      *metrics.DomainMetrics
	logger       *logging.Logger
	now          func() time.Time
}

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		repo:         d.Repo,
		appointments: d.Appointments,
		tx:           d.Tx,
		metrics:      d.Metrics,
		logger:       d.Logger,
		now:          d.Now,
	}
}

type CreateRequest struct {
	AppointmentID uuid.UUID
	Medications   []Medication
	Diagnosis     string
	ExpiryDate    *time.Time
}

func requireDoctor(caller *directory.User) error {
	if caller == nil || caller.Role != directory.RoleDoctor {
		return ErrDoctorOnly
	}
	return nil
}

// Create issues the single prescription of a completed appointment. The
// duplicate check and the insert rerun together on every attempt.
func (s *Service) Create(ctx context.Context, caller *directory.User, req CreateRequest) (p *Prescription, err error) {
	ctx, span := tracer.Start(ctx, "prescription.create")
	defer span.End()
	defer func() { s.metrics.ObservePrescription(err) }()

	if err := requireDoctor(caller); err != nil {
		return nil, err
	}
	req.Diagnosis = strings.TrimSpace(req.Diagnosis)
	if req.AppointmentID == uuid.Nil || len(req.Medications) == 0 || req.Diagnosis == "" || req.ExpiryDate == nil {
		return nil, ErrMissingFields
	}
	if err := validateMedications(req.Medications); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("appointment.id", req.AppointmentID.String()))

	var created *Prescription
	err = s.tx.RunInTx(ctx, "create_prescription", func(ctx context.Context) error {
		appt, err := s.appointments.GetCompletedForDoctor(ctx, req.AppointmentID, caller.ID)
		if err != nil {
			if errors.Is(err, appointment.ErrAppointmentMissing) {
				return ErrAppointmentIneligible
			}
			return err
		}

		if err := validateExpiry(*req.ExpiryDate, appt.Start, s.now()); err != nil {
			return err
		}

		exists, err := s.repo.ExistsForAppointment(ctx, appt.ID)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicatePrescription
		}

		rx := &Prescription{
			ID:            uuid.New(),
			PatientID:     appt.PatientID,
			DoctorID:      caller.ID,
			AppointmentID: appt.ID,
			Medications:   req.Medications,
			Diagnosis:     req.Diagnosis,
			IssuedDate:    appt.Start,
			ExpiryDate:    *req.ExpiryDate,
			Status:        StatusActive,
		}
		if err := s.repo.Create(ctx, rx); err != nil {
			return err
		}
		if err := s.appointments.SetHasPrescription(ctx, appt.ID, true); err != nil {
			return err
		}
		created = rx
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create prescription: %w", err)
	}

	s.logger.Info("prescription issued",
		"prescription_id", created.ID,
		"appointment_id", created.AppointmentID,
		"doctor_id", created.DoctorID,
	)
	return created, nil
}

// Patch carries the optional fields of an update; nil leaves a field alone.
type Patch struct {
	Medications []Medication
	Diagnosis   *string
	ExpiryDate  *time.Time
	Status      *Status
}

func (p Patch) empty() bool {
	return p.Medications == nil && p.Diagnosis == nil && p.ExpiryDate == nil && p.Status == nil
}

func (s *Service) apply(rx *Prescription, patch Patch) error {
	if patch.Medications != nil {
		if err := validateMedications(patch.Medications); err != nil {
			return err
		}
		rx.Medications = patch.Medications
	}
	if patch.Diagnosis != nil {
		d := strings.TrimSpace(*patch.Diagnosis)
		if d == "" {
			return ErrEmptyDiagnosis
		}
		rx.Diagnosis = d
	}
	if patch.ExpiryDate != nil {
		if err := validateExpiry(*patch.ExpiryDate, rx.IssuedDate, s.now()); err != nil {
			return err
		}
		rx.ExpiryDate = *patch.ExpiryDate
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return ErrInvalidStatus
		}
		rx.Status = *patch.Status
	}
	return nil
}

func (s *Service) Update(ctx context.Context, caller *directory.User, id uuid.UUID, patch Patch) (*Prescription, error) {
	ctx, span := tracer.Start(ctx, "prescription.update")
	defer span.End()
	span.SetAttributes(attribute.String("prescription.id", id.String()))

	if err := requireDoctor(caller); err != nil {
		return nil, err
	}
	if patch.empty() {
		return nil, ErrEmptyPatch
	}

	var updated *Prescription
	err := s.tx.RunInTx(ctx, "update_prescription", func(ctx context.Context) error {
		rx, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if rx.DoctorID != caller.ID {
			return ErrNotIssuer
		}
		if err := s.apply(rx, patch); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, rx); err != nil {
			return err
		}
		updated = rx
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("update prescription: %w", err)
	}

	s.logger.Info("prescription updated", "prescription_id", id, "doctor_id", caller.ID)
	return updated, nil
}

// Remove clears the appointment flag before deleting the prescription.
func (s *Service) Remove(ctx context.Context, caller *directory.User, id uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "prescription.remove")
	defer span.End()
	span.SetAttributes(attribute.String("prescription.id", id.String()))

	if err := requireDoctor(caller); err != nil {
		return err
	}

	err := s.tx.RunInTx(ctx, "delete_prescription", func(ctx context.Context) error {
		rx, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if rx.DoctorID != caller.ID {
			return ErrNotIssuer
		}
		if err := s.appointments.SetHasPrescription(ctx, rx.AppointmentID, false); err != nil {
			return err
		}
		return s.repo.Delete(ctx, rx.ID)
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete prescription: %w", err)
	}

	s.logger.Info("prescription deleted", "prescription_id", id, "doctor_id", caller.ID)
	return nil
}

func (s *Service) Get(ctx context.Context, caller *directory.User, id uuid.UUID) (*Prescription, error) {
	if caller == nil {
		return nil, ErrViewForbidden
	}
	rx, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get prescription: %w", err)
	}
	if caller.Role != directory.RoleAdmin && caller.ID != rx.DoctorID && caller.ID != rx.PatientID {
		return nil, ErrPrescriptionNotFound
	}
	return rx, nil
}

func (s *Service) ListForRole(ctx context.Context, caller *directory.User, role directory.Role, userID uuid.UUID) ([]Prescription, error) {
	if caller == nil || (caller.Role != directory.RoleAdmin && caller.ID != userID) {
		return nil, ErrViewForbidden
	}
	if role != directory.RoleDoctor && role != directory.RolePatient {
		return nil, ErrInvalidRole
	}

	out, err := s.repo.ListForUser(ctx, userID, role == directory.RoleDoctor)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	return out, nil
}

// ExpireOverdue is run by the expiry worker.
func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "prescription.expire_overdue")
	defer span.End()

	n, err := s.repo.ExpireOverdue(ctx, s.now())
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	span.SetAttributes(attribute.Int64("prescription.expired", n))
	s.metrics.ObserveExpired(n)
	if n > 0 {
		s.logger.Info("expired overdue prescriptions", "count", n)
	}
	return n, nil
}
