package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetDetail(ctx context.Context, id uuid.UUID) (*Detail, error)

	// FindOverlappingForPatient returns a non-cancelled appointment of the
	// patient intersecting [start, end) that has not already ended at now.
	FindOverlappingForPatient(ctx context.Context, patientID uuid.UUID, start, end, now time.Time) (*Appointment, error)

	// ListForUser matches either participant column, ascending by start.
	ListForUser(ctx context.Context, userID uuid.UUID, byDoctor bool, limit, offset int) ([]Detail, error)

	// ApplyUpdate is a compare-and-swap on status. ErrStatusChanged when the
	// row is no longer in u.From.
	ApplyUpdate(ctx context.Context, u Update) (*Appointment, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// GetCompletedForDoctor scopes by id, doctor and status completed.
	GetCompletedForDoctor(ctx context.Context, id, doctorID uuid.UUID) (*Appointment, error)
	SetHasPrescription(ctx context.Context, id uuid.UUID, has bool) error

	InsertEvent(ctx context.Context, ev EventLog) error
}
