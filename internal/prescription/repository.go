package prescription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Create reports ErrDuplicatePrescription when the appointment already
	// has one, including when the unique index catches a race.
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	ExistsForAppointment(ctx context.Context, appointmentID uuid.UUID) (bool, error)
	ListForUser(ctx context.Context, userID uuid.UUID, byDoctor bool) ([]Prescription, error)
	Update(ctx context.Context, p *Prescription) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ExpireOverdue moves active prescriptions with expiry <= now to expired.
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}
