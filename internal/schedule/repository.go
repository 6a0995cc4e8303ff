package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, s *Slot) error
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	// HasOverlap ignores availability. exclude skips one slot, used when retiming.
	HasOverlap(ctx context.Context, doctorID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (bool, error)
	// ListAvailable returns available slots starting at or after from and, when
	// to is set, before to. Ascending by start.
	ListAvailable(ctx context.Context, doctorID uuid.UUID, from time.Time, to *time.Time) ([]Slot, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Slot, error)
	// UpdateTimes only touches slots that are still available.
	UpdateTimes(ctx context.Context, id, doctorID uuid.UUID, start, end time.Time) (*Slot, error)
	Delete(ctx context.Context, id, doctorID uuid.UUID) error
	// Reserve flips available true->false in one conditional write.
	Reserve(ctx context.Context, id, doctorID uuid.UUID) (*Slot, error)
	ReleaseByID(ctx context.Context, id uuid.UUID) (bool, error)
	ReleaseByTime(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error)
}
