package memory

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointments/internal/schedule"
)

type ScheduleRepository struct{ s *Store }

func (r *ScheduleRepository) Create(ctx context.Context, slot *schedule.Slot) error {
	defer r.s.lock(ctx)()
	now := r.s.now()
	slot.Available = true
	slot.Version = 0
	slot.CreatedAt, slot.UpdatedAt = now, now
	r.s.slots[slot.ID] = *slot
	return nil
}

func (r *ScheduleRepository) GetByID(ctx context.Context, id uuid.UUID) (*schedule.Slot, error) {
	defer r.s.lock(ctx)()
	slot, ok := r.s.slots[id]
	if !ok {
		return nil, schedule.ErrSlotNotFound
	}
	return &slot, nil
}

func (r *ScheduleRepository) HasOverlap(ctx context.Context, doctorID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (bool, error) {
	defer r.s.lock(ctx)()
	for _, slot := range r.s.slots {
		if slot.DoctorID != doctorID || (exclude != nil && slot.ID == *exclude) {
			continue
		}
		if slot.Start.Before(end) && start.Before(slot.End) {
			return true, nil
		}
	}
	return false, nil
}

func (r *ScheduleRepository) ListAvailable(ctx context.Context, doctorID uuid.UUID, from time.Time, to *time.Time) ([]schedule.Slot, error) {
	return r.filter(ctx, func(slot schedule.Slot) bool {
		return slot.DoctorID == doctorID &&
			slot.Available &&
			!slot.Start.Before(from) &&
			(to == nil || slot.Start.Before(*to))
	}), nil
}

func (r *ScheduleRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]schedule.Slot, error) {
	return r.filter(ctx, func(slot schedule.Slot) bool { return slot.DoctorID == doctorID }), nil
}

func (r *ScheduleRepository) filter(ctx context.Context, keep func(schedule.Slot) bool) []schedule.Slot {
	defer r.s.lock(ctx)()
	out := []schedule.Slot{}
	for _, slot := range r.s.slots {
		if keep(slot) {
			out = append(out, slot)
		}
	}
	slices.SortFunc(out, byStart(func(s schedule.Slot) time.Time { return s.Start }))
	return out
}

func (r *ScheduleRepository) UpdateTimes(ctx context.Context, id, doctorID uuid.UUID, start, end time.Time) (*schedule.Slot, error) {
	defer r.s.lock(ctx)()
	slot, ok := r.s.slots[id]
	if !ok || slot.DoctorID != doctorID || !slot.Available {
		return nil, schedule.ErrSlotBooked
	}
	slot.Start, slot.End = start, end
	slot.UpdatedAt = r.s.now()
	r.s.slots[id] = slot
	return &slot, nil
}

func (r *ScheduleRepository) Delete(ctx context.Context, id, doctorID uuid.UUID) error {
	defer r.s.lock(ctx)()
	slot, ok := r.s.slots[id]
	if !ok || slot.DoctorID != doctorID || !slot.Available {
		return schedule.ErrSlotBooked
	}
	delete(r.s.slots, id)
	for apptID, a := range r.s.appointments {
		if a.SlotID != nil && *a.SlotID == id {
			a.SlotID = nil
			r.s.appointments[apptID] = a
		}
	}
	return nil
}

func (r *ScheduleRepository) Reserve(ctx context.Context, id, doctorID uuid.UUID) (*schedule.Slot, error) {
	defer r.s.lock(ctx)()
	slot, ok := r.s.slots[id]
	if !ok || slot.DoctorID != doctorID || !slot.Available {
		return nil, schedule.ErrSlotUnavailable
	}
	r.flip(&slot, false)
	return &slot, nil
}

func (r *ScheduleRepository) ReleaseByID(ctx context.Context, id uuid.UUID) (bool, error) {
	defer r.s.lock(ctx)()
	slot, ok := r.s.slots[id]
	if !ok || slot.Available {
		return false, nil
	}
	r.flip(&slot, true)
	return true, nil
}

func (r *ScheduleRepository) ReleaseByTime(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error) {
	defer r.s.lock(ctx)()
	for _, slot := range r.s.slots {
		if slot.DoctorID == doctorID && !slot.Available && slot.Start.Equal(start) && slot.End.Equal(end) {
			r.flip(&slot, true)
			return true, nil
		}
	}
	return false, nil
}

// flip must be called with the store locked.
func (r *ScheduleRepository) flip(slot *schedule.Slot, available bool) {
	slot.Available = available
	slot.Version++
	slot.UpdatedAt = r.s.now()
	r.s.slots[slot.ID] = *slot
}
