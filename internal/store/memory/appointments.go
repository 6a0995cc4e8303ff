package memory

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointments/internal/appointment"
)

type AppointmentRepository struct{ s *Store }

func (r *AppointmentRepository) Create(ctx context.Context, a *appointment.Appointment) error {
	defer r.s.lock(ctx)()
	now := r.s.now()
	a.CreatedAt, a.UpdatedAt = now, now
	r.s.appointments[a.ID] = *a
	return nil
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	defer r.s.lock(ctx)()
	a, ok := r.s.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentMissing
	}
	return &a, nil
}

func (r *AppointmentRepository) GetDetail(ctx context.Context, id uuid.UUID) (*appointment.Detail, error) {
	defer r.s.lock(ctx)()
	a, ok := r.s.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentMissing
	}
	d := r.detail(a)
	return &d, nil
}

// detail must be called with the store locked.
func (r *AppointmentRepository) detail(a appointment.Appointment) appointment.Detail {
	d := appointment.Detail{Appointment: a}
	if doc, ok := r.s.users[a.DoctorID]; ok {
		d.DoctorName = doc.Name
		d.DoctorSpecialty = doc.Specialty()
	}
	if p, ok := r.s.users[a.PatientID]; ok {
		d.PatientName = p.Name
	}
	return d
}

func (r *AppointmentRepository) FindOverlappingForPatient(ctx context.Context, patientID uuid.UUID, start, end, now time.Time) (*appointment.Appointment, error) {
	defer r.s.lock(ctx)()
	var hits []appointment.Appointment
	for _, a := range r.s.appointments {
		if a.PatientID != patientID || a.Status == appointment.StatusCancelled {
			continue
		}
		if a.Start.Before(end) && start.Before(a.End) && a.End.After(now) {
			hits = append(hits, a)
		}
	}
	if len(hits) == 0 {
		return nil, nil
	}
	slices.SortFunc(hits, byStart(func(a appointment.Appointment) time.Time { return a.Start }))
	return &hits[0], nil
}

func (r *AppointmentRepository) ListForUser(ctx context.Context, userID uuid.UUID, byDoctor bool, limit, offset int) ([]appointment.Detail, error) {
	defer r.s.lock(ctx)()
	var matched []appointment.Appointment
	for _, a := range r.s.appointments {
		if (byDoctor && a.DoctorID == userID) || (!byDoctor && a.PatientID == userID) {
			matched = append(matched, a)
		}
	}
	slices.SortFunc(matched, byStart(func(a appointment.Appointment) time.Time { return a.Start }))

	out := []appointment.Detail{}
	for i, a := range matched {
		if i < offset {
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, r.detail(a))
	}
	return out, nil
}

func (r *AppointmentRepository) ApplyUpdate(ctx context.Context, u appointment.Update) (*appointment.Appointment, error) {
	defer r.s.lock(ctx)()
	a, ok := r.s.appointments[u.ID]
	if !ok || a.Status != u.From {
		return nil, appointment.ErrStatusChanged
	}
	a.Status = u.To
	if u.Reason != nil {
		a.Reason = *u.Reason
	}
	if u.Notes != nil {
		notes := *u.Notes
		a.Notes = &notes
	}
	a.UpdatedAt = r.s.now()
	r.s.appointments[a.ID] = a
	return &a, nil
}

func (r *AppointmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.appointments[id]; !ok {
		return appointment.ErrAppointmentMissing
	}
	delete(r.s.appointments, id)
	return nil
}

func (r *AppointmentRepository) GetCompletedForDoctor(ctx context.Context, id, doctorID uuid.UUID) (*appointment.Appointment, error) {
	defer r.s.lock(ctx)()
	a, ok := r.s.appointments[id]
	if !ok || a.DoctorID != doctorID || a.Status != appointment.StatusCompleted {
		return nil, appointment.ErrAppointmentMissing
	}
	return &a, nil
}

func (r *AppointmentRepository) SetHasPrescription(ctx context.Context, id uuid.UUID, has bool) error {
	defer r.s.lock(ctx)()
	a, ok := r.s.appointments[id]
	if !ok {
		return appointment.ErrAppointmentMissing
	}
	a.HasPrescription = has
	a.UpdatedAt = r.s.now()
	r.s.appointments[id] = a
	return nil
}

func (r *AppointmentRepository) InsertEvent(ctx context.Context, ev appointment.EventLog) error {
	defer r.s.lock(ctx)()
	ev.ID = int64(len(r.s.events) + 1)
	r.s.events = append(r.s.events, ev)
	return nil
}
