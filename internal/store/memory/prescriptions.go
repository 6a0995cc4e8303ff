package memory

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointments/internal/prescription"
)

type PrescriptionRepository struct{ s *Store }

// clone detaches the medication slice from the stored copy.
func clone(p prescription.Prescription) prescription.Prescription {
	p.Medications = slices.Clone(p.Medications)
	return p
}

func (r *PrescriptionRepository) Create(ctx context.Context, p *prescription.Prescription) error {
	defer r.s.lock(ctx)()
	for _, existing := range r.s.prescriptions {
		if existing.AppointmentID == p.AppointmentID {
			return prescription.ErrDuplicatePrescription
		}
	}
	now := r.s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	r.s.prescriptions[p.ID] = clone(*p)
	return nil
}

func (r *PrescriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*prescription.Prescription, error) {
	defer r.s.lock(ctx)()
	p, ok := r.s.prescriptions[id]
	if !ok {
		return nil, prescription.ErrPrescriptionNotFound
	}
	p = clone(p)
	return &p, nil
}

func (r *PrescriptionRepository) ExistsForAppointment(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	defer r.s.lock(ctx)()
	for _, p := range r.s.prescriptions {
		if p.AppointmentID == appointmentID {
			return true, nil
		}
	}
	return false, nil
}

func (r *PrescriptionRepository) ListForUser(ctx context.Context, userID uuid.UUID, byDoctor bool) ([]prescription.Prescription, error) {
	defer r.s.lock(ctx)()
	out := []prescription.Prescription{}
	for _, p := range r.s.prescriptions {
		if (byDoctor && p.DoctorID == userID) || (!byDoctor && p.PatientID == userID) {
			out = append(out, clone(p))
		}
	}
	// newest first
	slices.SortFunc(out, func(a, b prescription.Prescription) int { return b.IssuedDate.Compare(a.IssuedDate) })
	return out, nil
}

func (r *PrescriptionRepository) Update(ctx context.Context, p *prescription.Prescription) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.prescriptions[p.ID]; !ok {
		return prescription.ErrPrescriptionNotFound
	}
	p.UpdatedAt = r.s.now()
	r.s.prescriptions[p.ID] = clone(*p)
	return nil
}

func (r *PrescriptionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.prescriptions[id]; !ok {
		return prescription.ErrPrescriptionNotFound
	}
	delete(r.s.prescriptions, id)
	return nil
}

func (r *PrescriptionRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	defer r.s.lock(ctx)()
	var n int64
	for id, p := range r.s.prescriptions {
		if p.Status == prescription.StatusActive && !p.ExpiryDate.After(now) {
			p.Status = prescription.StatusExpired
			p.UpdatedAt = r.s.now()
			r.s.prescriptions[id] = p
			n++
		}
	}
	return n, nil
}
