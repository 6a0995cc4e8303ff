package prescription_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/apperr"
	"github.com/hackgods/clinic-appointments/internal/directory"
	"github.com/hackgods/clinic-appointments/internal/prescription"
	"github.com/hackgods/clinic-appointments/internal/schedule"
	"github.com/hackgods/clinic-appointments/internal/store/memory"
)

var (
	bookedAt  = time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	slotStart = time.Date(2025, 4, 7, 9, 0, 0, 0, time.UTC)
	visitDone = time.Date(2025, 4, 7, 10, 0, 0, 0, time.UTC)
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fixture struct {
	store        *memory.Store
	clock        *clock
	schedules    *schedule.Service
	appointments *appointment.Service
	svc          *prescription.Service
	doctor       *directory.User
	patient      *directory.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{t: bookedAt}
	store := memory.New()
	f := &fixture{
		store:   store,
		clock:   c,
		doctor:  directory.NewDoctor("Dr. Reid", "reid@example.com", "ENT", true),
		patient: directory.NewPatient("Pat Lee", "pat@example.com", nil),
	}
	for _, u := range []*directory.User{f.doctor, f.patient} {
		require.NoError(t, store.Users().CreateUser(context.Background(), u))
	}

	f.schedules = schedule.NewService(store.Schedules(), store, nil, schedule.WithClock(c.Now))
	f.appointments = appointment.NewService(appointment.Deps{
		Repo:  store.Appointments(),
		Slots: f.schedules,
		Users: store.Users(),
		Tx:    store,
		Now:   c.Now,
	})
	f.svc = prescription.NewService(prescription.Deps{
		Repo:         store.Prescriptions(),
		Appointments: store.Appointments(),
		Tx:           store,
		Now:          c.Now,
	})
	return f
}

// visit books a slot, walks the appointment to the given status and moves the
// clock to after the visit.
func (f *fixture) visit(t *testing.T, final appointment.Status) *appointment.Appointment {
	t.Helper()
	ctx := context.Background()
	f.clock.Set(bookedAt)

	slot, err := f.schedules.Declare(ctx, f.doctor, slotStart, slotStart.Add(30*time.Minute))
	require.NoError(t, err)
	a, err := f.appointments.Book(ctx, f.patient, appointment.BookRequest{
		DoctorID: f.doctor.ID, ScheduleID: slot.ID, Reason: "checkup",
	})
	require.NoError(t, err)

	path := map[appointment.Status][]appointment.Status{
		appointment.StatusPending:   nil,
		appointment.StatusConfirmed: {appointment.StatusConfirmed},
		appointment.StatusCompleted: {appointment.StatusConfirmed, appointment.StatusCompleted},
	}[final]
	for _, status := range path {
		a, err = f.appointments.UpdateStatus(ctx, f.doctor, a.ID, appointment.StatusUpdate{Status: status})
		require.NoError(t, err)
	}

	f.clock.Set(visitDone)
	return a
}

func amoxicillin() []prescription.Medication {
	return []prescription.Medication{{Name: "Amoxicillin", Dosage: "500mg", Frequency: "twice daily", Duration: "7 days"}}
}

func days(n int) *time.Time {
	t := visitDone.AddDate(0, 0, n)
	return &t
}

func TestIssuePrescriptionScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.visit(t, appointment.StatusCompleted)

	rx, err := f.svc.Create(ctx, f.doctor, prescription.CreateRequest{
		AppointmentID: a.ID,
		Medications:   amoxicillin(),
		Diagnosis:     "Sinusitis",
		ExpiryDate:    days(30),
	})
	require.NoError(t, err)
	assert.Equal(t, prescription.StatusActive, rx.Status)
	assert.True(t, rx.IssuedDate.Equal(a.Start))
	assert.Equal(t, f.patient.ID, rx.PatientID)
	assert.Equal(t, amoxicillin(), rx.Medications)

	stored, err := f.store.Appointments().GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, stored.HasPrescription)

	_, err = f.svc.Create(ctx, f.doctor, prescription.CreateRequest{
		AppointmentID: a.ID,
		Medications:   amoxicillin(),
		Diagnosis:     "Sinusitis",
		ExpiryDate:    days(30),
	})
	require.ErrorIs(t, err, prescription.ErrDuplicatePrescription)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeDuplicatePrescription, e.Code)
}

func TestCreateRequiresDoctorAndFields(t *testing.T) {
	f := newFixture(t)
	a := f.visit(t, appointment.StatusCompleted)

	valid := prescription.CreateRequest{AppointmentID: a.ID, Medications: amoxicillin(), Diagnosis: "Sinusitis", ExpiryDate: days(30)}

	_, err := f.svc.Create(context.Background(), f.patient, valid)
	assert.ErrorIs(t, err, prescription.ErrDoctorOnly)

	missing := []prescription.CreateRequest{
		{Medications: amoxicillin(), Diagnosis: "Sinusitis", ExpiryDate: days(30)},
		{AppointmentID: a.ID, Diagnosis: "Sinusitis", ExpiryDate: days(30)},
		{AppointmentID: a.ID, Medications: amoxicillin(), Diagnosis: "  ", ExpiryDate: days(30)},
		{AppointmentID: a.ID, Medications: amoxicillin(), Diagnosis: "Sinusitis"},
	}
	for _, req := range missing {
		_, err := f.svc.Create(context.Background(), f.doctor, req)
		assert.ErrorIs(t, err, prescription.ErrMissingFields)
	}
}

func TestCreateAggregatesMedicationComplaints(t *testing.T) {
	f := newFixture(t)
	a := f.visit(t, appointment.StatusCompleted)

	_, err := f.svc.Create(context.Background(), f.doctor, prescription.CreateRequest{
		AppointmentID: a.ID,
		Medications: []prescription.Medication{
			{Name: "Amoxicillin", Dosage: "500mg", Frequency: "twice daily", Duration: "7 days"},
			{Name: "", Dosage: "200mg", Frequency: "", Duration: "5 days"},
			{Name: "Ibuprofen", Dosage: " ", Frequency: "as needed", Duration: ""},
		},
		Diagnosis:  "Sinusitis",
		ExpiryDate: days(30),
	})
	require.ErrorIs(t, err, prescription.ErrInvalidMedications)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, []string{
		"medication 2: name is required",
		"medication 2: frequency is required",
		"medication 3: dosage is required",
		"medication 3: duration is required",
	}, e.Details)
}

func TestCreateRequiresOwnedCompletedAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	confirmed := f.visit(t, appointment.StatusConfirmed)

	req := prescription.CreateRequest{AppointmentID: confirmed.ID, Medications: amoxicillin(), Diagnosis: "Sinusitis", ExpiryDate: days(30)}
	_, err := f.svc.Create(ctx, f.doctor, req)
	assert.ErrorIs(t, err, prescription.ErrAppointmentIneligible)

	other := directory.NewDoctor("Dr. Kim", "kim@example.com", "", true)
	require.NoError(t, f.store.Users().CreateUser(ctx, other))
	_, err = f.appointments.UpdateStatus(ctx, f.doctor, confirmed.ID, appointment.StatusUpdate{Status: appointment.StatusCompleted})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, other, req)
	assert.ErrorIs(t, err, prescription.ErrAppointmentIneligible)

	req.AppointmentID = uuid.New()
	_, err = f.svc.Create(ctx, f.doctor, req)
	assert.ErrorIs(t, err, prescription.ErrAppointmentIneligible)
}

func TestCreateExpiryBounds(t *testing.T) {
	beforeVisit := slotStart.Add(-time.Hour)
	betweenVisitAndNow := slotStart.Add(45 * time.Minute)
	exactlyNow := visitDone
	exactlyOneYear := visitDone.Add(prescription.MaxValidity)
	justOverOneYear := exactlyOneYear.Add(time.Second)

	tests := []struct {
		name   string
		expiry time.Time
		want   error
	}{
		{"before appointment", beforeVisit, prescription.ErrExpiryBeforeIssue},
		{"in the past", betweenVisitAndNow, prescription.ErrExpiryInPast},
		{"equal to now", exactlyNow, prescription.ErrExpiryInPast},
		{"over one year", justOverOneYear, prescription.ErrExpiryTooFar},
		{"exactly one year", exactlyOneYear, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			a := f.visit(t, appointment.StatusCompleted)
			expiry := tt.expiry

			rx, err := f.svc.Create(context.Background(), f.doctor, prescription.CreateRequest{
				AppointmentID: a.ID, Medications: amoxicillin(), Diagnosis: "Sinusitis", ExpiryDate: &expiry,
			})
			if tt.want == nil {
				require.NoError(t, err)
				assert.True(t, rx.ExpiryDate.After(rx.IssuedDate))
				return
			}
			assert.ErrorIs(t, err, tt.want)

			list, err := f.svc.ListForRole(context.Background(), f.doctor, directory.RoleDoctor, f.doctor.ID)
			require.NoError(t, err)
			assert.Empty(t, list)
			stored, err := f.store.Appointments().GetByID(context.Background(), a.ID)
			require.NoError(t, err)
			assert.False(t, stored.HasPrescription)
		})
	}
}

func TestConcurrentCreateLeavesOnePrescription(t *testing.T) {
	f := newFixture(t)
	a := f.visit(t, appointment.StatusCompleted)

	const attempts = 6
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		created    int
		duplicates int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Create(context.Background(), f.doctor, prescription.CreateRequest{
				AppointmentID: a.ID, Medications: amoxicillin(), Diagnosis: "Sinusitis", ExpiryDate: days(30),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, prescription.ErrDuplicatePrescription):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, attempts-1, duplicates)

	list, err := f.svc.ListForRole(context.Background(), f.patient, directory.RolePatient, f.patient.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateRerunsDuplicateCheckAfterConflict(t *testing.T) {
	f := newFixture(t)
	a := f.visit(t, appointment.StatusCompleted)

	f.store.InjectWriteConflicts(1)
	rx, err := f.svc.Create(context.Background(), f.doctor, prescription.CreateRequest{
		AppointmentID: a.ID, Medications: amoxicillin(), Diagnosis: "Sinusitis", ExpiryDate: days(30),
	})
	require.NoError(t, err)

	list, err := f.svc.ListForRole(context.Background(), f.doctor, directory.RoleDoctor, f.doctor.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rx.ID, list[0].ID)
}

func TestUpdatePrescription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.visit(t, appointment.StatusCompleted)
	rx, err := f.svc.Create(ctx, f.doctor, prescription.CreateRequest{
		AppointmentID: a.ID, Medications: amoxicillin(), Diagnosis: "Sinusitis", ExpiryDate: days(30),
	})
	require.NoError(t, err)

	diagnosis := "Acute sinusitis"
	cancelled := prescription.StatusCancelled
	updated, err := f.svc.Update(ctx, f.doctor, rx.ID, prescription.Patch{
		Diagnosis:  &diagnosis,
		ExpiryDate: days(60),
		Status:     &cancelled,
	})
	require.NoError(t, err)
	assert.Equal(t, diagnosis, updated.Diagnosis)
	assert.Equal(t, prescription.StatusCancelled, updated.Status)
	assert.True(t, updated.ExpiryDate.Equal(*days(60)))

	other := directory.NewDoctor("Dr. Kim", "kim@example.com", "", true)
	_, err = f.svc.Update(ctx, other, rx.ID, prescription.Patch{Diagnosis: &diagnosis})
	assert.ErrorIs(t, err, prescription.ErrNotIssuer)

	_, err = f.svc.Update(ctx, f.doctor, rx.ID, prescription.Patch{})
	assert.ErrorIs(t, err, prescription.ErrEmptyPatch)

	_, err = f.svc.Update(ctx, f.doctor, rx.ID, prescription.Patch{ExpiryDate: days(400)})
	assert.ErrorIs(t, err, prescription.ErrExpiryTooFar)

	bogus := prescription.Status("lost")
	_, err = f.svc.Update(ctx, f.doctor, rx.ID, prescription.Patch{Status: &bogus})
	assert.ErrorIs(t, err, prescription.ErrInvalidStatus)

	_, err = f.svc.Update(ctx, f.doctor, rx.ID, prescription.Patch{Medications: []prescription.Medication{{Name: "x"}}})
	assert.ErrorIs(t, err, prescription.ErrInvalidMedications)

	_, err = f.svc.Update(ctx, f.doctor, uuid.New(), prescription.Patch{Diagnosis: &diagnosis})
	assert.ErrorIs(t, err, prescription.ErrPrescriptionNotFound)
}

func TestRemoveClearsAppointmentFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.visit(t, appointment.StatusCompleted)
	rx, err := f.svc.Create(ctx, f.doctor, prescription.CreateRequest{
		AppointmentID: a.ID, Medications: amoxicillin(), Diagnosis: "Sinusitis", ExpiryDate: days(30),
	})
	require.NoError(t, err)

	other := directory.NewDoctor("Dr. Kim", "kim@example.com", "", true)
	assert.ErrorIs(t, f.svc.Remove(ctx, other, rx.ID), prescription.ErrNotIssuer)
	assert.ErrorIs(t, f.svc.Remove(ctx, f.patient, rx.ID), prescription.ErrDoctorOnly)

	require.NoError(t, f.svc.Remove(ctx, f.doctor, rx.ID))

	stored, err := f.store.Appointments().GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, stored.HasPrescription)

	_, err = f.svc.Get(ctx, f.doctor, rx.ID)
	assert.ErrorIs(t, err, prescription.ErrPrescriptionNotFound)

	// the appointment can be prescribed again
	_, err = f.svc.Create(ctx, f.doctor, prescription.CreateRequest{
		AppointmentID: a.ID, Medications: amoxicillin(), Diagnosis: "Sinusitis", ExpiryDate: days(30),
	})
	assert.NoError(t, err)
}

func TestGetVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.visit(t, appointment.StatusCompleted)
	rx, err := f.svc.Create(ctx, f.doctor, prescription.CreateRequest{
		AppointmentID: a.ID, Medications: amoxicillin(), Diagnosis: "Sinusitis", ExpiryDate: days(30),
	})
	require.NoError(t, err)

	for _, u := range []*directory.User{f.doctor, f.patient, directory.NewAdmin("Root", "root@example.com")} {
		got, err := f.svc.Get(ctx, u, rx.ID)
		require.NoError(t, err)
		assert.Equal(t, rx.ID, got.ID)
	}

	stranger := directory.NewPatient("Sam", "sam@example.com", nil)
	_, err = f.svc.Get(ctx, stranger, rx.ID)
	assert.ErrorIs(t, err, prescription.ErrPrescriptionNotFound)
	_, err = f.svc.Get(ctx, stranger, uuid.New())
	assert.ErrorIs(t, err, prescription.ErrPrescriptionNotFound)

	_, err = f.svc.ListForRole(ctx, stranger, directory.RolePatient, f.patient.ID)
	assert.ErrorIs(t, err, prescription.ErrViewForbidden)
}

func TestExpireOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.visit(t, appointment.StatusCompleted)
	rx, err := f.svc.Create(ctx, f.doctor, prescription.CreateRequest{
		AppointmentID: a.ID, Medications: amoxicillin(), Diagnosis: "Sinusitis", ExpiryDate: days(30),
	})
	require.NoError(t, err)

	n, err := f.svc.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Set(*days(31))
	n, err = f.svc.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := f.svc.Get(ctx, f.doctor, rx.ID)
	require.NoError(t, err)
	assert.Equal(t, prescription.StatusExpired, got.Status)

	n, err = f.svc.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
