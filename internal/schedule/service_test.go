package schedule_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointments/internal/directory"
	"github.com/hackgods/clinic-appointments/internal/schedule"
	"github.com/hackgods/clinic-appointments/internal/store/memory"
)

var now = time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

func at(day, hour, minute int) time.Time {
	return time.Date(2025, 4, day, hour, minute, 0, 0, time.UTC)
}

type fixture struct {
	store  *memory.Store
	svc    *schedule.Service
	doctor *directory.User
}

func newFixture(t *testing.T, opts ...schedule.Option) *fixture {
	t.Helper()
	store := memory.New()
	doctor := directory.NewDoctor("Dr. Reid", "reid@example.com", "General Practice", true)
	require.NoError(t, store.Users().CreateUser(context.Background(), doctor))

	opts = append([]schedule.Option{schedule.WithClock(func() time.Time { return now })}, opts...)
	return &fixture{
		store:  store,
		svc:    schedule.NewService(store.Schedules(), store, nil, opts...),
		doctor: doctor,
	}
}

func TestDeclareCreatesAvailableSlot(t *testing.T) {
	f := newFixture(t)

	slot, err := f.svc.Declare(context.Background(), f.doctor, at(7, 9, 0), at(7, 9, 30))
	require.NoError(t, err)
	assert.True(t, slot.Available)
	assert.Equal(t, 0, slot.Version)
	assert.Equal(t, f.doctor.ID, slot.DoctorID)
}

func TestDeclareValidation(t *testing.T) {
	f := newFixture(t)
	patient := directory.NewPatient("Pat", "pat@example.com", nil)

	tests := []struct {
		name   string
		caller *directory.User
		start  time.Time
		end    time.Time
		want   error
	}{
		{"patient caller", patient, at(7, 9, 0), at(7, 9, 30), schedule.ErrDoctorOnly},
		{"end before start", f.doctor, at(7, 10, 0), at(7, 9, 0), schedule.ErrInvalidTimeRange},
		{"zero length", f.doctor, at(7, 10, 0), at(7, 10, 0), schedule.ErrInvalidTimeRange},
		{"spans midnight", f.doctor, at(7, 23, 30), at(8, 0, 30), schedule.ErrDifferentDays},
		{"in the past", f.doctor, time.Date(2025, 3, 31, 9, 0, 0, 0, time.UTC), time.Date(2025, 3, 31, 9, 30, 0, 0, time.UTC), schedule.ErrStartInPast},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Declare(context.Background(), tt.caller, tt.start, tt.end)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDeclareSameDayUsesConfiguredZone(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	f := newFixture(t, schedule.WithLocation(berlin))

	// 22:30-23:30 UTC is 00:30-01:30 the next day in Berlin
	_, err = f.svc.Declare(context.Background(), f.doctor, at(7, 22, 30), at(7, 23, 30))
	assert.NoError(t, err)

	// 21:30-22:30 UTC crosses midnight in Berlin
	_, err = f.svc.Declare(context.Background(), f.doctor, at(8, 21, 30), at(8, 22, 30))
	assert.ErrorIs(t, err, schedule.ErrDifferentDays)
}

func TestDeclareRejectsOverlapRegardlessOfAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	slot, err := f.svc.Declare(ctx, f.doctor, at(7, 9, 0), at(7, 9, 30))
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, slot.ID, f.doctor.ID)
	require.NoError(t, err)

	_, err = f.svc.Declare(ctx, f.doctor, at(7, 9, 15), at(7, 9, 45))
	assert.ErrorIs(t, err, schedule.ErrOverlap)

	// touching edges do not overlap
	_, err = f.svc.Declare(ctx, f.doctor, at(7, 9, 30), at(7, 10, 0))
	assert.NoError(t, err)

	// another doctor's calendar is independent
	other := directory.NewDoctor("Dr. Kim", "kim@example.com", "", true)
	_, err = f.svc.Declare(ctx, other, at(7, 9, 0), at(7, 9, 30))
	assert.NoError(t, err)
}

func TestListAvailableGroupsByDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s1, err := f.svc.Declare(ctx, f.doctor, at(8, 10, 0), at(8, 10, 30))
	require.NoError(t, err)
	s2, err := f.svc.Declare(ctx, f.doctor, at(7, 9, 0), at(7, 9, 30))
	require.NoError(t, err)
	s3, err := f.svc.Declare(ctx, f.doctor, at(7, 11, 0), at(7, 11, 30))
	require.NoError(t, err)
	booked, err := f.svc.Declare(ctx, f.doctor, at(7, 12, 0), at(7, 12, 30))
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, booked.ID, f.doctor.ID)
	require.NoError(t, err)

	groups, err := f.svc.ListAvailable(ctx, f.doctor.ID, "")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "2025-04-07", groups[0].Date)
	require.Len(t, groups[0].Slots, 2)
	assert.Equal(t, s2.ID, groups[0].Slots[0].ID)
	assert.Equal(t, s3.ID, groups[0].Slots[1].ID)
	assert.Equal(t, "2025-04-08", groups[1].Date)
	assert.Equal(t, s1.ID, groups[1].Slots[0].ID)

	day, err := f.svc.ListAvailable(ctx, f.doctor.ID, "2025-04-08")
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Equal(t, s1.ID, day[0].Slots[0].ID)

	empty, err := f.svc.ListAvailable(ctx, f.doctor.ID, "2025-04-09")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = f.svc.ListAvailable(ctx, f.doctor.ID, "07/04/2025")
	assert.ErrorIs(t, err, schedule.ErrInvalidDate)
}

func TestUpdateSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	slot, err := f.svc.Declare(ctx, f.doctor, at(7, 9, 0), at(7, 9, 30))
	require.NoError(t, err)
	_, err = f.svc.Declare(ctx, f.doctor, at(7, 10, 0), at(7, 10, 30))
	require.NoError(t, err)

	// shifting within its own window is not an overlap with itself
	updated, err := f.svc.Update(ctx, f.doctor, slot.ID, at(7, 9, 15), at(7, 9, 45))
	require.NoError(t, err)
	assert.Equal(t, at(7, 9, 15), updated.Start)

	_, err = f.svc.Update(ctx, f.doctor, slot.ID, at(7, 9, 45), at(7, 10, 15))
	assert.ErrorIs(t, err, schedule.ErrOverlap)

	stranger := directory.NewDoctor("Dr. Other", "other@example.com", "", true)
	_, err = f.svc.Update(ctx, stranger, slot.ID, at(7, 8, 0), at(7, 8, 30))
	assert.ErrorIs(t, err, schedule.ErrNotOwner)

	_, err = f.svc.Update(ctx, f.doctor, uuid.New(), at(7, 8, 0), at(7, 8, 30))
	assert.ErrorIs(t, err, schedule.ErrSlotNotFound)

	_, err = f.svc.Reserve(ctx, slot.ID, f.doctor.ID)
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, f.doctor, slot.ID, at(7, 8, 0), at(7, 8, 30))
	assert.ErrorIs(t, err, schedule.ErrSlotBooked)
}

func TestDeleteSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	free, err := f.svc.Declare(ctx, f.doctor, at(7, 9, 0), at(7, 9, 30))
	require.NoError(t, err)
	booked, err := f.svc.Declare(ctx, f.doctor, at(7, 10, 0), at(7, 10, 30))
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, booked.ID, f.doctor.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Delete(ctx, f.doctor, booked.ID), schedule.ErrSlotBooked)

	stranger := directory.NewDoctor("Dr. Other", "other@example.com", "", true)
	assert.ErrorIs(t, f.svc.Delete(ctx, stranger, free.ID), schedule.ErrNotOwner)

	require.NoError(t, f.svc.Delete(ctx, f.doctor, free.ID))
	slots, err := f.svc.ListDoctorSlots(ctx, f.doctor.ID)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, booked.ID, slots[0].ID)
}

func TestReleaseToleratesMissingSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	slot, err := f.svc.Declare(ctx, f.doctor, at(7, 9, 0), at(7, 9, 30))
	require.NoError(t, err)

	// never reserved, nothing to release
	require.NoError(t, f.svc.Release(ctx, slot.ID, f.doctor.ID, slot.Start, slot.End))
	require.NoError(t, f.svc.Release(ctx, uuid.Nil, f.doctor.ID, at(9, 9, 0), at(9, 9, 30)))

	_, err = f.svc.Reserve(ctx, slot.ID, f.doctor.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.Release(ctx, uuid.Nil, f.doctor.ID, slot.Start, slot.End))

	groups, err := f.svc.ListAvailable(ctx, f.doctor.ID, "")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 2, groups[0].Slots[0].Version)
}
