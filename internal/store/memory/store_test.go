package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointments/internal/apperr"
	"github.com/hackgods/clinic-appointments/internal/db"
	"github.com/hackgods/clinic-appointments/internal/schedule"
)

func newSlot(doctorID uuid.UUID, start time.Time) *schedule.Slot {
	return &schedule.Slot{ID: uuid.New(), DoctorID: doctorID, Start: start, End: start.Add(30 * time.Minute)}
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	slot := newSlot(uuid.New(), time.Now().Add(time.Hour))
	require.NoError(t, s.Schedules().Create(ctx, slot))

	boom := errors.New("boom")
	err := s.RunInTx(ctx, "reserve", func(ctx context.Context) error {
		_, err := s.Schedules().Reserve(ctx, slot.ID, slot.DoctorID)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.Schedules().GetByID(ctx, slot.ID)
	require.NoError(t, err)
	assert.True(t, got.Available)
	assert.Equal(t, 0, got.Version)
}

func TestRunInTxRetriesInjectedConflicts(t *testing.T) {
	s := New()
	s.InjectWriteConflicts(2)

	calls := 0
	err := s.RunInTx(context.Background(), "op", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRunInTxExhaustsRetries(t *testing.T) {
	s := New(WithMaxAttempts(2))
	s.InjectWriteConflicts(5)

	err := s.RunInTx(context.Background(), "op", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, apperr.ErrTxExhausted)
}

func TestRunInTxNestedJoinsOuter(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.RunInTx(ctx, "outer", func(ctx context.Context) error {
		return s.RunInTx(ctx, "inner", func(context.Context) error { return db.ErrWriteConflict })
	})
	assert.ErrorIs(t, err, apperr.ErrTxExhausted)
}

func TestReserveIsCompareAndSwap(t *testing.T) {
	s := New()
	ctx := context.Background()
	slot := newSlot(uuid.New(), time.Now().Add(time.Hour))
	require.NoError(t, s.Schedules().Create(ctx, slot))

	reserved, err := s.Schedules().Reserve(ctx, slot.ID, slot.DoctorID)
	require.NoError(t, err)
	assert.False(t, reserved.Available)
	assert.Equal(t, 1, reserved.Version)

	_, err = s.Schedules().Reserve(ctx, slot.ID, slot.DoctorID)
	assert.ErrorIs(t, err, schedule.ErrSlotUnavailable)

	_, err = s.Schedules().Reserve(ctx, slot.ID, uuid.New())
	assert.ErrorIs(t, err, schedule.ErrSlotUnavailable)
}

func TestReleaseIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	slot := newSlot(uuid.New(), time.Now().Add(time.Hour))
	require.NoError(t, s.Schedules().Create(ctx, slot))
	_, err := s.Schedules().Reserve(ctx, slot.ID, slot.DoctorID)
	require.NoError(t, err)

	released, err := s.Schedules().ReleaseByTime(ctx, slot.DoctorID, slot.Start, slot.End)
	require.NoError(t, err)
	assert.True(t, released)

	released, err = s.Schedules().ReleaseByID(ctx, slot.ID)
	require.NoError(t, err)
	assert.False(t, released)

	got, err := s.Schedules().GetByID(ctx, slot.ID)
	require.NoError(t, err)
	assert.True(t, got.Available)
	assert.Equal(t, 2, got.Version)
}
