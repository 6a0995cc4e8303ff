// Package memory is a process-local implementation of every repository and of
// db.Transactor. Transactions hold one mutex for their whole body and restore a
// snapshot on error, so they are serializable and atomic.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/db"
	"github.com/hackgods/clinic-appointments/internal/directory"
	"github.com/hackgods/clinic-appointments/internal/prescription"
	"github.com/hackgods/clinic-appointments/internal/schedule"
)

type Store struct {
	mu sync.Mutex

	users         map[uuid.UUID]directory.User
	slots         map[uuid.UUID]schedule.Slot
	appointments  map[uuid.UUID]appointment.Appointment
	prescriptions map[uuid.UUID]prescription.Prescription
	events        []appointment.EventLog

	maxAttempts      int
	observer         db.TxObserver
	pendingConflicts int
	now              func() time.Time
}

type Option func(*Store)

func WithMaxAttempts(n int) Option {
	return func(s *Store) { s.maxAttempts = n }
}

func WithObserver(obs db.TxObserver) Option {
	return func(s *Store) { s.observer = obs }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		users:         make(map[uuid.UUID]directory.User),
		slots:         make(map[uuid.UUID]schedule.Slot),
		appointments:  make(map[uuid.UUID]appointment.Appointment),
		prescriptions: make(map[uuid.UUID]prescription.Prescription),
		maxAttempts:   3,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type txKey struct{}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// lock takes the store mutex unless ctx already runs inside a transaction,
// which holds it.
func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type snapshot struct {
	users         map[uuid.UUID]directory.User
	slots         map[uuid.UUID]schedule.Slot
	appointments  map[uuid.UUID]appointment.Appointment
	prescriptions map[uuid.UUID]prescription.Prescription
	events        int
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		users:         maps.Clone(s.users),
		slots:         maps.Clone(s.slots),
		appointments:  maps.Clone(s.appointments),
		prescriptions: maps.Clone(s.prescriptions),
		events:        len(s.events),
	}
}

func (s *Store) restore(snap snapshot) {
	s.users = snap.users
	s.slots = snap.slots
	s.appointments = snap.appointments
	s.prescriptions = snap.prescriptions
	s.events = s.events[:snap.events]
}

// InjectWriteConflicts makes the next n transactions fail at commit with
// db.ErrWriteConflict.
func (s *Store) InjectWriteConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingConflicts = n
}

func (s *Store) RunInTx(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	return db.Retry(ctx, op, s.maxAttempts, s.observer, func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		snap := s.snapshot()
		err := fn(context.WithValue(ctx, txKey{}, true))
		if err == nil && s.pendingConflicts > 0 {
			s.pendingConflicts--
			err = db.ErrWriteConflict
		}
		if err != nil {
			s.restore(snap)
		}
		return err
	})
}

// Events returns the audit rows recorded for one appointment.
func (s *Store) Events(appointmentID uuid.UUID) []appointment.EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []appointment.EventLog
	for _, ev := range s.events {
		if ev.AppointmentID != nil && *ev.AppointmentID == appointmentID {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Store) Users() *UserRepository { return &UserRepository{s} }
func (s *Store) Schedules() *ScheduleRepository { return &ScheduleRepository{s} }
func (s *Store) Appointments() *AppointmentRepository { return &AppointmentRepository{s} }
func (s *Store) Prescriptions() *PrescriptionRepository { return &PrescriptionRepository{s} }

type UserRepository struct{ s *Store }

func (r *UserRepository) GetUser(ctx context.Context, id uuid.UUID) (*directory.User, error) {
	defer r.s.lock(ctx)()
	u, ok := r.s.users[id]
	if !ok {
		return nil, directory.ErrUserNotFound
	}
	return &u, nil
}

func (r *UserRepository) CreateUser(ctx context.Context, u *directory.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	defer r.s.lock(ctx)()
	r.s.users[u.ID] = *u
	return nil
}

func (r *UserRepository) ListDoctors(ctx context.Context, onlyBookable bool) ([]directory.User, error) {
	defer r.s.lock(ctx)()
	var out []directory.User
	for _, u := range r.s.users {
		if u.Role != directory.RoleDoctor || (onlyBookable && !u.CanAcceptBookings()) {
			continue
		}
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b directory.User) int { return compareStrings(a.Name, b.Name) })
	return out, nil
}

func (r *UserRepository) ListPatients(ctx context.Context, limit int) ([]directory.User, error) {
	defer r.s.lock(ctx)()
	var out []directory.User
	for _, u := range r.s.users {
		if u.Role == directory.RolePatient && u.Active {
			out = append(out, u)
		}
	}
	slices.SortFunc(out, func(a, b directory.User) int { return compareStrings(a.Name, b.Name) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func byStart[T any](start func(T) time.Time) func(a, b T) int {
	return func(a, b T) int { return start(a).Compare(start(b)) }
}

var (
	_ db.Transactor           = (*Store)(nil)
	_ directory.Repository    = (*UserRepository)(nil)
	_ schedule.Repository     = (*ScheduleRepository)(nil)
	_ appointment.Repository  = (*AppointmentRepository)(nil)
	_ prescription.Repository = (*PrescriptionRepository)(nil)
)
