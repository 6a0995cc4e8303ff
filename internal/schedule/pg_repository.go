package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-appointments/internal/db"
)

type PgRepository struct {
	db db.Queryable
}

func NewPgRepository(q db.Queryable) *PgRepository {
	return &PgRepository{db: q}
}

const slotColumns = `id, doctor_id, start_time, end_time, is_available, version, created_at, updated_at`

func (r *PgRepository) Create(ctx context.Context, s *Slot) error {
	row := db.Conn(ctx, r.db).QueryRow(ctx, `
		INSERT INTO schedules (id, doctor_id, start_time, end_time, is_available, version)
		VALUES ($1, $2, $3, $4, true, 0)
		RETURNING `+slotColumns,
		s.ID, s.DoctorID, s.Start, s.End,
	)
	created, err := scanSlot(row)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	*s = *created
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := db.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+slotColumns+` FROM schedules WHERE id = $1`, id)
	s, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return s, nil
}

func (r *PgRepository) HasOverlap(ctx context.Context, doctorID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.db).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM schedules
			WHERE doctor_id = $1
			  AND start_time < $3
			  AND end_time > $2
			  AND ($4::uuid IS NULL OR id <> $4)
		)
	`, doctorID, start, end, exclude).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check schedule overlap: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) ListAvailable(ctx context.Context, doctorID uuid.UUID, from time.Time, to *time.Time) ([]Slot, error) {
	return r.list(ctx, `
		SELECT `+slotColumns+` FROM schedules
		WHERE doctor_id = $1
		  AND is_available = true
		  AND start_time >= $2
		  AND ($3::timestamptz IS NULL OR start_time < $3)
		ORDER BY start_time
	`, doctorID, from, to)
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Slot, error) {
	return r.list(ctx, `SELECT `+slotColumns+` FROM schedules WHERE doctor_id = $1 ORDER BY start_time`, doctorID)
}

func (r *PgRepository) UpdateTimes(ctx context.Context, id, doctorID uuid.UUID, start, end time.Time) (*Slot, error) {
	row := db.Conn(ctx, r.db).QueryRow(ctx, `
		UPDATE schedules
		SET start_time = $3, end_time = $4, updated_at = now()
		WHERE id = $1 AND doctor_id = $2 AND is_available = true
		RETURNING `+slotColumns,
		id, doctorID, start, end,
	)
	s, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotBooked
		}
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	return s, nil
}

func (r *PgRepository) Delete(ctx context.Context, id, doctorID uuid.UUID) error {
	tag, err := db.Conn(ctx, r.db).Exec(ctx, `
		DELETE FROM schedules WHERE id = $1 AND doctor_id = $2 AND is_available = true
	`, id, doctorID)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotBooked
	}
	return nil
}

func (r *PgRepository) Reserve(ctx context.Context, id, doctorID uuid.UUID) (*Slot, error) {
	row := db.Conn(ctx, r.db).QueryRow(ctx, `
		UPDATE schedules
		SET is_available = false, version = version + 1, updated_at = now()
		WHERE id = $1 AND doctor_id = $2 AND is_available = true
		RETURNING `+slotColumns,
		id, doctorID,
	)
	s, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("reserve schedule: %w", err)
	}
	return s, nil
}

func (r *PgRepository) ReleaseByID(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := db.Conn(ctx, r.db).Exec(ctx, `
		UPDATE schedules
		SET is_available = true, version = version + 1, updated_at = now()
		WHERE id = $1 AND is_available = false
	`, id)
	if err != nil {
		return false, fmt.Errorf("release schedule: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgRepository) ReleaseByTime(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error) {
	tag, err := db.Conn(ctx, r.db).Exec(ctx, `
		UPDATE schedules
		SET is_available = true, version = version + 1, updated_at = now()
		WHERE doctor_id = $1 AND start_time = $2 AND end_time = $3 AND is_available = false
	`, doctorID, start, end)
	if err != nil {
		return false, fmt.Errorf("release schedule by time: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgRepository) list(ctx context.Context, query string, args ...any) ([]Slot, error) {
	rows, err := db.Conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	if err := row.Scan(&s.ID, &s.DoctorID, &s.Start, &s.End, &s.Available, &s.Version, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}
