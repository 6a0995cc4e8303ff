package prescription

import (
	"context"
	"encoding/json"
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

const prescriptionColumns = `id, patient_id, doctor_id, appointment_id, medications, diagnosis,
	issued_date, expiry_date, status, created_at, updated_at`

func (r *PgRepository) Create(ctx context.Context, p *Prescription) error {
	meds, err := json.Marshal(p.Medications)
	if err != nil {
		return fmt.Errorf("marshal medications: %w", err)
	}

	row := db.Conn(ctx, r.db).QueryRow(ctx, `
		INSERT INTO prescriptions (id, patient_id, doctor_id, appointment_id, medications, diagnosis, issued_date, expiry_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+prescriptionColumns,
		p.ID, p.PatientID, p.DoctorID, p.AppointmentID, meds, p.Diagnosis, p.IssuedDate, p.ExpiryDate, string(p.Status),
	)
	created, err := scanPrescription(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicatePrescription
		}
		return fmt.Errorf("insert prescription: %w", err)
	}
	*p = *created
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	row := db.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+prescriptionColumns+` FROM prescriptions WHERE id = $1`, id)
	p, err := scanPrescription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPrescriptionNotFound
		}
		return nil, fmt.Errorf("get prescription: %w", err)
	}
	return p, nil
}

func (r *PgRepository) ExistsForAppointment(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.db).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM prescriptions WHERE appointment_id = $1)`, appointmentID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check existing prescription: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) ListForUser(ctx context.Context, userID uuid.UUID, byDoctor bool) ([]Prescription, error) {
	column := "patient_id"
	if byDoctor {
		column = "doctor_id"
	}

	rows, err := db.Conn(ctx, r.db).Query(ctx,
		`SELECT `+prescriptionColumns+` FROM prescriptions WHERE `+column+` = $1 ORDER BY issued_date DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	defer rows.Close()

	out := []Prescription{}
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prescription: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *PgRepository) Update(ctx context.Context, p *Prescription) error {
	meds, err := json.Marshal(p.Medications)
	if err != nil {
		return fmt.Errorf("marshal medications: %w", err)
	}

	row := db.Conn(ctx, r.db).QueryRow(ctx, `
		UPDATE prescriptions
		SET medications = $2, diagnosis = $3, expiry_date = $4, status = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+prescriptionColumns,
		p.ID, meds, p.Diagnosis, p.ExpiryDate, string(p.Status),
	)
	updated, err := scanPrescription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrPrescriptionNotFound
		}
		return fmt.Errorf("update prescription: %w", err)
	}
	*p = *updated
	return nil
}

func (r *PgRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.db).Exec(ctx, `DELETE FROM prescriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete prescription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPrescriptionNotFound
	}
	return nil
}

func (r *PgRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := db.Conn(ctx, r.db).Exec(ctx, `
		UPDATE prescriptions
		SET status = 'expired', updated_at = now()
		WHERE status = 'active' AND expiry_date <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire prescriptions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var (
		p      Prescription
		meds   []byte
		status string
	)
	err := row.Scan(&p.ID, &p.PatientID, &p.DoctorID, &p.AppointmentID, &meds, &p.Diagnosis,
		&p.IssuedDate, &p.ExpiryDate, &status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(meds, &p.Medications); err != nil {
		return nil, fmt.Errorf("decode medications: %w", err)
	}
	p.Status = Status(status)
	return &p, nil
}
