package appointment

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

const appointmentColumns = `a.id, a.patient_id, a.doctor_id, a.slot_id, a.start_time, a.end_time, a.status,
	a.reason, a.mode, a.notes, a.has_prescription, a.created_at, a.updated_at`

func (r *PgRepository) Create(ctx context.Context, a *Appointment) error {
	row := db.Conn(ctx, r.db).QueryRow(ctx, `
		INSERT INTO appointments AS a (id, patient_id, doctor_id, slot_id, start_time, end_time, status, reason, mode, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.DoctorID, a.SlotID, a.Start, a.End, string(a.Status), a.Reason, string(a.Mode), a.Notes,
	)
	created, err := scanAppointment(row)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	*a = *created
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := db.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments a WHERE a.id = $1`, id)
	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentMissing
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

const detailQuery = `
	SELECT ` + appointmentColumns + `, d.name, COALESCE(d.specialty, ''), p.name
	FROM appointments a
	JOIN users d ON d.id = a.doctor_id
	JOIN users p ON p.id = a.patient_id`

func (r *PgRepository) GetDetail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	row := db.Conn(ctx, r.db).QueryRow(ctx, detailQuery+` WHERE a.id = $1`, id)
	d, err := scanDetail(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentMissing
		}
		return nil, fmt.Errorf("get appointment detail: %w", err)
	}
	return d, nil
}

func (r *PgRepository) FindOverlappingForPatient(ctx context.Context, patientID uuid.UUID, start, end, now time.Time) (*Appointment, error) {
	row := db.Conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.patient_id = $1
		  AND a.status <> 'cancelled'
		  AND a.start_time < $3
		  AND a.end_time > $2
		  AND a.end_time > $4
		ORDER BY a.start_time
		LIMIT 1
	`, patientID, start, end, now)
	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find overlapping appointment: %w", err)
	}
	return a, nil
}

func (r *PgRepository) ListForUser(ctx context.Context, userID uuid.UUID, byDoctor bool, limit, offset int) ([]Detail, error) {
	column := "a.patient_id"
	if byDoctor {
		column = "a.doctor_id"
	}

	rows, err := db.Conn(ctx, r.db).Query(ctx,
		detailQuery+` WHERE `+column+` = $1 ORDER BY a.start_time ASC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	out := []Detail{}
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *PgRepository) ApplyUpdate(ctx context.Context, u Update) (*Appointment, error) {
	row := db.Conn(ctx, r.db).QueryRow(ctx, `
		UPDATE appointments AS a
		SET status = $3,
		    reason = COALESCE($4, a.reason),
		    notes = COALESCE($5, a.notes),
		    updated_at = now()
		WHERE a.id = $1 AND a.status = $2
		RETURNING `+appointmentColumns,
		u.ID, string(u.From), string(u.To), u.Reason, u.Notes,
	)
	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStatusChanged
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	return a, nil
}

func (r *PgRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.db).Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentMissing
	}
	return nil
}

func (r *PgRepository) GetCompletedForDoctor(ctx context.Context, id, doctorID uuid.UUID) (*Appointment, error) {
	row := db.Conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.id = $1 AND a.doctor_id = $2 AND a.status = 'completed'
	`, id, doctorID)
	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentMissing
		}
		return nil, fmt.Errorf("get completed appointment: %w", err)
	}
	return a, nil
}

func (r *PgRepository) SetHasPrescription(ctx context.Context, id uuid.UUID, has bool) error {
	tag, err := db.Conn(ctx, r.db).Exec(ctx, `
		UPDATE appointments SET has_prescription = $2, updated_at = now() WHERE id = $1
	`, id, has)
	if err != nil {
		return fmt.Errorf("set has_prescription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentMissing
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := db.Conn(ctx, r.db).Exec(ctx, `
		INSERT INTO appointment_events (event_type, appointment_id, actor_id, payload)
		VALUES ($1, $2, $3, $4)
	`, ev.EventType, ev.AppointmentID, ev.ActorID, ev.Payload)
	if err != nil {
		return fmt.Errorf("insert appointment event: %w", err)
	}
	return nil
}

func appointmentDest(a *Appointment, status, mode *string) []any {
	return []any{
		&a.ID, &a.PatientID, &a.DoctorID, &a.SlotID, &a.Start, &a.End, status,
		&a.Reason, mode, &a.Notes, &a.HasPrescription, &a.CreatedAt, &a.UpdatedAt,
	}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a            Appointment
		status, mode string
	)
	if err := row.Scan(appointmentDest(&a, &status, &mode)...); err != nil {
		return nil, err
	}
	a.Status = Status(status)
	a.Mode = Mode(mode)
	return &a, nil
}

func scanDetail(row pgx.Row) (*Detail, error) {
	var (
		d            Detail
		status, mode string
	)
	dest := append(appointmentDest(&d.Appointment, &status, &mode), &d.DoctorName, &d.DoctorSpecialty, &d.PatientName)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	d.Status = Status(status)
	d.Mode = Mode(mode)
	return &d, nil
}
