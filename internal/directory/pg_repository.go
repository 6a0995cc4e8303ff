package directory

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

const userColumns = `id, name, email, role, active, verified, specialty, date_of_birth`

func (r *PgRepository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	row := db.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *PgRepository) CreateUser(ctx context.Context, u *User) error {
	if err := u.Validate(); err != nil {
		return err
	}

	var (
		verified  bool
		specialty *string
		dob       *time.Time
	)
	switch u.Role {
	case RoleDoctor:
		verified = u.Doctor.Verified
		if u.Doctor.Specialty != "" {
			specialty = &u.Doctor.Specialty
		}
	case RolePatient:
		dob = u.Patient.DateOfBirth
	}

	_, err := db.Conn(ctx, r.db).Exec(ctx, `
		INSERT INTO users (id, name, email, role, active, verified, specialty, date_of_birth)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.Name, u.Email, string(u.Role), u.Active, verified, specialty, dob)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *PgRepository) ListDoctors(ctx context.Context, onlyBookable bool) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = 'Doctor'`
	if onlyBookable {
		query += ` AND active AND verified`
	}
	query += ` ORDER BY name`
	return r.list(ctx, query)
}

func (r *PgRepository) ListPatients(ctx context.Context, limit int) ([]User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE role = 'Patient' AND active ORDER BY name LIMIT $1`, limit)
}

func (r *PgRepository) list(ctx context.Context, query string, args ...any) ([]User, error) {
	rows, err := db.Conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func scanUser(row pgx.Row) (*User, error) {
	var (
		u         User
		role      string
		verified  bool
		specialty *string
		dob       *time.Time
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &u.Active, &verified, &specialty, &dob); err != nil {
		return nil, err
	}

	u.Role = Role(role)
	switch u.Role {
	case RoleDoctor:
		u.Doctor = &DoctorProfile{Verified: verified}
		if specialty != nil {
			u.Doctor.Specialty = *specialty
		}
	case RolePatient:
		u.Patient = &PatientProfile{DateOfBirth: dob}
	case RoleAdmin:
		u.Admin = &AdminProfile{}
	default:
		return nil, fmt.Errorf("unknown role %q for user %s", role, u.ID)
	}
	return &u, nil
}
