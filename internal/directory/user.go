// Package directory is a read-mostly view of the identity records owned by the
// user service: role, active flag and the role-specific profile.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrInvalidProfile = errors.New("profile does not match role")
)

type Role string

const (
	RoleDoctor  Role = "Doctor"
	RolePatient Role = "Patient"
	RoleAdmin   Role = "Admin"
)

// ParseRole accepts any casing, so "doctor" from a URL works.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "doctor":
		return RoleDoctor, nil
	case "patient":
		return RolePatient, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

type DoctorProfile struct {
	Verified  bool   `json:"verified"`
	Specialty string `json:"specialty,omitempty"`
}

type PatientProfile struct {
	DateOfBirth *time.Time `json:"dateOfBirth,omitempty"`
}

type AdminProfile struct{}

// User carries exactly one profile, the one matching Role.
type User struct {
	ID      uuid.UUID       `json:"id"`
	Name    string          `json:"name"`
	Email   string          `json:"email"`
	Role    Role            `json:"role"`
	Active  bool            `json:"active"`
	Doctor  *DoctorProfile  `json:"doctor,omitempty"`
	Patient *PatientProfile `json:"patient,omitempty"`
	Admin   *AdminProfile   `json:"admin,omitempty"`
}

func (u *User) Validate() error {
	switch u.Role {
	case RoleDoctor:
		if u.Doctor == nil || u.Patient != nil || u.Admin != nil {
			return fmt.Errorf("%w: doctor", ErrInvalidProfile)
		}
	case RolePatient:
		if u.Patient == nil || u.Doctor != nil || u.Admin != nil {
			return fmt.Errorf("%w: patient", ErrInvalidProfile)
		}
	case RoleAdmin:
		if u.Admin == nil || u.Doctor != nil || u.Patient != nil {
			return fmt.Errorf("%w: admin", ErrInvalidProfile)
		}
	default:
		return fmt.Errorf("unknown role %q", u.Role)
	}
	return nil
}

// CanAcceptBookings reports whether patients may book this user's slots.
func (u *User) CanAcceptBookings() bool {
	return u.Role == RoleDoctor && u.Active && u.Doctor != nil && u.Doctor.Verified
}

func (u *User) Specialty() string {
	if u.Doctor == nil {
		return ""
	}
	return u.Doctor.Specialty
}

func NewDoctor(name, email, specialty string, verified bool) *User {
	return &User{
		ID:     uuid.New(),
		Name:   name,
		Email:  email,
		Role:   RoleDoctor,
		Active: true,
		Doctor: &DoctorProfile{Verified: verified, Specialty: specialty},
	}
}

func NewPatient(name, email string, dob *time.Time) *User {
	return &User{
		ID:      uuid.New(),
		Name:    name,
		Email:   email,
		Role:    RolePatient,
		Active:  true,
		Patient: &PatientProfile{DateOfBirth: dob},
	}
}

func NewAdmin(name, email string) *User {
	return &User{
		ID:     uuid.New(),
		Name:   name,
		Email:  email,
		Role:   RoleAdmin,
		Active: true,
		Admin:  &AdminProfile{},
	}
}

type Reader interface {
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
}

type Repository interface {
	Reader
	CreateUser(ctx context.Context, u *User) error
	ListDoctors(ctx context.Context, onlyBookable bool) ([]User, error)
	ListPatients(ctx context.Context, limit int) ([]User, error)
}
