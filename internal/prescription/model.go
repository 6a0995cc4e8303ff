package prescription

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointments/internal/apperr"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusExpired || s == StatusCancelled
}

// MaxValidity bounds how far in the future an expiry date may be.
const MaxValidity = 365 * 24 * time.Hour

type Medication struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Duration  string `json:"duration"`
}

type Prescription struct {
	ID            uuid.UUID    `json:"id"`
	PatientID     uuid.UUID    `json:"patientId"`
	DoctorID      uuid.UUID    `json:"doctorId"`
	AppointmentID uuid.UUID    `json:"appointmentId"`
	Medications   []Medication `json:"medications"`
	Diagnosis     string       `json:"diagnosis"`
	IssuedDate    time.Time    `json:"issuedDate"`
	ExpiryDate    time.Time    `json:"expiryDate"`
	Status        Status       `json:"status"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

var (
	ErrMissingFields         = apperr.Validation("appointmentId, medications, diagnosis and expiryDate are required")
	ErrInvalidMedications    = apperr.Validation("invalid medication details")
	ErrEmptyDiagnosis        = apperr.Validation("diagnosis cannot be empty")
	ErrAppointmentIneligible = apperr.Validation("appointment not found, not assigned to you, or not completed")
	ErrExpiryBeforeIssue     = apperr.Validation("expiry date must be after the appointment date")
	ErrExpiryInPast          = apperr.Validation("expiry date must be in the future")
	ErrExpiryTooFar          = apperr.Validation("expiry date cannot be more than one year in the future")
	ErrInvalidStatus         = apperr.Validation("status must be active, expired or cancelled")
	ErrEmptyPatch            = apperr.Validation("no fields to update")
	ErrInvalidRole           = apperr.Validation("role must be doctor or patient")
	ErrDoctorOnly            = apperr.Authorization("only doctors can manage prescriptions")
	ErrNotIssuer             = apperr.Authorization("only the issuing doctor can modify this prescription")
	ErrViewForbidden         = apperr.Authorization("you are not authorized to view these prescriptions")
	ErrPrescriptionNotFound  = apperr.NotFound("prescription not found")
)

// ErrDuplicatePrescription reports the DUPLICATE_PRESCRIPTION code.
var ErrDuplicatePrescription = apperr.WithCode(apperr.KindValidation, apperr.CodeDuplicatePrescription,
	"a prescription already exists for this appointment")

// validateMedications collects every complaint rather than stopping at the
// first one.
func validateMedications(meds []Medication) error {
	if len(meds) == 0 {
		return ErrMissingFields
	}

	var details []string
	for i, m := range meds {
		fields := []struct{ name, value string }{
			{"name", m.Name},
			{"dosage", m.Dosage},
			{"frequency", m.Frequency},
			{"duration", m.Duration},
		}
		for _, f := range fields {
			if strings.TrimSpace(f.value) == "" {
				details = append(details, fmt.Sprintf("medication %d: %s is required", i+1, f.name))
			}
		}
	}
	if len(details) > 0 {
		return ErrInvalidMedications.WithDetails(details...)
	}
	return nil
}

// validateExpiry checks the three expiry bounds and names the one violated.
func validateExpiry(expiry, issued, now time.Time) error {
	if !expiry.After(issued) {
		return ErrExpiryBeforeIssue
	}
	if !expiry.After(now) {
		return ErrExpiryInPast
	}
	if expiry.After(now.Add(MaxValidity)) {
		return ErrExpiryTooFar
	}
	return nil
}
