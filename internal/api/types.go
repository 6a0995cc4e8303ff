package api

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointments/internal/prescription"
)

type BookAppointmentRequest struct {
	DoctorID   uuid.UUID `json:"doctorId"`
	ScheduleID uuid.UUID `json:"scheduleId"`
	Reason     string    `json:"reason"`
	Mode       string    `json:"mode,omitempty"`
}

type UpdateAppointmentRequest struct {
	Status string  `json:"status"`
	Reason *string `json:"reason,omitempty"`
	Notes  *string `json:"notes,omitempty"`
}

type ScheduleRequest struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

type CreatePrescriptionRequest struct {
	AppointmentID uuid.UUID                 `json:"appointmentId"`
	Medications   []prescription.Medication `json:"medications"`
	Diagnosis     string                    `json:"diagnosis"`
	ExpiryDate    *Date                     `json:"expiryDate"`
}

type UpdatePrescriptionRequest struct {
	Medications []prescription.Medication `json:"medications,omitempty"`
	Diagnosis   *string                   `json:"diagnosis,omitempty"`
	ExpiryDate  *Date                     `json:"expiryDate,omitempty"`
	Status      *string                   `json:"status,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// Date accepts either an RFC 3339 timestamp or a bare YYYY-MM-DD, which is
// read as midnight UTC.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

func (d *Date) ptr() *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}
