package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Cancellable reports whether the appointment still holds its slot.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusConfirmed
}

type Mode string

const (
	ModeInPerson   Mode = "in-person"
	ModeTelehealth Mode = "telehealth"
)

func (m Mode) Valid() bool {
	return m == ModeInPerson || m == ModeTelehealth
}

const MaxReasonLength = 500

type Appointment struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       uuid.UUID  `json:"patientId"`
	DoctorID        uuid.UUID  `json:"doctorId"`
	SlotID          *uuid.UUID `json:"scheduleId,omitempty"`
	Start           time.Time  `json:"startTime"`
	End             time.Time  `json:"endTime"`
	Status          Status     `json:"status"`
	Reason          string     `json:"reason"`
	Mode            Mode       `json:"mode"`
	Notes           *string    `json:"notes,omitempty"`
	HasPrescription bool       `json:"hasPrescription"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Detail is an appointment with the display fields of both participants.
type Detail struct {
	Appointment
	DoctorName      string `json:"doctorName"`
	DoctorSpecialty string `json:"doctorSpecialty,omitempty"`
	PatientName     string `json:"patientName"`
}

const (
	EventBooked    = "APPOINTMENT_BOOKED"
	EventConfirmed = "APPOINTMENT_CONFIRMED"
	EventCancelled = "APPOINTMENT_CANCELLED"
	EventCompleted = "APPOINTMENT_COMPLETED"
	EventDeleted   = "APPOINTMENT_DELETED"
)

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	ActorID       uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// Update is the change applied by a status transition. Status is compared
// against From so that a concurrent transition loses.
type Update struct {
	ID     uuid.UUID
	From   Status
	To     Status
	Reason *string
	Notes  *string
}
