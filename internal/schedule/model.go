package schedule

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointments/internal/apperr"
)

// Slot is a doctor-declared availability window. Version moves every time
// Available flips.
type Slot struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctorId"`
	Start     time.Time `json:"startTime"`
	End       time.Time `json:"endTime"`
	Available bool      `json:"isAvailable"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DayGroup is one calendar date worth of slots.
type DayGroup struct {
	Date  string `json:"date"`
	Slots []Slot `json:"slots"`
}

var (
	ErrDoctorOnly       = apperr.Authorization("only doctors can manage schedules")
	ErrNotOwner         = apperr.Authorization("you can only manage your own schedules")
	ErrInvalidTimeRange = apperr.Validation("end time must be after start time")
	ErrDifferentDays    = apperr.Validation("start and end time must be on the same day")
	ErrStartInPast      = apperr.Validation("cannot create a schedule in the past")
	ErrInvalidDate      = apperr.Validation("invalid date, expected YYYY-MM-DD")
	ErrOverlap          = apperr.Conflict("this time slot conflicts with an existing schedule")
	ErrSlotUnavailable  = apperr.Conflict("time slot not available or has expired")
	ErrSlotBooked       = apperr.Conflict("cannot modify a schedule that has been booked")
	ErrSlotNotFound     = apperr.NotFound("schedule not found")
)

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
