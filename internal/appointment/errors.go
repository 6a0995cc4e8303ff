package appointment

import (
	"fmt"

	"github.com/hackgods/clinic-appointments/internal/apperr"
	"github.com/hackgods/clinic-appointments/internal/db"
)

var (
	ErrMissingFields      = apperr.Validation("doctorId, scheduleId and reason are required")
	ErrEmptyReason        = apperr.Validation("reason cannot be empty")
	ErrReasonTooLong      = apperr.Validation(fmt.Sprintf("reason must be at most %d characters", MaxReasonLength))
	ErrInvalidMode        = apperr.Validation("mode must be in-person or telehealth")
	ErrSlotInPast         = apperr.Validation("cannot book a time slot in the past")
	ErrInvalidSlotTimes   = apperr.Validation("time slot has an invalid time range")
	ErrInvalidStatus      = apperr.Validation("invalid status update")
	ErrApprovePending     = apperr.Validation("can only approve/reject pending appointments")
	ErrCompleteConfirmed  = apperr.Validation("can only complete confirmed appointments")
	ErrNotCancellable     = apperr.Validation("appointment can no longer be cancelled")
	ErrNotDeletable       = apperr.Validation("only pending or confirmed appointments can be deleted")
	ErrReasonByPatient    = apperr.Validation("only the patient can change the reason")
	ErrNotesByDoctor      = apperr.Validation("only the doctor can add notes")
	ErrInvalidRole        = apperr.Validation("role must be doctor or patient")
	ErrPatientOnly        = apperr.Authorization("only patients can book appointments")
	ErrNotParticipant     = apperr.Authorization("you are not authorized to update this appointment")
	ErrPatientCancelOnly  = apperr.Authorization("patients can only cancel appointments")
	ErrDeleteNotOwner     = apperr.Authorization("only the patient who booked the appointment can delete it")
	ErrViewForbidden      = apperr.Authorization("you are not authorized to view these appointments")
	ErrDoctorNotFound     = apperr.NotFound("doctor not found or not available")
	ErrAppointmentMissing = apperr.NotFound("appointment not found")
	ErrPatientOverlap     = apperr.Conflict("you already have an appointment during this time")
	ErrSlotBeingBooked    = apperr.Conflict("time slot is currently being booked")
)

// ErrStatusChanged marks a lost compare-and-swap on status. It counts as a
// write conflict so the transaction reruns against fresh state.
var ErrStatusChanged = fmt.Errorf("appointment status changed concurrently: %w", db.ErrWriteConflict)
