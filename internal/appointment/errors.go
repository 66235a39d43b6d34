package appointment

import (
	"errors"
	"fmt"
)

// Error kinds. Every error the package returns for a business reason wraps
// exactly one of these, so callers can switch on errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidState    = errors.New("invalid state")
	ErrSlotUnavailable = errors.New("slot unavailable")
	ErrSlotNotFound    = errors.New("slot not found")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflict")
)

var (
	ErrPatientNotFound     = fmt.Errorf("patient %w", ErrNotFound)
	ErrDoctorNotFound      = fmt.Errorf("doctor %w", ErrNotFound)
	ErrServiceNotFound     = fmt.Errorf("service %w", ErrNotFound)
	ErrServiceNotOffered   = fmt.Errorf("service not offered by doctor: %w", ErrNotFound)
	ErrTimeBlockNotFound   = fmt.Errorf("time block %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
	ErrFeedbackNotFound    = fmt.Errorf("feedback %w", ErrNotFound)

	ErrSlotAlreadyBooked       = fmt.Errorf("slot already booked: %w", ErrSlotUnavailable)
	ErrOverlappingAppointment  = fmt.Errorf("doctor already has an appointment in that interval: %w", ErrSlotUnavailable)
	ErrStartNotInFuture        = fmt.Errorf("slot already started or in the past: %w", ErrInvalidState)
	ErrInvalidStatusTransition = fmt.Errorf("invalid status transition: %w", ErrInvalidState)
	ErrNotPatientsAppointment  = fmt.Errorf("appointment does not belong to patient: %w", ErrForbidden)
	ErrNotDoctorsAppointment   = fmt.Errorf("appointment does not belong to doctor: %w", ErrForbidden)
	ErrNotBlockOwner           = fmt.Errorf("time block does not belong to doctor: %w", ErrForbidden)
	ErrOverlappingTimeBlock    = fmt.Errorf("time block overlaps an existing block: %w", ErrConflict)
	ErrTimeBlockInUse          = fmt.Errorf("time block has booked appointments: %w", ErrConflict)
	ErrDoctorHasFutureBookings = fmt.Errorf("doctor has future confirmed appointments: %w", ErrConflict)
	ErrFeedbackExists          = fmt.Errorf("feedback already submitted: %w", ErrConflict)
)

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
