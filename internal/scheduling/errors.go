package scheduling

import (
	"errors"
	"fmt"
)

var (
	ErrWorkerNotFound    = errors.New("worker not found")
	ErrPatientNotFound   = errors.New("patient not found")
	ErrSlotNotFound      = errors.New("slot not found")
	ErrExamOrderNotFound = errors.New("exam order not found")

	ErrInvalidTarget = errors.New("worker cannot own bookable slots")
	ErrEmptyResult   = errors.New("selection produces no bookable slots")

	ErrSlotUnavailable = errors.New("slot is no longer available")
	ErrConflict        = errors.New("state changed concurrently, retry with fresh data")

	ErrSpecialtyNotAllowed    = errors.New("patient has no active referral for this specialty")
	ErrSpecialtyAlreadyBooked = errors.New("patient already holds a booking for this specialty")
	ErrDifferentSpecialty     = errors.New("reschedule must stay within the same specialty")
	ErrCurrentSlotInvalid     = errors.New("current booking is not a future reservation of this patient")
	ErrSlotInPast             = errors.New("slot is in the past")
	ErrExamAlreadyScheduled   = errors.New("exam order is already scheduled")
	ErrExamOrderCompleted     = errors.New("exam order is already completed")
)

// ValidationError reports malformed input on a single field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Code is the stable machine-readable name of a domain error, used for
// metrics labels and transport error bodies.
func Code(err error) string {
	var ve *ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ve):
		return "validation_error"
	case errors.Is(err, ErrWorkerNotFound):
		return "worker_not_found"
	case errors.Is(err, ErrPatientNotFound):
		return "patient_not_found"
	case errors.Is(err, ErrSlotNotFound):
		return "slot_not_found"
	case errors.Is(err, ErrExamOrderNotFound):
		return "exam_order_not_found"
	case errors.Is(err, ErrInvalidTarget):
		return "invalid_target"
	case errors.Is(err, ErrEmptyResult):
		return "empty_result"
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrSpecialtyNotAllowed):
		return "specialty_not_allowed"
	case errors.Is(err, ErrSpecialtyAlreadyBooked):
		return "specialty_already_booked"
	case errors.Is(err, ErrDifferentSpecialty):
		return "different_specialty"
	case errors.Is(err, ErrCurrentSlotInvalid):
		return "current_slot_invalid"
	case errors.Is(err, ErrSlotInPast):
		return "slot_in_past"
	case errors.Is(err, ErrExamAlreadyScheduled):
		return "exam_already_scheduled"
	case errors.Is(err, ErrExamOrderCompleted):
		return "exam_order_completed"
	default:
		return "internal_error"
	}
}
