package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

// statusFor maps a scheduling error to its HTTP status.
func statusFor(err error) int {
	var ve *scheduling.ValidationError
	switch {
	case errors.As(err, &ve),
		errors.Is(err, scheduling.ErrInvalidTarget),
		errors.Is(err, scheduling.ErrEmptyResult):
		return http.StatusBadRequest
	case errors.Is(err, scheduling.ErrWorkerNotFound),
		errors.Is(err, scheduling.ErrPatientNotFound),
		errors.Is(err, scheduling.ErrSlotNotFound),
		errors.Is(err, scheduling.ErrExamOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduling.ErrSpecialtyNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, scheduling.ErrSlotUnavailable),
		errors.Is(err, scheduling.ErrConflict),
		errors.Is(err, scheduling.ErrDifferentSpecialty),
		errors.Is(err, scheduling.ErrCurrentSlotInvalid),
		errors.Is(err, scheduling.ErrSlotInPast),
		errors.Is(err, scheduling.ErrExamAlreadyScheduled),
		errors.Is(err, scheduling.ErrExamOrderCompleted),
		errors.Is(err, scheduling.ErrSpecialtyAlreadyBooked):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders a scheduling error. Unexpected errors are logged
// and reported without details.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status := statusFor(err)
	code := scheduling.Code(err)

	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, status, "internal_error", "")
		return
	}

	writeError(w, status, code, err.Error())
}
