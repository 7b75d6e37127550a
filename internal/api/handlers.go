package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type handlers struct {
	svc    Scheduler
	logger *zap.Logger
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

func badRequest(w http.ResponseWriter, details string) {
	writeError(w, http.StatusBadRequest, "validation_error", details)
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		badRequest(w, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// optionalUUID parses a validated optional id.
func optionalUUID(raw *string) *uuid.UUID {
	if raw == nil {
		return nil
	}
	id := uuid.MustParse(*raw)
	return &id
}

func queryDate(r *http.Request, key string) (time.Time, bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (h *handlers) generateSlots(w http.ResponseWriter, r *http.Request) {
	workerID, ok := uuidParam(w, r, "workerID")
	if !ok {
		return
	}

	var req GenerateSlotsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	from, _ := time.Parse(dateLayout, req.From)
	to, _ := time.Parse(dateLayout, req.To)
	days := make([]time.Weekday, 0, len(req.Weekdays))
	for _, d := range req.Weekdays {
		days = append(days, time.Weekday(d))
	}

	res, err := h.svc.GenerateSlots(r.Context(), scheduling.GenerateRequest{
		WorkerID: workerID,
		From:     from,
		To:       to,
		Weekdays: days,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

func (h *handlers) deleteDaySlots(w http.ResponseWriter, r *http.Request) {
	workerID, ok := uuidParam(w, r, "workerID")
	if !ok {
		return
	}

	date, set, err := queryDate(r, "date")
	if err != nil || !set {
		badRequest(w, "date must be given as YYYY-MM-DD")
		return
	}

	removed, err := h.svc.DeleteDaySlots(r.Context(), workerID, date)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, DeleteSlotsResponse{Removed: removed})
}

// listAvailability restricts patients to the specialties they may book.
// Staff may pass national_id to see the same restricted view.
func (h *handlers) listAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var query scheduling.AvailabilityQuery

	if raw := q.Get("worker_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			badRequest(w, "worker_id must be a valid UUID")
			return
		}
		query.WorkerID = &id
	}
	query.Specialty = strings.TrimSpace(q.Get("specialty"))

	var err error
	if query.From, _, err = queryDate(r, "from"); err != nil {
		badRequest(w, "from must be given as YYYY-MM-DD")
		return
	}
	if query.To, _, err = queryDate(r, "to"); err != nil {
		badRequest(w, "to must be given as YYYY-MM-DD")
		return
	}

	p := principal(r)
	switch {
	case p.Role == auth.RolePatient:
		query.PatientID = &p.PatientID
	case q.Get("national_id") != "":
		patient, err := h.svc.LookupPatient(r.Context(), q.Get("national_id"))
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		query.PatientID = &patient.ID
	}

	res, err := h.svc.ListAvailability(r.Context(), query)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) mySpecialties(w http.ResponseWriter, r *http.Request) {
	h.writeSpecialties(w, r, principal(r).PatientID)
}

func (h *handlers) patientSpecialties(w http.ResponseWriter, r *http.Request) {
	patient, err := h.svc.LookupPatient(r.Context(), chi.URLParam(r, "nationalID"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.writeSpecialties(w, r, patient.ID)
}

func (h *handlers) writeSpecialties(w http.ResponseWriter, r *http.Request, patientID uuid.UUID) {
	access, err := h.svc.ResolveAllowedSpecialties(r.Context(), patientID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, access)
}

func (h *handlers) myBookings(w http.ResponseWriter, r *http.Request) {
	h.writeBookings(w, r, principal(r).PatientID)
}

func (h *handlers) patientBookings(w http.ResponseWriter, r *http.Request) {
	patient, err := h.svc.LookupPatient(r.Context(), chi.URLParam(r, "nationalID"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.writeBookings(w, r, patient.ID)
}

func (h *handlers) writeBookings(w http.ResponseWriter, r *http.Request, patientID uuid.UUID) {
	bookings, err := h.svc.ListPatientBookings(r.Context(), patientID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, PatientBookingsResponse{PatientID: patientID, Bookings: bookings})
}

func (h *handlers) reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	booking, err := h.svc.Reserve(r.Context(), scheduling.ReserveRequest{
		PatientID:   principal(r).PatientID,
		SlotID:      uuid.MustParse(req.SlotID),
		Note:        req.Note,
		ExamOrderID: optionalUUID(req.ExamOrderID),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, booking)
}

func (h *handlers) receptionReserve(w http.ResponseWriter, r *http.Request) {
	var req ReceptionReserveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	booking, err := h.svc.ReserveForPatient(r.Context(), req.NationalID, scheduling.ReserveRequest{
		SlotID:      uuid.MustParse(req.SlotID),
		Note:        req.Note,
		ExamOrderID: optionalUUID(req.ExamOrderID),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, booking)
}

func (h *handlers) reschedule(w http.ResponseWriter, r *http.Request) {
	oldSlotID, ok := uuidParam(w, r, "slotID")
	if !ok {
		return
	}

	var req RescheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	booking, err := h.svc.Reschedule(r.Context(), principal(r).PatientID, oldSlotID, uuid.MustParse(req.NewSlotID))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, booking)
}

func (h *handlers) receptionReschedule(w http.ResponseWriter, r *http.Request) {
	oldSlotID, ok := uuidParam(w, r, "slotID")
	if !ok {
		return
	}

	var req ReceptionRescheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	booking, err := h.svc.RescheduleForPatient(r.Context(), req.NationalID, oldSlotID, uuid.MustParse(req.NewSlotID))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, booking)
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	slotID, ok := uuidParam(w, r, "slotID")
	if !ok {
		return
	}

	if err := h.svc.Cancel(r.Context(), principal(r).PatientID, slotID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) receptionCancel(w http.ResponseWriter, r *http.Request) {
	slotID, ok := uuidParam(w, r, "slotID")
	if !ok {
		return
	}

	nationalID := r.URL.Query().Get("national_id")
	if strings.TrimSpace(nationalID) == "" {
		badRequest(w, "national_id is required")
		return
	}

	if err := h.svc.CancelForPatient(r.Context(), nationalID, slotID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) recordOutcome(w http.ResponseWriter, r *http.Request) {
	slotID, ok := uuidParam(w, r, "slotID")
	if !ok {
		return
	}

	var req OutcomeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	outcome, err := h.svc.RecordConsultationOutcome(r.Context(), scheduling.OutcomeRequest{
		WorkerID:    principal(r).WorkerID,
		SlotID:      slotID,
		PatientID:   uuid.MustParse(req.PatientID),
		Summary:     req.Summary,
		Referral:    req.Referral,
		Treatment:   req.Treatment,
		ExamRequest: req.ExamRequest,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, outcomeResponse(outcome))
}

func (h *handlers) scheduleExam(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(w, r, "orderID")
	if !ok {
		return
	}

	var req ScheduleExamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	order, err := h.svc.ScheduleExamOrder(r.Context(), principal(r).WorkerID, orderID, uuid.MustParse(req.SlotID))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, examOrderResponse(order))
}

func (h *handlers) completeExam(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(w, r, "orderID")
	if !ok {
		return
	}

	var req CompleteExamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	order, err := h.svc.CompleteExamOrder(r.Context(), principal(r).WorkerID, orderID, req.ResultRef)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, examOrderResponse(order))
}
