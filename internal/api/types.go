package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

const dateLayout = "2006-01-02"

// Weekdays use Go numbering: 0 is Sunday, 6 is Saturday.
type GenerateSlotsRequest struct {
	From     string `json:"from" validate:"required,datetime=2006-01-02"`
	To       string `json:"to" validate:"required,datetime=2006-01-02"`
	Weekdays []int  `json:"weekdays" validate:"omitempty,max=7,dive,min=0,max=6"`
}

type ReserveRequest struct {
	SlotID      string  `json:"slot_id" validate:"required,uuid"`
	Note        *string `json:"note" validate:"omitempty,max=2000"`
	ExamOrderID *string `json:"exam_order_id" validate:"omitempty,uuid"`
}

type ReceptionReserveRequest struct {
	NationalID  string  `json:"national_id" validate:"required,max=20"`
	SlotID      string  `json:"slot_id" validate:"required,uuid"`
	Note        *string `json:"note" validate:"omitempty,max=2000"`
	ExamOrderID *string `json:"exam_order_id" validate:"omitempty,uuid"`
}

type RescheduleRequest struct {
	NewSlotID string `json:"new_slot_id" validate:"required,uuid"`
}

type ReceptionRescheduleRequest struct {
	NationalID string `json:"national_id" validate:"required,max=20"`
	NewSlotID  string `json:"new_slot_id" validate:"required,uuid"`
}

type OutcomeRequest struct {
	PatientID   string          `json:"patient_id" validate:"required,uuid"`
	Summary     string          `json:"summary" validate:"required,max=4000"`
	Referral    *string         `json:"referral" validate:"omitempty,max=120"`
	Treatment   json.RawMessage `json:"treatment"`
	ExamRequest *string         `json:"exam_request" validate:"omitempty,max=500"`
}

type ScheduleExamRequest struct {
	SlotID string `json:"slot_id" validate:"required,uuid"`
}

type CompleteExamRequest struct {
	ResultRef string `json:"result_ref" validate:"required,max=500"`
}

type DeleteSlotsResponse struct {
	Removed int64 `json:"removed"`
}

type PatientBookingsResponse struct {
	PatientID uuid.UUID            `json:"patient_id"`
	Bookings  []scheduling.Booking `json:"bookings"`
}

type OutcomeResponse struct {
	ID          uuid.UUID       `json:"id"`
	SlotID      uuid.UUID       `json:"slot_id"`
	PatientID   uuid.UUID       `json:"patient_id"`
	WorkerID    uuid.UUID       `json:"worker_id"`
	Summary     string          `json:"summary"`
	Referral    *string         `json:"referral,omitempty"`
	Treatment   json.RawMessage `json:"treatment,omitempty"`
	ExamOrderID *uuid.UUID      `json:"exam_order_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func outcomeResponse(o *scheduling.ConsultationOutcome) OutcomeResponse {
	return OutcomeResponse{
		ID:          o.ID,
		SlotID:      o.SlotID,
		PatientID:   o.PatientID,
		WorkerID:    o.WorkerID,
		Summary:     o.Summary,
		Referral:    o.Referral,
		Treatment:   o.Treatment,
		ExamOrderID: o.ExamOrderID,
		CreatedAt:   o.CreatedAt,
	}
}

type ExamOrderResponse struct {
	ID          uuid.UUID  `json:"id"`
	PatientID   uuid.UUID  `json:"patient_id"`
	Description string     `json:"description"`
	State       string     `json:"state"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	NurseID     *uuid.UUID `json:"nurse_id,omitempty"`
	SlotID      *uuid.UUID `json:"slot_id,omitempty"`
	ResultRef   *string    `json:"result_ref,omitempty"`
}

func examOrderResponse(o *scheduling.ExamOrder) ExamOrderResponse {
	return ExamOrderResponse{
		ID:          o.ID,
		PatientID:   o.PatientID,
		Description: o.Description,
		State:       string(o.State),
		ScheduledAt: o.ScheduledAt,
		NurseID:     o.NurseID,
		SlotID:      o.SlotID,
		ResultRef:   o.ResultRef,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
