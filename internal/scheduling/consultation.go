package scheduling

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OutcomeRequest closes a visit. Referral is the specialty label that unlocks
// a follow-up booking; Treatment is stored as-is; ExamRequest opens a pending
// exam order for the patient.
type OutcomeRequest struct {
	WorkerID    uuid.UUID
	SlotID      uuid.UUID
	PatientID   uuid.UUID
	Summary     string
	Referral    *string
	Treatment   json.RawMessage
	ExamRequest *string
}

// RecordConsultationOutcome persists the outcome of a reserved visit and
// finalizes its slot.
func (s *Service) RecordConsultationOutcome(ctx context.Context, req OutcomeRequest) (outcome *ConsultationOutcome, err error) {
	ctx, done := s.track(ctx, "record_outcome",
		attribute.String("worker_id", req.WorkerID.String()),
		attribute.String("slot_id", req.SlotID.String()),
	)
	defer func() { done(err) }()

	summary := strings.TrimSpace(req.Summary)
	if summary == "" {
		return nil, invalid("summary", "is required")
	}
	if req.SlotID == uuid.Nil || req.PatientID == uuid.Nil {
		return nil, invalid("slot_id", "slot and patient are required")
	}
	if len(req.Treatment) > 0 && !json.Valid(req.Treatment) {
		return nil, invalid("treatment", "must be valid JSON")
	}
	referral := cleanLabel(req.Referral)
	examRequest := cleanLabel(req.ExamRequest)

	err = s.repo.InTx(ctx, func(repo Repository) error {
		worker, err := repo.GetWorker(ctx, req.WorkerID)
		if err != nil {
			return err
		}
		if !worker.Role.Clinical() {
			return ErrInvalidTarget
		}

		slot, err := repo.GetSlot(ctx, req.SlotID)
		if err != nil {
			return err
		}
		if slot.WorkerID != worker.ID || slot.PatientID == nil || *slot.PatientID != req.PatientID {
			return ErrSlotNotFound
		}
		if slot.State != SlotReserved {
			return ErrConflict
		}

		if _, err := repo.FinalizeSlot(ctx, slot.ID, worker.ID, req.PatientID); err != nil {
			return err
		}

		outcome = &ConsultationOutcome{
			ID:        uuid.New(),
			SlotID:    slot.ID,
			PatientID: req.PatientID,
			WorkerID:  worker.ID,
			Summary:   summary,
			Referral:  referral,
			Treatment: req.Treatment,
		}

		if examRequest != nil {
			order := &ExamOrder{
				ID:          uuid.New(),
				PatientID:   req.PatientID,
				Description: *examRequest,
			}
			if err := repo.CreateExamOrder(ctx, order); err != nil {
				return err
			}
			outcome.ExamOrderID = &order.ID
			if err := s.logEvent(ctx, repo, EventExamOrderCreated, &slot.ID, &req.PatientID, map[string]any{
				"exam_order_id": order.ID.String(),
			}); err != nil {
				return err
			}
		}

		if err := repo.InsertConsultationOutcome(ctx, outcome); err != nil {
			return err
		}

		payload := map[string]any{
			"worker_id": worker.ID.String(),
			"specialty": slot.Specialty,
		}
		if referral != nil {
			payload["referral"] = *referral
		}
		return s.logEvent(ctx, repo, EventSlotFinalized, &slot.ID, &req.PatientID, payload)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("consultation outcome recorded",
		zap.String("slot_id", outcome.SlotID.String()),
		zap.String("worker_id", outcome.WorkerID.String()),
		zap.Bool("referral", outcome.Referral != nil),
	)
	return outcome, nil
}
