package scheduling

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ScheduleExamOrder books one of the nurse's own available slots for a
// pending exam order. The order becomes AGENDADO and the slot reserved for
// the order's patient in the same transaction.
func (s *Service) ScheduleExamOrder(ctx context.Context, nurseID, orderID, slotID uuid.UUID) (order *ExamOrder, err error) {
	ctx, done := s.track(ctx, "schedule_exam_order",
		attribute.String("exam_order_id", orderID.String()),
		attribute.String("slot_id", slotID.String()),
	)
	defer func() { done(err) }()

	if orderID == uuid.Nil {
		return nil, invalid("exam_order_id", "is required")
	}
	if slotID == uuid.Nil {
		return nil, invalid("slot_id", "is required")
	}

	err = s.repo.InTx(ctx, func(repo Repository) error {
		now := s.now()

		if err := requireNurse(ctx, repo, nurseID); err != nil {
			return err
		}

		current, err := repo.GetExamOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := checkOrderSchedulable(current); err != nil {
			return err
		}

		if err := repo.LockPatient(ctx, current.PatientID); err != nil {
			return err
		}

		slot, err := bookableSlot(ctx, repo, slotID, now)
		if err != nil {
			return err
		}
		if slot.WorkerID != nurseID {
			return ErrSlotNotFound
		}

		reserved, err := repo.ReserveSlot(ctx, slot.ID, current.PatientID, cleanNote(&current.Description), now)
		if err != nil {
			return err
		}

		order, err = repo.MarkExamOrderScheduled(ctx, current.ID, reserved.ID, nurseID, reserved.StartsAt)
		if err != nil {
			return err
		}

		return s.logEvent(ctx, repo, EventExamScheduled, &reserved.ID, &current.PatientID, map[string]any{
			"exam_order_id": current.ID.String(),
			"nurse_id":      nurseID.String(),
			"starts_at":     reserved.StartsAt,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("exam order scheduled",
		zap.String("exam_order_id", order.ID.String()),
		zap.String("nurse_id", nurseID.String()),
	)
	return order, nil
}

// CompleteExamOrder records the result reference of a scheduled exam. The
// bound nursing slot, if still reserved for the patient, is finalized with it.
func (s *Service) CompleteExamOrder(ctx context.Context, nurseID, orderID uuid.UUID, resultRef string) (order *ExamOrder, err error) {
	ctx, done := s.track(ctx, "complete_exam_order", attribute.String("exam_order_id", orderID.String()))
	defer func() { done(err) }()

	resultRef = strings.TrimSpace(resultRef)
	if resultRef == "" {
		return nil, invalid("result_ref", "is required")
	}
	if orderID == uuid.Nil {
		return nil, invalid("exam_order_id", "is required")
	}

	err = s.repo.InTx(ctx, func(repo Repository) error {
		if err := requireNurse(ctx, repo, nurseID); err != nil {
			return err
		}

		current, err := repo.GetExamOrder(ctx, orderID)
		if err != nil {
			return err
		}
		switch current.State {
		case ExamDone:
			return ErrExamOrderCompleted
		case ExamPending:
			return invalid("exam_order_id", "exam order has not been scheduled")
		}

		order, err = repo.MarkExamOrderDone(ctx, current.ID, nurseID, resultRef)
		if err != nil {
			return err
		}

		if current.SlotID != nil {
			slot, err := repo.GetSlot(ctx, *current.SlotID)
			if err != nil {
				return err
			}
			if slot.State == SlotReserved && slot.PatientID != nil && *slot.PatientID == current.PatientID {
				if _, err := repo.FinalizeSlot(ctx, slot.ID, slot.WorkerID, current.PatientID); err != nil {
					return err
				}
			} else {
				s.logger.Warn("exam slot no longer reserved, left untouched",
					zap.String("exam_order_id", current.ID.String()),
					zap.String("slot_id", slot.ID.String()),
					zap.String("state", string(slot.State)),
				)
			}
		}

		return s.logEvent(ctx, repo, EventExamCompleted, current.SlotID, &current.PatientID, map[string]any{
			"exam_order_id": current.ID.String(),
			"nurse_id":      nurseID.String(),
			"result_ref":    resultRef,
		})
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func requireNurse(ctx context.Context, repo Repository, nurseID uuid.UUID) error {
	nurse, err := repo.GetWorker(ctx, nurseID)
	if err != nil {
		return err
	}
	if !nurse.Active || !nurse.IsNurse() {
		return ErrInvalidTarget
	}
	return nil
}

// schedulableOrder loads an exam order of patientID that can still be
// scheduled. Orders of other patients read as missing.
func schedulableOrder(ctx context.Context, repo Repository, orderID, patientID uuid.UUID) (*ExamOrder, error) {
	order, err := repo.GetExamOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PatientID != patientID {
		return nil, ErrExamOrderNotFound
	}
	if err := checkOrderSchedulable(order); err != nil {
		return nil, err
	}
	return order, nil
}

func checkOrderSchedulable(order *ExamOrder) error {
	switch {
	case order.State == ExamDone:
		return ErrExamOrderCompleted
	case order.State == ExamScheduled, order.ScheduledAt != nil:
		return ErrExamAlreadyScheduled
	}
	return nil
}
