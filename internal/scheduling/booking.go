package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ReserveRequest books a slot for a patient. ExamOrderID couples a pending
// exam order to a nursing slot.
type ReserveRequest struct {
	PatientID   uuid.UUID
	SlotID      uuid.UUID
	Note        *string
	ExamOrderID *uuid.UUID
}

const (
	sweepOnBooking   = "booking"
	sweepOnReception = "reception"
)

// Reserve books an available future slot for the patient.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (booking *Booking, err error) {
	ctx, done := s.track(ctx, "reserve",
		attribute.String("patient_id", req.PatientID.String()),
		attribute.String("slot_id", req.SlotID.String()),
	)
	defer func() { done(err) }()

	return s.reserve(ctx, req, sweepOnBooking)
}

// ReserveForPatient is the reception variant of Reserve: the patient is
// looked up by national ID instead of coming from the session.
func (s *Service) ReserveForPatient(ctx context.Context, nationalID string, req ReserveRequest) (booking *Booking, err error) {
	ctx, done := s.track(ctx, "reception_reserve", attribute.String("slot_id", req.SlotID.String()))
	defer func() { done(err) }()

	patient, err := s.LookupPatient(ctx, nationalID)
	if err != nil {
		return nil, err
	}
	req.PatientID = patient.ID
	return s.reserve(ctx, req, sweepOnReception)
}

func (s *Service) reserve(ctx context.Context, req ReserveRequest, sweepReason string) (*Booking, error) {
	if req.SlotID == uuid.Nil {
		return nil, invalid("slot_id", "is required")
	}
	if req.PatientID == uuid.Nil {
		return nil, invalid("patient_id", "is required")
	}
	note := cleanNote(req.Note)

	var booking *Booking
	err := s.repo.InTx(ctx, func(repo Repository) error {
		now := s.now()

		if err := repo.LockPatient(ctx, req.PatientID); err != nil {
			return err
		}
		if err := s.sweepLapsed(ctx, repo, req.PatientID, now, sweepReason); err != nil {
			return err
		}

		slot, err := bookableSlot(ctx, repo, req.SlotID, now)
		if err != nil {
			return err
		}

		var order *ExamOrder
		if req.ExamOrderID != nil {
			if order, err = schedulableOrder(ctx, repo, *req.ExamOrderID, req.PatientID); err != nil {
				return err
			}
			if !isNursingSlot(slot) {
				return invalid("exam_order_id", "exam orders can only be booked on nursing slots")
			}
		}

		if err := checkSpecialtyQuota(ctx, repo, req.PatientID, slot.Specialty, now); err != nil {
			return err
		}

		reserved, err := repo.ReserveSlot(ctx, slot.ID, req.PatientID, note, now)
		if err != nil {
			return err
		}
		slot.Slot = *reserved

		payload := map[string]any{
			"worker_id": slot.WorkerID.String(),
			"specialty": slot.Specialty,
			"starts_at": slot.StartsAt,
		}
		if order != nil {
			if _, err := repo.MarkExamOrderScheduled(ctx, order.ID, slot.ID, slot.WorkerID, slot.StartsAt); err != nil {
				return err
			}
			payload["exam_order_id"] = order.ID.String()
		}

		if err := s.logEvent(ctx, repo, EventSlotReserved, &slot.ID, &req.PatientID, payload); err != nil {
			return err
		}

		booking = bookingFromSlot(slot)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("slot reserved",
		zap.String("slot_id", booking.SlotID.String()),
		zap.String("patient_id", booking.PatientID.String()),
		zap.String("specialty", booking.Specialty),
	)
	return booking, nil
}

// Reschedule moves the patient's future reservation to another slot of the
// same specialty. Both transitions commit together or not at all.
func (s *Service) Reschedule(ctx context.Context, patientID, oldSlotID, newSlotID uuid.UUID) (booking *Booking, err error) {
	ctx, done := s.track(ctx, "reschedule",
		attribute.String("patient_id", patientID.String()),
		attribute.String("slot_id", oldSlotID.String()),
		attribute.String("new_slot_id", newSlotID.String()),
	)
	defer func() { done(err) }()

	return s.reschedule(ctx, patientID, oldSlotID, newSlotID, sweepOnBooking)
}

// RescheduleForPatient is the reception variant of Reschedule.
func (s *Service) RescheduleForPatient(ctx context.Context, nationalID string, oldSlotID, newSlotID uuid.UUID) (booking *Booking, err error) {
	ctx, done := s.track(ctx, "reception_reschedule",
		attribute.String("slot_id", oldSlotID.String()),
		attribute.String("new_slot_id", newSlotID.String()),
	)
	defer func() { done(err) }()

	patient, err := s.LookupPatient(ctx, nationalID)
	if err != nil {
		return nil, err
	}
	return s.reschedule(ctx, patient.ID, oldSlotID, newSlotID, sweepOnReception)
}

func (s *Service) reschedule(ctx context.Context, patientID, oldSlotID, newSlotID uuid.UUID, sweepReason string) (*Booking, error) {
	if oldSlotID == uuid.Nil || newSlotID == uuid.Nil {
		return nil, invalid("slot_id", "current and new slot are required")
	}
	if oldSlotID == newSlotID {
		return nil, invalid("new_slot_id", "must differ from the current slot")
	}

	var booking *Booking
	err := s.repo.InTx(ctx, func(repo Repository) error {
		now := s.now()

		if err := repo.LockPatient(ctx, patientID); err != nil {
			return err
		}
		if err := s.sweepLapsed(ctx, repo, patientID, now, sweepReason); err != nil {
			return err
		}

		current, err := repo.GetSlot(ctx, oldSlotID)
		if err != nil {
			return err
		}
		if !ownsFutureReservation(current, patientID, now) {
			return ErrCurrentSlotInvalid
		}

		target, err := bookableSlot(ctx, repo, newSlotID, now)
		if err != nil {
			return err
		}
		if !sameSpecialty(current.Specialty, target.Specialty) {
			return ErrDifferentSpecialty
		}

		if _, err := repo.ReleaseSlot(ctx, current.ID, patientID, now); err != nil {
			return err
		}
		order, err := repo.UnscheduleExamOrder(ctx, current.ID)
		if err != nil && !errors.Is(err, ErrExamOrderNotFound) {
			return err
		}

		// Checked after the release so the current booking does not count
		// against the quota and a re-opened exam order grants nursing.
		if err := checkSpecialtyQuota(ctx, repo, patientID, target.Specialty, now); err != nil {
			return err
		}

		reserved, err := repo.ReserveSlot(ctx, target.ID, patientID, current.Note, now)
		if err != nil {
			return err
		}
		target.Slot = *reserved

		payload := map[string]any{
			"from_slot_id": current.ID.String(),
			"to_slot_id":   target.ID.String(),
			"specialty":    target.Specialty,
			"starts_at":    target.StartsAt,
		}
		if order != nil {
			if _, err := repo.MarkExamOrderScheduled(ctx, order.ID, target.ID, target.WorkerID, target.StartsAt); err != nil {
				return err
			}
			payload["exam_order_id"] = order.ID.String()
		}

		if err := s.logEvent(ctx, repo, EventSlotRescheduled, &target.ID, &patientID, payload); err != nil {
			return err
		}

		booking = bookingFromSlot(target)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("booking rescheduled",
		zap.String("patient_id", patientID.String()),
		zap.String("from_slot_id", oldSlotID.String()),
		zap.String("to_slot_id", newSlotID.String()),
	)
	return booking, nil
}

// Cancel releases the patient's future reservation back to available.
func (s *Service) Cancel(ctx context.Context, patientID, slotID uuid.UUID) (err error) {
	ctx, done := s.track(ctx, "cancel",
		attribute.String("patient_id", patientID.String()),
		attribute.String("slot_id", slotID.String()),
	)
	defer func() { done(err) }()

	return s.cancel(ctx, patientID, slotID, sweepOnBooking)
}

// CancelForPatient is the reception variant of Cancel.
func (s *Service) CancelForPatient(ctx context.Context, nationalID string, slotID uuid.UUID) (err error) {
	ctx, done := s.track(ctx, "reception_cancel", attribute.String("slot_id", slotID.String()))
	defer func() { done(err) }()

	patient, err := s.LookupPatient(ctx, nationalID)
	if err != nil {
		return err
	}
	return s.cancel(ctx, patient.ID, slotID, sweepOnReception)
}

func (s *Service) cancel(ctx context.Context, patientID, slotID uuid.UUID, sweepReason string) error {
	if slotID == uuid.Nil {
		return invalid("slot_id", "is required")
	}

	return s.repo.InTx(ctx, func(repo Repository) error {
		now := s.now()

		if err := repo.LockPatient(ctx, patientID); err != nil {
			return err
		}

		slot, err := repo.GetSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.PatientID == nil || *slot.PatientID != patientID || slot.State != SlotReserved {
			return ErrCurrentSlotInvalid
		}
		if !slot.StartsAt.After(now) {
			return ErrSlotInPast
		}

		if err := s.sweepLapsed(ctx, repo, patientID, now, sweepReason); err != nil {
			return err
		}

		if _, err := repo.ReleaseSlot(ctx, slot.ID, patientID, now); err != nil {
			return err
		}
		order, err := repo.UnscheduleExamOrder(ctx, slot.ID)
		if err != nil && !errors.Is(err, ErrExamOrderNotFound) {
			return err
		}

		payload := map[string]any{
			"worker_id": slot.WorkerID.String(),
			"specialty": slot.Specialty,
			"starts_at": slot.StartsAt,
		}
		if order != nil {
			payload["exam_order_id"] = order.ID.String()
		}
		return s.logEvent(ctx, repo, EventSlotReleased, &slot.ID, &patientID, payload)
	})
}

// ListPatientBookings returns the patient's upcoming reservations.
func (s *Service) ListPatientBookings(ctx context.Context, patientID uuid.UUID) (bookings []Booking, err error) {
	ctx, done := s.track(ctx, "list_bookings", attribute.String("patient_id", patientID.String()))
	defer func() { done(err) }()

	bookings = []Booking{}
	err = s.repo.InTx(ctx, func(repo Repository) error {
		now := s.now()

		if err := repo.LockPatient(ctx, patientID); err != nil {
			return err
		}
		if err := s.sweepLapsed(ctx, repo, patientID, now, sweepOnBooking); err != nil {
			return err
		}

		slots, err := repo.ListSlots(ctx, SlotFilter{
			PatientID: &patientID,
			State:     SlotReserved,
			From:      now,
		})
		if err != nil {
			return err
		}
		for i := range slots {
			bookings = append(bookings, *bookingFromSlot(&slots[i]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bookings, nil
}

// bookableSlot loads a slot and checks it can be reserved at now. The
// reservation itself re-asserts the same conditions.
func bookableSlot(ctx context.Context, repo Repository, slotID uuid.UUID, now time.Time) (*SlotDetail, error) {
	slot, err := repo.GetSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if !slot.StartsAt.After(now) {
		return nil, ErrSlotInPast
	}
	if slot.State != SlotAvailable || !slot.WorkerActive {
		return nil, ErrSlotUnavailable
	}
	return slot, nil
}

// checkSpecialtyQuota enforces access to the specialty and at most one future
// reservation in it.
func checkSpecialtyQuota(ctx context.Context, repo Repository, patientID uuid.UUID, specialty string, now time.Time) error {
	access, err := resolveAccess(ctx, repo, patientID)
	if err != nil {
		return err
	}
	if !access.Allows(specialty) {
		return ErrSpecialtyNotAllowed
	}

	n, err := repo.CountFutureReservations(ctx, patientID, specialty, now)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrSpecialtyAlreadyBooked
	}
	return nil
}

func ownsFutureReservation(slot *SlotDetail, patientID uuid.UUID, now time.Time) bool {
	return slot.State == SlotReserved &&
		slot.PatientID != nil && *slot.PatientID == patientID &&
		slot.StartsAt.After(now)
}

func isNursingSlot(slot *SlotDetail) bool {
	return slot.WorkerRole == WorkerNurse || sameSpecialty(slot.Specialty, NursingSpecialty)
}
