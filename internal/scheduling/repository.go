package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the service.
//
// Every mutating slot or exam order method is a conditional update that
// re-asserts its precondition in the WHERE clause. Zero matched rows is
// reported as ErrSlotUnavailable or ErrConflict, never as success.
type Repository interface {
	// InTx runs fn against a repository bound to a single transaction.
	// The transaction commits only if fn returns nil.
	InTx(ctx context.Context, fn func(Repository) error) error

	GetWorker(ctx context.Context, id uuid.UUID) (*Worker, error)
	// GetPatient returns active patients only.
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetPatientByNationalID(ctx context.Context, nationalID string) (*Patient, error)
	// LockPatient serializes booking transactions of one patient.
	LockPatient(ctx context.Context, id uuid.UUID) error

	// Slot inventory
	GetSlot(ctx context.Context, id uuid.UUID) (*SlotDetail, error)
	ListSlots(ctx context.Context, f SlotFilter) ([]SlotDetail, error)
	CountFutureReservations(ctx context.Context, patientID uuid.UUID, specialty string, now time.Time) (int, error)
	InsertSlots(ctx context.Context, workerID uuid.UUID, starts []time.Time) (int64, error)
	DeleteAvailableSlots(ctx context.Context, workerID uuid.UUID, from, to time.Time) (int64, error)

	// Slot transitions
	ReserveSlot(ctx context.Context, slotID, patientID uuid.UUID, note *string, now time.Time) (*Slot, error)
	ReleaseSlot(ctx context.Context, slotID, patientID uuid.UUID, now time.Time) (*Slot, error)
	FinalizeSlot(ctx context.Context, slotID, workerID, patientID uuid.UUID) (*Slot, error)
	CancelLapsedReservations(ctx context.Context, patientID uuid.UUID, now time.Time) (int64, error)

	// Consultation history
	ListReferrals(ctx context.Context, patientID uuid.UUID) ([]Referral, error)
	ListConsumptions(ctx context.Context, patientID uuid.UUID) ([]Consumption, error)
	InsertConsultationOutcome(ctx context.Context, o *ConsultationOutcome) error

	// Exam orders
	GetExamOrder(ctx context.Context, id uuid.UUID) (*ExamOrder, error)
	HasPendingExamOrder(ctx context.Context, patientID uuid.UUID) (bool, error)
	CreateExamOrder(ctx context.Context, o *ExamOrder) error
	MarkExamOrderScheduled(ctx context.Context, orderID, slotID, nurseID uuid.UUID, at time.Time) (*ExamOrder, error)
	MarkExamOrderDone(ctx context.Context, orderID, nurseID uuid.UUID, resultRef string) (*ExamOrder, error)
	// UnscheduleExamOrder returns the order bound to slotID to PENDIENTE.
	// It reports ErrExamOrderNotFound when no scheduled order uses the slot.
	UnscheduleExamOrder(ctx context.Context, slotID uuid.UUID) (*ExamOrder, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
