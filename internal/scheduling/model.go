package scheduling

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	GeneralSpecialty = "Medicina General"
	NursingSpecialty = "Enfermeria"
	AdminSpecialty   = "Administracion"
)

type WorkerRole string

const (
	WorkerDoctor       WorkerRole = "doctor"
	WorkerNurse        WorkerRole = "nurse"
	WorkerReceptionist WorkerRole = "receptionist"
	WorkerAdmin        WorkerRole = "admin"
)

// Clinical roles are the ones that own bookable slots.
func (r WorkerRole) Clinical() bool {
	return r == WorkerDoctor || r == WorkerNurse
}

type SlotState string

const (
	SlotAvailable SlotState = "available"
	SlotReserved  SlotState = "reserved"
	SlotFinalized SlotState = "finalized"
	SlotCancelled SlotState = "cancelled"
)

// Terminal states never transition again.
func (s SlotState) Terminal() bool {
	return s == SlotFinalized || s == SlotCancelled
}

type ExamOrderState string

const (
	ExamPending   ExamOrderState = "PENDIENTE"
	ExamScheduled ExamOrderState = "AGENDADO"
	ExamDone      ExamOrderState = "REALIZADO"
)

type Worker struct {
	ID        uuid.UUID
	Name      string
	Role      WorkerRole
	Specialty *string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SpecialtyName falls back to general medicine for workers without one.
func (w *Worker) SpecialtyName() string {
	if w.Specialty == nil || strings.TrimSpace(*w.Specialty) == "" {
		return GeneralSpecialty
	}
	return strings.TrimSpace(*w.Specialty)
}

// IsNurse reports whether the worker can take exam-intake slots.
func (w *Worker) IsNurse() bool {
	return w.Role == WorkerNurse || sameSpecialty(w.SpecialtyName(), NursingSpecialty)
}

type Patient struct {
	ID         uuid.UUID
	NationalID string
	Name       string
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Slot struct {
	ID        uuid.UUID
	WorkerID  uuid.UUID
	StartsAt  time.Time
	State     SlotState
	PatientID *uuid.UUID
	Note      *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SlotDetail is a slot joined with the owning worker's identity.
type SlotDetail struct {
	Slot
	WorkerName   string
	WorkerActive bool
	WorkerRole   WorkerRole
	Specialty    string
}

// Booking is the reserved/finalized view of a slot.
type Booking struct {
	SlotID     uuid.UUID `json:"slot_id"`
	PatientID  uuid.UUID `json:"patient_id"`
	WorkerID   uuid.UUID `json:"worker_id"`
	WorkerName string    `json:"worker_name"`
	Specialty  string    `json:"specialty"`
	StartsAt   time.Time `json:"starts_at"`
	State      SlotState `json:"state"`
	Note       *string   `json:"note,omitempty"`
}

func bookingFromSlot(d *SlotDetail) *Booking {
	b := &Booking{
		WorkerID:   d.WorkerID,
		SlotID:     d.ID,
		WorkerName: d.WorkerName,
		Specialty:  d.Specialty,
		StartsAt:   d.StartsAt,
		State:      d.State,
		Note:       d.Note,
	}
	if d.PatientID != nil {
		b.PatientID = *d.PatientID
	}
	return b
}

type ConsultationOutcome struct {
	ID          uuid.UUID
	SlotID      uuid.UUID
	PatientID   uuid.UUID
	WorkerID    uuid.UUID
	Summary     string
	Referral    *string
	Treatment   json.RawMessage
	ExamOrderID *uuid.UUID
	CreatedAt   time.Time
}

// Referral is derived from consultation outcomes; there is no table for it.
type Referral struct {
	Specialty string
	IssuedAt  time.Time
	PatientID uuid.UUID
}

// Consumption is a finalized visit in a non-general specialty.
type Consumption struct {
	Specialty string
	At        time.Time
}

type ExamOrder struct {
	ID          uuid.UUID
	PatientID   uuid.UUID
	Description string
	State       ExamOrderState
	ScheduledAt *time.Time
	NurseID     *uuid.UUID
	SlotID      *uuid.UUID
	ResultRef   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type EventLog struct {
	ID        int64
	EventType string
	SlotID    *uuid.UUID
	PatientID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

// SlotFilter narrows slot listings. Zero values mean "no constraint".
type SlotFilter struct {
	WorkerID    *uuid.UUID
	PatientID   *uuid.UUID
	Specialties []string
	State       SlotState
	From        time.Time
	To          time.Time
	ActiveOnly  bool
}

func sameSpecialty(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func specialtyKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
