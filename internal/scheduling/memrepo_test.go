package scheduling

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRepo is an in-memory Repository. Transactions are serialized and roll
// back to a snapshot on error, which is enough to exercise the engine's
// all-or-nothing contract.
type memRepo struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   *memStore
	now  func() time.Time

	// failEvents makes InsertEvent fail, to force a rollback.
	failEvents error
}

type memStore struct {
	workers  map[uuid.UUID]Worker
	patients map[uuid.UUID]Patient
	slots    map[uuid.UUID]Slot
	outcomes []ConsultationOutcome
	orders   map[uuid.UUID]ExamOrder
	events   []EventLog
}

func (st *memStore) clone() *memStore {
	c := &memStore{
		workers:  make(map[uuid.UUID]Worker, len(st.workers)),
		patients: make(map[uuid.UUID]Patient, len(st.patients)),
		slots:    make(map[uuid.UUID]Slot, len(st.slots)),
		outcomes: slices.Clone(st.outcomes),
		orders:   make(map[uuid.UUID]ExamOrder, len(st.orders)),
		events:   slices.Clone(st.events),
	}
	for k, v := range st.workers {
		c.workers[k] = v
	}
	for k, v := range st.patients {
		c.patients[k] = v
	}
	for k, v := range st.slots {
		c.slots[k] = v
	}
	for k, v := range st.orders {
		c.orders[k] = v
	}
	return c
}

func newMemRepo(now func() time.Time) *memRepo {
	return &memRepo{
		now: now,
		st: &memStore{
			workers:  map[uuid.UUID]Worker{},
			patients: map[uuid.UUID]Patient{},
			slots:    map[uuid.UUID]Slot{},
			orders:   map[uuid.UUID]ExamOrder{},
		},
	}
}

// memTx is the repository handed to InTx callbacks; nested InTx joins it.
type memTx struct {
	*memRepo
}

func (t memTx) InTx(_ context.Context, fn func(Repository) error) error {
	return fn(t)
}

func (r *memRepo) InTx(_ context.Context, fn func(Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	snapshot := r.st.clone()
	r.mu.Unlock()

	if err := fn(memTx{r}); err != nil {
		r.mu.Lock()
		r.st = snapshot
		r.mu.Unlock()
		return err
	}
	return nil
}

// Fixtures

func ptr[T any](v T) *T { return &v }

func (r *memRepo) addWorker(name string, role WorkerRole, specialty *string) Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := Worker{ID: uuid.New(), Name: name, Role: role, Specialty: specialty, Active: true}
	r.st.workers[w.ID] = w
	return w
}

func (r *memRepo) setWorkerActive(id uuid.UUID, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.st.workers[id]
	w.Active = active
	r.st.workers[id] = w
}

func (r *memRepo) addPatient(nationalID string) Patient {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := Patient{ID: uuid.New(), NationalID: nationalID, Name: "patient " + nationalID, Active: true}
	r.st.patients[p.ID] = p
	return p
}

func (r *memRepo) addSlot(workerID uuid.UUID, at time.Time) Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Slot{ID: uuid.New(), WorkerID: workerID, StartsAt: at, State: SlotAvailable}
	r.st.slots[s.ID] = s
	return s
}

func (r *memRepo) putSlot(s Slot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.st.slots[s.ID] = s
}

func (r *memRepo) slot(id uuid.UUID) Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.slots[id]
}

func (r *memRepo) order(id uuid.UUID) ExamOrder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.orders[id]
}

func (r *memRepo) addOrder(patientID uuid.UUID, description string) ExamOrder {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := ExamOrder{ID: uuid.New(), PatientID: patientID, Description: description, State: ExamPending}
	r.st.orders[o.ID] = o
	return o
}

func (r *memRepo) addOutcome(patientID, slotID uuid.UUID, referral string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.st.outcomes = append(r.st.outcomes, ConsultationOutcome{
		ID:        uuid.New(),
		SlotID:    slotID,
		PatientID: patientID,
		Summary:   "control",
		Referral:  &referral,
		CreatedAt: at,
	})
}

func (r *memRepo) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.st.events))
	for _, ev := range r.st.events {
		types = append(types, ev.EventType)
	}
	return types
}

func (r *memRepo) detail(s Slot) SlotDetail {
	w := r.st.workers[s.WorkerID]
	return SlotDetail{
		Slot:         s,
		WorkerName:   w.Name,
		WorkerActive: w.Active,
		WorkerRole:   w.Role,
		Specialty:    w.SpecialtyName(),
	}
}

// Repository

func (r *memRepo) GetWorker(_ context.Context, id uuid.UUID) (*Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.st.workers[id]
	if !ok {
		return nil, ErrWorkerNotFound
	}
	return &w, nil
}

func (r *memRepo) GetPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.st.patients[id]
	if !ok || !p.Active {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *memRepo) GetPatientByNationalID(_ context.Context, nationalID string) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.st.patients {
		if p.Active && p.NationalID == nationalID {
			return &p, nil
		}
	}
	return nil, ErrPatientNotFound
}

func (r *memRepo) LockPatient(ctx context.Context, id uuid.UUID) error {
	_, err := r.GetPatient(ctx, id)
	return err
}

func (r *memRepo) GetSlot(_ context.Context, id uuid.UUID) (*SlotDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.st.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	d := r.detail(s)
	return &d, nil
}

func (r *memRepo) ListSlots(_ context.Context, f SlotFilter) ([]SlotDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []SlotDetail
	for _, s := range r.st.slots {
		d := r.detail(s)
		switch {
		case f.WorkerID != nil && s.WorkerID != *f.WorkerID,
			f.PatientID != nil && (s.PatientID == nil || *s.PatientID != *f.PatientID),
			f.State != "" && s.State != f.State,
			!f.From.IsZero() && s.StartsAt.Before(f.From),
			!f.To.IsZero() && !s.StartsAt.Before(f.To),
			f.ActiveOnly && !d.WorkerActive:
			continue
		}
		if len(f.Specialties) > 0 && !slices.ContainsFunc(f.Specialties, func(sp string) bool {
			return sameSpecialty(sp, d.Specialty)
		}) {
			continue
		}
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b SlotDetail) int {
		if c := a.StartsAt.Compare(b.StartsAt); c != 0 {
			return c
		}
		return strings.Compare(a.WorkerName, b.WorkerName)
	})
	return out, nil
}

func (r *memRepo) CountFutureReservations(_ context.Context, patientID uuid.UUID, specialty string, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.st.slots {
		if s.State == SlotReserved && s.PatientID != nil && *s.PatientID == patientID &&
			s.StartsAt.After(now) && sameSpecialty(r.detail(s).Specialty, specialty) {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) InsertSlots(_ context.Context, workerID uuid.UUID, starts []time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var created int64
	for _, at := range starts {
		exists := false
		for _, s := range r.st.slots {
			if s.WorkerID == workerID && s.StartsAt.Equal(at) {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		s := Slot{ID: uuid.New(), WorkerID: workerID, StartsAt: at, State: SlotAvailable}
		r.st.slots[s.ID] = s
		created++
	}
	return created, nil
}

func (r *memRepo) DeleteAvailableSlots(_ context.Context, workerID uuid.UUID, from, to time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.st.slots {
		if s.WorkerID == workerID && s.State == SlotAvailable && !s.StartsAt.Before(from) && s.StartsAt.Before(to) {
			delete(r.st.slots, id)
			n++
		}
	}
	return n, nil
}

func (r *memRepo) ReserveSlot(_ context.Context, slotID, patientID uuid.UUID, note *string, now time.Time) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.st.slots[slotID]
	if !ok || s.State != SlotAvailable || !s.StartsAt.After(now) || !r.st.workers[s.WorkerID].Active {
		return nil, ErrSlotUnavailable
	}
	s.State = SlotReserved
	s.PatientID = &patientID
	s.Note = note
	r.st.slots[slotID] = s
	return &s, nil
}

func (r *memRepo) ReleaseSlot(_ context.Context, slotID, patientID uuid.UUID, now time.Time) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.st.slots[slotID]
	if !ok || s.State != SlotReserved || s.PatientID == nil || *s.PatientID != patientID || !s.StartsAt.After(now) {
		return nil, ErrConflict
	}
	s.State = SlotAvailable
	s.PatientID = nil
	s.Note = nil
	r.st.slots[slotID] = s
	return &s, nil
}

func (r *memRepo) FinalizeSlot(_ context.Context, slotID, workerID, patientID uuid.UUID) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.st.slots[slotID]
	if !ok || s.State != SlotReserved || s.WorkerID != workerID || s.PatientID == nil || *s.PatientID != patientID {
		return nil, ErrConflict
	}
	s.State = SlotFinalized
	r.st.slots[slotID] = s
	return &s, nil
}

func (r *memRepo) CancelLapsedReservations(_ context.Context, patientID uuid.UUID, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.st.slots {
		if s.State == SlotReserved && s.PatientID != nil && *s.PatientID == patientID && !s.StartsAt.After(now) {
			s.State = SlotCancelled
			s.PatientID = nil
			r.st.slots[id] = s
			n++
		}
	}
	return n, nil
}

func (r *memRepo) ListReferrals(_ context.Context, patientID uuid.UUID) ([]Referral, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Referral
	for _, o := range r.st.outcomes {
		if o.PatientID != patientID || o.Referral == nil || strings.TrimSpace(*o.Referral) == "" {
			continue
		}
		out = append(out, Referral{Specialty: strings.TrimSpace(*o.Referral), IssuedAt: o.CreatedAt, PatientID: patientID})
	}
	slices.SortFunc(out, func(a, b Referral) int { return b.IssuedAt.Compare(a.IssuedAt) })
	return out, nil
}

func (r *memRepo) ListConsumptions(_ context.Context, patientID uuid.UUID) ([]Consumption, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest := map[string]Consumption{}
	for _, s := range r.st.slots {
		if s.State != SlotFinalized || s.PatientID == nil || *s.PatientID != patientID {
			continue
		}
		sp := r.detail(s).Specialty
		if sameSpecialty(sp, GeneralSpecialty) {
			continue
		}
		if c, ok := latest[specialtyKey(sp)]; !ok || s.StartsAt.After(c.At) {
			latest[specialtyKey(sp)] = Consumption{Specialty: sp, At: s.StartsAt}
		}
	}
	out := make([]Consumption, 0, len(latest))
	for _, c := range latest {
		out = append(out, c)
	}
	return out, nil
}

func (r *memRepo) InsertConsultationOutcome(_ context.Context, o *ConsultationOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.st.outcomes {
		if existing.SlotID == o.SlotID {
			return ErrConflict
		}
	}
	o.CreatedAt = r.now()
	r.st.outcomes = append(r.st.outcomes, *o)
	return nil
}

func (r *memRepo) GetExamOrder(_ context.Context, id uuid.UUID) (*ExamOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.st.orders[id]
	if !ok {
		return nil, ErrExamOrderNotFound
	}
	return &o, nil
}

func (r *memRepo) HasPendingExamOrder(_ context.Context, patientID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.st.orders {
		if o.PatientID == patientID && o.State == ExamPending && o.ScheduledAt == nil {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) CreateExamOrder(_ context.Context, o *ExamOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o.State = ExamPending
	o.CreatedAt = r.now()
	o.UpdatedAt = o.CreatedAt
	r.st.orders[o.ID] = *o
	return nil
}

func (r *memRepo) MarkExamOrderScheduled(_ context.Context, orderID, slotID, nurseID uuid.UUID, at time.Time) (*ExamOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.st.orders[orderID]
	if !ok || o.State != ExamPending || o.ScheduledAt != nil {
		return nil, ErrConflict
	}
	o.State = ExamScheduled
	o.SlotID = &slotID
	o.NurseID = &nurseID
	o.ScheduledAt = &at
	r.st.orders[orderID] = o
	return &o, nil
}

func (r *memRepo) MarkExamOrderDone(_ context.Context, orderID, nurseID uuid.UUID, resultRef string) (*ExamOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.st.orders[orderID]
	if !ok || o.State != ExamScheduled {
		return nil, ErrConflict
	}
	o.State = ExamDone
	o.NurseID = &nurseID
	o.ResultRef = &resultRef
	r.st.orders[orderID] = o
	return &o, nil
}

func (r *memRepo) UnscheduleExamOrder(_ context.Context, slotID uuid.UUID) (*ExamOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, o := range r.st.orders {
		if o.State == ExamScheduled && o.SlotID != nil && *o.SlotID == slotID {
			o.State = ExamPending
			o.SlotID = nil
			o.NurseID = nil
			o.ScheduledAt = nil
			r.st.orders[id] = o
			return &o, nil
		}
	}
	return nil, ErrExamOrderNotFound
}

func (r *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failEvents != nil {
		return r.failEvents
	}
	ev.ID = int64(len(r.st.events) + 1)
	r.st.events = append(r.st.events, ev)
	return nil
}

var errStorage = errors.New("storage unavailable")
