package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleExamOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(2025, 1, 6, 7, 0))
	nurse := f.repo.addWorker("Enf. Lagos", WorkerNurse, ptr(NursingSpecialty))
	otherNurse := f.repo.addWorker("Enf. Paz", WorkerNurse, ptr(NursingSpecialty))
	doctor := f.repo.addWorker("Dra. Soto", WorkerDoctor, ptr(GeneralSpecialty))
	p := f.repo.addPatient("11111111-1")
	order := f.repo.addOrder(p.ID, "hemograma")

	slot := f.repo.addSlot(nurse.ID, at(2025, 1, 6, 8, 0))
	foreign := f.repo.addSlot(otherNurse.ID, at(2025, 1, 6, 8, 0))
	second := f.repo.addSlot(nurse.ID, at(2025, 1, 6, 8, 30))

	_, err := f.svc.ScheduleExamOrder(ctx, doctor.ID, order.ID, slot.ID)
	assert.ErrorIs(t, err, ErrInvalidTarget)

	_, err = f.svc.ScheduleExamOrder(ctx, nurse.ID, order.ID, foreign.ID)
	assert.ErrorIs(t, err, ErrSlotNotFound)

	_, err = f.svc.ScheduleExamOrder(ctx, nurse.ID, uuid.New(), slot.ID)
	assert.ErrorIs(t, err, ErrExamOrderNotFound)

	scheduled, err := f.svc.ScheduleExamOrder(ctx, nurse.ID, order.ID, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, ExamScheduled, scheduled.State)
	require.NotNil(t, scheduled.ScheduledAt)
	assert.True(t, scheduled.ScheduledAt.Equal(slot.StartsAt))

	reserved := f.repo.slot(slot.ID)
	assert.Equal(t, SlotReserved, reserved.State)
	require.NotNil(t, reserved.PatientID)
	assert.Equal(t, p.ID, *reserved.PatientID)
	require.NotNil(t, reserved.Note)
	assert.Equal(t, "hemograma", *reserved.Note)

	_, err = f.svc.ScheduleExamOrder(ctx, nurse.ID, order.ID, second.ID)
	assert.ErrorIs(t, err, ErrExamAlreadyScheduled)
	assert.Equal(t, SlotAvailable, f.repo.slot(second.ID).State)
}

func TestScheduleExamOrderLostRace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(2025, 1, 6, 7, 0))
	nurse := f.repo.addWorker("Enf. Lagos", WorkerNurse, ptr(NursingSpecialty))
	p := f.repo.addPatient("11111111-1")
	q := f.repo.addPatient("22222222-2")
	first := f.repo.addOrder(p.ID, "hemograma")
	second := f.repo.addOrder(q.ID, "orina completa")
	slot := f.repo.addSlot(nurse.ID, at(2025, 1, 6, 8, 0))

	_, err := f.svc.ScheduleExamOrder(ctx, nurse.ID, first.ID, slot.ID)
	require.NoError(t, err)

	_, err = f.svc.ScheduleExamOrder(ctx, nurse.ID, second.ID, slot.ID)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.Equal(t, ExamPending, f.repo.order(second.ID).State)
}

func TestCompleteExamOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(2025, 1, 6, 7, 0))
	nurse := f.repo.addWorker("Enf. Lagos", WorkerNurse, ptr(NursingSpecialty))
	p := f.repo.addPatient("11111111-1")
	order := f.repo.addOrder(p.ID, "hemograma")
	unscheduled := f.repo.addOrder(p.ID, "glicemia")
	slot := f.repo.addSlot(nurse.ID, at(2025, 1, 6, 8, 0))

	_, err := f.svc.ScheduleExamOrder(ctx, nurse.ID, order.ID, slot.ID)
	require.NoError(t, err)

	var ve *ValidationError
	_, err = f.svc.CompleteExamOrder(ctx, nurse.ID, unscheduled.ID, "results/1.pdf")
	assert.ErrorAs(t, err, &ve)

	_, err = f.svc.CompleteExamOrder(ctx, nurse.ID, order.ID, "   ")
	assert.ErrorAs(t, err, &ve)

	f.advance(90 * time.Minute)
	done, err := f.svc.CompleteExamOrder(ctx, nurse.ID, order.ID, "results/1.pdf")
	require.NoError(t, err)
	assert.Equal(t, ExamDone, done.State)
	require.NotNil(t, done.ResultRef)
	assert.Equal(t, "results/1.pdf", *done.ResultRef)
	assert.Equal(t, SlotFinalized, f.repo.slot(slot.ID).State)

	_, err = f.svc.CompleteExamOrder(ctx, nurse.ID, order.ID, "results/2.pdf")
	assert.ErrorIs(t, err, ErrExamOrderCompleted)

	_, err = f.svc.Reserve(ctx, ReserveRequest{PatientID: p.ID, SlotID: slot.ID, ExamOrderID: &order.ID})
	assert.ErrorIs(t, err, ErrSlotInPast)
}
