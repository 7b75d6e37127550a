package scheduling

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListAvailabilityGroupsByDayAndTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(2025, 1, 6, 9, 15))
	soto := f.repo.addWorker("Dra. Soto", WorkerDoctor, ptr(GeneralSpecialty))
	rojas := f.repo.addWorker("Dr. Rojas", WorkerDoctor, ptr(GeneralSpecialty))
	retired := f.repo.addWorker("Dr. Vidal", WorkerDoctor, ptr(GeneralSpecialty))
	f.repo.setWorkerActive(retired.ID, false)
	p := f.repo.addPatient("11111111-1")

	f.repo.addSlot(soto.ID, at(2025, 1, 6, 9, 0)) // already started
	a := f.repo.addSlot(soto.ID, at(2025, 1, 6, 9, 30))
	b := f.repo.addSlot(rojas.ID, at(2025, 1, 6, 9, 30))
	c := f.repo.addSlot(rojas.ID, at(2025, 1, 7, 8, 0))
	f.repo.addSlot(retired.ID, at(2025, 1, 7, 8, 0))
	taken := f.repo.addSlot(soto.ID, at(2025, 1, 7, 8, 30))
	taken.State, taken.PatientID = SlotReserved, &p.ID
	f.repo.putSlot(taken)
	f.repo.addSlot(soto.ID, at(2025, 1, 25, 8, 0)) // beyond the default window

	res, err := f.svc.ListAvailability(ctx, AvailabilityQuery{})
	require.NoError(t, err)
	assert.Equal(t, "2025-01-06", res.From)
	assert.Equal(t, "2025-01-20", res.To)

	require.Len(t, res.Days, 2)
	assert.Equal(t, "2025-01-06", res.Days[0].Date)
	require.Len(t, res.Days[0].Times, 1)
	assert.Equal(t, "09:30", res.Days[0].Times[0].Time)
	require.Len(t, res.Days[0].Times[0].Slots, 2)
	assert.Equal(t, b.ID, res.Days[0].Times[0].Slots[0].SlotID, "ordered by worker name")
	assert.Equal(t, a.ID, res.Days[0].Times[0].Slots[1].SlotID)
	assert.Equal(t, "Dra. Soto", res.Days[0].Times[0].Slots[1].WorkerName)

	assert.Equal(t, "2025-01-07", res.Days[1].Date)
	require.Len(t, res.Days[1].Times, 1)
	require.Len(t, res.Days[1].Times[0].Slots, 1)
	assert.Equal(t, c.ID, res.Days[1].Times[0].Slots[0].SlotID)

	res, err = f.svc.ListAvailability(ctx, AvailabilityQuery{WorkerID: &soto.ID, From: at(2025, 1, 7, 0, 0), To: at(2025, 3, 30, 0, 0)})
	require.NoError(t, err)
	assert.Equal(t, "2025-02-06", res.To, "range is clamped")
	require.Len(t, res.Days, 1)
	assert.Equal(t, "2025-01-25", res.Days[0].Date)

	_, err = f.svc.ListAvailability(ctx, AvailabilityQuery{From: at(2025, 1, 7, 0, 0), To: at(2025, 1, 6, 0, 0)})
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestListAvailabilityForPatient(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(2025, 1, 6, 7, 0))
	general := f.repo.addWorker("Dra. Soto", WorkerDoctor, ptr(GeneralSpecialty))
	cardio := f.repo.addWorker("Dr. Pino", WorkerDoctor, ptr("Cardiologia"))
	neuro := f.repo.addWorker("Dra. Lillo", WorkerDoctor, ptr("Neurologia"))
	p := f.repo.addPatient("11111111-1")
	f.repo.addOutcome(p.ID, uuid.New(), "Cardiologia", at(2025, 1, 2, 10, 0))

	g := f.repo.addSlot(general.ID, at(2025, 1, 6, 9, 0))
	c := f.repo.addSlot(cardio.ID, at(2025, 1, 6, 10, 0))
	f.repo.addSlot(neuro.ID, at(2025, 1, 6, 11, 0))

	res, err := f.svc.ListAvailability(ctx, AvailabilityQuery{PatientID: &p.ID})
	require.NoError(t, err)
	require.Len(t, res.Days, 1)
	var ids []uuid.UUID
	for _, tm := range res.Days[0].Times {
		for _, e := range tm.Slots {
			ids = append(ids, e.SlotID)
		}
	}
	assert.Equal(t, []uuid.UUID{g.ID, c.ID}, ids)

	res, err = f.svc.ListAvailability(ctx, AvailabilityQuery{PatientID: &p.ID, Specialty: "cardiologia"})
	require.NoError(t, err)
	require.Len(t, res.Days, 1)
	require.Len(t, res.Days[0].Times, 1)
	assert.Equal(t, c.ID, res.Days[0].Times[0].Slots[0].SlotID)

	_, err = f.svc.ListAvailability(ctx, AvailabilityQuery{PatientID: &p.ID, Specialty: "Neurologia"})
	assert.ErrorIs(t, err, ErrSpecialtyNotAllowed)

	res, err = f.svc.ListAvailability(ctx, AvailabilityQuery{Specialty: "Neurologia"})
	require.NoError(t, err)
	require.Len(t, res.Days, 1)

	_, err = f.svc.ListAvailability(ctx, AvailabilityQuery{PatientID: ptr(uuid.New())})
	assert.ErrorIs(t, err, ErrPatientNotFound)
}
