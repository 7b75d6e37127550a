package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txBeginner interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	db   txBeginner
	q    querier
	inTx bool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return newPgRepository(pool)
}

func newPgRepository(db txBeginner) *PgRepository {
	return &PgRepository{db: db, q: db}
}

// specialtyExpr resolves a worker's effective specialty label in SQL.
const specialtyExpr = `COALESCE(NULLIF(TRIM(w.specialty), ''), 'Medicina General')`

const slotColumns = `s.id, s.worker_id, s.starts_at, s.state, s.patient_id, s.note, s.created_at, s.updated_at`

const slotDetailSelect = `
	SELECT ` + slotColumns + `,
	       w.name, w.active, w.role, ` + specialtyExpr + `
	FROM slots s
	JOIN workers w ON w.id = s.worker_id
`

func (r *PgRepository) InTx(ctx context.Context, fn func(Repository) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&PgRepository{db: r.db, q: tx, inTx: true}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Helpers

func scanWorker(row pgx.Row) (*Worker, error) {
	var w Worker
	err := row.Scan(
		&w.ID,
		&w.Name,
		&w.Role,
		&w.Specialty,
		&w.Active,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWorkerNotFound
		}
		return nil, err
	}
	return &w, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID,
		&p.NationalID,
		&p.Name,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

// scanSlot maps a missing row to notFound, which differs per caller: a
// lookup reports ErrSlotNotFound, a failed transition reports the lost race.
func scanSlot(row pgx.Row, notFound error) (*Slot, error) {
	var s Slot
	err := row.Scan(
		&s.ID,
		&s.WorkerID,
		&s.StartsAt,
		&s.State,
		&s.PatientID,
		&s.Note,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound
		}
		return nil, err
	}
	return &s, nil
}

func scanSlotDetail(row pgx.Row) (*SlotDetail, error) {
	var d SlotDetail
	err := row.Scan(
		&d.ID,
		&d.WorkerID,
		&d.StartsAt,
		&d.State,
		&d.PatientID,
		&d.Note,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.WorkerName,
		&d.WorkerActive,
		&d.WorkerRole,
		&d.Specialty,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanExamOrder(row pgx.Row, notFound error) (*ExamOrder, error) {
	var o ExamOrder
	err := row.Scan(
		&o.ID,
		&o.PatientID,
		&o.Description,
		&o.State,
		&o.ScheduledAt,
		&o.NurseID,
		&o.SlotID,
		&o.ResultRef,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound
		}
		return nil, err
	}
	return &o, nil
}

const examOrderColumns = `id, patient_id, description, state, scheduled_at, nurse_id, slot_id, result_ref, created_at, updated_at`

// Interface methods

func (r *PgRepository) GetWorker(ctx context.Context, id uuid.UUID) (*Worker, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, role, specialty, active, created_at, updated_at
		FROM workers
		WHERE id = $1
	`, id)
	return scanWorker(row)
}

func (r *PgRepository) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, national_id, name, active, created_at, updated_at
		FROM patients
		WHERE id = $1 AND active
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetPatientByNationalID(ctx context.Context, nationalID string) (*Patient, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, national_id, name, active, created_at, updated_at
		FROM patients
		WHERE national_id = $1 AND active
	`, nationalID)
	return scanPatient(row)
}

func (r *PgRepository) LockPatient(ctx context.Context, id uuid.UUID) error {
	var locked uuid.UUID
	err := r.q.QueryRow(ctx, `
		SELECT id FROM patients WHERE id = $1 AND active FOR UPDATE
	`, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrPatientNotFound
		}
		return fmt.Errorf("lock patient: %w", err)
	}
	return nil
}

func (r *PgRepository) GetSlot(ctx context.Context, id uuid.UUID) (*SlotDetail, error) {
	row := r.q.QueryRow(ctx, slotDetailSelect+` WHERE s.id = $1`, id)
	return scanSlotDetail(row)
}

func (r *PgRepository) ListSlots(ctx context.Context, f SlotFilter) ([]SlotDetail, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.WorkerID != nil {
		add("s.worker_id = $%d", *f.WorkerID)
	}
	if f.PatientID != nil {
		add("s.patient_id = $%d", *f.PatientID)
	}
	if len(f.Specialties) > 0 {
		keys := make([]string, 0, len(f.Specialties))
		for _, sp := range f.Specialties {
			keys = append(keys, specialtyKey(sp))
		}
		add("LOWER("+specialtyExpr+") = ANY($%d)", keys)
	}
	if f.State != "" {
		add("s.state = $%d", f.State)
	}
	if !f.From.IsZero() {
		add("s.starts_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("s.starts_at < $%d", f.To)
	}
	if f.ActiveOnly {
		conds = append(conds, "w.active")
	}

	sql := slotDetailSelect
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	sql += " ORDER BY s.starts_at, w.name"

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var result []SlotDetail
	for rows.Next() {
		d, err := scanSlotDetail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) CountFutureReservations(ctx context.Context, patientID uuid.UUID, specialty string, now time.Time) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM slots s
		JOIN workers w ON w.id = s.worker_id
		WHERE s.patient_id = $1
		  AND s.state = 'reserved'
		  AND s.starts_at > $2
		  AND LOWER(`+specialtyExpr+`) = $3
	`, patientID, now, specialtyKey(specialty)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count reservations: %w", err)
	}
	return n, nil
}

func (r *PgRepository) InsertSlots(ctx context.Context, workerID uuid.UUID, starts []time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		INSERT INTO slots (id, worker_id, starts_at, state, created_at, updated_at)
		SELECT gen_random_uuid(), $1, t, 'available', now(), now()
		FROM unnest($2::timestamptz[]) AS t
		ON CONFLICT (worker_id, starts_at) DO NOTHING
	`, workerID, starts)
	if err != nil {
		return 0, fmt.Errorf("insert slots: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) DeleteAvailableSlots(ctx context.Context, workerID uuid.UUID, from, to time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		DELETE FROM slots
		WHERE worker_id = $1
		  AND state = 'available'
		  AND starts_at >= $2
		  AND starts_at < $3
	`, workerID, from, to)
	if err != nil {
		return 0, fmt.Errorf("delete slots: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) ReserveSlot(ctx context.Context, slotID, patientID uuid.UUID, note *string, now time.Time) (*Slot, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE slots s
		SET state = 'reserved',
		    patient_id = $2,
		    note = $3,
		    updated_at = now()
		FROM workers w
		WHERE s.id = $1
		  AND w.id = s.worker_id
		  AND w.active
		  AND s.state = 'available'
		  AND s.starts_at > $4
		RETURNING `+slotColumns,
		slotID, patientID, note, now)
	return scanSlot(row, ErrSlotUnavailable)
}

func (r *PgRepository) ReleaseSlot(ctx context.Context, slotID, patientID uuid.UUID, now time.Time) (*Slot, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE slots s
		SET state = 'available',
		    patient_id = NULL,
		    note = NULL,
		    updated_at = now()
		WHERE s.id = $1
		  AND s.patient_id = $2
		  AND s.state = 'reserved'
		  AND s.starts_at > $3
		RETURNING `+slotColumns,
		slotID, patientID, now)
	return scanSlot(row, ErrConflict)
}

func (r *PgRepository) FinalizeSlot(ctx context.Context, slotID, workerID, patientID uuid.UUID) (*Slot, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE slots s
		SET state = 'finalized',
		    updated_at = now()
		WHERE s.id = $1
		  AND s.worker_id = $2
		  AND s.patient_id = $3
		  AND s.state = 'reserved'
		RETURNING `+slotColumns,
		slotID, workerID, patientID)
	return scanSlot(row, ErrConflict)
}

func (r *PgRepository) CancelLapsedReservations(ctx context.Context, patientID uuid.UUID, now time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE slots
		SET state = 'cancelled',
		    patient_id = NULL,
		    updated_at = now()
		WHERE patient_id = $1
		  AND state = 'reserved'
		  AND starts_at <= $2
	`, patientID, now)
	if err != nil {
		return 0, fmt.Errorf("cancel lapsed reservations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) ListReferrals(ctx context.Context, patientID uuid.UUID) ([]Referral, error) {
	rows, err := r.q.Query(ctx, `
		SELECT TRIM(referral), created_at
		FROM consultation_outcomes
		WHERE patient_id = $1
		  AND referral IS NOT NULL
		  AND TRIM(referral) <> ''
		ORDER BY created_at DESC
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list referrals: %w", err)
	}
	defer rows.Close()

	var result []Referral
	for rows.Next() {
		ref := Referral{PatientID: patientID}
		if err := rows.Scan(&ref.Specialty, &ref.IssuedAt); err != nil {
			return nil, err
		}
		result = append(result, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) ListConsumptions(ctx context.Context, patientID uuid.UUID) ([]Consumption, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+specialtyExpr+` AS specialty, MAX(s.starts_at)
		FROM slots s
		JOIN workers w ON w.id = s.worker_id
		WHERE s.patient_id = $1
		  AND s.state = 'finalized'
		  AND LOWER(`+specialtyExpr+`) <> LOWER($2)
		GROUP BY 1
	`, patientID, GeneralSpecialty)
	if err != nil {
		return nil, fmt.Errorf("list consumptions: %w", err)
	}
	defer rows.Close()

	var result []Consumption
	for rows.Next() {
		var c Consumption
		if err := rows.Scan(&c.Specialty, &c.At); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) InsertConsultationOutcome(ctx context.Context, o *ConsultationOutcome) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO consultation_outcomes (id, slot_id, patient_id, worker_id, summary, referral, treatment, exam_order_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING created_at
	`, o.ID, o.SlotID, o.PatientID, o.WorkerID, o.Summary, o.Referral, o.Treatment, o.ExamOrderID).Scan(&o.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("insert consultation outcome: %w", err)
	}
	return nil
}

func (r *PgRepository) GetExamOrder(ctx context.Context, id uuid.UUID) (*ExamOrder, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+examOrderColumns+`
		FROM exam_orders
		WHERE id = $1
	`, id)
	return scanExamOrder(row, ErrExamOrderNotFound)
}

func (r *PgRepository) HasPendingExamOrder(ctx context.Context, patientID uuid.UUID) (bool, error) {
	var ok bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM exam_orders
			WHERE patient_id = $1
			  AND state = 'PENDIENTE'
			  AND scheduled_at IS NULL
		)
	`, patientID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check pending exam orders: %w", err)
	}
	return ok, nil
}

func (r *PgRepository) CreateExamOrder(ctx context.Context, o *ExamOrder) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO exam_orders (id, patient_id, description, state, created_at, updated_at)
		VALUES ($1, $2, $3, 'PENDIENTE', now(), now())
		RETURNING state, created_at, updated_at
	`, o.ID, o.PatientID, o.Description).Scan(&o.State, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create exam order: %w", err)
	}
	return nil
}

func (r *PgRepository) MarkExamOrderScheduled(ctx context.Context, orderID, slotID, nurseID uuid.UUID, at time.Time) (*ExamOrder, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE exam_orders
		SET state = 'AGENDADO',
		    slot_id = $2,
		    nurse_id = $3,
		    scheduled_at = $4,
		    updated_at = now()
		WHERE id = $1
		  AND state = 'PENDIENTE'
		  AND scheduled_at IS NULL
		RETURNING `+examOrderColumns,
		orderID, slotID, nurseID, at)
	return scanExamOrder(row, ErrConflict)
}

func (r *PgRepository) MarkExamOrderDone(ctx context.Context, orderID, nurseID uuid.UUID, resultRef string) (*ExamOrder, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE exam_orders
		SET state = 'REALIZADO',
		    nurse_id = $2,
		    result_ref = $3,
		    updated_at = now()
		WHERE id = $1
		  AND state = 'AGENDADO'
		RETURNING `+examOrderColumns,
		orderID, nurseID, resultRef)
	return scanExamOrder(row, ErrConflict)
}

func (r *PgRepository) UnscheduleExamOrder(ctx context.Context, slotID uuid.UUID) (*ExamOrder, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE exam_orders
		SET state = 'PENDIENTE',
		    slot_id = NULL,
		    nurse_id = NULL,
		    scheduled_at = NULL,
		    updated_at = now()
		WHERE slot_id = $1
		  AND state = 'AGENDADO'
		RETURNING `+examOrderColumns,
		slotID)
	return scanExamOrder(row, ErrExamOrderNotFound)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO booking_events (event_type, slot_id, patient_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.SlotID, ev.PatientID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert booking event: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
