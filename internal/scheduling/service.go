package scheduling

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

const (
	EventSlotsGenerated   = "SLOTS_GENERATED"
	EventSlotsDeleted     = "SLOTS_DELETED"
	EventSlotReserved     = "SLOT_RESERVED"
	EventSlotRescheduled  = "SLOT_RESCHEDULED"
	EventSlotReleased     = "SLOT_RELEASED"
	EventSlotsLapsed      = "SLOTS_LAPSED"
	EventSlotFinalized    = "SLOT_FINALIZED"
	EventExamScheduled    = "EXAM_ORDER_SCHEDULED"
	EventExamCompleted    = "EXAM_ORDER_COMPLETED"
	EventExamOrderCreated = "EXAM_ORDER_CREATED"
)

const maxNoteLength = 240

type Service struct {
	repo    Repository
	logger  *zap.Logger
	metrics *metrics.SchedulingMetrics
	tracer  trace.Tracer
	loc     *time.Location
	now     func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService builds the booking engine. loc is the clinic's local timezone;
// business hours and day boundaries are evaluated in it.
func NewService(repo Repository, logger *zap.Logger, loc *time.Location, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{
		repo:   repo,
		logger: logger,
		tracer: otel.Tracer("github.com/hackgods/clinic-scheduling/internal/scheduling"),
		loc:    loc,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location is the clinic timezone used for day boundaries.
func (s *Service) Location() *time.Location {
	return s.loc
}

// track opens a span for one engine operation and returns the function that
// closes it, recording the outcome code and latency.
func (s *Service) track(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "scheduling."+op, trace.WithAttributes(attrs...))

	return ctx, func(err error) {
		code := Code(err)
		s.metrics.ObserveOperation(op, code, time.Since(start))
		span.SetAttributes(attribute.String("scheduling.outcome", code))
		if code == "internal_error" {
			span.RecordError(err)
			span.SetStatus(codes.Error, "internal error")
			s.logger.Error("scheduling operation failed", zap.String("operation", op), zap.Error(err))
		} else if err != nil {
			s.logger.Debug("scheduling operation rejected", zap.String("operation", op), zap.String("code", code))
		}
		span.End()
	}
}

// logEvent records a booking event inside the caller's transaction, so an
// event exists iff the transition it describes committed.
func (s *Service) logEvent(ctx context.Context, repo Repository, eventType string, slotID, patientID *uuid.UUID, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = []byte("{}")
	}

	return repo.InsertEvent(ctx, EventLog{
		EventType: eventType,
		SlotID:    slotID,
		PatientID: patientID,
		Payload:   data,
		CreatedAt: s.now(),
	})
}

// sweepLapsed cancels the patient's reservations whose time already passed.
func (s *Service) sweepLapsed(ctx context.Context, repo Repository, patientID uuid.UUID, now time.Time, reason string) error {
	n, err := repo.CancelLapsedReservations(ctx, patientID, now)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	s.metrics.AddStaleSwept(n)
	s.logger.Info("lapsed reservations cancelled",
		zap.String("patient_id", patientID.String()),
		zap.Int64("count", n),
		zap.String("reason", reason),
	)
	return s.logEvent(ctx, repo, EventSlotsLapsed, nil, &patientID, map[string]any{
		"count":  n,
		"reason": reason,
	})
}

// LookupPatient resolves an active patient by national ID in any common
// spelling (dots, spaces, lowercase verifier).
func (s *Service) LookupPatient(ctx context.Context, nationalID string) (*Patient, error) {
	normalized, err := NormalizeNationalID(nationalID)
	if err != nil {
		return nil, err
	}
	return s.repo.GetPatientByNationalID(ctx, normalized)
}

// startOfDay returns the first instant of a calendar date in loc. Where DST
// starts at midnight that instant is 01:00, not the normalized 23:00 of the
// previous day that time.Date yields.
func startOfDay(y int, m time.Month, d int, loc *time.Location) time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, loc)
	want := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	for {
		ty, tm, td := t.Date()
		if !time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC).Before(want) {
			return t
		}
		t = t.Add(time.Hour)
	}
}

// nextDay returns the start of the calendar date after day, in day's location.
func nextDay(day time.Time) time.Time {
	return addDays(day, 1)
}

// addDays moves a start-of-day value n calendar dates forward.
func addDays(day time.Time, n int) time.Time {
	y, m, d := day.Date()
	return startOfDay(y, m, d+n, day.Location())
}

// localDay returns the start of t's calendar date in the clinic timezone.
func (s *Service) localDay(t time.Time) time.Time {
	y, m, d := t.In(s.loc).Date()
	return startOfDay(y, m, d, s.loc)
}

// asDate keeps the calendar date of t as written and anchors it at the start
// of that date in the clinic timezone.
func (s *Service) asDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return startOfDay(y, m, d, s.loc)
}

// cleanNote trims a free-text note and caps it at maxNoteLength runes.
func cleanNote(note *string) *string {
	if note == nil {
		return nil
	}
	v := strings.TrimSpace(*note)
	if v == "" {
		return nil
	}
	if utf8.RuneCountInString(v) > maxNoteLength {
		v = string([]rune(v)[:maxNoteLength])
	}
	return &v
}

func cleanLabel(label *string) *string {
	if label == nil {
		return nil
	}
	v := strings.TrimSpace(*label)
	if v == "" {
		return nil
	}
	return &v
}
