package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	SlotDuration      = 30 * time.Minute
	MaxGenerationDays = 60

	openingHour         = 8
	weekdayClosingHour  = 20
	saturdayClosingHour = 13
)

// GenerateRequest selects the calendar dates to fill with slots. From and To
// are inclusive dates; only their year, month and day are used.
type GenerateRequest struct {
	WorkerID uuid.UUID
	From     time.Time
	To       time.Time
	// Weekdays restricts generation to these days. Empty means Monday to
	// Saturday.
	Weekdays []time.Weekday
}

type GenerateResult struct {
	Created    int64 `json:"created"`
	Candidates int   `json:"candidates"`
}

// closingHour reports the end of business hours for a weekday; Sunday is
// closed.
func closingHour(d time.Weekday) (int, bool) {
	switch d {
	case time.Sunday:
		return 0, false
	case time.Saturday:
		return saturdayClosingHour, true
	default:
		return weekdayClosingHour, true
	}
}

// calendarDays counts whole days between two dates, ignoring DST shifts.
func calendarDays(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a) / (24 * time.Hour))
}

func weekdaySet(days []time.Weekday) (map[time.Weekday]bool, error) {
	set := make(map[time.Weekday]bool, 6)
	if len(days) == 0 {
		for d := time.Monday; d <= time.Saturday; d++ {
			set[d] = true
		}
		return set, nil
	}
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			return nil, invalid("weekdays", "unknown weekday")
		}
		if _, open := closingHour(d); !open {
			return nil, invalid("weekdays", "the clinic is closed on "+d.String())
		}
		set[d] = true
	}
	return set, nil
}

// slotStarts expands a date range into 30-minute unit starts within business
// hours, in the given location. Dates are walked in UTC so that a DST
// transition at local midnight cannot skip or repeat a calendar date.
func slotStarts(from, to time.Time, days map[time.Weekday]bool, loc *time.Location) []time.Time {
	fy, fm, fd := from.Date()
	var starts []time.Time
	for i := 0; i <= calendarDays(from, to); i++ {
		date := time.Date(fy, fm, fd+i, 0, 0, 0, 0, time.UTC)
		if !days[date.Weekday()] {
			continue
		}
		closing, open := closingHour(date.Weekday())
		if !open {
			continue
		}
		y, m, d := date.Date()
		for minute := openingHour * 60; minute < closing*60; minute += int(SlotDuration / time.Minute) {
			starts = append(starts, time.Date(y, m, d, minute/60, minute%60, 0, 0, loc))
		}
	}
	return starts
}

// GenerateSlots materializes bookable units for a clinical worker. Units that
// already exist for the worker are skipped, so repeated calls converge on the
// same slot set.
func (s *Service) GenerateSlots(ctx context.Context, req GenerateRequest) (res *GenerateResult, err error) {
	ctx, done := s.track(ctx, "generate_slots", attribute.String("worker_id", req.WorkerID.String()))
	defer func() { done(err) }()

	if req.WorkerID == uuid.Nil {
		return nil, invalid("worker_id", "is required")
	}
	if req.From.IsZero() || req.To.IsZero() {
		return nil, invalid("date_range", "start and end dates are required")
	}

	from, to := s.asDate(req.From), s.asDate(req.To)
	if to.Before(from) {
		return nil, invalid("date_range", "end date is before start date")
	}
	if calendarDays(from, to) > MaxGenerationDays {
		return nil, invalid("date_range", "range exceeds 60 days")
	}

	days, err := weekdaySet(req.Weekdays)
	if err != nil {
		return nil, err
	}

	worker, err := s.repo.GetWorker(ctx, req.WorkerID)
	if err != nil {
		return nil, err
	}
	if !worker.Role.Clinical() || worker.Specialty == nil || sameSpecialty(*worker.Specialty, AdminSpecialty) {
		return nil, ErrInvalidTarget
	}

	starts := slotStarts(from, to, days, s.loc)
	if len(starts) == 0 {
		return nil, ErrEmptyResult
	}

	var created int64
	err = s.repo.InTx(ctx, func(repo Repository) error {
		n, err := repo.InsertSlots(ctx, worker.ID, starts)
		if err != nil {
			return err
		}
		created = n
		return s.logEvent(ctx, repo, EventSlotsGenerated, nil, nil, map[string]any{
			"worker_id":  worker.ID.String(),
			"from":       from.Format(time.DateOnly),
			"to":         to.Format(time.DateOnly),
			"candidates": len(starts),
			"created":    n,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.AddSlotsGenerated(created)
	s.logger.Info("slots generated",
		zap.String("worker_id", worker.ID.String()),
		zap.Int("candidates", len(starts)),
		zap.Int64("created", created),
	)

	return &GenerateResult{Created: created, Candidates: len(starts)}, nil
}

// DeleteDaySlots removes a worker's still-available slots on one calendar
// date. Reserved and finalized slots are never touched.
func (s *Service) DeleteDaySlots(ctx context.Context, workerID uuid.UUID, date time.Time) (removed int64, err error) {
	ctx, done := s.track(ctx, "delete_day_slots", attribute.String("worker_id", workerID.String()))
	defer func() { done(err) }()

	if date.IsZero() {
		return 0, invalid("date", "is required")
	}
	if _, err := s.repo.GetWorker(ctx, workerID); err != nil {
		return 0, err
	}

	day := s.asDate(date)
	next := nextDay(day)

	err = s.repo.InTx(ctx, func(repo Repository) error {
		n, err := repo.DeleteAvailableSlots(ctx, workerID, day, next)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrSlotNotFound
		}
		removed = n
		return s.logEvent(ctx, repo, EventSlotsDeleted, nil, nil, map[string]any{
			"worker_id": workerID.String(),
			"date":      day.Format(time.DateOnly),
			"removed":   n,
		})
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
