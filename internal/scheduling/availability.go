package scheduling

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultAvailabilityDays = 14
	MaxAvailabilityDays     = 30
)

// AvailabilityQuery filters open slots. From and To are inclusive calendar
// dates; zero values select today and today+14 days.
type AvailabilityQuery struct {
	WorkerID  *uuid.UUID
	Specialty string
	From      time.Time
	To        time.Time
	// PatientID restricts results to the specialties that patient may book.
	PatientID *uuid.UUID
}

type AvailabilityEntry struct {
	SlotID     uuid.UUID `json:"slot_id"`
	WorkerID   uuid.UUID `json:"worker_id"`
	WorkerName string    `json:"worker_name"`
	Specialty  string    `json:"specialty"`
	StartsAt   time.Time `json:"starts_at"`
}

type AvailabilityTime struct {
	Time  string              `json:"time"`
	Slots []AvailabilityEntry `json:"slots"`
}

type AvailabilityDay struct {
	Date  string             `json:"date"`
	Times []AvailabilityTime `json:"times"`
}

type Availability struct {
	From string            `json:"from"`
	To   string            `json:"to"`
	Days []AvailabilityDay `json:"days"`
}

// ListAvailability returns future available slots of active workers grouped
// by local day and then by local start time.
func (s *Service) ListAvailability(ctx context.Context, q AvailabilityQuery) (res *Availability, err error) {
	var attrs []attribute.KeyValue
	if q.WorkerID != nil {
		attrs = append(attrs, attribute.String("worker_id", q.WorkerID.String()))
	}
	if q.Specialty != "" {
		attrs = append(attrs, attribute.String("specialty", q.Specialty))
	}
	ctx, done := s.track(ctx, "list_availability", attrs...)
	defer func() { done(err) }()

	now := s.now()
	today := s.localDay(now)

	from := today
	if !q.From.IsZero() {
		from = s.asDate(q.From)
	}
	to := addDays(from, DefaultAvailabilityDays)
	if !q.To.IsZero() {
		to = s.asDate(q.To)
	}
	if to.Before(from) {
		return nil, invalid("date_range", "end date is before start date")
	}
	if calendarDays(from, to) > MaxAvailabilityDays {
		to = addDays(from, MaxAvailabilityDays)
	}

	filter := SlotFilter{
		WorkerID:   q.WorkerID,
		State:      SlotAvailable,
		From:       from,
		To:         nextDay(to),
		ActiveOnly: true,
	}
	if filter.From.Before(now) {
		filter.From = now.Add(time.Nanosecond)
	}

	specialty := strings.TrimSpace(q.Specialty)
	if q.PatientID != nil {
		if _, err := s.repo.GetPatient(ctx, *q.PatientID); err != nil {
			return nil, err
		}
		access, err := resolveAccess(ctx, s.repo, *q.PatientID)
		if err != nil {
			return nil, err
		}
		if specialty != "" && !access.Allows(specialty) {
			return nil, ErrSpecialtyNotAllowed
		}
		filter.Specialties = access.Allowed
	}
	if specialty != "" {
		filter.Specialties = []string{specialty}
	}

	slots, err := s.repo.ListSlots(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &Availability{
		From: from.Format(time.DateOnly),
		To:   to.Format(time.DateOnly),
		Days: groupByDay(slots, s.loc),
	}, nil
}

// groupByDay expects slots ordered by start time.
func groupByDay(slots []SlotDetail, loc *time.Location) []AvailabilityDay {
	days := []AvailabilityDay{}
	for _, sl := range slots {
		local := sl.StartsAt.In(loc)
		date, clock := local.Format(time.DateOnly), local.Format("15:04")

		if len(days) == 0 || days[len(days)-1].Date != date {
			days = append(days, AvailabilityDay{Date: date})
		}
		day := &days[len(days)-1]

		if len(day.Times) == 0 || day.Times[len(day.Times)-1].Time != clock {
			day.Times = append(day.Times, AvailabilityTime{Time: clock})
		}
		t := &day.Times[len(day.Times)-1]

		t.Slots = append(t.Slots, AvailabilityEntry{
			SlotID:     sl.ID,
			WorkerID:   sl.WorkerID,
			WorkerName: sl.WorkerName,
			Specialty:  sl.Specialty,
			StartsAt:   sl.StartsAt,
		})
	}
	return days
}
