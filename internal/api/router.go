package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

// Scheduler is the booking engine as seen by the transport.
type Scheduler interface {
	GenerateSlots(ctx context.Context, req scheduling.GenerateRequest) (*scheduling.GenerateResult, error)
	DeleteDaySlots(ctx context.Context, workerID uuid.UUID, date time.Time) (int64, error)
	ListAvailability(ctx context.Context, q scheduling.AvailabilityQuery) (*scheduling.Availability, error)
	ResolveAllowedSpecialties(ctx context.Context, patientID uuid.UUID) (*scheduling.SpecialtyAccess, error)
	LookupPatient(ctx context.Context, nationalID string) (*scheduling.Patient, error)
	ListPatientBookings(ctx context.Context, patientID uuid.UUID) ([]scheduling.Booking, error)

	Reserve(ctx context.Context, req scheduling.ReserveRequest) (*scheduling.Booking, error)
	ReserveForPatient(ctx context.Context, nationalID string, req scheduling.ReserveRequest) (*scheduling.Booking, error)
	Reschedule(ctx context.Context, patientID, oldSlotID, newSlotID uuid.UUID) (*scheduling.Booking, error)
	RescheduleForPatient(ctx context.Context, nationalID string, oldSlotID, newSlotID uuid.UUID) (*scheduling.Booking, error)
	Cancel(ctx context.Context, patientID, slotID uuid.UUID) error
	CancelForPatient(ctx context.Context, nationalID string, slotID uuid.UUID) error

	RecordConsultationOutcome(ctx context.Context, req scheduling.OutcomeRequest) (*scheduling.ConsultationOutcome, error)
	ScheduleExamOrder(ctx context.Context, nurseID, orderID, slotID uuid.UUID) (*scheduling.ExamOrder, error)
	CompleteExamOrder(ctx context.Context, nurseID, orderID uuid.UUID, resultRef string) (*scheduling.ExamOrder, error)
}

var _ Scheduler = (*scheduling.Service)(nil)

type RouterConfig struct {
	Service  Scheduler
	Verifier *auth.Verifier
	Limiter  redisclient.Limiter
	Metrics  *metrics.SchedulingMetrics
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
	Postgres PingFunc
	Redis    PingFunc
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &handlers{svc: cfg.Service, logger: logger}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	limited := RateLimitMiddleware(cfg.Limiter, cfg.Metrics, logger)
	staff := RequireRoles(auth.RoleReceptionist, auth.RoleAdmin)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Verifier))

		r.Get("/availability", h.listAvailability)

		r.Route("/workers/{workerID}/slots", func(r chi.Router) {
			r.Use(RequireRoles(auth.RoleAdmin))
			r.Post("/", h.generateSlots)
			r.Delete("/", h.deleteDaySlots)
		})

		r.Route("/patients", func(r chi.Router) {
			r.With(RequireRoles(auth.RolePatient)).Get("/me/specialties", h.mySpecialties)
			r.With(RequireRoles(auth.RolePatient)).Get("/me/bookings", h.myBookings)
			r.With(staff).Get("/{nationalID}/specialties", h.patientSpecialties)
			r.With(staff).Get("/{nationalID}/bookings", h.patientBookings)
		})

		r.Route("/bookings", func(r chi.Router) {
			r.Use(RequireRoles(auth.RolePatient), limited)
			r.Post("/", h.reserve)
			r.Post("/{slotID}/reschedule", h.reschedule)
			r.Delete("/{slotID}", h.cancel)
		})

		r.Route("/reception/bookings", func(r chi.Router) {
			r.Use(staff, limited)
			r.Post("/", h.receptionReserve)
			r.Post("/{slotID}/reschedule", h.receptionReschedule)
			r.Delete("/{slotID}", h.receptionCancel)
		})

		r.With(RequireRoles(auth.RoleDoctor, auth.RoleNurse)).
			Post("/consultations/{slotID}/outcome", h.recordOutcome)

		r.Route("/exam-orders/{orderID}", func(r chi.Router) {
			r.Use(RequireRoles(auth.RoleNurse))
			r.Post("/schedule", h.scheduleExam)
			r.Post("/complete", h.completeExam)
		})
	})

	return r
}
