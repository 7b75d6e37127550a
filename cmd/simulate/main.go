package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type SimConfig struct {
	APIBaseURL   string        `envconfig:"SIM_API_BASE_URL" default:"http://localhost:8080"`
	Duration     time.Duration `envconfig:"SIM_DURATION" default:"30s"`
	Workers      int           `envconfig:"SIM_WORKERS" default:"20"`
	HotSlots     int           `envconfig:"SIM_HOT_SLOTS" default:"5"`
	PatientLimit int           `envconfig:"SIM_PATIENT_LIMIT" default:"500"`
	BookingRatio float64       `envconfig:"SIM_BOOKING_RATIO" default:"0.6"`
	CancelRatio  float64       `envconfig:"SIM_CANCEL_RATIO" default:"0.1"`
	PostgresDSN  string        `envconfig:"POSTGRES_DSN" required:"true"`
	JWTSecret    string        `envconfig:"JWT_SECRET" required:"true"`
}

type patientRef struct {
	id    uuid.UUID
	token string
}

// slotHold tracks who the simulator believes holds a slot. A cancel keeps
// the lock for the whole request so a reservation that wins right after it
// never observes a stale holder.
type slotHold struct {
	mu     sync.Mutex
	holder uuid.UUID
	wins   int64
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Latencies []time.Duration
	codes     map[string]int64
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, code string) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	if !success {
		if om.codes == nil {
			om.codes = make(map[string]int64)
		}
		om.codes[code]++
	}
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	max = latencies[len(latencies)-1]
	return avg, p50, p95, max
}

type Metrics struct {
	Reserve      OperationMetrics
	Cancel       OperationMetrics
	Availability OperationMetrics
}

type Simulator struct {
	config     SimConfig
	logger     *zap.Logger
	client     *http.Client
	patients   []patientRef
	slots      []uuid.UUID
	holds      map[uuid.UUID]*slotHold
	violations int64
	metrics    Metrics
}

func main() {
	_ = godotenv.Load()

	var cfg SimConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}

	logger := logging.MustNew("info", "console", "clinic-simulate")
	defer func() { _ = logger.Sync() }()

	if cfg.Workers <= 0 || cfg.Duration <= 0 || cfg.HotSlots <= 0 {
		logger.Fatal("SIM_WORKERS, SIM_DURATION and SIM_HOT_SLOTS must be > 0")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 2)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	sim := &Simulator{
		config: cfg,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
		holds:  make(map[uuid.UUID]*slotHold),
	}
	if err := sim.load(ctx, pgPool); err != nil {
		logger.Fatal("load data", zap.Error(err))
	}

	logger.Info("loaded",
		zap.Int("patients", len(sim.patients)),
		zap.Int("hot_slots", len(sim.slots)),
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
	)

	sim.Run()
	sim.PrintReport()
}

// load picks patients and the earliest open general-medicine slots, which
// every patient may book, so contention is purely about the slot.
func (s *Simulator) load(ctx context.Context, pool *pgxpool.Pool) error {
	rows, err := pool.Query(ctx, `
		SELECT id FROM patients WHERE active ORDER BY random() LIMIT $1
	`, s.config.PatientLimit)
	if err != nil {
		return fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		token, err := auth.IssueToken(s.config.JWTSecret, auth.Principal{Role: auth.RolePatient, PatientID: id}, 2*time.Hour)
		if err != nil {
			rows.Close()
			return err
		}
		s.patients = append(s.patients, patientRef{id: id, token: token})
	}
	rows.Close()

	rows, err = pool.Query(ctx, `
		SELECT s.id
		FROM slots s
		JOIN workers w ON w.id = s.worker_id
		WHERE s.state = 'available'
		  AND s.starts_at > now() + interval '1 hour'
		  AND w.active
		  AND COALESCE(NULLIF(TRIM(w.specialty), ''), $1) = $1
		ORDER BY s.starts_at
		LIMIT $2
	`, scheduling.GeneralSpecialty, s.config.HotSlots)
	if err != nil {
		return fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return err
		}
		s.slots = append(s.slots, id)
		s.holds[id] = &slotHold{}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if len(s.patients) < 2 {
		return fmt.Errorf("need at least 2 patients, got %d", len(s.patients))
	}
	if len(s.slots) == 0 {
		return fmt.Errorf("no open general medicine slots, run cmd/seed first")
	}
	return nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doReserve(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			s.doAvailability(ctx, rng)
		}
	}
}

func (s *Simulator) doReserve(ctx context.Context, rng *rand.Rand) {
	slotID := s.slots[rng.Intn(len(s.slots))]
	p := s.patients[rng.Intn(len(s.patients))]

	body, _ := json.Marshal(map[string]string{"slot_id": slotID.String()})
	status, code, latency, err := s.call(ctx, http.MethodPost, "/bookings", p.token, body)
	if err != nil {
		return
	}

	success := status == http.StatusCreated
	if success {
		h := s.holds[slotID]
		h.mu.Lock()
		if h.holder != uuid.Nil && h.holder != p.id {
			atomic.AddInt64(&s.violations, 1)
			s.logger.Error("double booking observed",
				zap.String("slot_id", slotID.String()),
				zap.String("holder", h.holder.String()),
				zap.String("winner", p.id.String()),
			)
		}
		h.holder = p.id
		h.wins++
		h.mu.Unlock()
	}
	s.metrics.Reserve.Record(latency, success, code)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	slotID := s.slots[rng.Intn(len(s.slots))]
	h := s.holds[slotID]

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.holder == uuid.Nil {
		return
	}

	var token string
	for _, p := range s.patients {
		if p.id == h.holder {
			token = p.token
			break
		}
	}

	status, code, latency, err := s.call(ctx, http.MethodDelete, "/bookings/"+slotID.String(), token, nil)
	if err != nil {
		return
	}

	success := status == http.StatusNoContent
	if success {
		h.holder = uuid.Nil
	}
	s.metrics.Cancel.Record(latency, success, code)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	p := s.patients[rng.Intn(len(s.patients))]

	status, code, latency, err := s.call(ctx, http.MethodGet, "/availability", p.token, nil)
	if err != nil {
		return
	}
	s.metrics.Availability.Record(latency, status == http.StatusOK, code)
}

// call returns the status and, for failures, the error code from the body.
// Requests cut short by the end of the run return err.
func (s *Simulator) call(ctx context.Context, method, path, token string, body []byte) (int, string, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, "", 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return 0, "", latency, err
		}
		return 0, "transport_error", latency, nil
	}
	defer resp.Body.Close()

	var errBody struct {
		Error string `json:"error"`
	}
	if resp.StatusCode >= 400 {
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, errBody.Error, latency, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("BOOKING RACE REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d  Patients: %d  Hot slots: %d\n", s.config.Workers, len(s.patients), len(s.slots))
	fmt.Println()

	printOperationReport("Reserve", &s.metrics.Reserve)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Availability", &s.metrics.Availability)

	fmt.Println("Per-slot winners (reservations accepted, cancels reopen the slot):")
	for _, id := range s.slots {
		h := s.holds[id]
		fmt.Printf("  %s  wins=%d  holder=%s\n", id, h.wins, h.holder)
	}
	fmt.Println()

	if v := atomic.LoadInt64(&s.violations); v > 0 {
		fmt.Printf("DOUBLE BOOKINGS OBSERVED: %d\n", v)
	} else {
		fmt.Println("No double booking observed.")
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)

	om.mu.Lock()
	codes := make([]string, 0, len(om.codes))
	for code := range om.codes {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		n := om.codes[code]
		fmt.Printf("  %s: %d (%.1f%%)\n", code, n, float64(n)/float64(total)*100)
	}
	om.mu.Unlock()

	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}
