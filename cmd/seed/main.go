package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type seedConfig struct {
	PostgresDSN    string `envconfig:"POSTGRES_DSN" required:"true"`
	ClinicTimezone string `envconfig:"CLINIC_TIMEZONE" default:"America/Santiago"`
	Patients       int    `envconfig:"SEED_PATIENTS" default:"2000"`
	Days           int    `envconfig:"SEED_DAYS" default:"14"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
}

type workerSeed struct {
	role      scheduling.WorkerRole
	specialty *string
	count     int
}

func ptr(s string) *string { return &s }

var staff = []workerSeed{
	{scheduling.WorkerDoctor, ptr(scheduling.GeneralSpecialty), 6},
	{scheduling.WorkerDoctor, ptr("Cardiologia"), 2},
	{scheduling.WorkerDoctor, ptr("Traumatologia"), 2},
	{scheduling.WorkerDoctor, ptr("Dermatologia"), 1},
	{scheduling.WorkerDoctor, ptr("Neurologia"), 1},
	{scheduling.WorkerDoctor, ptr("Pediatria"), 2},
	{scheduling.WorkerNurse, ptr(scheduling.NursingSpecialty), 3},
	{scheduling.WorkerReceptionist, nil, 2},
	{scheduling.WorkerAdmin, ptr(scheduling.AdminSpecialty), 1},
}

func main() {
	_ = godotenv.Load()

	var cfg seedConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}

	logger := logging.MustNew(cfg.LogLevel, "console", "clinic-seed")
	defer func() { _ = logger.Sync() }()

	loc, err := time.LoadLocation(cfg.ClinicTimezone)
	if err != nil {
		logger.Fatal("invalid CLINIC_TIMEZONE", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 4)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	faker := gofakeit.New(0)

	clinical, err := seedWorkers(ctx, pool, faker, logger)
	if err != nil {
		logger.Fatal("seed workers", zap.Error(err))
	}
	if err := seedPatients(ctx, pool, faker, cfg.Patients, logger); err != nil {
		logger.Fatal("seed patients", zap.Error(err))
	}

	svc := scheduling.NewService(scheduling.NewPgRepository(pool), logger.Named("scheduling"), loc)
	today := time.Now().In(loc)
	from := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, cfg.Days-1)

	var created int64
	for _, id := range clinical {
		res, err := svc.GenerateSlots(ctx, scheduling.GenerateRequest{WorkerID: id, From: from, To: to})
		if err != nil {
			logger.Fatal("generate slots", zap.String("worker_id", id.String()), zap.Error(err))
		}
		created += res.Created
	}

	logger.Info("seed complete",
		zap.Int("clinical_workers", len(clinical)),
		zap.Int("patients", cfg.Patients),
		zap.Int64("slots_created", created),
	)
}

// seedWorkers inserts the staff roster and returns the ids of workers that
// own bookable slots.
func seedWorkers(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, logger *zap.Logger) ([]uuid.UUID, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var clinical []uuid.UUID
	for _, ws := range staff {
		for i := 0; i < ws.count; i++ {
			id := uuid.New()
			name := faker.FirstName() + " " + faker.LastName()

			_, err := tx.Exec(ctx, `
				INSERT INTO workers (id, name, role, specialty, active, created_at, updated_at)
				VALUES ($1, $2, $3, $4, TRUE, now(), now())
			`, id, name, string(ws.role), ws.specialty)
			if err != nil {
				return nil, err
			}

			if ws.role.Clinical() {
				clinical = append(clinical, id)
			}
			logger.Debug("worker seeded", zap.String("id", id.String()), zap.String("role", string(ws.role)))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Info("workers seeded", zap.Int("clinical", len(clinical)))
	return clinical, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, logger *zap.Logger) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			nationalID := nationalIDFor(faker.Number(5_000_000, 25_000_000))
			name := faker.FirstName() + " " + faker.LastName()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, national_id, name, active, created_at, updated_at)
				VALUES ($1, $2, $3, TRUE, now(), now())
				ON CONFLICT (national_id) DO NOTHING
			`, uuid.New(), nationalID, name)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		logger.Info("patients seeded", zap.String("progress", fmt.Sprintf("%d/%d", end, count)))
	}

	return nil
}

// nationalIDFor formats body with its modulo-11 verifier digit.
func nationalIDFor(body int) string {
	digits := strconv.Itoa(body)
	sum, factor := 0, 2
	for i := len(digits) - 1; i >= 0; i-- {
		sum += int(digits[i]-'0') * factor
		factor++
		if factor > 7 {
			factor = 2
		}
	}

	verifier := strconv.Itoa(11 - sum%11)
	switch verifier {
	case "11":
		verifier = "0"
	case "10":
		verifier = "K"
	}
	return digits + "-" + verifier
}
