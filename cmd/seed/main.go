package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/hackgods/clinic-appointments/internal/api"
	"github.com/hackgods/clinic-appointments/internal/config"
	"github.com/hackgods/clinic-appointments/internal/db"
	"github.com/hackgods/clinic-appointments/internal/directory"
	"github.com/hackgods/clinic-appointments/internal/schedule"
	"github.com/hackgods/clinic-appointments/pkg/logging"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

type seedCounts struct {
	doctors      int
	patients     int
	days         int
	slotsPerDay  int
	slotDuration time.Duration
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	logger := logging.New(cfg.LogLevel).With("component", "seed")

	if cfg.StoreBackend != config.BackendPostgres {
		logger.Error("seed needs STORE_BACKEND=postgres")
		os.Exit(1)
	}

	counts := seedCounts{
		doctors:      envInt("SEED_DOCTORS", 20),
		patients:     envInt("SEED_PATIENTS", 500),
		days:         envInt("SEED_DAYS", 5),
		slotsPerDay:  envInt("SEED_SLOTS_PER_DAY", 8),
		slotDuration: 30 * time.Minute,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.DefaultPoolOptions(), logger)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	users := directory.NewPgRepository(pool)
	slots := schedule.NewService(
		schedule.NewPgRepository(pool),
		db.NewTxManager(pool, cfg.TxMaxAttempts, nil, logger),
		logger,
		schedule.WithLocation(cfg.ScheduleTimezone),
	)
	faker := gofakeit.New(0)

	admin := directory.NewAdmin("Clinic Admin", "admin@"+faker.DomainName())
	if err := users.CreateUser(ctx, admin); err != nil {
		logger.Error("seed admin", "error", err)
		os.Exit(1)
	}

	doctors, err := seedDoctors(ctx, users, faker, counts.doctors)
	if err != nil {
		logger.Error("seed doctors", "error", err)
		os.Exit(1)
	}
	logger.Info("doctors seeded", "count", len(doctors))

	if err := seedPatients(ctx, users, faker, counts.patients); err != nil {
		logger.Error("seed patients", "error", err)
		os.Exit(1)
	}
	logger.Info("patients seeded", "count", counts.patients)

	created, err := seedSlots(ctx, slots, doctors, counts, cfg.ScheduleTimezone)
	if err != nil {
		logger.Error("seed slots", "error", err)
		os.Exit(1)
	}
	logger.Info("slots seeded", "count", created)

	if cfg.JWTSecret != "" {
		token, err := api.IssueToken([]byte(cfg.JWTSecret), admin.ID, 24*time.Hour)
		if err == nil {
			fmt.Printf("admin %s token: %s\n", admin.ID, token)
		}
	}
	logger.Info("seed complete")
}

func seedDoctors(ctx context.Context, users directory.Repository, faker *gofakeit.Faker, count int) ([]*directory.User, error) {
	doctors := make([]*directory.User, 0, count)
	for i := 0; i < count; i++ {
		spec := specialties[faker.Number(0, len(specialties)-1)]
		// roughly one in ten stays unverified and cannot take bookings
		verified := faker.Number(1, 10) > 1
		d := directory.NewDoctor("Dr. "+faker.Name(), faker.Email(), spec, verified)
		if err := users.CreateUser(ctx, d); err != nil {
			return nil, fmt.Errorf("doctor %d: %w", i, err)
		}
		doctors = append(doctors, d)
	}
	return doctors, nil
}

func seedPatients(ctx context.Context, users directory.Repository, faker *gofakeit.Faker, count int) error {
	oldest := time.Now().AddDate(-90, 0, 0)
	youngest := time.Now().AddDate(-1, 0, 0)
	for i := 0; i < count; i++ {
		dob := faker.DateRange(oldest, youngest)
		p := directory.NewPatient(faker.Name(), faker.Email(), &dob)
		if err := users.CreateUser(ctx, p); err != nil {
			return fmt.Errorf("patient %d: %w", i, err)
		}
	}
	return nil
}

// seedSlots declares back-to-back slots from 09:00 local time on each of the
// next counts.days days.
func seedSlots(ctx context.Context, svc *schedule.Service, doctors []*directory.User, counts seedCounts, loc *time.Location) (int, error) {
	today := time.Now().In(loc)
	created := 0
	for _, d := range doctors {
		for day := 1; day <= counts.days; day++ {
			date := today.AddDate(0, 0, day)
			start := time.Date(date.Year(), date.Month(), date.Day(), 9, 0, 0, 0, loc)
			for i := 0; i < counts.slotsPerDay; i++ {
				_, err := svc.Declare(ctx, d, start, start.Add(counts.slotDuration))
				if err != nil && !errors.Is(err, schedule.ErrOverlap) {
					return created, fmt.Errorf("doctor %s: %w", d.ID, err)
				}
				if err == nil {
					created++
				}
				start = start.Add(counts.slotDuration)
			}
		}
	}
	return created, nil
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
