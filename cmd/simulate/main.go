package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointments/internal/api"
	"github.com/hackgods/clinic-appointments/internal/apperr"
	"github.com/hackgods/clinic-appointments/internal/config"
	"github.com/hackgods/clinic-appointments/internal/db"
	"github.com/hackgods/clinic-appointments/internal/directory"
	"github.com/hackgods/clinic-appointments/internal/schedule"
	"github.com/hackgods/clinic-appointments/pkg/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	ConfirmRatio float64
	CancelRatio  float64
	PatientLimit int
}

type target struct {
	DoctorID uuid.UUID
	SlotID   uuid.UUID
}

type booked struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
}

// DataPool holds what workers pick from at random. Tokens are minted up front
// so workers never touch the directory.
type DataPool struct {
	Patients []uuid.UUID
	Targets  []target
	tokens   map[uuid.UUID]string

	mu           sync.RWMutex
	appointments []booked
}

func (dp *DataPool) AddAppointment(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, o outcome) {
	atomic.AddInt64(&om.Total, 1)
	switch o {
	case outcomeSuccess:
		atomic.AddInt64(&om.Success, 1)
	case outcomeConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := slices.Clone(om.latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	slices.Sort(latencies)

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pct := func(p int) time.Duration {
		return latencies[min(len(latencies)*p/100, len(latencies)-1)]
	}
	return sum / time.Duration(len(latencies)), pct(50), pct(95), latencies[len(latencies)-1]
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeConflict
	outcomeError
)

type Simulator struct {
	config SimConfig
	pool   *DataPool
	client *http.Client
	logger *logging.Logger

	booking OperationMetrics
	confirm OperationMetrics
	cancel  OperationMetrics
	read    OperationMetrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	logger := logging.New(baseCfg.LogLevel).With("component", "simulate")

	cfg := loadConfig()
	if err := validateConfig(cfg, baseCfg); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	logger.Info("simulator starting",
		"duration", cfg.Duration,
		"workers", cfg.Workers,
		"booking", cfg.BookingRatio,
		"confirm", cfg.ConfirmRatio,
		"cancel", cfg.CancelRatio,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN, db.DefaultPoolOptions(), logger)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, directory.NewPgRepository(pgPool), schedule.NewPgRepository(pgPool),
		[]byte(baseCfg.JWTSecret), cfg)
	if err != nil {
		logger.Error("load data pool", "error", err)
		os.Exit(1)
	}
	logger.Info("data pool loaded", "patients", len(dataPool.Patients), "slots", len(dataPool.Targets))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.2),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 4000),
	}

	// remaining share goes to reads
	total := cfg.BookingRatio + cfg.ConfirmRatio + cfg.CancelRatio
	if total > 1 {
		cfg.BookingRatio /= total
		cfg.ConfirmRatio /= total
		cfg.CancelRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig, base config.Config) error {
	if base.StoreBackend != config.BackendPostgres {
		return fmt.Errorf("STORE_BACKEND=postgres is required to load the data pool")
	}
	if base.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required to mint tokens")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, users directory.Repository, slots schedule.Repository, secret []byte, cfg SimConfig) (*DataPool, error) {
	dp := &DataPool{tokens: make(map[uuid.UUID]string)}
	mint := func(id uuid.UUID) error {
		token, err := api.IssueToken(secret, id, cfg.Duration+time.Hour)
		if err != nil {
			return err
		}
		dp.tokens[id] = token
		return nil
	}

	patients, err := users.ListPatients(ctx, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for _, p := range patients {
		if err := mint(p.ID); err != nil {
			return nil, err
		}
		dp.Patients = append(dp.Patients, p.ID)
	}

	doctors, err := users.ListDoctors(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	now := time.Now()
	for _, d := range doctors {
		if err := mint(d.ID); err != nil {
			return nil, err
		}
		open, err := slots.ListAvailable(ctx, d.ID, now, nil)
		if err != nil {
			return nil, fmt.Errorf("load slots: %w", err)
		}
		for _, s := range open {
			dp.Targets = append(dp.Targets, target{DoctorID: d.ID, SlotID: s.ID})
		}
	}

	if len(dp.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dp.Targets) == 0 {
		return nil, fmt.Errorf("no open slots loaded")
	}
	return dp, nil
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
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.ConfirmRatio:
			s.doTransition(ctx, rng, "confirmed", &s.confirm)
		case r < s.config.BookingRatio+s.config.ConfirmRatio+s.config.CancelRatio:
			s.doTransition(ctx, rng, "cancelled", &s.cancel)
		default:
			s.doRead(ctx, rng)
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	latency, o := s.call(ctx, http.MethodPost, "/appointments", patientID, api.BookAppointmentRequest{
		DoctorID:   t.DoctorID,
		ScheduleID: t.SlotID,
		Reason:     "load test visit",
	}, http.StatusCreated, &created)
	if o == outcomeSuccess && created.ID != uuid.Nil {
		s.pool.AddAppointment(booked{ID: created.ID, DoctorID: t.DoctorID, PatientID: patientID})
	}
	s.booking.Record(latency, o)
}

// doTransition confirms as the doctor or cancels as the patient.
func (s *Simulator) doTransition(ctx context.Context, rng *rand.Rand, status string, om *OperationMetrics) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	actor := b.DoctorID
	if status == "cancelled" {
		actor = b.PatientID
	}
	latency, o := s.call(ctx, http.MethodPut, "/appointments/"+b.ID.String(), actor,
		api.UpdateAppointmentRequest{Status: status}, http.StatusOK, nil)
	om.Record(latency, o)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	path := "/appointments/" + b.ID.String()
	if rng.Intn(2) == 0 {
		path = fmt.Sprintf("/appointments/patient/%s?limit=20", b.PatientID)
	}
	latency, o := s.call(ctx, http.MethodGet, path, b.PatientID, nil, http.StatusOK, nil)
	s.read.Record(latency, o)
}

// call counts a CONFLICT or TRANSACTION_ERROR response as contention rather
// than a failure.
func (s *Simulator) call(ctx context.Context, method, path string, as uuid.UUID, body any, want int, out any) (time.Duration, outcome) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, outcomeError
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, outcomeError
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.pool.tokens[as])

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return latency, outcomeError
	}
	defer resp.Body.Close()

	if resp.StatusCode == want {
		if out != nil {
			_ = json.NewDecoder(resp.Body).Decode(out)
		}
		return latency, outcomeSuccess
	}

	var e api.ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&e)
	switch e.Code {
	case apperr.CodeConflict, apperr.CodeTransaction:
		return latency, outcomeConflict
	}
	// stale picks (already confirmed, already cancelled) are expected
	if resp.StatusCode == http.StatusBadRequest && method == http.MethodPut {
		return latency, outcomeConflict
	}
	return latency, outcomeError
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n\n", s.config.Workers)

	printOperationReport("Booking", &s.booking)
	printOperationReport("Confirm", &s.confirm)
	printOperationReport("Cancel", &s.cancel)
	printOperationReport("Read", &s.read)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return def
}

func getInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return def
}
