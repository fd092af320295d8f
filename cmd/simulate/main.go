package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/telemedicine-scheduling/internal/config"
	"github.com/hackgods/telemedicine-scheduling/internal/db"
	"github.com/hackgods/telemedicine-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL       string
	Duration         time.Duration
	Workers          int
	BookingRatio     float64
	RescheduleRatio  float64
	CancelRatio      float64
	ReadRatio        float64
	BeneficiaryCount int
	SlotLimit        int
	PostgresDSN      string
}

// DataPool holds the slots under contention and the bookings created so far.
type DataPool struct {
	Beneficiaries []uuid.UUID
	Slots         []uuid.UUID

	mu       sync.Mutex
	bookings []uuid.UUID
}

func (dp *DataPool) AddBooking(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, id)
}

func (dp *DataPool) RandomBooking(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.bookings) == 0 {
		return uuid.Nil, false
	}
	return dp.bookings[rng.Intn(len(dp.bookings))], true
}

// OperationMetrics counts outcomes of one request kind. Rejected covers
// expected business refusals such as a full slot or a passed deadline.
type OperationMetrics struct {
	Total     atomic.Int64
	Success   atomic.Int64
	Rejected  atomic.Int64
	Error     atomic.Int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	om.Total.Add(1)
	switch {
	case err != nil || status >= 500:
		om.Error.Add(1)
	case status >= 200 && status < 300:
		om.Success.Add(1)
	default:
		om.Rejected.Add(1)
	}
	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Percentile(p int) time.Duration {
	om.mu.Lock()
	sorted := slices.Clone(om.latencies)
	om.mu.Unlock()
	if len(sorted) == 0 {
		return 0
	}
	slices.Sort(sorted)
	return sorted[min(len(sorted)*p/100, len(sorted)-1)]
}

type Metrics struct {
	Book       OperationMetrics
	Reschedule OperationMetrics
	Cancel     OperationMetrics
	Read       OperationMetrics
	ListSlots  OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  zerolog.Logger
	metrics Metrics
}

func main() {
	base, err := config.Load()
	if err != nil {
		logging.New("info", "dev").Fatal().Err(err).Msg("failed to load base config")
	}
	logger := logging.New(base.LogLevel, base.Env).With().Str("service", "simulate").Logger()

	cfg := loadConfig(base)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("book", cfg.BookingRatio).
		Float64("reschedule", cfg.RescheduleRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().Int("beneficiaries", len(dataPool.Beneficiaries)).Int("slots", len(dataPool.Slots)).Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
	sim.Run()
	sim.PrintReport()

	checkCtx, checkCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer checkCancel()
	if err := checkCapacity(checkCtx, pgPool); err != nil {
		logger.Error().Err(err).Msg("capacity check failed")
		os.Exit(1)
	}
	logger.Info().Msg("capacity check passed")
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:       getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:         getDuration("SIM_DURATION", 30*time.Second),
		Workers:          getInt("SIM_WORKERS", 10),
		BookingRatio:     getFloat("SIM_BOOKING_RATIO", 0.5),
		RescheduleRatio:  getFloat("SIM_RESCHEDULE_RATIO", 0.15),
		CancelRatio:      getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:        getFloat("SIM_READ_RATIO", 0.25),
		BeneficiaryCount: getInt("SIM_BENEFICIARIES", 2000),
		SlotLimit:        getInt("SIM_SLOT_LIMIT", 500),
		PostgresDSN:      base.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.RescheduleRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.RescheduleRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return errors.New("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return errors.New("SIM_DURATION must be > 0")
	}
	if cfg.BeneficiaryCount <= 0 {
		return errors.New("SIM_BENEFICIARIES must be > 0")
	}
	return nil
}

// loadDataPool picks future slots with free seats. Beneficiaries are
// synthetic; the scheduling tables only reference them by id.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}
	for range cfg.BeneficiaryCount {
		dataPool.Beneficiaries = append(dataPool.Beneficiaries, uuid.New())
	}

	rows, err := pool.Query(ctx, `
		SELECT id FROM slots
		WHERE start_at > now() + interval '1 day' AND booked_count < max_capacity
		ORDER BY start_at
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Slots = append(dataPool.Slots, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(dataPool.Slots) == 0 {
		return nil, errors.New("no open slots, run cmd/seed first")
	}
	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Msg("simulation running")
	var wg sync.WaitGroup
	for i := range s.config.Workers {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	c := s.config

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < c.BookingRatio:
			s.doBook(ctx, rng)
		case r < c.BookingRatio+c.RescheduleRatio:
			s.doReschedule(ctx, rng)
		case r < c.BookingRatio+c.RescheduleRatio+c.CancelRatio:
			s.doCancel(ctx, rng)
		case rng.Intn(2) == 0:
			s.doRead(ctx, rng)
		default:
			s.doListSlots(ctx)
		}
	}
}

func (s *Simulator) randomSlot(rng *rand.Rand) uuid.UUID {
	return s.pool.Slots[rng.Intn(len(s.pool.Slots))]
}

// call issues one request and returns the status code and decoded id, if any.
func (s *Simulator) call(ctx context.Context, method, path string, body any) (int, uuid.UUID, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, uuid.Nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, uuid.Nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, uuid.Nil, err
	}
	defer resp.Body.Close()

	var out struct {
		ID uuid.UUID `json:"id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out.ID, nil
}

func (s *Simulator) timed(ctx context.Context, om *OperationMetrics, method, path string, body any) (int, uuid.UUID) {
	start := time.Now()
	status, id, err := s.call(ctx, method, path, body)
	if ctx.Err() != nil {
		return status, id
	}
	om.Record(time.Since(start), status, err)
	return status, id
}

func (s *Simulator) doBook(ctx context.Context, rng *rand.Rand) {
	status, id := s.timed(ctx, &s.metrics.Book, http.MethodPost, "/bookings", map[string]any{
		"beneficiary_id": s.pool.Beneficiaries[rng.Intn(len(s.pool.Beneficiaries))].String(),
		"slot_id":        s.randomSlot(rng).String(),
		"telemedicine":   true,
	})
	if status == http.StatusCreated && id != uuid.Nil {
		s.pool.AddBooking(id)
	}
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	s.timed(ctx, &s.metrics.Reschedule, http.MethodPost, "/bookings/"+id.String()+"/reschedule", map[string]any{
		"new_slot_id": s.randomSlot(rng).String(),
		"reason":      "simulated",
	})
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	s.timed(ctx, &s.metrics.Cancel, http.MethodPost, "/bookings/"+id.String()+"/cancel", map[string]any{
		"reason": "simulated",
	})
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	s.timed(ctx, &s.metrics.Read, http.MethodGet, "/bookings/"+id.String(), nil)
}

func (s *Simulator) doListSlots(ctx context.Context) {
	s.timed(ctx, &s.metrics.ListSlots, http.MethodGet, "/slots?telemedicine=true&limit=20", nil)
}

// checkCapacity verifies every slot's counter against its bookings and its
// ceiling after the run.
func checkCapacity(ctx context.Context, pool *pgxpool.Pool) error {
	var overbooked, drifted int
	err := pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE s.booked_count > s.max_capacity),
			count(*) FILTER (WHERE s.booked_count <> COALESCE(b.held, 0))
		FROM slots s
		LEFT JOIN (
			SELECT slot_id, count(*) AS held FROM bookings
			WHERE status <> 'cancelled'
			GROUP BY slot_id
		) b ON b.slot_id = s.id
	`).Scan(&overbooked, &drifted)
	if err != nil {
		return fmt.Errorf("query capacity: %w", err)
	}
	if overbooked > 0 || drifted > 0 {
		return fmt.Errorf("%d overbooked slots, %d slots with counter drift", overbooked, drifted)
	}
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n\n", s.config.Workers)

	printOperationReport("Book", &s.metrics.Book)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read booking", &s.metrics.Read)
	printOperationReport("List slots", &s.metrics.ListSlots)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := om.Total.Load()
	if total == 0 {
		return
	}
	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", om.Success.Load(), pct(om.Success.Load()))
	if n := om.Rejected.Load(); n > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", n, pct(n))
	}
	if n := om.Error.Load(); n > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", n, pct(n))
	}
	fmt.Printf("  Latency: p50=%s p95=%s p99=%s\n\n",
		om.Percentile(50).Round(time.Millisecond),
		om.Percentile(95).Round(time.Millisecond),
		om.Percentile(99).Round(time.Millisecond))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
