package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/DLMCQ/DermaClinic/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	WriteRatio   float64
	BookingRatio float64
	ReadRatio    float64
	Username     string
	Password     string
}

// DataPool holds ids created or discovered during the run.
type DataPool struct {
	mu           sync.RWMutex
	patients     []string
	appointments []string
}

func (dp *DataPool) add(list *[]string, id string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	*list = append(*list, id)
}

func (dp *DataPool) random(list *[]string, rng *rand.Rand) (string, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(*list) == 0 {
		return "", false
	}
	return (*list)[rng.Intn(len(*list))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[min2(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min2(len(latencies)*95/100, len(latencies)-1)]
	return avg, min, max, p50, p95
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type Metrics struct {
	CreatePatient OperationMetrics
	CreateSession OperationMetrics
	Booking       OperationMetrics
	ListPatients  OperationMetrics
	GetPatient    OperationMetrics
	Stats         OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	token   string
	cloud   bool
	metrics Metrics
	log     *zap.Logger
}

func main() {
	log, err := logging.New(getEnv("LOG_LEVEL", "info"), "console", "simulate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}
	log.Info("simulator starting",
		zap.String("api", cfg.APIBaseURL),
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
	)

	sim := &Simulator{
		config: cfg,
		pool:   &DataPool{},
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sim.prepare(ctx); err != nil {
		log.Fatal("prepare", zap.Error(err))
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:3001"), "/"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		WriteRatio:   getFloat("SIM_WRITE_RATIO", 0.3),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.5),
		Username:     getEnv("SIM_USERNAME", "admin"),
		Password:     getEnv("SIM_PASSWORD", "Admin1234"),
	}

	total := cfg.WriteRatio + cfg.BookingRatio + cfg.ReadRatio
	if total > 0 {
		cfg.WriteRatio /= total
		cfg.BookingRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

// prepare detects the server mode, logs in when needed and loads existing patients.
func (s *Simulator) prepare(ctx context.Context) error {
	var health struct {
		Mode string `json:"mode"`
	}
	if _, err := s.call(ctx, http.MethodGet, "/api/health", nil, &health); err != nil {
		return fmt.Errorf("health: %w", err)
	}
	s.cloud = health.Mode == "cloud"

	if s.cloud {
		var login struct {
			AccessToken string `json:"access_token"`
		}
		status, err := s.call(ctx, http.MethodPost, "/api/auth/login",
			map[string]string{"username": s.config.Username, "password": s.config.Password}, &login)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		if status != http.StatusOK {
			return fmt.Errorf("login: unexpected status %d", status)
		}
		s.token = login.AccessToken
	}

	var patients []struct {
		ID string `json:"id"`
	}
	if _, err := s.call(ctx, http.MethodGet, "/api/patients", nil, &patients); err != nil {
		return fmt.Errorf("load patients: %w", err)
	}
	for _, p := range patients {
		s.pool.add(&s.pool.patients, p.ID)
	}
	s.log.Info("data pool loaded", zap.String("mode", health.Mode), zap.Int("patients", len(patients)))
	return nil
}

// call sends one request and decodes a 2xx body into out.
func (s *Simulator) call(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (s *Simulator) timed(om *OperationMetrics, fn func() (int, error), ok int) {
	start := time.Now()
	status, err := fn()
	om.Record(time.Since(start), err == nil && status == ok, err == nil && status == http.StatusConflict)
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation", zap.Duration("duration", s.config.Duration), zap.Int("workers", s.config.Workers))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.WriteRatio:
				if rng.Intn(2) == 0 {
					s.doCreatePatient(ctx)
				} else {
					s.doCreateSession(ctx, rng)
				}
			case r < s.config.WriteRatio+s.config.BookingRatio:
				if s.cloud {
					s.doBooking(ctx, rng)
				} else {
					s.doCreateSession(ctx, rng)
				}
			default:
				switch rng.Intn(3) {
				case 0:
					s.doListPatients(ctx)
				case 1:
					s.doGetPatient(ctx, rng)
				case 2:
					s.doStats(ctx)
				}
			}
		}
	}
}

func (s *Simulator) doCreatePatient(ctx context.Context) {
	s.timed(&s.metrics.CreatePatient, func() (int, error) {
		var created struct {
			ID string `json:"id"`
		}
		status, err := s.call(ctx, http.MethodPost, "/api/patients", map[string]any{
			"full_name":   gofakeit.Name(),
			"national_id": strconv.Itoa(gofakeit.Number(10000000, 49999999)),
			"phone":       gofakeit.Phone(),
			"email":       gofakeit.Email(),
		}, &created)
		if err == nil && created.ID != "" {
			s.pool.add(&s.pool.patients, created.ID)
		}
		return status, err
	}, http.StatusCreated)
}

func (s *Simulator) doCreateSession(ctx context.Context, rng *rand.Rand) {
	patientID, ok := s.pool.random(&s.pool.patients, rng)
	if !ok {
		return
	}
	s.timed(&s.metrics.CreateSession, func() (int, error) {
		return s.call(ctx, http.MethodPost, "/api/sessions", map[string]any{
			"patient_id": patientID,
			"visit_date": time.Now().AddDate(0, 0, -rng.Intn(365)).Format("2006-01-02"),
			"treatment":  gofakeit.RandomString([]string{"Peeling químico", "Toxina botulínica", "Crioterapia", "Láser fraccionado"}),
		}, nil)
	}, http.StatusCreated)
}

// doBooking schedules on half-hour boundaries in the next two weeks so some
// requests overlap and exercise the conflict report.
func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	patientID, ok := s.pool.random(&s.pool.patients, rng)
	if !ok {
		return
	}
	day := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, 1+rng.Intn(14))
	start := day.Add(time.Duration(9*60+30*rng.Intn(18)) * time.Minute)

	s.timed(&s.metrics.Booking, func() (int, error) {
		var created struct {
			Appointment struct {
				ID string `json:"id"`
			} `json:"appointment"`
			Conflicts []json.RawMessage `json:"conflicts"`
		}
		status, err := s.call(ctx, http.MethodPost, "/api/appointments", map[string]any{
			"patient_id":       patientID,
			"starts_at":        start.Format(time.RFC3339),
			"duration_minutes": 30 * (1 + rng.Intn(3)),
		}, &created)
		if err == nil && created.Appointment.ID != "" {
			s.pool.add(&s.pool.appointments, created.Appointment.ID)
			if len(created.Conflicts) > 0 {
				// booked with a warning, count it with the conflicts
				return http.StatusConflict, nil
			}
		}
		return status, err
	}, http.StatusCreated)
}

func (s *Simulator) doListPatients(ctx context.Context) {
	s.timed(&s.metrics.ListPatients, func() (int, error) {
		return s.call(ctx, http.MethodGet, "/api/patients?q="+string(rune('a'+rand.Intn(26))), nil, nil)
	}, http.StatusOK)
}

func (s *Simulator) doGetPatient(ctx context.Context, rng *rand.Rand) {
	patientID, ok := s.pool.random(&s.pool.patients, rng)
	if !ok {
		return
	}
	s.timed(&s.metrics.GetPatient, func() (int, error) {
		return s.call(ctx, http.MethodGet, "/api/patients/"+patientID, nil, nil)
	}, http.StatusOK)
}

func (s *Simulator) doStats(ctx context.Context) {
	s.timed(&s.metrics.Stats, func() (int, error) {
		return s.call(ctx, http.MethodGet, "/api/dashboard/stats", nil, nil)
	}, http.StatusOK)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Mode: %s\n", map[bool]string{true: "cloud", false: "local"}[s.cloud])
	fmt.Println()

	printOperationReport("Create patient", &s.metrics.CreatePatient)
	printOperationReport("Create session", &s.metrics.CreateSession)
	printOperationReport("Book appointment", &s.metrics.Booking)
	printOperationReport("List patients", &s.metrics.ListPatients)
	printOperationReport("Get patient", &s.metrics.GetPatient)
	printOperationReport("Dashboard stats", &s.metrics.Stats)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
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
