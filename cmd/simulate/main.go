package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	HotSlots     int // how many slots every worker fights over
	CancelRatio  float64
	ReadRatio    float64
	PatientLimit int
	JWTSecret    string
	Location     *time.Location
}

type patient struct {
	ID    uuid.UUID
	Email string
	Name  string
	Token string
}

type openSlot struct {
	DoctorID  uuid.UUID
	ServiceID uuid.UUID
	StartAt   time.Time
}

type DataPool struct {
	Patients     []patient
	Slots        []openSlot
	mu           sync.Mutex
	appointments map[uuid.UUID]patient
	booked       map[string]int
}

func (dp *DataPool) AddAppointment(id uuid.UUID, p patient, slotKey string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments[id] = p
	dp.booked[slotKey]++
}

func (dp *DataPool) TakeAppointment(f *gofakeit.Faker) (uuid.UUID, patient, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, patient{}, false
	}
	skip := f.Number(0, len(dp.appointments)-1)
	for id, p := range dp.appointments {
		if skip == 0 {
			delete(dp.appointments, id)
			return id, p, true
		}
		skip--
	}
	return uuid.Nil, patient{}, false
}

func (dp *DataPool) PeekAppointment(f *gofakeit.Faker) (uuid.UUID, patient, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, patient{}, false
	}
	skip := f.Number(0, len(dp.appointments)-1)
	for id, p := range dp.appointments {
		if skip == 0 {
			return id, p, true
		}
		skip--
	}
	return uuid.Nil, patient{}, false
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, okStatus int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status == okStatus:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.Latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pick := func(pct int) time.Duration {
		idx := len(latencies) * pct / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return sum / time.Duration(len(latencies)), pick(50), pick(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Booking OperationMetrics
	Cancel  OperationMetrics
	Read    OperationMetrics
	Ratings OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(baseCfg.Env, baseCfg.LogLevel).With().Str("service", "simulate").Logger()

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}
	log.Info().Int("patients", len(dataPool.Patients)).Int("hot_slots", len(dataPool.Slots)).Msg("data loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
	sim.Run()
	sim.PrintReport()
}

func loadConfig(base config.Config) SimConfig {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("SIM_API_BASE_URL", "http://localhost:"+base.HTTPPort)
	v.SetDefault("SIM_DURATION", 30*time.Second)
	v.SetDefault("SIM_WORKERS", 20)
	v.SetDefault("SIM_HOT_SLOTS", 5)
	v.SetDefault("SIM_CANCEL_RATIO", 0.1)
	v.SetDefault("SIM_READ_RATIO", 0.3)
	v.SetDefault("SIM_PATIENT_LIMIT", 500)

	return SimConfig{
		APIBaseURL:   strings.TrimRight(v.GetString("SIM_API_BASE_URL"), "/"),
		Duration:     v.GetDuration("SIM_DURATION"),
		Workers:      v.GetInt("SIM_WORKERS"),
		HotSlots:     v.GetInt("SIM_HOT_SLOTS"),
		CancelRatio:  v.GetFloat64("SIM_CANCEL_RATIO"),
		ReadRatio:    v.GetFloat64("SIM_READ_RATIO"),
		PatientLimit: v.GetInt("SIM_PATIENT_LIMIT"),
		JWTSecret:    base.JWTSecret,
		Location:     base.Location,
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required to mint patient tokens")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.HotSlots <= 0 {
		return fmt.Errorf("SIM_HOT_SLOTS must be > 0")
	}
	if cfg.CancelRatio+cfg.ReadRatio >= 1 {
		return fmt.Errorf("SIM_CANCEL_RATIO + SIM_READ_RATIO must leave room for bookings")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dp := &DataPool{appointments: map[uuid.UUID]patient{}, booked: map[string]int{}}

	rows, err := pool.Query(ctx, `SELECT id, email, name FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var p patient
		if err := rows.Scan(&p.ID, &p.Email, &p.Name); err != nil {
			rows.Close()
			return nil, err
		}
		p.Token, err = auth.Issue(cfg.JWTSecret, auth.Identity{UserID: p.ID, Role: auth.RolePatient, Email: p.Email, Name: p.Name}, cfg.Duration+time.Hour)
		if err != nil {
			rows.Close()
			return nil, err
		}
		dp.Patients = append(dp.Patients, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}

	// A handful of soon-starting open slots, each with a 30 minute service the
	// doctor offers, so every booking races for the same few rows.
	rows, err = pool.Query(ctx, `
		SELECT s.doctor_id, ds.service_id, s.start_at
		FROM slots s
		JOIN doctor_services ds ON ds.doctor_id = s.doctor_id
		JOIN services sv ON sv.id = ds.service_id AND sv.duration_minutes = 30
		WHERE s.status = 'AVAILABLE' AND s.start_at > now() + interval '1 hour'
		ORDER BY s.start_at
		LIMIT $1
	`, cfg.HotSlots)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	for rows.Next() {
		var s openSlot
		if err := rows.Scan(&s.DoctorID, &s.ServiceID, &s.StartAt); err != nil {
			rows.Close()
			return nil, err
		}
		dp.Slots = append(dp.Slots, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}

	if len(dp.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run the seed command first")
	}
	if len(dp.Slots) == 0 {
		return nil, fmt.Errorf("no open slots loaded, run the seed command first")
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()

	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	f := gofakeit.New(uint64(time.Now().UnixNano()) + uint64(workerID))

	for ctx.Err() == nil {
		r := f.Float64()
		switch {
		case r < s.config.CancelRatio:
			s.doCancel(ctx, f)
		case r < s.config.CancelRatio+s.config.ReadRatio:
			if f.Bool() {
				s.doRead(ctx, f)
			} else {
				s.doRatings(ctx)
			}
		default:
			s.doBooking(ctx, f)
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, f *gofakeit.Faker) {
	slot := s.pool.Slots[f.Number(0, len(s.pool.Slots)-1)]
	p := s.pool.Patients[f.Number(0, len(s.pool.Patients)-1)]

	body, _ := json.Marshal(map[string]string{
		"doctor_id":  slot.DoctorID.String(),
		"service_id": slot.ServiceID.String(),
		"date":       slot.StartAt.In(s.config.Location).Format("2006-01-02"),
		"start_time": slot.StartAt.In(s.config.Location).Format("15:04"),
	})

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	status, latency := s.call(ctx, http.MethodPost, "/appointments", p.Token, body, &created)
	if status == http.StatusCreated && created.ID != uuid.Nil {
		s.pool.AddAppointment(created.ID, p, slot.DoctorID.String()+"@"+slot.StartAt.UTC().Format(time.RFC3339))
	}
	s.metrics.Booking.Record(latency, status, http.StatusCreated)
}

func (s *Simulator) doCancel(ctx context.Context, f *gofakeit.Faker) {
	id, p, ok := s.pool.TakeAppointment(f)
	if !ok {
		return
	}
	status, latency := s.call(ctx, http.MethodPost, "/appointments/"+id.String()+"/cancel", p.Token, nil, nil)
	s.metrics.Cancel.Record(latency, status, http.StatusOK)
}

func (s *Simulator) doRead(ctx context.Context, f *gofakeit.Faker) {
	id, p, ok := s.pool.PeekAppointment(f)
	if !ok {
		return
	}
	status, latency := s.call(ctx, http.MethodGet, "/appointments/"+id.String(), p.Token, nil, nil)
	s.metrics.Read.Record(latency, status, http.StatusOK)
}

func (s *Simulator) doRatings(ctx context.Context) {
	status, latency := s.call(ctx, http.MethodGet, "/ratings", "", nil, nil)
	s.metrics.Ratings.Record(latency, status, http.StatusOK)
}

// call returns the response status, or 0 when the request itself failed.
func (s *Simulator) call(ctx context.Context, method, path, token string, body []byte, out any) (int, time.Duration) {
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, 0
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency
	}
	defer resp.Body.Close()

	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, latency
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Hot slots: %d\n\n", len(s.pool.Slots))

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.Read)
	printOperationReport("Ratings", &s.metrics.Ratings)

	s.pool.mu.Lock()
	defer s.pool.mu.Unlock()
	fmt.Println("Bookings per slot (including later-cancelled ones):")
	for key, n := range s.pool.booked {
		fmt.Printf("  %s: %d\n", key, n)
	}
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

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
}
