package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"procodus.dev/health-dashboard/pkg/generator"
	"procodus.dev/health-dashboard/pkg/metrics"
	"procodus.dev/health-dashboard/pkg/vitals"
)

const (
	// DefaultResults is what the channel API returns without results or a range.
	DefaultResults = 100
	// MaxResults caps any single response.
	MaxResults = 8000

	defaultCapacity = MaxResults
)

var (
	errInvalidInterval = errors.New("interval must be greater than 0")
	errLoggerRequired  = errors.New("logger cannot be nil")
	errNoChannels      = errors.New("at least one channel is required")
)

// ServerConfig holds the configuration for the simulator.
type ServerConfig struct {
	Logger *slog.Logger

	// HTTPPort serves the channel API.
	HTTPPort int

	// Channels are served with their given credentials. ChannelCount more are
	// generated with random ones.
	Channels     []generator.Channel
	ChannelCount int

	// Interval between generated readings per channel.
	Interval time.Duration
	// History is the number of readings backfilled at startup.
	History int
	// Capacity bounds the readings kept per channel. Zero means MaxResults.
	Capacity int

	// Seed makes generated data reproducible. Zero picks a random seed.
	Seed    uint64
	Profile generator.Profile

	// Metrics is optional.
	Metrics *metrics.SimulatorMetrics
}

// Server generates readings and serves them per channel.
type Server struct {
	logger     *slog.Logger
	config     *ServerConfig
	channels   map[string]*Channel
	order      []*Channel
	httpServer *http.Server
	metrics    *metrics.SimulatorMetrics
	wg         sync.WaitGroup
	now        func() time.Time
}

// NewServer creates the simulator and backfills every channel's history.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("simulator config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}

	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}

	if len(cfg.Channels)+cfg.ChannelCount <= 0 {
		return nil, errNoChannels
	}

	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}

	s := &Server{
		logger:   cfg.Logger,
		config:   cfg,
		channels: make(map[string]*Channel),
		metrics:  cfg.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}

	gen := generator.New(cfg.Seed)
	specs := append([]generator.Channel(nil), cfg.Channels...)
	for range cfg.ChannelCount {
		specs = append(specs, gen.Channel())
	}

	now := s.now()
	backfillFrom := now.Add(-time.Duration(cfg.History) * cfg.Interval)
	for i, spec := range specs {
		if spec.ID == "" || spec.ReadKey == "" {
			return nil, fmt.Errorf("channel %d: id and read key are required", i)
		}
		if _, ok := s.channels[spec.ID]; ok {
			return nil, fmt.Errorf("duplicate channel id %q", spec.ID)
		}

		ch := newChannel(spec.ID, spec.ReadKey, "Patient monitor "+spec.ID, gen.Vitals(cfg.Profile), capacity, backfillFrom)
		for j := 1; j <= cfg.History; j++ {
			ch.Append(backfillFrom.Add(time.Duration(j) * cfg.Interval))
		}
		s.channels[spec.ID] = ch
		s.order = append(s.order, ch)

		s.logger.Info("simulated channel ready",
			"channel_id", ch.ID,
			"read_key", ch.ReadKey,
			"readings", cfg.History,
		)
	}

	if s.metrics != nil {
		s.metrics.Channels.Set(float64(len(s.order)))
		s.metrics.ReadingsGenerated.Add(float64(len(s.order) * cfg.History))
	}

	return s, nil
}

// Channels returns the simulated channels in creation order.
func (s *Server) Channels() []*Channel {
	return append([]*Channel(nil), s.order...)
}

// Handler returns the channel API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /channels/{id}/feeds.json", s.handleFeeds)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Run serves the API and generates readings until ctx ends or a signal arrives.
func (s *Server) Run(ctx context.Context) error {
	if s.config.HTTPPort <= 0 {
		return errors.New("HTTP port must be positive")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	s.wg.Add(1)
	go s.generate(ctx)

	s.logger.Info("simulator started",
		"address", s.httpServer.Addr,
		"channels", len(s.order),
		"interval", s.config.Interval,
	)

	var runErr error
	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
	case err := <-httpErr:
		runErr = err
	}

	cancel()
	s.wg.Wait()

	if err := s.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	s.logger.Info("simulator stopped")
	return runErr
}

// generate appends one reading per channel every interval.
func (s *Server) generate(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick appends one reading to every channel.
func (s *Server) Tick() {
	now := s.now()
	for _, ch := range s.order {
		r := ch.Append(now)
		s.logger.Debug("reading generated", "channel_id", ch.ID, "entry_id", r.EntryID)
	}
	if s.metrics != nil {
		s.metrics.ReadingsGenerated.Add(float64(len(s.order)))
	}
}

// Shutdown stops the HTTP server.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	return nil
}

// handleFeeds answers like ThingSpeak: "-1" for an unknown channel or key.
func (s *Server) handleFeeds(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.channels[r.PathValue("id")]
	if !ok {
		s.reject(w, http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	if q.Get("api_key") != ch.ReadKey {
		s.reject(w, http.StatusBadRequest)
		return
	}

	start, err := parseBound(q.Get("start"))
	if err != nil {
		s.reject(w, http.StatusBadRequest)
		return
	}
	end, err := parseBound(q.Get("end"))
	if err != nil {
		s.reject(w, http.StatusBadRequest)
		return
	}

	results := DefaultResults
	if !start.IsZero() || !end.IsZero() {
		results = MaxResults
	}
	if raw := q.Get("results"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.reject(w, http.StatusBadRequest)
			return
		}
		results = min(n, MaxResults)
	}

	readings := ch.Query(start, end, results)
	feeds := make([]map[string]any, 0, len(readings))
	for _, reading := range readings {
		feeds = append(feeds, feedEntry(reading))
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"channel": ch.info(s.now()),
		"feeds":   feeds,
	}); err != nil {
		s.logger.Error("failed to write feed", "channel_id", ch.ID, "error", err)
	}
	s.count(http.StatusOK)
}

func (s *Server) reject(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte("-1"))
	s.count(code)
}

func (s *Server) count(code int) {
	if s.metrics != nil {
		s.metrics.FeedRequests.WithLabelValues(strconv.Itoa(code)).Inc()
	}
}

// parseBound reads a start or end parameter, UTC. Empty means unbounded.
func parseBound(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(vitals.SourceLayout, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
