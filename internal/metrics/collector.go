package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fusekv/fusekv/internal/store"
	kverrors "github.com/fusekv/fusekv/pkg/errors"
	"github.com/fusekv/fusekv/pkg/utils"
)

// HealthSource reports the store connection for /health.
// *store.Manager implements it.
type HealthSource interface {
	Stats() store.Stats
}

// Collector exports fusekv metrics on a private registry. It implements
// the observer interfaces of the dispatcher, the store manager, the
// listing limiter and the raw channel.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	health   HealthSource
	logger   *utils.StructuredLogger

	// Prometheus metrics
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesCounter      *prometheus.CounterVec
	failoverCounter   prometheus.Counter
	stateGauge        *prometheus.GaugeVec
	truncatedCounter  prometheus.Counter
	rawCounter        *prometheus.CounterVec

	// Internal tracking
	operations map[string]*OperationMetrics
	lastReset  time.Time

	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// OperationMetrics tracks metrics for a specific operation type
type OperationMetrics struct {
	Count         int64         `json:"count"`
	Errors        int64         `json:"errors"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	LastOperation time.Time     `json:"last_operation"`
}

// NewCollector creates a new metrics collector. A disabled collector
// accepts every observation and records nothing.
func NewCollector(config *Config, health HealthSource, logger *utils.StructuredLogger) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Address:   ":9310",
			Path:      "/metrics",
			Namespace: "fusekv",
		}
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.Namespace == "" {
		config.Namespace = "fusekv"
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	collector := &Collector{
		config:     config,
		health:     health,
		logger:     logger.WithComponent("metrics"),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}
	if !config.Enabled {
		return collector, nil
	}

	collector.registry = prometheus.NewRegistry()
	collector.initMetrics()
	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return collector, nil
}

// SetHealthSource sets the source reported by /health. The store manager
// takes the collector as its observer, so it is attached after construction.
func (c *Collector) SetHealthSource(health HealthSource) {
	c.mu.Lock()
	c.health = health
	c.mu.Unlock()
}

// Enabled reports whether observations are recorded.
func (c *Collector) Enabled() bool {
	return c.config.Enabled
}

// Handler returns the HTTP handler serving /metrics, /health and
// /debug/operations.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.config.Enabled {
		mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)
	return mux
}

// Start listens on the configured address and serves Handler in the
// background.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	listener, err := net.Listen("tcp", c.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.config.Address, err)
	}

	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	c.logger.Info("Metrics server listening", map[string]interface{}{
		"address": listener.Addr().String(),
	})
	go func() {
		if err := c.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("Metrics server error", map[string]interface{}{
				"error": err,
			})
		}
	}()
	return nil
}

// Stop stops the metrics collection server
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// OperationCompleted records one dispatched filesystem operation.
func (c *Collector) OperationCompleted(op string, err error, elapsed time.Duration) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	m, ok := c.operations[op]
	if !ok {
		m = &OperationMetrics{}
		c.operations[op] = m
	}
	m.Count++
	m.TotalDuration += elapsed
	m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
	m.LastOperation = time.Now()
	if err != nil {
		m.Errors++
	}
	c.mu.Unlock()

	c.operationCounter.With(prometheus.Labels{
		"operation": op,
		"result":    resultLabel(err),
	}).Inc()
	c.operationDuration.With(prometheus.Labels{
		"operation": op,
	}).Observe(elapsed.Seconds())
}

// BytesTransferred counts payload bytes read from or written to the store.
func (c *Collector) BytesTransferred(direction string, n int) {
	if !c.config.Enabled || n <= 0 {
		return
	}
	c.bytesCounter.With(prometheus.Labels{"direction": direction}).Add(float64(n))
}

// StoreStateChanged marks state as the current connection state.
func (c *Collector) StoreStateChanged(state store.State) {
	if !c.config.Enabled {
		return
	}
	for _, s := range store.States() {
		value := 0.0
		if s == state {
			value = 1
		}
		c.stateGauge.With(prometheus.Labels{"state": s.String()}).Set(value)
	}
}

// StoreFailover counts a master rediscovery.
func (c *Collector) StoreFailover() {
	if !c.config.Enabled {
		return
	}
	c.failoverCounter.Inc()
}

// ListingTruncated counts a listing that stopped at its cap.
func (c *Collector) ListingTruncated() {
	if !c.config.Enabled {
		return
	}
	c.truncatedCounter.Inc()
}

// RawCommand counts a submitted raw command by outcome.
func (c *Collector) RawCommand(result string) {
	if !c.config.Enabled {
		return
	}
	c.rawCounter.With(prometheus.Labels{"result": result}).Inc()
}

// GetOperations returns a copy of the per-operation tracking.
func (c *Collector) GetOperations() map[string]OperationMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		out[k] = *v
	}
	return out
}

// ResetMetrics resets the internal per-operation tracking. Prometheus
// counters are monotonic and keep their values.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(string(kverrors.CodeOf(err)))
}

func (c *Collector) initMetrics() {
	ns := c.config.Namespace

	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "operations_total",
			Help:      "Total number of filesystem operations by result",
		},
		[]string{"operation", "result"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "operation_duration_seconds",
			Help:      "Duration of filesystem operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16), // 100µs to ~3s
		},
		[]string{"operation"},
	)

	c.bytesCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "bytes_total",
			Help:      "Payload bytes transferred through the filesystem",
		},
		[]string{"direction"},
	)

	c.failoverCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "store_failovers_total",
			Help:      "Number of master rediscoveries",
		},
	)

	c.stateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "store_state",
			Help:      "Current store connection state (1 for the active state)",
		},
		[]string{"state"},
	)

	c.truncatedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "listing_truncated_total",
			Help:      "Number of directory listings cut off at their cap",
		},
	)

	c.rawCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "raw_commands_total",
			Help:      "Raw commands submitted by outcome",
		},
		[]string{"result"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.bytesCounter,
		c.failoverCounter,
		c.stateGauge,
		c.truncatedCounter,
		c.rawCounter,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}

// HTTP handlers

type healthResponse struct {
	Status string      `json:"status"`
	Store  store.Stats `json:"store"`
}

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	health := c.health
	c.mu.RUnlock()

	resp := healthResponse{Status: "unknown"}
	code := http.StatusServiceUnavailable
	if health != nil {
		resp.Store = health.Stats()
		if resp.Store.Connected {
			resp.Status = "healthy"
			code = http.StatusOK
		} else {
			resp.Status = "unhealthy"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain")

	// Helper to avoid errcheck issues
	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("fusekv Operations Summary\n")
	writef("=========================\n\n")
	writef("Uptime: %v\n", time.Since(c.lastReset).Truncate(time.Second))
	writef("Last Reset: %v\n\n", c.lastReset.Format(time.RFC3339))

	if len(c.operations) == 0 {
		writef("No operations recorded.\n")
		return
	}

	names := make([]string, 0, len(c.operations))
	for name := range c.operations {
		names = append(names, name)
	}
	sort.Strings(names)

	writef("%-12s %10s %10s %14s %10s\n", "Operation", "Count", "Errors", "Avg Duration", "Last Op")
	writef("%-12s %10s %10s %14s %10s\n", "---------", "-----", "------", "------------", "-------")
	for _, name := range names {
		op := c.operations[name]
		writef("%-12s %10d %10d %14v %10s\n",
			name, op.Count, op.Errors, op.AvgDuration, op.LastOperation.Format("15:04:05"))
	}
}
