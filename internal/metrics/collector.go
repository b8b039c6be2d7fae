package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector records bridge, cache, lock and drive measurements into a
// private prometheus registry and serves them over HTTP.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *zap.Logger

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationSize     *prometheus.HistogramVec
	cacheCounter      *prometheus.CounterVec
	errorCounter      *prometheus.CounterVec
	lockCounter       *prometheus.CounterVec
	driveStatus       *prometheus.GaugeVec

	operations map[string]*OperationMetrics
	drives     map[string]int
	lastReset  time.Time

	server   *http.Server
	listener net.Listener
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// OperationMetrics tracks one callback operation.
type OperationMetrics struct {
	Count         int64            `json:"count"`
	Failures      int64            `json:"failures"`
	TotalDuration time.Duration    `json:"total_duration"`
	TotalSize     int64            `json:"total_size"`
	AvgDuration   time.Duration    `json:"avg_duration"`
	LastOperation time.Time        `json:"last_operation"`
	Statuses      map[string]int64 `json:"statuses"`
}

// DefaultConfig returns the collector defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "sshfs",
	}
}

// NewCollector creates a collector. A nil config uses DefaultConfig; a
// disabled one yields a collector that records nothing.
func NewCollector(config *Config, logger *zap.Logger) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Collector{
		config:     config,
		logger:     logger,
		operations: make(map[string]*OperationMetrics),
		drives:     make(map[string]int),
		lastReset:  time.Now(),
	}
	if !config.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return c, nil
}

// Registry exposes the underlying registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Start serves the metrics endpoint and /health on the configured port.
// Port 0 picks a free port; Addr reports it.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", c.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen for metrics: %w", err)
	}

	c.mu.Lock()
	c.listener = ln
	c.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv := c.server
	c.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	c.logger.Info("metrics server listening", zap.String("addr", ln.Addr().String()), zap.String("path", c.config.Path))
	return nil
}

// Addr returns the listening address once Start succeeded.
func (c *Collector) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop shuts the HTTP server down.
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	srv := c.server
	c.server = nil
	c.listener = nil
	c.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// RecordOperation records one callback and the NT status it returned.
func (c *Collector) RecordOperation(operation string, status string, duration time.Duration, size int64) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	m, ok := c.operations[operation]
	if !ok {
		m = &OperationMetrics{Statuses: make(map[string]int64)}
		c.operations[operation] = m
	}
	m.Count++
	m.TotalDuration += duration
	m.TotalSize += size
	m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
	m.LastOperation = time.Now()
	m.Statuses[status]++
	if status != "Success" {
		m.Failures++
	}
	c.mu.Unlock()

	c.operationCounter.With(prometheus.Labels{"operation": operation, "status": status}).Inc()
	c.operationDuration.With(prometheus.Labels{"operation": operation}).Observe(duration.Seconds())
	if size > 0 {
		c.operationSize.With(prometheus.Labels{"operation": operation}).Observe(float64(size))
	}
}

// RecordCacheHit records a hit for one cache kind.
func (c *Collector) RecordCacheHit(kind string) {
	if !c.config.Enabled {
		return
	}
	c.cacheCounter.With(prometheus.Labels{"kind": kind, "result": "hit"}).Inc()
}

// RecordCacheMiss records a miss for one cache kind.
func (c *Collector) RecordCacheMiss(kind string) {
	if !c.config.Enabled {
		return
	}
	c.cacheCounter.With(prometheus.Labels{"kind": kind, "result": "miss"}).Inc()
}

// RecordError records an error
func (c *Collector) RecordError(operation string, err error) {
	if !c.config.Enabled || err == nil {
		return
	}
	c.errorCounter.With(prometheus.Labels{
		"operation": operation,
		"type":      classifyError(err),
	}).Inc()
}

// RecordLockRequest records one lock service round trip.
func (c *Collector) RecordLockRequest(op string, outcome string) {
	if !c.config.Enabled {
		return
	}
	c.lockCounter.With(prometheus.Labels{"op": op, "outcome": outcome}).Inc()
}

// SetDriveStatus publishes the lifecycle state of a drive.
func (c *Collector) SetDriveStatus(drive string, status int) {
	if !c.config.Enabled {
		return
	}
	c.mu.Lock()
	c.drives[drive] = status
	c.mu.Unlock()
	c.driveStatus.With(prometheus.Labels{"drive": drive}).Set(float64(status))
}

// GetMetrics returns a snapshot of the per-operation counters.
func (c *Collector) GetMetrics() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[string]*OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		cp := *v
		cp.Statuses = make(map[string]int64, len(v.Statuses))
		for s, n := range v.Statuses {
			cp.Statuses[s] = n
		}
		operations[k] = &cp
	}
	drives := make(map[string]int, len(c.drives))
	for k, v := range c.drives {
		drives[k] = v
	}

	return map[string]interface{}{
		"operations": operations,
		"drives":     drives,
		"last_reset": c.lastReset,
		"uptime":     time.Since(c.lastReset),
	}
}

// ResetMetrics clears the snapshot counters. Prometheus series are kept.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() {
	ns, sub := c.config.Namespace, c.config.Subsystem

	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "operations_total",
			Help:      "Total number of filesystem callbacks by returned status",
		},
		[]string{"operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "operation_duration_seconds",
			Help:      "Duration of filesystem callbacks in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16), // 0.5ms to ~16s
		},
		[]string{"operation"},
	)

	c.operationSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "operation_size_bytes",
			Help:      "Bytes moved by read and write callbacks",
			Buckets:   prometheus.ExponentialBuckets(512, 2, 16), // 512B to ~16MB
		},
		[]string{"operation"},
	)

	c.cacheCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "cache_requests_total",
			Help:      "Attribute and directory cache lookups",
		},
		[]string{"kind", "result"},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "errors_total",
			Help:      "Failures logged at the callback boundary",
		},
		[]string{"operation", "type"},
	)

	c.lockCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "lock_requests_total",
			Help:      "Write-lock service round trips by outcome",
		},
		[]string{"op", "outcome"},
	)

	c.driveStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "drive_status",
			Help:      "Drive lifecycle state: 0 unmounted, 1 mounting, 2 mounted, 3 unmounting",
		},
		[]string{"drive"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.operationSize,
		c.cacheCounter,
		c.errorCounter,
		c.lockCounter,
		c.driveStatus,
	}
	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}

func classifyError(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "connection"), strings.Contains(msg, "eof"):
		return "connection"
	case strings.Contains(msg, "not exist"), strings.Contains(msg, "not found"):
		return "not_found"
	case strings.Contains(msg, "permission"):
		return "permission"
	default:
		return "other"
	}
}

// healthHandler reports ok while at least one drive is mounted, or no
// drive has reported yet.
func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	drives := make(map[string]int, len(c.drives))
	healthy := len(c.drives) == 0
	for name, st := range c.drives {
		drives[name] = st
		if st == 2 {
			healthy = true
		}
	}
	c.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	status := "healthy"
	if !healthy {
		status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  status,
		"service": "sshfs",
		"drives":  drives,
	})
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain")
	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("Uptime: %v\n\n", time.Since(c.lastReset).Round(time.Second))
	if len(c.operations) == 0 {
		writef("No operations recorded.\n")
		return
	}

	writef("%-24s %10s %10s %14s\n", "Operation", "Count", "Failures", "Avg Duration")
	for name, op := range c.operations {
		writef("%-24s %10d %10d %14v\n", name, op.Count, op.Failures, op.AvgDuration)
	}
}
