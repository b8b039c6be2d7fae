// Package writelock coordinates advisory write locks with a remote lock
// service while files are being extended.
package writelock

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	stderr "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sshfs/sshfs/internal/circuit"
	"github.com/sshfs/sshfs/pkg/errors"
	"github.com/sshfs/sshfs/pkg/retry"
	"github.com/sshfs/sshfs/pkg/types"
)

const (
	OpLock   = "lock"
	OpUnlock = "unlock"
)

// Config configures the lock service client of one volume.
type Config struct {
	Enabled            bool
	Scheme             string
	Host               string
	Port               int
	RequestTimeout     time.Duration
	InsecureSkipVerify bool
	// Concurrency bounds in-flight requests.
	Concurrency int

	Retry   retry.Config
	Breaker circuit.Config
}

// DefaultConfig returns a disabled configuration with production defaults.
func DefaultConfig() Config {
	return Config{
		Scheme:         "https",
		Port:           8443,
		RequestTimeout: 10 * time.Second,
		Concurrency:    8,
		Retry:          retry.DefaultConfig(),
		Breaker:        circuit.DefaultConfig(),
	}
}

// FailureFunc is called when a request gives up after its retries.
type FailureFunc func(file, op string, err error)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger; the default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithMetrics sets the collector receiving per-request outcomes.
func WithMetrics(m types.MetricsCollector) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Coordinator) { c.client = client }
}

// WithBreakers draws the breaker from m, so coordinators talking to the
// same lock service share one.
func WithBreakers(m *circuit.Manager) Option {
	return func(c *Coordinator) { c.breakers = m }
}

// OnFailure registers the exhaustion callback.
func OnFailure(fn FailureFunc) Option {
	return func(c *Coordinator) { c.onFailure = fn }
}

// Coordinator tracks PendingWrites and sends lock/unlock requests without
// blocking the caller. An unlock for a path is only sent after that path's
// lock request has settled.
type Coordinator struct {
	config    Config
	baseURL   string
	client    *http.Client
	retryer   *retry.Retryer
	breaker   *circuit.Breaker
	breakers  *circuit.Manager
	logger    *zap.Logger
	metrics   types.MetricsCollector
	onFailure FailureFunc

	pending *pendingTable

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
	queued sync.WaitGroup

	closeMu sync.RWMutex
	closed  bool
}

// New creates a coordinator. With Enabled false it only keeps bookkeeping.
func New(config Config, opts ...Option) *Coordinator {
	def := DefaultConfig()
	if config.Scheme == "" {
		config.Scheme = def.Scheme
	}
	if config.Port == 0 {
		config.Port = def.Port
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = def.RequestTimeout
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		config:  config,
		baseURL: fmt.Sprintf("%s://%s/fileState/", config.Scheme, net.JoinHostPort(config.Host, strconv.Itoa(config.Port))),
		logger:  zap.NewNop(),
		metrics: types.NopCollector{},
		pending: newPendingTable(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.client == nil {
		c.client = &http.Client{
			Timeout: config.RequestTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion:         tls.VersionTLS12,
					InsecureSkipVerify: config.InsecureSkipVerify, // #nosec G402 -- opt-in for self-signed lock services
				},
			},
		}
	}

	name := "lock:" + net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	if c.breakers != nil {
		c.breaker = c.breakers.Get(name)
	} else {
		c.breaker = circuit.New(name, config.Breaker)
	}
	retryConfig := config.Retry
	retryConfig.RetryIf = func(err error) bool {
		return !stderr.Is(err, context.Canceled)
	}
	retryConfig.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Warn("lock service request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
	c.retryer = retry.New(retryConfig)
	c.group.SetLimit(config.Concurrency)
	return c
}

// Enabled reports whether requests are actually sent.
func (c *Coordinator) Enabled() bool { return c.config.Enabled }

// Begin registers a PendingWrite for path and requests the lock. It returns
// false, sending nothing, when one is already registered.
func (c *Coordinator) Begin(path string, length int64) bool {
	pw, added := c.pending.add(path, length)
	if !added {
		return false
	}
	c.logger.Debug("pending write registered", zap.String("path", path), zap.Int64("length", length))
	if !c.dispatch(nil, func(ctx context.Context) {
		defer close(pw.settled)
		c.request(ctx, OpLock, path)
	}) {
		close(pw.settled)
	}
	return true
}

// Pending returns the declared length for path.
func (c *Coordinator) Pending(path string) (int64, bool) {
	return c.pending.get(path)
}

// Reached is called after a write ending at end. When end reaches the
// declared length the entry is removed and the unlock requested.
func (c *Coordinator) Reached(path string, end int64) bool {
	pw, ok := c.pending.takeIf(path, func(pw *PendingWrite) bool { return end >= pw.Length })
	if !ok {
		return false
	}
	c.release(pw)
	return true
}

// Finish ends the pending write of path regardless of length.
func (c *Coordinator) Finish(path string) bool {
	pw, ok := c.pending.takeIf(path, func(*PendingWrite) bool { return true })
	if !ok {
		return false
	}
	c.release(pw)
	return true
}

func (c *Coordinator) release(pw *PendingWrite) {
	c.logger.Debug("pending write completed", zap.String("path", pw.Path))
	c.dispatch(pw.settled, func(ctx context.Context) {
		c.request(ctx, OpUnlock, pw.Path)
	})
}

// dispatch runs fn on the bounded group without blocking the caller. When
// after is non-nil, fn only takes a slot once after is closed, so a waiting
// unlock never holds a slot its lock needs.
func (c *Coordinator) dispatch(after <-chan struct{}, fn func(ctx context.Context)) bool {
	if !c.config.Enabled {
		return false
	}
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		return false
	}

	task := func() error {
		fn(c.ctx)
		return nil
	}
	if after == nil && c.group.TryGo(task) {
		return true
	}
	c.queued.Add(1)
	go func() {
		defer c.queued.Done()
		if after != nil {
			select {
			case <-after:
			case <-c.ctx.Done():
				return
			}
		}
		c.group.Go(task)
	}()
	return true
}

func (c *Coordinator) request(ctx context.Context, op, path string) {
	file := strings.TrimPrefix(path, "/")
	err := c.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		return c.breaker.Do(ctx, func(ctx context.Context) error {
			return c.send(ctx, op, file)
		})
	})
	if err == nil {
		return
	}

	c.metrics.RecordLockRequest(op, "exhausted")
	c.logger.Error("lock service request abandoned",
		zap.String("op", op),
		zap.String("file", file),
		zap.Error(err))
	if c.onFailure != nil {
		c.onFailure(file, op, err)
	}
}

type lockRequest struct {
	File string `json:"file"`
}

func (c *Coordinator) send(ctx context.Context, op, file string) error {
	body, err := json.Marshal(lockRequest{File: file})
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternalError, "failed to encode lock request", err).WithRetryable(false)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+op, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternalError, "failed to build lock request", err).WithRetryable(false)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.RecordLockRequest(op, "failure")
		return errors.Wrap(errors.ErrCodeLockUnavailable, "lock service unreachable", err).
			WithComponent("writelock").
			WithOperation(op).
			WithContext("file", file)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.RecordLockRequest(op, "failure")
		return errors.NewError(errors.ErrCodeLockRejected, fmt.Sprintf("lock service returned %d", resp.StatusCode)).
			WithComponent("writelock").
			WithOperation(op).
			WithContext("file", file).
			WithDetail("status", resp.StatusCode)
	}

	c.metrics.RecordLockRequest(op, "success")
	return nil
}

// Close stops accepting requests and waits for outstanding ones. When ctx
// ends first, in-flight retries are abandoned.
func (c *Coordinator) Close(ctx context.Context) error {
	c.closeMu.Lock()
	c.closed = true
	c.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		c.queued.Wait()
		_ = c.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		<-done
		return ctx.Err()
	}
}
