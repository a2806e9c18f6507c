package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fusekv/fusekv/internal/config"
	kverrors "github.com/fusekv/fusekv/pkg/errors"
	"github.com/fusekv/fusekv/pkg/utils"
)

// Options configures a Manager.
type Options struct {
	// Client is the template for master connections. Its Addr is replaced
	// by whatever Resolver returns.
	Client *redis.Options

	// Resolver locates the master. Required.
	Resolver MasterResolver

	// Sentinel enables failover: a connection-level failure triggers one
	// rediscovery and one retry of the failed operation.
	Sentinel bool

	Logger   *utils.StructuredLogger
	Observer Observer
}

// Manager owns the connection to the current master and the failover
// state machine around it. Transitions are serialized by mu; commands run
// outside it on the go-redis pool.
type Manager struct {
	base     redis.Options
	resolver MasterResolver
	sentinel bool
	logger   *utils.StructuredLogger
	observer Observer

	mu          sync.Mutex
	state       State
	client      *redis.Client
	inflight    *sync.WaitGroup // commands running on client
	master      string
	generation  uint64
	connectedAt time.Time
	lastError   error
	failovers   uint64
	closed      bool

	retired sync.WaitGroup // retired clients still draining
}

// Stats is a point-in-time snapshot of a Manager.
type Stats struct {
	State       string     `json:"state"`
	Connected   bool       `json:"connected"`
	Master      string     `json:"master,omitempty"`
	Sentinel    bool       `json:"sentinel"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Failovers   uint64     `json:"failovers"`
	LastError   string     `json:"last_error,omitempty"`
}

// New creates a Manager. No connection is made until first use.
func New(opts Options) (*Manager, error) {
	if opts.Resolver == nil {
		return nil, kverrors.NewError(kverrors.ErrCodeInvalidConfig, "master resolver is required").
			WithComponent("store")
	}
	base := redis.Options{}
	if opts.Client != nil {
		base = *opts.Client
	}
	if opts.Logger == nil {
		opts.Logger = utils.NewNopLogger()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	return &Manager{
		base:     base,
		resolver: opts.Resolver,
		sentinel: opts.Sentinel,
		logger:   opts.Logger.WithComponent("store"),
		observer: opts.Observer,
		state:    StateDisconnected,
	}, nil
}

// NewFromConfig builds a Manager for the configured servers. One server is
// used directly; several are treated as sentinels for cfg.SentinelMaster,
// and the master connection inherits credentials, database and TLS
// settings from the first URL.
func NewFromConfig(cfg *config.Config, logger *utils.StructuredLogger, observer Observer) (*Manager, error) {
	urls := cfg.ServerURLs()
	parsed := make([]*redis.Options, 0, len(urls))
	for _, u := range urls {
		opts, err := redis.ParseURL(u)
		if err != nil {
			return nil, kverrors.NewError(kverrors.ErrCodeInvalidConfig, "invalid server url").
				WithComponent("store").
				WithDetail("url", u).
				WithCause(err)
		}
		applyNetwork(opts, cfg.Network)
		parsed = append(parsed, opts)
	}
	if len(parsed) == 0 {
		return nil, kverrors.NewError(kverrors.ErrCodeInvalidConfig, "no servers configured").
			WithComponent("store")
	}

	template := *parsed[0]
	opts := Options{
		Client:   &template,
		Logger:   logger,
		Observer: observer,
	}
	if cfg.SentinelMode() {
		opts.Sentinel = true
		opts.Resolver = NewSentinelResolver(cfg.SentinelMaster, parsed)
	} else {
		opts.Resolver = StaticResolver(template.Addr)
	}
	return New(opts)
}

func applyNetwork(opts *redis.Options, n config.NetworkConfig) {
	opts.DialTimeout = n.DialTimeout
	opts.ReadTimeout = n.ReadTimeout
	opts.WriteTimeout = n.WriteTimeout
	opts.PoolSize = n.PoolSize
	// Retries are owned by the Manager so a failed write is never replayed
	// more than once.
	opts.MaxRetries = -1
	opts.Protocol = 2
}

// Acquire returns a client for the current master, connecting first if
// needed. The client is not tracked as in flight and may be closed by a
// later failover; use Execute for commands that must survive one.
func (m *Manager) Acquire(ctx context.Context) (*redis.Client, error) {
	client, _, release, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	release()
	return client, nil
}

// Execute runs fn against the current master. In sentinel mode a
// connection-level failure triggers rediscovery and exactly one retry; a
// second failure is returned as StoreUnavailable. Store rejections are
// returned as StoreError and never retried. redis.Nil is returned as is.
func (m *Manager) Execute(ctx context.Context, op string, fn func(ctx context.Context, c redis.Cmdable) error) error {
	client, gen, release, err := m.acquire(ctx)
	if err != nil {
		return err
	}

	err = fn(ctx, client)
	release()
	if !IsFailoverError(err) {
		return classify(op, err)
	}

	m.logger.Warn("Store operation failed on connection", map[string]interface{}{
		"operation": op,
		"master":    client.Options().Addr,
		"error":     err,
	})

	if !m.sentinel {
		m.invalidate(gen, err)
		return classify(op, err)
	}

	client, gen, release, ferr := m.failover(ctx, gen, err)
	if ferr != nil {
		return ferr
	}

	err = fn(ctx, client)
	release()
	if IsFailoverError(err) {
		m.invalidate(gen, err)
		return kverrors.StoreUnavailable("store unavailable after failover", err).
			WithComponent("store").
			WithOperation(op)
	}
	return classify(op, err)
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Master returns the address of the connected master, or "" when not
// connected.
func (m *Manager) Master() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return ""
	}
	return m.master
}

// Stats returns a snapshot for health reporting.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		State:     m.state.String(),
		Connected: m.state == StateConnected,
		Sentinel:  m.sentinel,
		Failovers: m.failovers,
	}
	if m.state == StateConnected {
		stats.Master = m.master
		connectedAt := m.connectedAt
		stats.ConnectedAt = &connectedAt
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}

// Ping verifies connectivity, connecting if needed.
func (m *Manager) Ping(ctx context.Context) error {
	return m.Execute(ctx, "ping", func(ctx context.Context, c redis.Cmdable) error {
		return c.Ping(ctx).Err()
	})
}

// Close releases the master connection and waits for replaced clients
// to drain. Later calls fail with StoreUnavailable.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	var err error
	if m.client != nil {
		err = m.client.Close()
		m.client, m.inflight = nil, nil
	}
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	m.retired.Wait()
	return err
}

// acquire returns the current client and registers one command on it.
// The caller must call release once the command has finished.
func (m *Manager) acquire(ctx context.Context) (client *redis.Client, gen uint64, release func(), err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, 0, nil, kverrors.StoreUnavailable("store manager is closed", nil).WithComponent("store")
	}
	if m.state != StateConnected || m.client == nil {
		m.setStateLocked(StateConnecting)
		if err := m.connectLocked(ctx); err != nil {
			return nil, 0, nil, err
		}
	}
	return m.client, m.generation, m.trackLocked(), nil
}

func (m *Manager) trackLocked() func() {
	wg := m.inflight
	wg.Add(1)
	return wg.Done
}

// failover rediscovers the master after a failure observed on generation
// gen. When another caller already replaced that connection, its client is
// reused.
func (m *Manager) failover(ctx context.Context, gen uint64, cause error) (client *redis.Client, newGen uint64, release func(), err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, 0, nil, kverrors.StoreUnavailable("store manager is closed", cause).WithComponent("store")
	}
	if m.generation != gen && m.state == StateConnected && m.client != nil {
		return m.client, m.generation, m.trackLocked(), nil
	}

	m.lastError = cause
	m.failovers++
	m.observer.StoreFailover()
	m.logger.Warn("Starting failover", map[string]interface{}{
		"previous_master": m.master,
		"error":           cause,
	})

	m.dropClientLocked()
	m.setStateLocked(StateFailoverInProgress)
	if err := m.connectLocked(ctx); err != nil {
		return nil, 0, nil, err
	}
	return m.client, m.generation, m.trackLocked(), nil
}

// invalidate drops the connection of generation gen so that the next call
// reconnects. Newer connections are left alone.
func (m *Manager) invalidate(gen uint64, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generation != gen || m.state != StateConnected {
		return
	}
	m.lastError = cause
	m.dropClientLocked()
	m.setStateLocked(StateDisconnected)
}

// connectLocked resolves the master, dials it and verifies it with PING.
// On failure the state falls back to Disconnected.
func (m *Manager) connectLocked(ctx context.Context) error {
	addr, err := m.resolver.ResolveMaster(ctx)
	if err != nil {
		m.lastError = err
		m.setStateLocked(StateDisconnected)
		m.logger.Error("Master discovery failed", map[string]interface{}{
			"error": err,
		})
		return kverrors.StoreUnavailable("master discovery failed", err).WithComponent("store")
	}

	opts := m.base
	opts.Addr = addr
	client := redis.NewClient(&opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		m.lastError = err
		m.setStateLocked(StateDisconnected)
		m.logger.Error("Connection failed", map[string]interface{}{
			"master": addr,
			"error":  err,
		})
		return kverrors.StoreUnavailable(fmt.Sprintf("failed to connect to %s", addr), err).
			WithComponent("store")
	}

	m.client = client
	m.inflight = &sync.WaitGroup{}
	m.master = addr
	m.generation++
	m.connectedAt = time.Now()
	m.lastError = nil
	m.setStateLocked(StateConnected)

	m.logger.Info("Connected to master", map[string]interface{}{
		"master":     addr,
		"generation": m.generation,
	})
	return nil
}

// dropClientLocked detaches the current client. It is closed once the
// commands already running on it have finished, so a failure seen by one
// caller does not abort the others.
func (m *Manager) dropClientLocked() {
	if m.client == nil {
		return
	}
	client, inflight := m.client, m.inflight
	m.client, m.inflight = nil, nil

	m.retired.Add(1)
	go func() {
		defer m.retired.Done()
		inflight.Wait()
		_ = client.Close()
	}()
}

func (m *Manager) setStateLocked(state State) {
	if m.state == state {
		return
	}
	m.logger.Debug("State transition", map[string]interface{}{
		"from": m.state.String(),
		"to":   state.String(),
	})
	m.state = state
	m.observer.StoreStateChanged(state)
}
