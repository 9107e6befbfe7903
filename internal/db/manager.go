// Package db owns the single CockroachDB connection: its lifecycle, health
// state, reconnect policy, and every SQL operation that runs on it.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// State is the connectivity state of the managed connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// StatusInfo is a point-in-time snapshot of the manager's state.
type StatusInfo struct {
	State   State
	Version string // server version, set while connected
	Err     string // failure detail, set in the error state
}

// String renders the snapshot for the db://status resource.
func (si StatusInfo) String() string {
	switch si.State {
	case StateConnected:
		return "connected - " + si.Version
	case StateError:
		return "connection error - " + si.Err
	default:
		return "not connected"
	}
}

// QueryFunc runs SQL against the live connection. It is invoked under the
// manager's lock and may be called a second time after a reconnect, so it
// must reset any partial output when it starts.
type QueryFunc func(ctx context.Context, conn Conn) error

// Manager owns the one live connection handle. All access to the handle and
// to the connectivity state goes through a single mutex: query operations,
// keepalive probes, status reads, and reconnects never interleave.
type Manager struct {
	dial dialFunc
	log  *slog.Logger

	mu         sync.Mutex
	conn       Conn
	state      State
	version    string
	lastErr    string
	lastParams *ConnectParams
}

// NewManager creates a disconnected Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dial:  pgxDial,
		log:   logger,
		state: StateDisconnected,
	}
}

// Connect opens a new connection with the given params, probes it for the
// server version, and records the params for later reconnects. Calling it
// while already connected replaces the connection rather than erroring; the
// previous handle is closed first.
func (m *Manager) Connect(ctx context.Context, params ConnectParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	version, err := m.connectLocked(ctx, params)
	if err != nil {
		return "", err
	}
	m.lastParams = &params
	return version, nil
}

// Disconnect closes the connection if one exists. Calling it while already
// disconnected is a no-op success.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		m.state = StateDisconnected
		m.lastErr = ""
		return nil
	}

	err := m.conn.Close(ctx)
	m.conn = nil
	m.state = StateDisconnected
	m.version = ""
	m.lastErr = ""
	if err != nil {
		return fmt.Errorf("closing connection: %w", err)
	}
	return nil
}

// EnsureConnected reconnects from the last known params when the connection
// is down. Returns ErrNeverConnected if no connect call ever succeeded.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureConnectedLocked(ctx)
}

// Execute is the sole sanctioned way to run SQL. It serializes against every
// other operation, ensures a live connection, and runs fn. When fn fails
// with a connection-lost error the stale handle is released, one reconnect
// from the last known params is attempted, and fn is retried exactly once.
// A second failure of any kind is surfaced untouched.
func (m *Manager) Execute(ctx context.Context, fn QueryFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureConnectedLocked(ctx); err != nil {
		return err
	}
	return m.runLocked(ctx, fn)
}

// Probe runs a liveness check, but only when connected: an explicitly
// disconnected manager stays disconnected. The check and state transitions
// happen under the same lock as Execute, so a keepalive tick never runs
// concurrently with a foreground query.
func (m *Manager) Probe(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConnected || m.conn == nil {
		return nil
	}
	return m.runLocked(ctx, func(ctx context.Context, conn Conn) error {
		var one int
		return conn.QueryRow(ctx, "SELECT 1").Scan(&one)
	})
}

// Status returns a snapshot of the connectivity state.
func (m *Manager) Status() StatusInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return StatusInfo{State: m.state, Version: m.version, Err: m.lastErr}
}

func (m *Manager) ensureConnectedLocked(ctx context.Context) error {
	if m.state == StateConnected && m.conn != nil && !m.conn.IsClosed() {
		return nil
	}
	if m.lastParams == nil {
		return ErrNeverConnected
	}
	_, err := m.connectLocked(ctx, *m.lastParams)
	return err
}

// runLocked executes fn with the single-retry reconnect policy. Callers hold
// m.mu and have verified a live handle exists.
func (m *Manager) runLocked(ctx context.Context, fn QueryFunc) error {
	err := fn(ctx, m.conn)
	if err == nil || !IsConnectionLost(err) {
		return err
	}

	m.log.Warn("connection lost during query, reconnecting", "error", err)
	m.releaseLocked(ctx)
	if m.lastParams == nil {
		return err
	}
	if _, rerr := m.connectLocked(ctx, *m.lastParams); rerr != nil {
		return fmt.Errorf("reconnecting after lost connection: %w", rerr)
	}
	return fn(ctx, m.conn)
}

// connectLocked replaces the handle. Any existing handle is released first so
// at most one exists at a time.
func (m *Manager) connectLocked(ctx context.Context, params ConnectParams) (string, error) {
	m.releaseLocked(ctx)
	m.state = StateConnecting

	m.log.Info("connecting", "target", params.Redacted())
	conn, err := m.dial(ctx, params)
	if err != nil {
		m.state = StateError
		m.lastErr = err.Error()
		return "", fmt.Errorf("connecting to %s:%d/%s: %w", params.Host, params.Port, params.Database, err)
	}

	var version string
	if err := conn.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		_ = conn.Close(ctx)
		m.state = StateError
		m.lastErr = err.Error()
		return "", fmt.Errorf("probing new connection: %w", err)
	}

	m.conn = conn
	m.state = StateConnected
	m.version = version
	m.lastErr = ""
	m.log.Info("connected", "version", version)
	return version, nil
}

// releaseLocked closes and drops the handle. The close happens before the
// state leaves Connected, so no observer ever sees a connected state with a
// dead handle.
func (m *Manager) releaseLocked(ctx context.Context) {
	if m.conn == nil {
		return
	}
	if err := m.conn.Close(ctx); err != nil {
		m.log.Warn("closing stale connection", "error", err)
	}
	m.conn = nil
	m.state = StateDisconnected
	m.version = ""
}
