package db

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
)

// Conn is the slice of *pgx.Conn the manager and its operations use. Keeping
// it an interface lets tests substitute a scripted connection.
type Conn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	IsClosed() bool
	Close(ctx context.Context) error
}

var _ Conn = (*pgx.Conn)(nil)

// dialFunc opens a connection for the given params.
type dialFunc func(ctx context.Context, params ConnectParams) (Conn, error)

const dialTimeout = 10 * time.Second

// pgxDial opens a single pgx connection with the params' TLS mode and TCP
// keepalive tuning. No pool: the manager owns exactly one session.
func pgxDial(ctx context.Context, params ConnectParams) (Conn, error) {
	cfg, err := pgx.ParseConfig(params.DSN())
	if err != nil {
		return nil, fmt.Errorf("building connect config: %w", err)
	}

	dialer := &net.Dialer{
		Timeout: dialTimeout,
		KeepAliveConfig: net.KeepAliveConfig{
			Enable:   true,
			Idle:     time.Duration(params.KeepaliveIdleSec) * time.Second,
			Interval: time.Duration(params.KeepaliveIntervalSec) * time.Second,
			Count:    params.KeepaliveCount,
		},
	}
	cfg.DialFunc = dialer.DialContext
	if params.Timezone != "" {
		cfg.RuntimeParams["timezone"] = params.Timezone
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
