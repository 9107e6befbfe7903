package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNeverConnected is returned when an operation needs a connection but no
// connect call has ever recorded parameters to reconnect with.
var ErrNeverConnected = errors.New("not connected to database")

// NotFoundError reports a schema lookup against a table that does not exist.
type NotFoundError struct {
	Table string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("table %q does not exist", e.Table)
}

// Postgres error classes/codes that mean the session itself is gone, as
// opposed to the statement being rejected. Class 08 is "connection
// exception"; 57P0x are server shutdown and crash codes.
var lostSessionCodes = map[string]bool{
	"08000": true, // connection_exception
	"08003": true, // connection_does_not_exist
	"08006": true, // connection_failure
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
}

// IsConnectionLost classifies a query failure as transport-level (broken or
// closed session, worth one reconnect attempt) versus SQL-semantic (syntax,
// constraint, permission — never retried). Classification is by error type
// and code, not message matching; the only string check is for the driver's
// own "conn closed" sentinel, which it does not export.
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// The server answered in protocol: semantic failure unless the
		// code says the session is being torn down.
		return lostSessionCodes[pgErr.Code]
	}

	if pgconn.SafeToRetry(err) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if strings.Contains(err.Error(), "conn closed") {
		return true
	}
	return false
}
