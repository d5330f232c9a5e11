package db

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 100 * time.Millisecond
)

// RetryPolicy bounds the retry loop around networked calls. MaxRetries of 0
// means the default (3); a negative value disables retries.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration

	// Sleep waits between attempts; nil means time.Sleep. The wait ignores
	// context cancellation.
	Sleep func(time.Duration)
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	switch {
	case p.MaxRetries == 0:
		p.MaxRetries = defaultMaxRetries
	case p.MaxRetries < 0:
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.Sleep == nil {
		p.Sleep = time.Sleep
	}
	return p
}

// Backoff returns the wait after the given zero-based failed attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(1<<uint(attempt))
}

// retryableCodes are SQLSTATEs that indicate the server or the path to it went
// away rather than anything being wrong with the statement.
var retryableCodes = map[string]struct{}{
	"XX000": {}, // internal_error
	"57P01": {}, // admin_shutdown
	"57P02": {}, // crash_shutdown
	"57P03": {}, // cannot_connect_now
	"08000": {}, // connection_exception
	"08001": {}, // sqlclient_unable_to_establish_sqlconnection
	"08003": {}, // connection_does_not_exist
	"08004": {}, // sqlserver_rejected_establishment_of_sqlconnection
	"08006": {}, // connection_failure
}

// retryableMessages catch poolers and OS-level failures that never reach the
// SQLSTATE layer. Matched case-insensitively.
var retryableMessages = []string{
	"db_termination",
	"connection terminated",
	"terminated unexpectedly",
	"server closed the connection",
	"connection reset",
	"connection refused",
	"econnreset",
	"econnrefused",
	"enotfound",
	"etimedout",
	"no such host",
	"network is unreachable",
	"broken pipe",
	"failed to connect",
}

// IsRetryable classifies an error from the networked backend.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := retryableCodes[pgErr.Code]
		return ok
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range retryableMessages {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// withRetry runs op up to MaxRetries+1 times. Every retryable failure invokes
// reset before the backoff; the last error is returned unchanged.
func withRetry(policy RetryPolicy, reset func(), onRetry func(int, error), op func() error) error {
	policy = policy.withDefaults()

	var err error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if reset != nil {
			reset()
		}
		if attempt == policy.MaxRetries {
			break
		}
		if onRetry != nil {
			onRetry(attempt+1, err)
		}
		policy.Sleep(policy.Backoff(attempt))
	}
	return err
}
