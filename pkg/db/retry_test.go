package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"internal error", &pgconn.PgError{Code: "XX000"}, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"crash shutdown", &pgconn.PgError{Code: "57P02"}, true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"wrapped admin shutdown", fmt.Errorf("query: %w", &pgconn.PgError{Code: "57P01"}), true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"datatype mismatch", &pgconn.PgError{Code: "42804"}, false},
		{"pooler termination", errors.New("{:shutdown, :db_termination}"), true},
		{"terminated unexpectedly", errors.New("server closed the connection unexpectedly"), true},
		{"reset by peer", errors.New("read tcp 10.0.0.1:5432: connection reset by peer"), true},
		{"refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), true},
		{"dns", errors.New("getaddrinfo ENOTFOUND db.internal"), true},
		{"net op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("boom")}, true},
		{"unexpected eof", fmt.Errorf("read: %w", io.ErrUnexpectedEOF), true},
		{"context canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("wait: %w", context.DeadlineExceeded), false},
		{"plain error", errors.New("value out of range"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	fault := &pgconn.PgError{Code: "57P01", Message: "terminating connection due to administrator command"}

	var attempts, resets, retries int
	var waits []time.Duration
	policy := RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  10 * time.Millisecond,
		Sleep:      func(d time.Duration) { waits = append(waits, d) },
	}

	err := withRetry(policy, func() { resets++ }, func(int, error) { retries++ }, func() error {
		attempts++
		return fault
	})

	assert.Same(t, fault, err)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, 4, resets)
	assert.Equal(t, 3, retries)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}, waits)
}

func TestWithRetryShortCircuitsNonRetryable(t *testing.T) {
	fault := &pgconn.PgError{Code: "23505"}

	var attempts, resets int
	policy := RetryPolicy{MaxRetries: 3, Sleep: func(time.Duration) { t.Fatal("must not sleep") }}

	err := withRetry(policy, func() { resets++ }, nil, func() error {
		attempts++
		return fault
	})

	assert.ErrorIs(t, err, fault)
	assert.Equal(t, 1, attempts)
	assert.Zero(t, resets)
}

func TestWithRetryRecovers(t *testing.T) {
	var attempts, resets int
	policy := RetryPolicy{MaxRetries: 3, Sleep: func(time.Duration) {}}

	err := withRetry(policy, func() { resets++ }, nil, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, resets)
}

func TestRetryPolicyDefaults(t *testing.T) {
	p := RetryPolicy{}.withDefaults()
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, p.BaseDelay)
	assert.Equal(t, 800*time.Millisecond, p.Backoff(3))

	p = RetryPolicy{MaxRetries: -1}.withDefaults()
	assert.Zero(t, p.MaxRetries)
}
