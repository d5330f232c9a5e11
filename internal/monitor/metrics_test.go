package monitor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyHistogramWindow(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{1, 2, 3, 4} {
		h.Record(v)
	}
	st := h.Stats()
	assert.Equal(t, 3, st.Count)
	assert.Equal(t, 2.0, st.Min)
	assert.Equal(t, 4.0, st.Max)
	assert.Equal(t, 3.0, st.Avg)

	h.RecordDuration(10 * time.Millisecond)
	assert.Equal(t, 10.0, h.Stats().Max)
}

func TestDBHooksFeedSnapshot(t *testing.T) {
	m := NewSystemMetrics()
	hooks := m.DBHooks()

	hooks.OnQuery("QueryMany", 2*time.Millisecond, nil)
	hooks.OnQuery("Execute", 3*time.Millisecond, errors.New("boom"))
	hooks.OnRetry(1, errors.New("connection reset"))
	hooks.OnPoolReset()
	m.ObserveRequest(time.Millisecond, 200)
	m.ObserveRequest(time.Millisecond, 503)

	snap := m.GetSnapshot()
	assert.Equal(t, uint64(2), snap.QueriesRun)
	assert.Equal(t, uint64(1), snap.QueryErrors)
	assert.Equal(t, uint64(1), snap.QueryRetries)
	assert.Equal(t, uint64(1), snap.PoolResets)
	assert.Equal(t, uint64(2), snap.RequestsServed)
	assert.Equal(t, uint64(1), snap.RequestErrors)
	assert.Equal(t, "Execute", snap.LastQueryOp)
	assert.Equal(t, "boom", snap.LastError)
	require.NotNil(t, snap.LastErrorAt)
	assert.Equal(t, 2, snap.QueryLatency.Count)
}

type fakePinger struct{ err error }

func (p *fakePinger) Ping(context.Context) error { return p.err }

type recordingSink struct{ messages []string }

func (s *recordingSink) Send(msg string) error {
	s.messages = append(s.messages, msg)
	return nil
}

func TestMonitorAlertsOnStateChange(t *testing.T) {
	pinger := &fakePinger{}
	sink := &recordingSink{}
	metrics := NewSystemMetrics()
	m := &Monitor{DB: pinger, Metrics: metrics, Sink: sink}
	ctx := context.Background()

	m.Check(ctx)
	assert.Empty(t, sink.messages)

	pinger.err = errors.New("connection refused")
	m.Check(ctx)
	m.Check(ctx)
	require.Len(t, sink.messages, 1)
	assert.Contains(t, sink.messages[0], "database unreachable")

	pinger.err = nil
	metrics.IncrementPoolResets()
	m.Check(ctx)
	require.Len(t, sink.messages, 3)
	assert.Contains(t, sink.messages[1], "reachable again")
	assert.True(t, strings.Contains(sink.messages[2], "pool reset 1 time(s)"))
}
