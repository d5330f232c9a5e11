package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"dashboard-core/internal/hierarchy"
	"dashboard-core/internal/store"
	"dashboard-core/pkg/db"
)

func newMemoryStore(tb testing.TB) *store.Store {
	tb.Helper()
	database, err := db.New(db.Options{Kind: db.KindSQLite, Path: ":memory:"})
	if err != nil {
		tb.Fatalf("Failed to create database: %v", err)
	}
	tb.Cleanup(func() { _ = database.Close() })
	if err := db.ApplyMigrations(context.Background(), database); err != nil {
		tb.Fatalf("Failed to apply migrations: %v", err)
	}
	return store.New(database, zap.NewNop())
}

// seedInstance writes cycles cycles of two recommendations and one closed
// trade each under a fresh instance and run.
func seedInstance(ctx context.Context, st *store.Store, name string, cycles int) (string, error) {
	inst, err := st.CreateInstance(ctx, store.Instance{Name: name, Symbols: []string{"BTCUSDT"}})
	if err != nil {
		return "", err
	}
	run, err := st.CreateRun(ctx, store.Run{InstanceID: inst.ID})
	if err != nil {
		return "", err
	}
	for i := 0; i < cycles; i++ {
		cycle, err := st.CreateCycle(ctx, store.Cycle{RunID: run.ID})
		if err != nil {
			return "", err
		}
		rec, err := st.CreateRecommendation(ctx, store.Recommendation{
			CycleID: cycle.ID, Symbol: "BTCUSDT", Action: "buy", Confidence: 0.75, RiskReward: f64(2),
		})
		if err != nil {
			return "", err
		}
		if _, err := st.CreateRecommendation(ctx, store.Recommendation{
			CycleID: cycle.ID, Symbol: "BTCUSDT", Action: "hold", Confidence: 0.4,
		}); err != nil {
			return "", err
		}
		pnl := 5.0
		if i%2 == 1 {
			pnl = -3
		}
		if _, err := st.CreateTrade(ctx, store.Trade{
			RecommendationID: rec.ID, Status: store.TradeClosed, Quantity: 1, PnL: f64(pnl), DryRun: i%3 == 0,
		}); err != nil {
			return "", err
		}
	}
	return inst.ID, nil
}

// TestConcurrentInstanceWriters has one goroutine per bot instance writing
// its own session, then checks the global aggregates add up.
func TestConcurrentInstanceWriters(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	st := newMemoryStore(t)
	ctx := context.Background()

	const numInstances = 20
	const cyclesPerInstance = 25

	var wg sync.WaitGroup
	var errorCount int64
	ids := make([]string, numInstances)
	startTime := time.Now()

	for n := 0; n < numInstances; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id, err := seedInstance(ctx, st, fmt.Sprintf("stress-%d", n), cyclesPerInstance)
			if err != nil {
				t.Logf("instance %d: %v", n, err)
				atomic.AddInt64(&errorCount, 1)
				return
			}
			ids[n] = id
		}(n)
	}
	wg.Wait()

	t.Logf("Seeded %d instances x %d cycles in %v", numInstances, cyclesPerInstance, time.Since(startTime))
	if errorCount > 0 {
		t.Fatalf("Stress test had %d errors", errorCount)
	}

	global, err := st.GetGlobalStats(ctx)
	if err != nil {
		t.Fatalf("GetGlobalStats failed: %v", err)
	}
	if want := int64(numInstances * cyclesPerInstance * 2); global.ImagesAnalyzed != want {
		t.Errorf("images analyzed = %d, want %d", global.ImagesAnalyzed, want)
	}

	var trades, wins int64
	var pnl float64
	for _, id := range ids {
		s, err := st.GetStatsByInstanceID(ctx, id)
		if err != nil {
			t.Fatalf("GetStatsByInstanceID failed: %v", err)
		}
		if s.TotalTrades != cyclesPerInstance {
			t.Errorf("instance %s has %d trades, want %d", id, s.TotalTrades, cyclesPerInstance)
		}
		trades += s.TotalTrades
		wins += s.WinCount
		pnl += s.TotalPnL
	}
	if trades != global.TotalTrades || wins != global.WinCount || pnl != global.TotalPnL {
		t.Errorf("per-instance sums (%d, %d, %v) differ from global (%d, %d, %v)",
			trades, wins, pnl, global.TotalTrades, global.WinCount, global.TotalPnL)
	}
}

// TestConcurrentReadersDuringWrites runs hierarchy reads while another
// goroutine keeps appending cycles.
func TestConcurrentReadersDuringWrites(t *testing.T) {
	st := newMemoryStore(t)
	ctx := context.Background()
	if _, err := seedInstance(ctx, st, "base", 3); err != nil {
		t.Fatalf("seed: %v", err)
	}
	asm := hierarchy.New(st, zap.NewNop())

	var wg sync.WaitGroup
	var readErrors int64
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for i := 0; i < 10; i++ {
			if _, err := seedInstance(ctx, st, fmt.Sprintf("writer-%d", i), 2); err != nil {
				t.Errorf("writer: %v", err)
				return
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if _, err := asm.GetInstancesWithHierarchy(ctx, 5, false); err != nil {
					atomic.AddInt64(&readErrors, 1)
					return
				}
			}
		}()
	}
	wg.Wait()

	if readErrors > 0 {
		t.Errorf("hierarchy reads failed %d times", readErrors)
	}
	tree, err := asm.GetInstancesWithHierarchy(ctx, 5, false)
	if err != nil {
		t.Fatalf("final read: %v", err)
	}
	if len(tree) != 11 {
		t.Errorf("expected 11 instances, got %d", len(tree))
	}
}

// BenchmarkGlobalStats benchmarks the cross-instance aggregate.
func BenchmarkGlobalStats(b *testing.B) {
	st := newMemoryStore(b)
	ctx := context.Background()
	for n := 0; n < 10; n++ {
		if _, err := seedInstance(ctx, st, fmt.Sprintf("bench-%d", n), 20); err != nil {
			b.Fatalf("seed: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := st.GetGlobalStats(ctx); err != nil {
			b.Errorf("GetGlobalStats failed: %v", err)
		}
	}
}

// BenchmarkInstanceHierarchy benchmarks the full drill-down tree.
func BenchmarkInstanceHierarchy(b *testing.B) {
	st := newMemoryStore(b)
	ctx := context.Background()
	for n := 0; n < 5; n++ {
		if _, err := seedInstance(ctx, st, fmt.Sprintf("bench-%d", n), 10); err != nil {
			b.Fatalf("seed: %v", err)
		}
	}
	asm := hierarchy.New(st, zap.NewNop())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := asm.GetInstancesWithHierarchy(ctx, 0, false); err != nil {
			b.Errorf("GetInstancesWithHierarchy failed: %v", err)
		}
	}
}
