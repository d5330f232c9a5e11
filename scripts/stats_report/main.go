package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"

	"dashboard-core/internal/store"
	"dashboard-core/pkg/config"
	"dashboard-core/pkg/db"
)

// Prints per-instance and global statistics from the configured database.
// Pass --active to skip deactivated instances.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	database, err := db.New(db.Options{
		Kind:           db.Kind(cfg.DBBackend),
		Path:           cfg.DBPath,
		URL:            cfg.DatabaseURL,
		PoolMax:        int32(cfg.DBPoolMax),
		ConnectTimeout: cfg.DBConnectTimeout,
	})
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	st := store.New(database, zap.NewNop())
	activeOnly := len(os.Args) > 1 && os.Args[1] == "--active"

	instances, err := st.ListInstances(ctx, activeOnly)
	if err != nil {
		log.Fatalf("list instances: %v", err)
	}

	tbl := tablewriter.NewWriter(os.Stdout)
	tbl.Header("Instance", "Images", "Actionable", "Avg conf", "Trades", "W/L", "PnL", "Live EV", "Dry EV", "Total EV")

	appendRow := func(label string, scope store.Scope) {
		stats, err := st.GetStats(ctx, scope)
		if err != nil {
			log.Fatalf("%s stats: %v", label, err)
		}
		m, err := st.GetTradeMetrics(ctx, scope)
		if err != nil {
			log.Fatalf("%s metrics: %v", label, err)
		}
		tbl.Append(
			label,
			fmt.Sprintf("%d", stats.ImagesAnalyzed),
			fmt.Sprintf("%.1f%%", stats.ActionablePercent),
			fmt.Sprintf("%.3f", stats.AvgConfidence),
			fmt.Sprintf("%d", stats.TotalTrades),
			fmt.Sprintf("%d/%d", stats.WinCount, stats.LossCount),
			fmt.Sprintf("%.2f", stats.TotalPnL),
			fmt.Sprintf("%.4f", m.Live.ExpectedValue),
			fmt.Sprintf("%.4f", m.Dry.ExpectedValue),
			fmt.Sprintf("%.4f", m.Total.ExpectedValue),
		)
	}

	for _, inst := range instances {
		label := inst.Name
		if !inst.IsActive {
			label += " (inactive)"
		}
		appendRow(label, store.InstanceScope(inst.ID))
	}
	appendRow("ALL", store.GlobalScope())

	fmt.Printf("%s backend, %d instance(s)\n", database.Kind(), len(instances))
	if err := tbl.Render(); err != nil {
		log.Fatalf("render: %v", err)
	}
}
