// Package scan composes one trading cycle (load, fetch, size, select,
// allocate, mark, persist) and runs it on a fixed interval.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/longshot/internal/allocator"
	"github.com/atmx/longshot/internal/config"
	"github.com/atmx/longshot/internal/ledger"
	"github.com/atmx/longshot/internal/metrics"
	"github.com/atmx/longshot/internal/model"
	"github.com/atmx/longshot/internal/store"
	"github.com/atmx/longshot/internal/strategy"
)

// Event names pushed to Publisher.
const (
	EventScanCompleted = "scan_completed"
	EventFill          = "fill"
)

// MarketFeed supplies the current market snapshots.
type MarketFeed interface {
	FetchMarkets(ctx context.Context) ([]model.MarketSnapshot, error)
}

// Publisher receives cycle events. Delivery is best effort.
type Publisher interface {
	Publish(event string, payload any)
}

// Runner owns the ledger for the lifetime of the process. Cycles never
// overlap: Run waits for one to finish before sleeping.
type Runner struct {
	cfg     *config.Config
	feed    MarketFeed
	store   store.Store
	exec    allocator.Execution
	runtime *Runtime
	pub     Publisher
	now     func() time.Time
}

// NewRunner wires a cycle. pub may be nil.
func NewRunner(cfg *config.Config, feed MarketFeed, st store.Store, exec allocator.Execution, rt *Runtime, pub Publisher) *Runner {
	if rt == nil {
		rt = NewRuntime()
	}
	return &Runner{
		cfg:     cfg,
		feed:    feed,
		store:   st,
		exec:    exec,
		runtime: rt,
		pub:     pub,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Runtime exposes the non-persisted view of the last cycle.
func (r *Runner) Runtime() *Runtime { return r.runtime }

// RunOnce executes a single cycle. If allocation fails part-way, the fills
// committed before the failure are still persisted and the allocation
// error is returned.
func (r *Runner) RunOnce(ctx context.Context) (model.ScanReport, error) {
	start := time.Now()
	report, err := r.runOnce(ctx)
	metrics.ScanDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ScansTotal.WithLabelValues("error").Inc()
		r.runtime.recordError(err, r.now())
		return report, err
	}
	metrics.ScansTotal.WithLabelValues("ok").Inc()
	return report, nil
}

func (r *Runner) runOnce(ctx context.Context) (model.ScanReport, error) {
	state, err := r.store.Load(ctx)
	if err != nil {
		return model.ScanReport{}, fmt.Errorf("load ledger: %w", err)
	}

	markets, err := r.feed.FetchMarkets(ctx)
	if err != nil {
		return model.ScanReport{}, fmt.Errorf("fetch markets: %w", err)
	}

	capital, err := allocator.ResolveCapital(ctx, r.exec, r.cfg.CapitalSettings())
	if err != nil {
		return model.ScanReport{}, err
	}

	now := r.now()
	candidates := strategy.Select(markets, state, r.cfg.FilterParams(capital.MaxExposurePerMarketUSD), now)
	alloc, allocErr := allocator.Allocate(ctx, candidates, state, capital, r.exec)

	summary := ledger.MarkToMarket(state, markets)
	report := model.ScanReport{
		ID:                      uuid.New().String(),
		At:                      now,
		Markets:                 len(markets),
		Candidates:              len(candidates),
		Executed:                len(alloc.Fills),
		PerOrderUSD:             alloc.PerOrderUSD,
		AccountTotalUSD:         alloc.AccountTotalUSD,
		MaxExposureUSD:          capital.MaxExposureUSD,
		MaxExposurePerMarketUSD: capital.MaxExposurePerMarketUSD,
	}
	state.Summary = &summary
	state.LastScan = &report

	// Partial fills are persisted even when allocation failed.
	if err := r.store.Save(ctx, state); err != nil {
		if allocErr != nil {
			slog.Error("allocation failed before save", "err", allocErr)
		}
		return report, fmt.Errorf("save ledger: %w", err)
	}

	r.runtime.recordScan(report, capital)
	r.observe(report, alloc.Fills, summary, capital)

	if allocErr != nil {
		return report, fmt.Errorf("allocate: %w", allocErr)
	}
	return report, nil
}

func (r *Runner) observe(report model.ScanReport, fills []model.Fill, summary model.Summary, capital allocator.CapitalParams) {
	metrics.MarketsSeen.Set(float64(report.Markets))
	metrics.Candidates.Set(float64(report.Candidates))
	metrics.ObserveSummary(summary)
	metrics.ObserveHeadroom(capital.MaxExposureUSD, summary.CashUsedUSD)

	slog.Info("scan result",
		"scan_id", report.ID,
		"mode", capital.Mode,
		"markets", report.Markets,
		"candidates", report.Candidates,
		"executed", report.Executed,
		"per_order_usd", report.PerOrderUSD.StringFixed(4),
		"max_exposure_usd", report.MaxExposureUSD.StringFixed(2),
		"max_exposure_per_market_usd", report.MaxExposurePerMarketUSD.StringFixed(2),
	)
	for _, f := range fills {
		metrics.ObserveFill(f)
		slog.Info("buy",
			"question", f.Candidate.Question,
			"outcome", f.Candidate.Outcome,
			"price", f.Candidate.Price.String(),
			"order_usd", f.OrderUSD.StringFixed(4),
			"size", f.Size.StringFixed(4),
			"order_id", f.OrderID,
		)
		if r.pub != nil {
			r.pub.Publish(EventFill, f)
		}
	}
	slog.Info("portfolio",
		"cash_used_usd", summary.CashUsedUSD.StringFixed(2),
		"market_value", summary.MarketValue.StringFixed(2),
		"unrealized_pnl", summary.UnrealizedPnL.StringFixed(2),
		"total_pnl", summary.TotalPnL.StringFixed(2),
	)
	if r.pub != nil {
		r.pub.Publish(EventScanCompleted, report)
	}
}

// Run loops until ctx is cancelled, sleeping interval after each cycle.
// Cycle errors are logged and the loop continues.
func (r *Runner) Run(ctx context.Context) {
	interval := r.cfg.ScanInterval
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if _, err := r.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("scan failed", "err", err)
		}
		timer.Reset(interval)
	}
}
