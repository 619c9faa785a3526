package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ahmethakanbesel/cryptoprices/internal/metrics"
	"github.com/ahmethakanbesel/cryptoprices/internal/view"
)

// Syncer copies new upstream rows into the local replica. Each symbol resumes
// from the newest id already stored; that row is fetched again and upserted,
// so an interrupted run loses nothing.
type Syncer struct {
	upstream *view.Pager
	store    PriceStore
	runs     RunRepository
	workers  int
	stale    Invalidator
}

// Invalidator drops state derived from the mirrored rows.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type SyncerOption func(*Syncer)

// WithInvalidation calls inv after every pass that saved rows.
func WithInvalidation(inv Invalidator) SyncerOption {
	return func(s *Syncer) { s.stale = inv }
}

func NewSyncer(upstream *view.Pager, store PriceStore, runs RunRepository, workers int, opts ...SyncerOption) *Syncer {
	if workers <= 0 {
		workers = 1
	}
	s := &Syncer{upstream: upstream, store: store, runs: runs, workers: workers}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sync runs one full pass and records it. The returned run reflects the final
// state even when err is non-nil.
func (s *Syncer) Sync(ctx context.Context) (*Run, error) {
	run := &Run{Status: StatusRunning}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, err
	}

	start := time.Now()
	slog.Info("mirror sync started", "run", run.ID)

	symbols, records, err := s.syncAll(ctx)
	run.SymbolsCount = symbols
	run.RecordsCount = records
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
	} else {
		run.Status = StatusCompleted
	}

	// The run row is closed even when ctx was cancelled mid-sync.
	if uerr := s.runs.Update(context.WithoutCancel(ctx), run); uerr != nil {
		slog.Error("mirror sync: update run", "run", run.ID, "error", uerr)
		err = errors.Join(err, uerr)
	}

	if records > 0 && s.stale != nil {
		if ierr := s.stale.Invalidate(context.WithoutCancel(ctx)); ierr != nil {
			slog.Warn("mirror sync: invalidate", "run", run.ID, "error", ierr)
		}
	}

	if err != nil {
		slog.Error("mirror sync failed", "run", run.ID, "symbols", symbols, "records", records, "error", err)
		return run, err
	}
	slog.Info("mirror sync finished",
		"run", run.ID,
		"symbols", symbols,
		"records", records,
		"duration", time.Since(start).String(),
	)
	return run, nil
}

func (s *Syncer) syncAll(ctx context.Context) (int64, int64, error) {
	cat, err := s.upstream.Catalog(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list upstream symbols: %w", err)
	}

	var records atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, sym := range cat.Symbols() {
		g.Go(func() error {
			n, err := s.syncSymbol(gctx, sym)
			records.Add(n)
			return err
		})
	}
	err = g.Wait()
	return int64(cat.Len()), records.Load(), err
}

func (s *Syncer) syncSymbol(ctx context.Context, symbol string) (int64, error) {
	from, _, err := s.store.MaxDocID(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("sync %s: %w", symbol, err)
	}

	var saved int64
	err = s.upstream.Rows(ctx, symbol, from, view.MaxKey, func(rows []view.Row) error {
		n, err := s.store.SaveRows(ctx, symbol, rows)
		saved += n
		metrics.MirrorRows.Add(float64(n))
		return err
	})
	if err != nil {
		return saved, fmt.Errorf("sync %s: %w", symbol, err)
	}
	slog.Debug("mirror symbol synced", "symbol", symbol, "from", from, "records", saved)
	return saved, nil
}
