package rate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/ahmethakanbesel/cryptoprices/internal/apperror"
	"github.com/ahmethakanbesel/cryptoprices/internal/metrics"
	"github.com/ahmethakanbesel/cryptoprices/internal/price"
	"github.com/ahmethakanbesel/cryptoprices/internal/view"
)

const (
	defaultBaseSymbol = "usd"
	// historyWorkers bounds the concurrent lookups of one history snapshot.
	historyWorkers = 8
)

// baseSummary is what the catalog reports for the base symbol: the whole
// range, always available.
var baseSummary = price.Summary{Min: 0, Max: 999999, Count: 999999}

// CatalogCache holds a previously read catalog. Cache failures never fail a
// request; the catalog is read from the store instead.
type CatalogCache interface {
	Get(ctx context.Context) ([]price.Summary, bool, error)
	Set(ctx context.Context, summaries []price.Summary) error
}

type Service struct {
	pager *view.Pager
	base  string
	cache CatalogCache
}

func NewService(pager *view.Pager, opts ...Option) *Service {
	s := &Service{pager: pager, base: defaultBaseSymbol}
	for _, o := range opts {
		o(s)
	}
	return s
}

type Option func(*Service)

// WithBaseSymbol sets the currency every stored price is quoted in. An empty
// symbol disables base handling.
func WithBaseSymbol(sym string) Option {
	return func(s *Service) { s.base = sym }
}

func WithCatalogCache(c CatalogCache) Option {
	return func(s *Service) { s.cache = c }
}

// Catalog lists every stored symbol with its availability summary.
func (s *Service) Catalog(ctx context.Context) (*price.Catalog, error) {
	cat, err := s.storedCatalog(ctx)
	if err != nil {
		return nil, err
	}
	if s.base != "" {
		b := baseSummary
		b.Symbol = s.base
		cat.Add(b)
	}
	return cat, nil
}

func (s *Service) storedCatalog(ctx context.Context) (*price.Catalog, error) {
	if s.cache != nil {
		summaries, ok, err := s.cache.Get(ctx)
		switch {
		case err != nil:
			metrics.CatalogCache.WithLabelValues("error").Inc()
			slog.Warn("catalog cache read failed", "error", err)
		case ok:
			metrics.CatalogCache.WithLabelValues("hit").Inc()
			cat := price.NewCatalog()
			for _, sm := range summaries {
				cat.Add(sm)
			}
			return cat, nil
		default:
			metrics.CatalogCache.WithLabelValues("miss").Inc()
		}
	}

	cat, err := s.pager.Catalog(ctx)
	if err != nil {
		return nil, upstreamError(err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cat.Summaries()); err != nil {
			slog.Warn("catalog cache write failed", "error", err)
		}
	}
	return cat, nil
}

// Conversion is an opened asset/currency series pair. Its first pages have
// been read, so upstream failures on the first request surface from Open.
type Conversion struct {
	asset    *view.Cursor
	currency *view.Cursor
	invert   bool
}

// Open starts a conversion for a ModeConvert request. Both sides are fetched
// concurrently. When one side is the base symbol only the other side is read.
func (s *Service) Open(ctx context.Context, req Request) (*Conversion, error) {
	if req.Mode != ModeConvert {
		return nil, apperror.New(apperror.BadRequest, "asset and currency are required")
	}

	from, to := req.Keys(s.pager.KeyUnit())
	c := &Conversion{}
	switch {
	case s.base != "" && req.Asset == s.base:
		c.currency = s.pager.Series(req.Currency, from, to)
		c.invert = true
	case s.base != "" && req.Currency == s.base:
		c.asset = s.pager.Series(req.Asset, from, to)
	default:
		c.asset = s.pager.Series(req.Asset, from, to)
		c.currency = s.pager.Series(req.Currency, from, to)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, cur := range []*view.Cursor{c.asset, c.currency} {
		if cur == nil {
			continue
		}
		g.Go(func() error { return cur.Prime(gctx) })
	}
	if err := g.Wait(); err != nil {
		return nil, upstreamError(err)
	}
	return c, nil
}

// Each streams the ratio series to emit in timestamp order.
func (c *Conversion) Each(ctx context.Context, emit func(price.Ratio) error) (price.MergeStats, error) {
	return c.run(ctx, 0, emit)
}

// Daily streams the ratio of the daily average prices, one point per day
// stamped with the start of the day.
func (c *Conversion) Daily(ctx context.Context, emit func(price.Ratio) error) (price.MergeStats, error) {
	return c.run(ctx, price.Day, emit)
}

// run merges the two sides, averaged over period seconds when period is set.
func (c *Conversion) run(ctx context.Context, period int64, emit func(price.Ratio) error) (price.MergeStats, error) {
	series := func(cur *view.Cursor) price.Series {
		if period > 0 {
			return price.Averaged(cur, period)
		}
		return cur
	}

	var (
		st  price.MergeStats
		err error
	)
	switch {
	case c.asset == nil:
		st, err = price.Rebase(ctx, series(c.currency), true, emit)
	case c.currency == nil:
		st, err = price.Rebase(ctx, series(c.asset), false, emit)
	default:
		st, err = price.Merge(ctx, series(c.asset), series(c.currency), emit)
	}

	metrics.MergedPoints.WithLabelValues("matched").Add(float64(st.Matched))
	metrics.MergedPoints.WithLabelValues("skipped_zero_price").Add(float64(st.SkippedZeroPrice))
	if st.SkippedZeroPrice > 0 {
		slog.Warn("skipped points with zero price", "count", st.SkippedZeroPrice)
	}
	if err != nil {
		return st, upstreamError(err)
	}
	return st, nil
}

// Candles folds the ratio series into OHLC bars of frame minutes.
func (c *Conversion) Candles(ctx context.Context, frame int64, emit func(price.Candle) error) (price.MergeStats, error) {
	b := price.NewCandleBuilder(frame*60, emit)
	st, err := c.Each(ctx, b.Add)
	if err != nil {
		return st, err
	}
	return st, b.Flush()
}

// History returns the price of every catalog symbol at one instant, in
// catalog order, divided by the price of the requested currency at that
// instant. Symbols without a price then are left out. A currency without a
// price then is NotFound.
func (s *Service) History(ctx context.Context, snap Snapshot) ([]price.Point, error) {
	unit := s.pager.KeyUnit()
	key, stored := snap.At/unit, snap.At%unit == 0

	lookup := func(ctx context.Context, sym string) (float64, bool, error) {
		if s.base != "" && sym == s.base {
			return 1, true, nil
		}
		if !stored {
			return 0, false, nil
		}
		pt, ok, err := s.pager.At(ctx, sym, key)
		return pt.Price, ok, err
	}

	divider := 1.0
	if snap.Currency != "" {
		v, ok, err := lookup(ctx, snap.Currency)
		if err != nil {
			return nil, upstreamError(err)
		}
		if !ok || v == 0 || !finite(v) {
			return nil, apperror.New(apperror.NotFound, fmt.Sprintf("no %s price at %d", snap.Currency, snap.At))
		}
		divider = v
	}

	cat, err := s.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	syms := cat.Symbols()
	prices := make([]float64, len(syms))
	found := make([]bool, len(syms))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(historyWorkers)
	for i, sym := range syms {
		g.Go(func() error {
			v, ok, err := lookup(gctx, sym)
			prices[i], found[i] = v, ok
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, upstreamError(err)
	}

	out := make([]price.Point, 0, len(syms))
	for i, sym := range syms {
		v := prices[i] / divider
		if !found[i] || !finite(v) {
			continue
		}
		out = append(out, price.Point{Symbol: sym, Timestamp: snap.At, Price: v})
	}
	return out, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// upstreamError maps store sentinels to application errors. Context errors
// and errors raised by the caller's emit function pass through unchanged.
func upstreamError(err error) error {
	switch {
	case errors.Is(err, view.ErrUnavailable):
		return apperror.Wrap(apperror.UpstreamUnavailable, "price store unavailable", err)
	case errors.Is(err, view.ErrProtocol):
		return apperror.Wrap(apperror.UpstreamProtocol, "unexpected response from price store", err)
	default:
		return err
	}
}
