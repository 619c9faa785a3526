package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ahmethakanbesel/cryptoprices/internal/metrics"
)

// pages walks one query with skip/limit. The result is exhausted only after a
// page comes back with fewer rows than the limit; a full page always costs one
// more request, even if that request returns nothing.
//
// Offsets are not a snapshot: rows inserted or removed between two requests
// can shift the window, so concurrent writers may cause skipped or repeated
// rows.
type pages struct {
	store  Store
	q      Query
	size   int
	offset int
	done   bool
	count  int
}

func newPages(store Store, q Query, size int) *pages {
	return &pages{store: store, q: q, size: size, offset: q.Skip}
}

func (p *pages) next(ctx context.Context) ([]Row, error) {
	if p.done {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := "rows"
	if p.q.Reduce {
		mode = "reduce"
	}

	q := p.q
	q.Skip = p.offset
	q.Limit = p.size
	rows, err := p.store.Query(ctx, q)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues(errorKind(err)).Inc()
		return nil, err
	}
	if len(rows) > p.size {
		metrics.UpstreamErrors.WithLabelValues("protocol").Inc()
		return nil, fmt.Errorf("%w: page has %d rows, limit was %d", ErrProtocol, len(rows), p.size)
	}

	metrics.UpstreamPages.WithLabelValues(mode).Inc()
	metrics.UpstreamRows.WithLabelValues(mode).Add(float64(len(rows)))

	p.count++
	p.offset += p.size
	if len(rows) < p.size {
		p.done = true
	}
	slog.Debug("fetched view page",
		"key", q.StartKey,
		"mode", mode,
		"skip", q.Skip,
		"rows", len(rows),
		"last", p.done,
	)
	return rows, nil
}

// Walk runs q to exhaustion and hands every page to fn in order.
func Walk(ctx context.Context, store Store, q Query, pageSize int, fn func([]Row) error) error {
	pg := newPages(store, q, pageSize)
	for !pg.done {
		rows, err := pg.next(ctx)
		if err != nil {
			return err
		}
		if err := fn(rows); err != nil {
			return err
		}
	}
	return nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}

func formatDocID(v int64) string {
	return strconv.FormatInt(v, 10)
}
