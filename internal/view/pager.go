package view

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ahmethakanbesel/cryptoprices/internal/price"
)

const (
	DefaultPageSize = 100000
	// DefaultKeyUnit is the number of seconds per document id step. The
	// collector stores one document per ten seconds of wall time.
	DefaultKeyUnit = 10
	// MaxKey is an upper document id bound above every id of up to 18
	// digits, compared either as numbers or as strings.
	MaxKey = 999999999999999999
)

// Pager reads series and catalogs out of a Store page by page.
type Pager struct {
	store    Store
	pageSize int
	keyUnit  int64
}

// NewPager creates a Pager with the given options applied.
func NewPager(store Store, opts ...Option) *Pager {
	p := &Pager{
		store:    store,
		pageSize: DefaultPageSize,
		keyUnit:  DefaultKeyUnit,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Option configures a Pager.
type Option func(*Pager)

// WithPageSize sets the row limit of each view request.
func WithPageSize(n int) Option {
	return func(p *Pager) {
		if n > 0 {
			p.pageSize = n
		}
	}
}

// WithKeyUnit sets how many seconds one document id step represents.
func WithKeyUnit(seconds int64) Option {
	return func(p *Pager) {
		if seconds > 0 {
			p.keyUnit = seconds
		}
	}
}

// KeyUnit reports how many seconds one document id step represents.
func (p *Pager) KeyUnit() int64 { return p.keyUnit }

// Series returns a lazy cursor over the points of symbol whose document ids
// lie in [fromKey, toKey]. Bounds are in store key units; emitted timestamps
// are in seconds. Nothing is fetched until Prime or Next is called.
func (p *Pager) Series(symbol string, fromKey, toKey int64) *Cursor {
	q := Query{
		StartKey:   symbol,
		EndKey:     symbol,
		StartDocID: formatDocID(fromKey),
		EndDocID:   formatDocID(toKey),
	}
	return &Cursor{
		pages:  newPages(p.store, q, p.pageSize),
		symbol: symbol,
		unit:   p.keyUnit,
	}
}

// At reads the point of symbol stored under document id key. ok is false
// when there is none.
func (p *Pager) At(ctx context.Context, symbol string, key int64) (pt price.Point, ok bool, err error) {
	c := p.Series(symbol, key, key)
	if c.Next(ctx) {
		return c.Point(), true, nil
	}
	return price.Point{}, false, c.Err()
}

// Rows walks the raw rows of symbol in [fromKey, toKey] page by page. It is
// the copying counterpart of Series and does not decode the rows.
func (p *Pager) Rows(ctx context.Context, symbol string, fromKey, toKey int64, fn func([]Row) error) error {
	q := Query{
		StartKey:   symbol,
		EndKey:     symbol,
		StartDocID: formatDocID(fromKey),
		EndDocID:   formatDocID(toKey),
	}
	if err := Walk(ctx, p.store, q, p.pageSize, fn); err != nil {
		return fmt.Errorf("read %s: %w", symbol, err)
	}
	return nil
}

// Cursor is a price.Series backed by paged view queries. Pages are requested
// only when the previous one has been consumed.
type Cursor struct {
	pages  *pages
	symbol string
	unit   int64

	buf     []Row
	pos     int
	cur     price.Point
	started bool
	err     error
}

var _ price.Series = (*Cursor)(nil)

// Prime fetches the first page without consuming it. Calling it more than
// once, or after Next, is a no-op.
func (c *Cursor) Prime(ctx context.Context) error {
	if c.err != nil || c.pages.count > 0 || c.pages.done {
		return c.err
	}
	rows, err := c.pages.next(ctx)
	if err != nil {
		c.err = fmt.Errorf("read %s: %w", c.symbol, err)
		return c.err
	}
	c.buf, c.pos = rows, 0
	return nil
}

func (c *Cursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	for c.pos >= len(c.buf) {
		if c.pages.done {
			return false
		}
		rows, err := c.pages.next(ctx)
		if err != nil {
			c.err = fmt.Errorf("read %s: %w", c.symbol, err)
			return false
		}
		c.buf, c.pos = rows, 0
	}

	row := c.buf[c.pos]
	c.pos++
	p, err := c.decode(row)
	if err != nil {
		c.err = err
		return false
	}
	if c.started && p.Timestamp < c.cur.Timestamp {
		c.err = fmt.Errorf("%w: %s rows out of order: %d after %d", ErrProtocol, c.symbol, p.Timestamp, c.cur.Timestamp)
		return false
	}
	c.cur, c.started = p, true
	return true
}

func (c *Cursor) Point() price.Point { return c.cur }
func (c *Cursor) Err() error         { return c.err }

// Pages reports how many view requests the cursor has made.
func (c *Cursor) Pages() int { return c.pages.count }

func (c *Cursor) decode(r Row) (price.Point, error) {
	sym, err := r.KeyString()
	if err != nil {
		return price.Point{}, err
	}
	if sym != c.symbol {
		return price.Point{}, fmt.Errorf("%w: row for %q in %s series", ErrProtocol, sym, c.symbol)
	}
	id, err := strconv.ParseInt(r.ID, 10, 64)
	if err != nil {
		return price.Point{}, fmt.Errorf("%w: %s row id %q is not a timestamp", ErrProtocol, c.symbol, r.ID)
	}
	v, err := strconv.ParseFloat(string(r.Value), 64)
	if err != nil {
		return price.Point{}, fmt.Errorf("%w: %s row %s value %s is not a number", ErrProtocol, c.symbol, r.ID, r.Value)
	}
	return price.Point{Symbol: sym, Timestamp: id * c.unit, Price: v}, nil
}
