package price

// Candle is an OHLC bar. Timestamp is the start of the bar in seconds.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
}

// CandleBuilder folds an ordered ratio stream into fixed-width candles and
// emits each one as soon as the stream moves past it.
type CandleBuilder struct {
	frame int64
	emit  func(Candle) error
	cur   Candle
	open  bool
}

// NewCandleBuilder returns a builder for frames of the given width in seconds.
// Widths below one second are treated as one second.
func NewCandleBuilder(frame int64, emit func(Candle) error) *CandleBuilder {
	return &CandleBuilder{frame: max(frame, 1), emit: emit}
}

func (b *CandleBuilder) Add(r Ratio) error {
	start := r.Timestamp - mod(r.Timestamp, b.frame)
	if b.open && start == b.cur.Timestamp {
		b.cur.Close = r.Value
		b.cur.High = max(b.cur.High, r.Value)
		b.cur.Low = min(b.cur.Low, r.Value)
		return nil
	}
	if err := b.Flush(); err != nil {
		return err
	}
	b.cur = Candle{Timestamp: start, Open: r.Value, High: r.Value, Low: r.Value, Close: r.Value}
	b.open = true
	return nil
}

// Flush emits the pending candle, if any.
func (b *CandleBuilder) Flush() error {
	if !b.open {
		return nil
	}
	b.open = false
	return b.emit(b.cur)
}

// mod is a floored modulo so bars before the epoch start on frame boundaries.
func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
