package price

import (
	"context"
	"encoding/json"
)

// Point is one stored price of a symbol. Timestamp is in seconds.
type Point struct {
	Symbol    string  `json:"symbol"`
	Timestamp int64   `json:"timestamp"`
	Price     float64 `json:"price"`
}

// Ratio is one point of a derived exchange-rate series.
type Ratio struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"ratio"`
}

// Series is a forward-only cursor over the points of one symbol, ordered by
// timestamp. It follows the database/sql.Rows pattern: call Next until it
// returns false, then check Err.
type Series interface {
	Next(ctx context.Context) bool
	Point() Point
	Err() error
}

// Summary describes the stored range of a symbol. Min and Max are reported in
// the unit the store aggregates them in. Raw is the aggregate exactly as the
// store returned it; a count-only aggregate leaves Min and Max at zero.
type Summary struct {
	Symbol string          `json:"symbol"`
	Min    int64           `json:"min"`
	Max    int64           `json:"max"`
	Count  int64           `json:"count"`
	Raw    json.RawMessage `json:"raw,omitempty"`
}
