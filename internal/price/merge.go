package price

import (
	"context"
	"math"
)

// MergeStats counts what a merge did with the matched timestamps.
type MergeStats struct {
	Matched          int `json:"matched"`
	SkippedZeroPrice int `json:"skippedZeroPrice"`
}

// Merge joins two timestamp-ordered series and emits asset/currency ratios for
// every timestamp present in both. Timestamps present on one side only are
// dropped. Each side is pulled only when its current head has been consumed,
// so neither series is ever held in memory.
//
// A matched pair whose ratio is not a finite number (currency price of zero)
// is not emitted and is counted in MergeStats.SkippedZeroPrice instead.
func Merge(ctx context.Context, asset, currency Series, emit func(Ratio) error) (MergeStats, error) {
	var st MergeStats

	okA := asset.Next(ctx)
	okC := okA && currency.Next(ctx)
	for okA && okC {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		a, c := asset.Point(), currency.Point()
		switch {
		case a.Timestamp < c.Timestamp:
			okA = asset.Next(ctx)
		case a.Timestamp > c.Timestamp:
			okC = currency.Next(ctx)
		default:
			if r, ok := divide(a.Price, c.Price); ok {
				st.Matched++
				if err := emit(Ratio{Timestamp: a.Timestamp, Value: r}); err != nil {
					return st, err
				}
			} else {
				st.SkippedZeroPrice++
			}
			okA = asset.Next(ctx)
			okC = okA && currency.Next(ctx)
		}
	}

	if err := asset.Err(); err != nil {
		return st, err
	}
	if err := currency.Err(); err != nil {
		return st, err
	}
	return st, ctx.Err()
}

// Rebase emits the points of a single series priced against a unit base
// currency. With invert set the series is the currency side and the ratio is
// 1/price.
func Rebase(ctx context.Context, s Series, invert bool, emit func(Ratio) error) (MergeStats, error) {
	var st MergeStats
	for s.Next(ctx) {
		p := s.Point()
		v, ok := p.Price, finite(p.Price)
		if invert {
			v, ok = divide(1, p.Price)
		}
		if !ok {
			st.SkippedZeroPrice++
			continue
		}
		st.Matched++
		if err := emit(Ratio{Timestamp: p.Timestamp, Value: v}); err != nil {
			return st, err
		}
	}
	if err := s.Err(); err != nil {
		return st, err
	}
	return st, ctx.Err()
}

func divide(a, b float64) (float64, bool) {
	if b == 0 {
		return 0, false
	}
	r := a / b
	if !finite(r) {
		return 0, false
	}
	return r, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
