package price

import "context"

// Day is the width of a daily period in seconds.
const Day = 24 * 60 * 60

// Averaged folds s into one point per period: the mean price of the points
// inside it, stamped with the period start. Periods without points are
// skipped. Periods shorter than a second are treated as one second.
func Averaged(s Series, period int64) Series {
	return &averaged{src: s, period: max(period, 1)}
}

type averaged struct {
	src    Series
	period int64

	ahead   Point // first point of the next period, read while closing one
	pending bool
	done    bool
	cur     Point
}

func (a *averaged) Next(ctx context.Context) bool {
	if !a.pending {
		if a.done || !a.src.Next(ctx) {
			a.done = true
			return false
		}
		a.ahead = a.src.Point()
	}

	first := a.ahead
	start := first.Timestamp - mod(first.Timestamp, a.period)
	sum, n := first.Price, 1
	a.pending = false
	for {
		if !a.src.Next(ctx) {
			a.done = true
			break
		}
		p := a.src.Point()
		if p.Timestamp-mod(p.Timestamp, a.period) != start {
			a.ahead, a.pending = p, true
			break
		}
		sum += p.Price
		n++
	}
	// A period cut short by a failed read is not reported.
	if a.done && a.src.Err() != nil {
		return false
	}

	a.cur = Point{Symbol: first.Symbol, Timestamp: start, Price: sum / float64(n)}
	return true
}

func (a *averaged) Point() Point { return a.cur }
func (a *averaged) Err() error   { return a.src.Err() }
