package price

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func drainSeries(t *testing.T, s Series) []Point {
	t.Helper()
	var out []Point
	for s.Next(context.Background()) {
		out = append(out, s.Point())
	}
	return out
}

func TestAveraged_Daily(t *testing.T) {
	src := newSlice("btc",
		[2]float64{Day + 10, 100},
		[2]float64{Day + 600, 200},
		[2]float64{Day + 3600, 300},
		[2]float64{3*Day + 5, 50},
	)

	got := drainSeries(t, Averaged(src, Day))
	want := []Point{
		{Symbol: "btc", Timestamp: Day, Price: 200},
		{Symbol: "btc", Timestamp: 3 * Day, Price: 50},
	}
	if !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestAveraged_Empty(t *testing.T) {
	a := Averaged(newSlice("btc"), Day)
	if a.Next(context.Background()) {
		t.Fatal("expected no points")
	}
	if a.Next(context.Background()) {
		t.Fatal("expected no points after exhaustion")
	}
	if err := a.Err(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAveraged_ReadErrorDropsOpenPeriod(t *testing.T) {
	src := newSlice("btc", [2]float64{10, 1}, [2]float64{Day + 10, 2}, [2]float64{Day + 20, 4})
	src.err = errors.New("connection reset")

	a := Averaged(src, Day)
	got := drainSeries(t, a)
	if len(got) != 1 || got[0].Timestamp != 0 || got[0].Price != 1 {
		t.Errorf("expected only the closed first day, got %v", got)
	}
	if a.Err() == nil {
		t.Error("expected the read error")
	}
}

func TestAveraged_MergesDailyRatios(t *testing.T) {
	btc := newSlice("btc", [2]float64{10, 100}, [2]float64{20, 300}, [2]float64{Day + 10, 400})
	eth := newSlice("eth", [2]float64{30, 50}, [2]float64{Day + 50, 100})

	got, st := collect(t, Averaged(btc, Day), Averaged(eth, Day))
	want := []Ratio{{Timestamp: 0, Value: 4}, {Timestamp: Day, Value: 4}}
	if !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if st.Matched != 2 {
		t.Errorf("unexpected stats %+v", st)
	}
}
