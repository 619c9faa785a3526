package view

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/ahmethakanbesel/cryptoprices/internal/price"
)

func reducedRow(symbol, value string) Row {
	key, _ := json.Marshal(symbol)
	return Row{Key: key, Value: json.RawMessage(value)}
}

func TestCatalog_Shapes(t *testing.T) {
	store := newFakeStore()
	store.reduced = []Row{
		reducedRow("eth", `[160000000, 160100000, 120]`),
		reducedRow("btc", `{"min": 150000000, "max": 160000000, "count": 9000}`),
		reducedRow("ada", `42`),
	}

	cat, err := NewPager(store).Catalog(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []price.Summary{
		{Symbol: "eth", Min: 160000000, Max: 160100000, Count: 120, Raw: json.RawMessage(`[160000000,160100000,120]`)},
		{Symbol: "btc", Min: 150000000, Max: 160000000, Count: 9000, Raw: json.RawMessage(`{"min":150000000,"max":160000000,"count":9000}`)},
		{Symbol: "ada", Count: 42, Raw: json.RawMessage(`42`)},
	}
	if got := cat.Summaries(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	q := store.calls[0]
	if !q.Reduce || !q.Group || q.StartKey != "" {
		t.Errorf("expected grouped reduce query, got %+v", q)
	}
}

func TestCatalog_Paginates(t *testing.T) {
	store := newFakeStore()
	for _, s := range []string{"a", "b", "c", "d"} {
		store.reduced = append(store.reduced, reducedRow(s, `[1, 2, 3]`))
	}

	cat, err := NewPager(store, WithPageSize(2)).Catalog(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cat.Len() != 4 {
		t.Errorf("expected 4 symbols, got %d", cat.Len())
	}
	if len(store.calls) != 3 {
		t.Errorf("expected 3 requests for 4 rows with page size 2, got %d", len(store.calls))
	}
}

func TestCatalog_OneEntryPerSymbol(t *testing.T) {
	store := newFakeStore()
	store.reduced = []Row{
		reducedRow("btc", `[1, 2, 2]`),
		reducedRow("btc", `[1, 5, 4]`),
	}

	cat, err := NewPager(store).Catalog(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cat.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", cat.Len())
	}
	if s, _ := cat.Get("btc"); s.Max != 5 || s.Count != 4 {
		t.Errorf("expected last summary to win, got %+v", s)
	}
}

func TestCatalog_BadValues(t *testing.T) {
	for _, v := range []string{`[1, 2]`, `{"min": 1}`, `"many"`, `null`, `[1, "x", 3]`} {
		t.Run(v, func(t *testing.T) {
			store := newFakeStore()
			store.reduced = []Row{reducedRow("btc", v)}
			_, err := NewPager(store).Catalog(context.Background())
			if !errors.Is(err, ErrProtocol) {
				t.Errorf("expected ErrProtocol for %s, got %v", v, err)
			}
		})
	}
}

func TestCatalog_NonStringKey(t *testing.T) {
	store := newFakeStore()
	store.reduced = []Row{{Key: json.RawMessage(`["btc", 1]`), Value: json.RawMessage(`1`)}}
	_, err := NewPager(store).Catalog(context.Background())
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("expected ErrProtocol, got %v", err)
	}
}

func TestCatalog_UpstreamError(t *testing.T) {
	store := newFakeStore()
	store.failAt = 1
	store.failErr = ErrUnavailable
	_, err := NewPager(store).Catalog(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
