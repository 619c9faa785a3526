package price

import (
	"slices"
	"testing"
)

func TestCatalog_KeepsInsertionOrder(t *testing.T) {
	c := NewCatalog()
	c.Add(Summary{Symbol: "eth", Min: 1, Max: 2, Count: 2})
	c.Add(Summary{Symbol: "btc", Min: 3, Max: 9, Count: 7})
	c.Add(Summary{Symbol: "ada", Min: 5, Max: 5, Count: 1})

	if got := c.Symbols(); !slices.Equal(got, []string{"eth", "btc", "ada"}) {
		t.Errorf("unexpected order %v", got)
	}
	if c.Len() != 3 {
		t.Errorf("expected 3 entries, got %d", c.Len())
	}
}

func TestCatalog_ReplaceKeepsPosition(t *testing.T) {
	c := NewCatalog()
	c.Add(Summary{Symbol: "eth", Count: 1})
	c.Add(Summary{Symbol: "btc", Count: 1})
	c.Add(Summary{Symbol: "eth", Count: 5})

	got := c.Summaries()
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Symbol != "eth" || got[0].Count != 5 {
		t.Errorf("expected replaced eth first, got %+v", got[0])
	}
	if s, ok := c.Get("btc"); !ok || s.Count != 1 {
		t.Errorf("unexpected btc lookup %+v %v", s, ok)
	}
	if _, ok := c.Get("xrp"); ok {
		t.Error("expected missing symbol")
	}
}
