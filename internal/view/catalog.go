package view

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ahmethakanbesel/cryptoprices/internal/price"
)

// Catalog runs the grouped reduce of the view and returns one summary per
// symbol, in the order the store reports them.
func (p *Pager) Catalog(ctx context.Context) (*price.Catalog, error) {
	cat := price.NewCatalog()
	q := Query{Reduce: true, Group: true}
	err := Walk(ctx, p.store, q, p.pageSize, func(rows []Row) error {
		for _, r := range rows {
			s, err := decodeSummary(r)
			if err != nil {
				return err
			}
			cat.Add(s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return cat, nil
}

// decodeSummary accepts the reduce value as [min, max, count], as an object
// with min/max/count fields, or as a bare count. The value itself is kept in
// Raw so it can be reported unchanged.
func decodeSummary(r Row) (price.Summary, error) {
	sym, err := r.KeyString()
	if err != nil {
		return price.Summary{}, err
	}
	s := price.Summary{Symbol: sym}
	v := bytes.TrimSpace(r.Value)
	bad := func() (price.Summary, error) {
		return price.Summary{}, fmt.Errorf("%w: summary for %s has unexpected value %s", ErrProtocol, sym, r.Value)
	}

	switch {
	case len(v) == 0:
		return bad()
	case v[0] == '[':
		var arr []float64
		if err := json.Unmarshal(v, &arr); err != nil || len(arr) < 3 {
			return bad()
		}
		s.Min, s.Max, s.Count = int64(arr[0]), int64(arr[1]), int64(arr[2])
	case v[0] == '{':
		var obj struct {
			Min   *float64 `json:"min"`
			Max   *float64 `json:"max"`
			Count *float64 `json:"count"`
		}
		if err := json.Unmarshal(v, &obj); err != nil || obj.Min == nil || obj.Max == nil || obj.Count == nil {
			return bad()
		}
		s.Min, s.Max, s.Count = int64(*obj.Min), int64(*obj.Max), int64(*obj.Count)
	default:
		n, err := strconv.ParseFloat(string(v), 64)
		if err != nil {
			return bad()
		}
		s.Count = int64(n)
	}

	var raw bytes.Buffer
	if err := json.Compact(&raw, v); err != nil {
		return bad()
	}
	s.Raw = raw.Bytes()
	return s, nil
}
