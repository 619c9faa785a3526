// Package view reads price series and symbol summaries out of a key-sorted
// view store (a CouchDB map/reduce view or the local mirror).
//
// The view is keyed by symbol; the document id of each row is the timestamp
// in store key units and the value is the price. Within one key the store
// returns rows in document id order, which for fixed-width ids is timestamp
// order. The pager relies on that order and verifies it while reading.
package view

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable reports a transport failure talking to the store.
	ErrUnavailable = errors.New("price store unavailable")
	// ErrProtocol reports a response that does not have the expected shape.
	ErrProtocol = errors.New("price store protocol error")
)

// Query is one request against the prices view. Empty bounds are unbounded.
type Query struct {
	Reduce     bool
	Group      bool
	StartKey   string
	EndKey     string
	StartDocID string
	EndDocID   string
	Skip       int
	Limit      int
}

// Row is one row of a view response. Reduced rows have no ID.
type Row struct {
	ID    string          `json:"id,omitempty"`
	Key   json.RawMessage `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Store executes a single view query and returns at most q.Limit rows.
type Store interface {
	Query(ctx context.Context, q Query) ([]Row, error)
}

// KeyString decodes the row key as a symbol name.
func (r Row) KeyString() (string, error) {
	var s string
	if err := json.Unmarshal(r.Key, &s); err != nil {
		return "", fmt.Errorf("%w: row key %s is not a string", ErrProtocol, r.Key)
	}
	return s, nil
}
