// Package mirror copies the upstream prices view into the local SQLite
// replica and keeps a history of sync runs.
package mirror

import (
	"context"
	"time"

	"github.com/ahmethakanbesel/cryptoprices/internal/view"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Run is one pass of the syncer over every upstream symbol.
type Run struct {
	ID           int64     `json:"id"`
	Status       Status    `json:"status"`
	SymbolsCount int64     `json:"symbolsCount"`
	RecordsCount int64     `json:"recordsCount"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type RunRepository interface {
	Create(ctx context.Context, r *Run) error
	Update(ctx context.Context, r *Run) error
	Get(ctx context.Context, id int64) (*Run, error)
	List(ctx context.Context, status Status, limit int) ([]Run, error)
	FailInterrupted(ctx context.Context) (int64, error)
}

// PriceStore is the write side of the local replica.
type PriceStore interface {
	SaveRows(ctx context.Context, symbol string, rows []view.Row) (int64, error)
	MaxDocID(ctx context.Context, symbol string) (int64, bool, error)
}
