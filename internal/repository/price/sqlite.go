package price

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ahmethakanbesel/cryptoprices/internal/view"
)

// Repository is the local mirror of the prices view. It stores raw view rows
// and answers view queries itself, so it can stand in for CouchDB.
type Repository struct {
	db *sql.DB
}

var _ view.Store = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// SaveRows upserts view rows of one symbol. Row ids are document ids in key
// units and values are prices.
func (r *Repository) SaveRows(ctx context.Context, symbol string, rows []view.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	const batchSize = 500
	var total int64

	for i := 0; i < len(rows); i += batchSize {
		end := min(i+batchSize, len(rows))
		batch := rows[i:end]

		placeholders := make([]string, len(batch))
		args := make([]any, 0, len(batch)*3)
		for j, row := range batch {
			id, err := strconv.ParseInt(row.ID, 10, 64)
			if err != nil {
				return total, fmt.Errorf("%w: %s row id %q is not a timestamp", view.ErrProtocol, symbol, row.ID)
			}
			v, err := strconv.ParseFloat(string(row.Value), 64)
			if err != nil {
				return total, fmt.Errorf("%w: %s row %s value %s is not a number", view.ErrProtocol, symbol, row.ID, row.Value)
			}
			placeholders[j] = "(?, ?, ?)"
			args = append(args, symbol, id, v)
		}

		query := fmt.Sprintf( //nolint:gosec // placeholders are not user input
			"INSERT OR REPLACE INTO prices (symbol, doc_id, price) VALUES %s",
			strings.Join(placeholders, ", "),
		)

		res, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("save rows: %w", err)
		}

		n, _ := res.RowsAffected()
		total += n
	}

	return total, nil
}

// MaxDocID returns the newest stored document id of symbol.
func (r *Repository) MaxDocID(ctx context.Context, symbol string) (int64, bool, error) {
	const query = `SELECT MAX(doc_id) FROM prices WHERE symbol = ?`

	var id sql.NullInt64
	if err := r.db.QueryRowContext(ctx, query, symbol).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("max doc id: %w", err)
	}
	return id.Int64, id.Valid, nil
}

// Query answers a view query from the mirror. Document id bounds apply to
// every key in the range, which matches CouchDB for single-key queries.
func (r *Repository) Query(ctx context.Context, q view.Query) ([]view.Row, error) {
	if q.Reduce {
		return r.reduce(ctx, q)
	}

	lo, hi, err := docIDRange(q)
	if err != nil {
		return nil, err
	}

	query := `SELECT symbol, doc_id, price FROM prices WHERE doc_id >= ? AND doc_id <= ?`
	args := []any{lo, hi}
	query, args = keyRange(query, args, q)
	query += " ORDER BY symbol, doc_id LIMIT ? OFFSET ?"
	args = append(args, limit(q), q.Skip)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query mirror: %v", view.ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	out := []view.Row{}
	for rows.Next() {
		var (
			symbol string
			id     int64
			p      float64
		)
		if err := rows.Scan(&symbol, &id, &p); err != nil {
			return nil, fmt.Errorf("%w: scan mirror row: %v", view.ErrUnavailable, err)
		}
		out = append(out, view.Row{
			ID:    strconv.FormatInt(id, 10),
			Key:   jsonKey(symbol),
			Value: json.RawMessage(strconv.FormatFloat(p, 'g', -1, 64)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read mirror rows: %v", view.ErrUnavailable, err)
	}
	return out, nil
}

// reduce returns [min doc id, max doc id, count] per symbol, or one total row
// when the query is not grouped.
func (r *Repository) reduce(ctx context.Context, q view.Query) ([]view.Row, error) {
	query := `SELECT symbol, MIN(doc_id), MAX(doc_id), COUNT(*) FROM prices WHERE 1=1`
	var args []any
	query, args = keyRange(query, args, q)
	if q.Group {
		query += " GROUP BY symbol ORDER BY symbol LIMIT ? OFFSET ?"
		args = append(args, limit(q), q.Skip)
	} else {
		query = strings.Replace(query, "SELECT symbol,", "SELECT '',", 1)
		query += " HAVING COUNT(*) > 0 LIMIT ? OFFSET ?"
		args = append(args, limit(q), q.Skip)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: reduce mirror: %v", view.ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	out := []view.Row{}
	for rows.Next() {
		var (
			symbol        string
			lo, hi, count int64
		)
		if err := rows.Scan(&symbol, &lo, &hi, &count); err != nil {
			return nil, fmt.Errorf("%w: scan mirror summary: %v", view.ErrUnavailable, err)
		}
		key := jsonKey(symbol)
		if !q.Group {
			key = json.RawMessage("null")
		}
		out = append(out, view.Row{
			Key:   key,
			Value: json.RawMessage(fmt.Sprintf("[%d,%d,%d]", lo, hi, count)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read mirror summaries: %v", view.ErrUnavailable, err)
	}
	return out, nil
}

func keyRange(query string, args []any, q view.Query) (string, []any) {
	if q.StartKey != "" {
		query += " AND symbol >= ?"
		args = append(args, q.StartKey)
	}
	if q.EndKey != "" {
		query += " AND symbol <= ?"
		args = append(args, q.EndKey)
	}
	return query, args
}

func docIDRange(q view.Query) (int64, int64, error) {
	lo, hi := int64(math.MinInt64), int64(math.MaxInt64)
	var err error
	if q.StartDocID != "" {
		if lo, err = strconv.ParseInt(q.StartDocID, 10, 64); err != nil {
			return 0, 0, fmt.Errorf("%w: start doc id %q", view.ErrProtocol, q.StartDocID)
		}
	}
	if q.EndDocID != "" {
		if hi, err = strconv.ParseInt(q.EndDocID, 10, 64); err != nil {
			return 0, 0, fmt.Errorf("%w: end doc id %q", view.ErrProtocol, q.EndDocID)
		}
	}
	return lo, hi, nil
}

// limit maps an unset limit to SQLite's "no limit".
func limit(q view.Query) int {
	if q.Limit <= 0 {
		return -1
	}
	return q.Limit
}

func jsonKey(symbol string) json.RawMessage {
	b, _ := json.Marshal(symbol)
	return b
}
