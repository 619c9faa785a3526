// Package couchdb queries a CouchDB map/reduce view over HTTP.
package couchdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ahmethakanbesel/cryptoprices/internal/view"
)

const (
	defaultDatabase = "cryptowatch"
	defaultDesign   = "queries"
	defaultView     = "prices"
	defaultUpdate   = "lazy"
	defaultBackoff  = 500 * time.Millisecond
)

// Client implements view.Store against one CouchDB view.
type Client struct {
	client   *http.Client
	baseURL  string
	database string
	design   string
	view     string
	update   string
	user     string
	password string
	retries  int
	backoff  time.Duration
}

var _ view.Store = (*Client)(nil)

// New creates a Client for the CouchDB server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		client:   http.DefaultClient,
		baseURL:  strings.TrimRight(baseURL, "/"),
		database: defaultDatabase,
		design:   defaultDesign,
		view:     defaultView,
		update:   defaultUpdate,
		backoff:  defaultBackoff,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Option configures a Client.
type Option func(*Client)

func WithClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithView selects the database, design document and view to query.
func WithView(database, design, viewName string) Option {
	return func(c *Client) {
		if database != "" {
			c.database = database
		}
		if design != "" {
			c.design = design
		}
		if viewName != "" {
			c.view = viewName
		}
	}
}

func WithCredentials(user, password string) Option {
	return func(c *Client) {
		c.user = user
		c.password = password
	}
}

// WithUpdate sets the view update mode ("true", "false" or "lazy").
func WithUpdate(mode string) Option {
	return func(c *Client) { c.update = mode }
}

// WithRetries retries unavailable responses up to n extra times, doubling
// the wait after each attempt.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *Client) {
		c.retries = max(n, 0)
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

type viewResponse struct {
	Rows   *[]view.Row `json:"rows"`
	Error  string      `json:"error"`
	Reason string      `json:"reason"`
}

// Query runs one view request. Transport failures, 5xx and 429 responses
// wrap view.ErrUnavailable; anything else unexpected wraps view.ErrProtocol.
// A retry repeats the same skip/limit window, so no row is handed out twice.
func (c *Client) Query(ctx context.Context, q view.Query) ([]view.Row, error) {
	u := c.viewURL(q)
	wait := c.backoff
	for attempt := 0; ; attempt++ {
		rows, err := c.query(ctx, u)
		if err == nil || !errors.Is(err, view.ErrUnavailable) || attempt >= c.retries {
			return rows, err
		}
		slog.Warn("couchdb query failed, retrying", "attempt", attempt+1, "wait", wait.String(), "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
}

func (c *Client) query(ctx context.Context, u string) ([]view.Row, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	res, err := c.client.Do(req) //nolint:gosec // URL built from internal config
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", view.ErrUnavailable, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		var vr viewResponse
		_ = json.Unmarshal(body, &vr)
		kind := view.ErrProtocol
		if res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests {
			kind = view.ErrUnavailable
		}
		if vr.Error != "" {
			return nil, fmt.Errorf("%w: couchdb returned HTTP %d: %s: %s", kind, res.StatusCode, vr.Error, vr.Reason)
		}
		return nil, fmt.Errorf("%w: couchdb returned HTTP %d", kind, res.StatusCode)
	}

	var vr viewResponse
	if err := json.NewDecoder(res.Body).Decode(&vr); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: decode view response: %v", view.ErrProtocol, err)
	}
	if vr.Rows == nil {
		return nil, fmt.Errorf("%w: view response has no rows", view.ErrProtocol)
	}
	return *vr.Rows, nil
}

func (c *Client) viewURL(q view.Query) string {
	v := url.Values{}
	if c.update != "" {
		v.Set("update", c.update)
	}
	v.Set("skip", strconv.Itoa(q.Skip))
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	v.Set("reduce", strconv.FormatBool(q.Reduce))
	if q.Group {
		v.Set("group", "true")
	}
	if q.StartKey != "" {
		v.Set("start_key", jsonString(q.StartKey))
	}
	if q.EndKey != "" {
		v.Set("end_key", jsonString(q.EndKey))
	}
	if q.StartDocID != "" {
		v.Set("startkey_docid", q.StartDocID)
	}
	if q.EndDocID != "" {
		v.Set("endkey_docid", q.EndDocID)
	}
	return fmt.Sprintf("%s/%s/_design/%s/_view/%s?%s",
		c.baseURL,
		url.PathEscape(c.database),
		url.PathEscape(c.design),
		url.PathEscape(c.view),
		v.Encode(),
	)
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
