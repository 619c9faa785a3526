package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ahmethakanbesel/cryptoprices/internal/couchdb"
	"github.com/ahmethakanbesel/cryptoprices/internal/mirror"
	"github.com/ahmethakanbesel/cryptoprices/internal/platform/sqlite"
	"github.com/ahmethakanbesel/cryptoprices/internal/rate"
	pricerepo "github.com/ahmethakanbesel/cryptoprices/internal/repository/price"
	runrepo "github.com/ahmethakanbesel/cryptoprices/internal/repository/run"
	"github.com/ahmethakanbesel/cryptoprices/internal/view"
)

type couchRow struct {
	id    int64
	value string
}

// fakeCouch serves the prices view of a CouchDB database over HTTP.
type fakeCouch struct {
	mu     sync.Mutex
	order  []string
	series map[string][]couchRow
	down   bool
	// countOnly makes the reduce report a bare row count per symbol.
	countOnly bool
	// failFrom makes the n-th and later row requests of a symbol fail;
	// 0 disables it.
	failFrom map[string]int
	calls    map[string]int
}

func newFakeCouch() *fakeCouch {
	return &fakeCouch{
		series:   make(map[string][]couchRow),
		failFrom: make(map[string]int),
		calls:    make(map[string]int),
	}
}

func (f *fakeCouch) add(symbol string, rows ...couchRow) {
	if _, ok := f.series[symbol]; !ok {
		f.order = append(f.order, symbol)
	}
	f.series[symbol] = append(f.series[symbol], rows...)
}

func (f *fakeCouch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path != "/cryptowatch/_design/queries/_view/prices" {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not_found","reason":"missing"}`))
		return
	}
	if f.down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	skip, _ := strconv.Atoi(q.Get("skip"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	var rows []map[string]any
	if q.Get("reduce") == "true" {
		for _, sym := range f.order {
			s := f.series[sym]
			var value any = []int64{s[0].id, s[len(s)-1].id, int64(len(s))}
			if f.countOnly {
				value = len(s)
			}
			rows = append(rows, map[string]any{
				"key":   sym,
				"value": value,
			})
		}
	} else {
		var sym string
		_ = json.Unmarshal([]byte(q.Get("start_key")), &sym)
		f.calls[sym]++
		if n := f.failFrom[sym]; n > 0 && f.calls[sym] >= n {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"os_process_error","reason":"timeout"}`))
			return
		}
		lo, _ := strconv.ParseInt(q.Get("startkey_docid"), 10, 64)
		hi, _ := strconv.ParseInt(q.Get("endkey_docid"), 10, 64)
		for _, row := range f.series[sym] {
			if row.id < lo || row.id > hi {
				continue
			}
			rows = append(rows, map[string]any{
				"id":    strconv.FormatInt(row.id, 10),
				"key":   sym,
				"value": json.RawMessage(row.value),
			})
		}
	}

	if skip > len(rows) {
		skip = len(rows)
	}
	rows = rows[skip:]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"rows": rows})
}

type testEnv struct {
	couch  *fakeCouch
	server *httptest.Server
	prices *pricerepo.Repository
}

// setupE2E wires a CouchDB-backed rate service and a SQLite mirror fed from
// the same fake CouchDB.
func setupE2E(t *testing.T, couch *fakeCouch) *testEnv {
	t.Helper()

	upstream := httptest.NewServer(couch)
	t.Cleanup(upstream.Close)

	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	pager := view.NewPager(couchdb.New(upstream.URL, couchdb.WithClient(upstream.Client())), view.WithPageSize(2))
	prices := pricerepo.NewRepository(db.DB)
	runs := runrepo.NewRepository(db.DB)

	syncer := mirror.NewSyncer(pager, prices, runs, 2)
	runner := mirror.NewRunner(syncer)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()
	// Cleanup runs LIFO: stop the runner before the db is closed.
	t.Cleanup(func() {
		cancel()
		<-done
	})

	ts := httptest.NewServer(NewHandler(rate.NewService(pager), mirror.NewService(runs), runner))
	t.Cleanup(ts.Close)
	return &testEnv{couch: couch, server: ts, prices: prices}
}

func seededCouch() *fakeCouch {
	c := newFakeCouch()
	c.add("btc",
		couchRow{160000000, "100"},
		couchRow{160000001, "200"},
		couchRow{160000002, "300"},
		couchRow{160000004, "500"},
	)
	c.add("eth",
		couchRow{160000000, "50"},
		couchRow{160000002, "0"},
		couchRow{160000003, "10"},
		couchRow{160000004, "125"},
	)
	return c
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec // test URL
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func TestE2E_Health(t *testing.T) {
	env := setupE2E(t, seededCouch())

	resp, body := get(t, env.server.URL+"/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, `"status":"ok"`) {
		t.Errorf("unexpected body %s", body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestE2E_MinuteConversion(t *testing.T) {
	env := setupE2E(t, seededCouch())

	resp, body := get(t, env.server.URL+"/minute?asset=btc&currency=eth")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}
	// 160000001 and 160000003 exist on one side only; eth is 0 at 160000002.
	want := "[[1600000000,2],\n[1600000040,4]]"
	if body != want {
		t.Errorf("expected %q, got %q", want, body)
	}

	var decoded [][2]float64
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
}

func TestE2E_MinuteTimeBounds(t *testing.T) {
	env := setupE2E(t, seededCouch())

	_, body := get(t, env.server.URL+"/minute?asset=btc&currency=eth&from=1600000010&to=1600000049")
	if body != "[[1600000040,4]]" {
		t.Errorf("unexpected bounded body %q", body)
	}

	_, body = get(t, env.server.URL+"/minute?asset=btc&currency=eth&from=1700000000")
	if body != "[]" {
		t.Errorf("expected empty series, got %q", body)
	}
}

func TestE2E_MinuteBaseSymbol(t *testing.T) {
	env := setupE2E(t, seededCouch())

	_, body := get(t, env.server.URL+"/minute?asset=usd&currency=eth&to=1600000009")
	if body != "[[1600000000,0.02]]" {
		t.Errorf("unexpected body %q", body)
	}
}

func TestE2E_MinuteCSV(t *testing.T) {
	env := setupE2E(t, seededCouch())

	resp, body := get(t, env.server.URL+"/minute?asset=btc&currency=eth&format=csv")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "attachment; filename=minute_btc_eth.csv" {
		t.Errorf("unexpected content disposition %q", cd)
	}
	want := "time,ratio\n1600000000,2\n1600000040,4\n"
	if body != want {
		t.Errorf("expected %q, got %q", want, body)
	}
}

func TestE2E_Catalog(t *testing.T) {
	env := setupE2E(t, seededCouch())

	for _, path := range []string{"/minute", "/symbols"} {
		t.Run(path, func(t *testing.T) {
			resp, body := get(t, env.server.URL+path)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.StatusCode)
			}
			want := "{\"btc\":[160000000,160000004,4],\n\"eth\":[160000000,160000004,4],\n\"usd\":[0,999999,999999]}"
			if body != want {
				t.Errorf("expected %q, got %q", want, body)
			}
		})
	}
}

func TestE2E_CatalogCountOnly(t *testing.T) {
	couch := newFakeCouch()
	couch.add("btc", couchRow{160000000, "100"}, couchRow{160000001, "101"}, couchRow{160000002, "102"})
	couch.countOnly = true
	env := setupE2E(t, couch)

	_, body := get(t, env.server.URL+"/minute")
	want := "{\"btc\":3,\n\"usd\":[0,999999,999999]}"
	if body != want {
		t.Errorf("expected %q, got %q", want, body)
	}
}

func TestE2E_InvalidRequests(t *testing.T) {
	env := setupE2E(t, seededCouch())

	tests := []struct {
		name string
		path string
	}{
		{"asset only", "/minute?asset=btc"},
		{"currency only", "/minute?currency=eth"},
		{"bad from", "/minute?asset=btc&currency=eth&from=yesterday"},
		{"ohlc without pair", "/ohlc"},
		{"bad timeframe", "/ohlc?asset=btc&currency=eth&timeframe=0"},
		{"daily without pair", "/daily?asset=btc"},
		{"bad history time", "/history/yesterday"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := get(t, env.server.URL+tt.path)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
			var result APIResponse[string]
			if err := json.Unmarshal([]byte(body), &result); err != nil || result.Message == "" {
				t.Errorf("expected error envelope, got %s", body)
			}
		})
	}
}

func TestE2E_UpstreamDown(t *testing.T) {
	couch := seededCouch()
	couch.down = true
	env := setupE2E(t, couch)

	for _, path := range []string{"/minute?asset=btc&currency=eth", "/symbols"} {
		resp, body := get(t, env.server.URL+path)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", path, resp.StatusCode)
		}
		if !strings.Contains(body, "price store unavailable") {
			t.Errorf("%s: unexpected body %s", path, body)
		}
	}
}

func TestE2E_FailureAfterStreamStartAbortsConnection(t *testing.T) {
	couch := seededCouch()
	// The first page of eth is served, the second one fails.
	couch.failFrom["eth"] = 2
	env := setupE2E(t, couch)

	resp, err := http.Get(env.server.URL + "/minute?asset=btc&currency=eth") //nolint:gosec // test URL
	if err == nil {
		_, err = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
	}
	if err == nil {
		t.Fatal("expected the connection to be aborted")
	}
}

func TestE2E_FailureOnFirstPageIsJSON(t *testing.T) {
	couch := seededCouch()
	couch.failFrom["btc"] = 1
	env := setupE2E(t, couch)

	resp, body := get(t, env.server.URL+"/minute?asset=btc&currency=eth")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", resp.StatusCode, body)
	}
	var result APIResponse[string]
	if err := json.Unmarshal([]byte(body), &result); err != nil || result.Message != "price store unavailable" {
		t.Errorf("expected error envelope, got %s", body)
	}
}

func TestE2E_OHLC(t *testing.T) {
	couch := newFakeCouch()
	// 160000002 is 1600000020 s, the start of a minute.
	for i := int64(0); i < 12; i++ {
		couch.add("btc", couchRow{160000002 + i, strconv.FormatInt(10+i, 10)})
		couch.add("eth", couchRow{160000002 + i, "1"})
	}
	env := setupE2E(t, couch)

	resp, body := get(t, env.server.URL+"/ohlc?asset=btc&currency=eth&timeframe=1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	want := "[[1600000020,10,15,10,15],\n[1600000080,16,21,16,21]]"
	if body != want {
		t.Errorf("expected %q, got %q", want, body)
	}
}

func TestE2E_Daily(t *testing.T) {
	couch := newFakeCouch()
	// 160004160 is 1600041600 s, the start of a day; 160012800 starts the next.
	couch.add("btc", couchRow{160004160, "100"}, couchRow{160004161, "300"}, couchRow{160012800, "400"})
	couch.add("eth", couchRow{160004160, "50"}, couchRow{160004162, "50"}, couchRow{160012801, "100"})
	env := setupE2E(t, couch)

	resp, body := get(t, env.server.URL+"/daily?asset=btc&currency=eth")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if want := "[[1600041600,4],\n[1600128000,4]]"; body != want {
		t.Errorf("expected %q, got %q", want, body)
	}

	resp, body = get(t, env.server.URL+"/daily?asset=btc&currency=eth&format=csv")
	if cd := resp.Header.Get("Content-Disposition"); cd != "attachment; filename=daily_btc_eth.csv" {
		t.Errorf("unexpected content disposition %q", cd)
	}
	if want := "time,ratio\n1600041600,4\n1600128000,4\n"; body != want {
		t.Errorf("expected %q, got %q", want, body)
	}
}

func TestE2E_History(t *testing.T) {
	env := setupE2E(t, seededCouch())

	tests := []struct {
		name   string
		path   string
		status int
		want   string
	}{
		{"in currency", "/history/1600000000?currency=eth", http.StatusOK, "{\"btc\":2,\n\"eth\":1,\n\"usd\":0.02}"},
		{"in base", "/history/1600000030", http.StatusOK, "{\"eth\":10,\n\"usd\":1}"},
		{"symbol missing at time", "/history/1600000030?currency=eth", http.StatusOK, "{\"eth\":1,\n\"usd\":0.1}"},
		{"currency priced zero", "/history/1600000020?currency=eth", http.StatusNotFound, ""},
		{"unknown currency", "/history/1600000000?currency=doge", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := get(t, env.server.URL+tt.path)
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, resp.StatusCode, body)
			}
			if tt.want != "" && body != tt.want {
				t.Errorf("expected %q, got %q", tt.want, body)
			}
		})
	}
}

func TestE2E_SyncMirror(t *testing.T) {
	env := setupE2E(t, seededCouch())

	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/sync", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var run mirror.Run
	deadline := time.After(5 * time.Second)
	for run.Status != mirror.StatusCompleted {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for sync, last run %+v", run)
		default:
			time.Sleep(20 * time.Millisecond)
		}
		_, body := get(t, env.server.URL+"/sync/runs")
		var result APIResponse[[]mirror.Run]
		if err := json.Unmarshal([]byte(body), &result); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(result.Data) > 0 {
			run = result.Data[0]
		}
		if run.Status == mirror.StatusFailed {
			t.Fatalf("sync failed: %s", run.Error)
		}
	}
	if run.SymbolsCount != 2 || run.RecordsCount != 8 {
		t.Errorf("unexpected run %+v", run)
	}

	resp, body := get(t, fmt.Sprintf("%s/sync/runs/%d", env.server.URL, run.ID))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	// The mirror answers the same conversion as CouchDB.
	local := rate.NewService(view.NewPager(env.prices, view.WithPageSize(3)))
	mirrored := httptest.NewServer(NewHandler(local, nil, nil))
	defer mirrored.Close()

	_, want := get(t, env.server.URL+"/minute?asset=btc&currency=eth")
	_, got := get(t, mirrored.URL+"/minute?asset=btc&currency=eth")
	if got != want {
		t.Errorf("mirror served %q, couchdb served %q", got, want)
	}
}

func TestE2E_SyncRoutesNeedMirror(t *testing.T) {
	ts := httptest.NewServer(NewHandler(rate.NewService(view.NewPager(emptyStore{})), nil, nil))
	defer ts.Close()

	resp, _ := get(t, ts.URL+"/sync/runs")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 without a mirror, got %d", resp.StatusCode)
	}
}

func TestE2E_Metrics(t *testing.T) {
	env := setupE2E(t, seededCouch())
	get(t, env.server.URL+"/minute?asset=btc&currency=eth")

	resp, body := get(t, env.server.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	for _, name := range []string{
		"cryptoprices_upstream_pages_total",
		"cryptoprices_merge_points_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("expected metric %s", name)
		}
	}
}

type emptyStore struct{}

func (emptyStore) Query(context.Context, view.Query) ([]view.Row, error) { return []view.Row{}, nil }
