package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahmethakanbesel/cryptoprices/internal/mirror"
	"github.com/ahmethakanbesel/cryptoprices/internal/rate"
)

// NewHandler creates the full HTTP handler with routes and middleware.
// runSvc and runner may be nil when no local mirror is configured; the sync
// routes are then not registered.
func NewHandler(rateSvc *rate.Service, runSvc *mirror.Service, runner *mirror.Runner) http.Handler {
	return newMux(rateSvc, runSvc, runner)
}

func newMux(rateSvc *rate.Service, runSvc *mirror.Service, runner *mirror.Runner) http.Handler {
	h := &handler{
		rateSvc: rateSvc,
		runSvc:  runSvc,
		runner:  runner,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /minute", h.minute)
	mux.HandleFunc("GET /symbols", h.symbols)
	mux.HandleFunc("GET /daily", h.daily)
	mux.HandleFunc("GET /ohlc", h.ohlc)
	mux.HandleFunc("GET /history/{time}", h.history)
	mux.Handle("GET /metrics", promhttp.Handler())

	if runSvc != nil {
		mux.HandleFunc("GET /sync/runs", h.listRuns)
		mux.HandleFunc("GET /sync/runs/{id}", h.getRun)
	}
	if runner != nil {
		mux.HandleFunc("POST /sync", h.triggerSync)
	}

	// Apply middleware stack: recovery -> requestID -> logging
	var handler http.Handler = mux
	handler = logging(handler)
	handler = requestID(handler)
	handler = recovery(handler)

	return handler
}
