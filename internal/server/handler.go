package server

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ahmethakanbesel/cryptoprices/internal/mirror"
	"github.com/ahmethakanbesel/cryptoprices/internal/rate"
)

type handler struct {
	rateSvc *rate.Service
	runSvc  *mirror.Service
	runner  *mirror.Runner
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func minuteRequest(r *http.Request) rate.MinuteRequest {
	q := r.URL.Query()
	return rate.MinuteRequest{
		Asset:     q.Get("asset"),
		Currency:  q.Get("currency"),
		From:      q.Get("from"),
		To:        q.Get("to"),
		Format:    q.Get("format"),
		Timeframe: q.Get("timeframe"),
	}
}

// minute serves the catalog when neither asset nor currency is given and the
// asset/currency ratio series otherwise.
func (h *handler) minute(w http.ResponseWriter, r *http.Request) {
	req, appErr := minuteRequest(r).Parse()
	if appErr != nil {
		writeError(w, appErr.HTTPStatus(), appErr.Message())
		return
	}
	if req.Mode == rate.ModeCatalog {
		h.symbols(w, r)
		return
	}

	conv, err := h.rateSvc.Open(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	var sw *seriesWriter
	if req.Format == rate.FormatCSV {
		sw = startSeries(w, "time,ratio", "minute_"+req.Asset+"_"+req.Currency+".csv")
	} else {
		sw = startSeries(w, "", "")
	}
	st, err := conv.Each(r.Context(), sw.ratio)
	if err == nil {
		err = sw.close()
	}
	if err != nil {
		abortStream(r, err)
	}
	slog.Debug("series sent", "asset", req.Asset, "currency", req.Currency, "points", st.Matched, "skipped", st.SkippedZeroPrice)
}

func (h *handler) symbols(w http.ResponseWriter, r *http.Request) {
	cat, err := h.rateSvc.Catalog(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeCatalog(w, cat)
}

// openPair parses a request that needs both asset and currency and opens
// the conversion. On failure the response has been written and ok is false.
func (h *handler) openPair(w http.ResponseWriter, r *http.Request) (rate.Request, *rate.Conversion, bool) {
	req, appErr := minuteRequest(r).Parse()
	if appErr != nil {
		writeError(w, appErr.HTTPStatus(), appErr.Message())
		return req, nil, false
	}
	if req.Mode != rate.ModeConvert {
		writeError(w, http.StatusBadRequest, "asset and currency are required")
		return req, nil, false
	}

	conv, err := h.rateSvc.Open(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return req, nil, false
	}
	return req, conv, true
}

func (h *handler) daily(w http.ResponseWriter, r *http.Request) {
	req, conv, ok := h.openPair(w, r)
	if !ok {
		return
	}

	var sw *seriesWriter
	if req.Format == rate.FormatCSV {
		sw = startSeries(w, "time,ratio", "daily_"+req.Asset+"_"+req.Currency+".csv")
	} else {
		sw = startSeries(w, "", "")
	}
	_, err := conv.Daily(r.Context(), sw.ratio)
	if err == nil {
		err = sw.close()
	}
	if err != nil {
		abortStream(r, err)
	}
}

func (h *handler) ohlc(w http.ResponseWriter, r *http.Request) {
	req, conv, ok := h.openPair(w, r)
	if !ok {
		return
	}

	var sw *seriesWriter
	if req.Format == rate.FormatCSV {
		sw = startSeries(w, "time,open,high,low,close", "ohlc_"+req.Asset+"_"+req.Currency+".csv")
	} else {
		sw = startSeries(w, "", "")
	}
	_, err := conv.Candles(r.Context(), req.Timeframe, sw.candle)
	if err == nil {
		err = sw.close()
	}
	if err != nil {
		abortStream(r, err)
	}
}

// history serves the price of every symbol at one instant.
func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	snap, appErr := rate.HistoryRequest{
		Time:     r.PathValue("time"),
		Currency: r.URL.Query().Get("currency"),
	}.Parse()
	if appErr != nil {
		writeError(w, appErr.HTTPStatus(), appErr.Message())
		return
	}

	pts, err := h.rateSvc.History(r.Context(), snap)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeSnapshot(w, pts)
}

func (h *handler) triggerSync(w http.ResponseWriter, _ *http.Request) {
	h.runner.Notify()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := h.runSvc.Get(r.Context(), mirror.GetRunRequest{ID: id})
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	req := mirror.ListRunsRequest{Status: mirror.Status(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		req.Limit = n
	}

	runs, err := h.runSvc.List(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}
