package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/ahmethakanbesel/cryptoprices/internal/apperror"
	"github.com/ahmethakanbesel/cryptoprices/internal/price"
)

type APIResponse[T any] struct {
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func writeJSON[T any](w http.ResponseWriter, status int, data T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse[T]{
		Message: "ok",
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse[string]{
		Message: message,
		Data:    "",
	})
}

// writeFailure reports an error that happened before any body byte was
// written. A request whose client has gone away gets no response.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperror.AppError
	switch {
	case errors.As(err, &ae):
		if ae.HTTPStatus() >= http.StatusInternalServerError {
			slog.Error("request failed", "path", r.URL.Path, "error", err, "requestID", r.Context().Value(requestIDKey))
		}
		writeError(w, ae.HTTPStatus(), ae.Message())
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		slog.Debug("client went away", "path", r.URL.Path)
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err, "requestID", r.Context().Value(requestIDKey))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// abortStream ends a response whose body has already started. The connection
// is dropped so the client never sees a well-formed but truncated series.
func abortStream(r *http.Request, err error) {
	if r.Context().Err() != nil {
		slog.Debug("client went away mid-stream", "path", r.URL.Path)
	} else {
		slog.Error("aborting stream", "path", r.URL.Path, "error", err, "requestID", r.Context().Value(requestIDKey))
	}
	panic(http.ErrAbortHandler)
}

// writeCatalog writes the catalog as one JSON object in catalog order:
// {"btc":[min,max,count],\n"eth":[...]}. Summaries read from the store are
// written as the store returned them.
func writeCatalog(w http.ResponseWriter, cat *price.Catalog) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range cat.Summaries() {
		if i > 0 {
			buf.WriteString(",\n")
		}
		key, _ := json.Marshal(s.Symbol)
		buf.Write(key)
		buf.WriteByte(':')
		if len(s.Raw) > 0 {
			buf.Write(s.Raw)
			continue
		}
		buf.WriteByte('[')
		buf.WriteString(strconv.FormatInt(s.Min, 10))
		buf.WriteByte(',')
		buf.WriteString(strconv.FormatInt(s.Max, 10))
		buf.WriteByte(',')
		buf.WriteString(strconv.FormatInt(s.Count, 10))
		buf.WriteByte(']')
	}
	buf.WriteByte('}')

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// writeSnapshot writes one price per symbol as a JSON object in the given
// order: {"btc":50000,\n"eth":2500}.
func writeSnapshot(w http.ResponseWriter, pts []price.Point) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range pts {
		if i > 0 {
			buf.WriteString(",\n")
		}
		key, _ := json.Marshal(p.Symbol)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(strconv.AppendFloat(nil, p.Price, 'g', -1, 64))
	}
	buf.WriteByte('}')

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// seriesWriter streams rows of numbers either as a JSON array of arrays or
// as CSV. Rows are buffered and reach the client in chunks.
type seriesWriter struct {
	bw   *bufio.Writer
	csv  bool
	rows int
	num  []byte
}

// startSeries commits the response headers and lifts the server write
// timeout, which a long series can outlast.
func startSeries(w http.ResponseWriter, csvHeader, filename string) *seriesWriter {
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	sw := &seriesWriter{bw: bufio.NewWriterSize(w, 32<<10), csv: csvHeader != ""}
	if sw.csv {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
		w.WriteHeader(http.StatusOK)
		_, _ = sw.bw.WriteString(csvHeader + "\n")
		return sw
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = sw.bw.WriteByte('[')
	return sw
}

func (s *seriesWriter) row(t int64, values ...float64) error {
	b := s.num[:0]
	if !s.csv {
		if s.rows > 0 {
			b = append(b, ",\n"...)
		}
		b = append(b, '[')
	}
	b = strconv.AppendInt(b, t, 10)
	for _, v := range values {
		b = append(b, ',')
		b = strconv.AppendFloat(b, v, 'g', -1, 64)
	}
	if s.csv {
		b = append(b, '\n')
	} else {
		b = append(b, ']')
	}
	s.num = b
	s.rows++
	_, err := s.bw.Write(b)
	return err
}

func (s *seriesWriter) ratio(r price.Ratio) error {
	return s.row(r.Timestamp, r.Value)
}

func (s *seriesWriter) candle(c price.Candle) error {
	return s.row(c.Timestamp, c.Open, c.High, c.Low, c.Close)
}

func (s *seriesWriter) close() error {
	if !s.csv {
		if err := s.bw.WriteByte(']'); err != nil {
			return err
		}
	}
	return s.bw.Flush()
}
