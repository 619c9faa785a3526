package rate

import (
	"strconv"
	"strings"

	"github.com/ahmethakanbesel/cryptoprices/internal/apperror"
	"github.com/ahmethakanbesel/cryptoprices/internal/view"
)

// With ten-second ids a bound is cut to its first keyDigits digits, which
// turns a ten digit Unix time into the matching id. Other units divide.
const (
	keyDigits  = 9
	digitsUnit = 10
	// digitsMaxKey is the unbounded upper id of the nine digit format.
	digitsMaxKey = 999999999
)

const (
	defaultTimeframe = 1
	maxTimeframe     = 7 * 24 * 60
)

// MinuteRequest is the raw query of a /minute, /daily or /ohlc request. Empty fields
// are treated as absent.
type MinuteRequest struct {
	Asset     string
	Currency  string
	From      string
	To        string
	Format    string // "json" or "csv"
	Timeframe string // minutes per candle, /ohlc only
}

// Parse decides the request shape. Neither asset nor currency selects the
// catalog; both select a conversion; anything else is rejected.
func (r MinuteRequest) Parse() (Request, *apperror.AppError) {
	switch {
	case r.Asset == "" && r.Currency == "":
		return Request{Mode: ModeCatalog, Format: FormatJSON}, nil
	case r.Asset == "" || r.Currency == "":
		return Request{}, apperror.New(apperror.BadRequest, "asset and currency must be given together")
	}

	if err := checkBound("from", r.From); err != nil {
		return Request{}, err
	}
	if err := checkBound("to", r.To); err != nil {
		return Request{}, err
	}

	format := Format(r.Format)
	switch format {
	case "":
		format = FormatJSON
	case FormatJSON, FormatCSV:
	default:
		return Request{}, apperror.New(apperror.BadRequest, "format must be json or csv")
	}

	tf := int64(defaultTimeframe)
	if r.Timeframe != "" {
		n, perr := strconv.ParseInt(r.Timeframe, 10, 64)
		if perr != nil || n < 1 || n > maxTimeframe {
			return Request{}, apperror.New(apperror.BadRequest, "timeframe must be a number of minutes between 1 and 10080")
		}
		tf = n
	}

	return Request{
		Mode:      ModeConvert,
		Asset:     r.Asset,
		Currency:  r.Currency,
		From:      r.From,
		To:        r.To,
		Format:    format,
		Timeframe: tf,
	}, nil
}

// HistoryRequest is the raw input of a /history/{time} request.
type HistoryRequest struct {
	Time     string
	Currency string // optional quote currency
}

// Snapshot is a validated history request. At is in seconds.
type Snapshot struct {
	At       int64
	Currency string
}

func (r HistoryRequest) Parse() (Snapshot, *apperror.AppError) {
	if r.Time == "" || !isDigits(r.Time) {
		return Snapshot{}, apperror.New(apperror.BadRequest, "time must be a Unix timestamp in seconds")
	}
	at, err := strconv.ParseInt(r.Time, 10, 64)
	if err != nil {
		return Snapshot{}, apperror.New(apperror.BadRequest, "time is out of range")
	}
	return Snapshot{At: at, Currency: r.Currency}, nil
}

func checkBound(name, v string) *apperror.AppError {
	if !isDigits(v) {
		return apperror.New(apperror.BadRequest, name+" must be a Unix timestamp in seconds")
	}
	return nil
}

func isDigits(v string) bool {
	return strings.Trim(v, "0123456789") == ""
}

// Keys converts the time bounds into inclusive document id bounds for ids
// that step by unit seconds. Bounds are compared as numbers, so leading zeros
// carry no meaning.
func (r Request) Keys(unit int64) (from, to int64) {
	if unit == digitsUnit {
		return digitsKey(r.From, 0), digitsKey(r.To, digitsMaxKey)
	}

	from, to = 0, view.MaxKey
	if r.From != "" {
		sec, ok := seconds(r.From)
		if !ok {
			return view.MaxKey, view.MaxKey
		}
		from = sec / unit
		if sec%unit != 0 {
			from++
		}
	}
	if r.To != "" {
		if sec, ok := seconds(r.To); ok {
			to = sec / unit
		}
	}
	return min(from, view.MaxKey), min(to, view.MaxKey)
}

func digitsKey(v string, fallback int64) int64 {
	if v == "" {
		return fallback
	}
	if len(v) > keyDigits {
		v = v[:keyDigits]
	}
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

// seconds parses a validated bound. ok is false when it is beyond every id.
func seconds(v string) (int64, bool) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n > view.MaxKey {
		return 0, false
	}
	return n, true
}
