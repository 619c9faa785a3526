// Package rate answers catalog and exchange-rate requests on top of the
// prices view.
package rate

type Mode int

const (
	ModeCatalog Mode = iota
	ModeConvert
)

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Request is a validated /minute, /daily or /ohlc request. From and To are
// the time bounds as sent, digits only; empty means unbounded. Keys turns
// them into document ids.
type Request struct {
	Mode      Mode
	Asset     string
	Currency  string
	From      string
	To        string
	Format    Format
	Timeframe int64 // minutes
}
