package rate

import (
	"testing"

	"github.com/ahmethakanbesel/cryptoprices/internal/apperror"
	"github.com/ahmethakanbesel/cryptoprices/internal/view"
)

func TestMinuteRequest_Shapes(t *testing.T) {
	tests := []struct {
		name    string
		req     MinuteRequest
		mode    Mode
		wantErr bool
	}{
		{"catalog", MinuteRequest{}, ModeCatalog, false},
		{"catalog ignores bounds", MinuteRequest{From: "1600000000"}, ModeCatalog, false},
		{"conversion", MinuteRequest{Asset: "btc", Currency: "eth"}, ModeConvert, false},
		{"asset only", MinuteRequest{Asset: "btc"}, 0, true},
		{"currency only", MinuteRequest{Currency: "eth"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.req.Parse()
			if tt.wantErr {
				if err == nil || err.Code() != apperror.BadRequest {
					t.Fatalf("expected bad request, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Mode != tt.mode {
				t.Errorf("expected mode %v, got %v", tt.mode, got.Mode)
			}
		})
	}
}

func TestRequest_Keys(t *testing.T) {
	tests := []struct {
		name     string
		unit     int64
		from, to string
		wantFrom int64
		wantTo   int64
	}{
		{"defaults", 10, "", "", 0, 999999999},
		{"ten digit seconds", 10, "1600000000", "1600000599", 160000000, 160000059},
		{"short values kept", 10, "12345", "99", 12345, 99},
		{"long values cut", 10, "16000000001234", "", 160000000, 999999999},
		{"leading zeros", 10, "0100", "", 100, 999999999},
		{"one second ids", 1, "1600000000", "1600000120", 1600000000, 1600000120},
		{"one second defaults", 1, "", "", 0, view.MaxKey},
		{"minute ids round inward", 60, "1600000001", "1600000119", 26666667, 26666668},
		{"minute ids exact", 60, "1600000020", "1600000080", 26666667, 26666668},
		{"beyond every id", 1, "99999999999999999999", "99999999999999999999", view.MaxKey, view.MaxKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := MinuteRequest{Asset: "btc", Currency: "eth", From: tt.from, To: tt.to}.Parse()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			from, to := req.Keys(tt.unit)
			if from != tt.wantFrom || to != tt.wantTo {
				t.Errorf("expected [%d, %d], got [%d, %d]", tt.wantFrom, tt.wantTo, from, to)
			}
		})
	}
}

func TestMinuteRequest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		req  MinuteRequest
	}{
		{"negative from", MinuteRequest{From: "-1"}},
		{"fractional to", MinuteRequest{To: "1600000000.5"}},
		{"word", MinuteRequest{From: "yesterday"}},
		{"bad format", MinuteRequest{Format: "xml"}},
		{"zero timeframe", MinuteRequest{Timeframe: "0"}},
		{"huge timeframe", MinuteRequest{Timeframe: "10081"}},
		{"bad timeframe", MinuteRequest{Timeframe: "5m"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Asset, tt.req.Currency = "btc", "eth"
			if _, err := tt.req.Parse(); err == nil || err.HTTPStatus() != 400 {
				t.Errorf("expected 400, got %v", err)
			}
		})
	}
}

func TestMinuteRequest_Defaults(t *testing.T) {
	got, err := MinuteRequest{Asset: "btc", Currency: "eth", Format: "csv", Timeframe: "15"}.Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Format != FormatCSV || got.Timeframe != 15 {
		t.Errorf("unexpected request %+v", got)
	}

	got, _ = MinuteRequest{Asset: "btc", Currency: "eth"}.Parse()
	if got.Format != FormatJSON || got.Timeframe != 1 {
		t.Errorf("unexpected defaults %+v", got)
	}
}
