package safety

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRugCheckClient_Analyze(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.Write([]byte(`{
			"tokenMeta": {"symbol": "DOGWIF"},
			"score": 500,
			"totalMarketLiquidity": 125000.5,
			"topHolders": [{"pct": 10.5}, {"pct": 8.2}],
			"mutable": false
		}`))
	}))
	defer ts.Close()

	client := NewRugCheckClient(ts.URL, time.Second)
	report, err := client.Analyze(context.Background(), "Mint111")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if report.Source != "primary" {
		t.Errorf("expected source primary, got %s", report.Source)
	}
	if report.Symbol != "DOGWIF" {
		t.Errorf("expected symbol DOGWIF, got %s", report.Symbol)
	}
	if !report.LiquidityPass {
		t.Error("expected liquidity pass with positive totalMarketLiquidity")
	}
	if !report.HoldersPass {
		t.Errorf("expected holders pass, top holder concentration 18.7%% < 80%%")
	}
	if !report.ContractPass {
		t.Error("expected contract pass when metadata is not mutable")
	}
}

func TestRugCheckClient_HoldersFailOverConcentration(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"tokenMeta": {"symbol": "RUG"},
			"totalMarketLiquidity": 1000,
			"topHolders": [{"pct": 60}, {"pct": 30}],
			"mutable": true
		}`))
	}))
	defer ts.Close()

	client := NewRugCheckClient(ts.URL, time.Second)
	report, err := client.Analyze(context.Background(), "MintRug")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if report.HoldersPass {
		t.Error("expected holders fail at 90%% concentration")
	}
	if report.ContractPass {
		t.Error("expected contract fail when metadata is mutable")
	}
}

func TestGoPlusClient_Analyze(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"result": {
				"Mint222": {
					"mintable": "0",
					"is_open_source": "1",
					"creator_percent": "12.5",
					"lp_holder_count": "340"
				}
			}
		}`))
	}))
	defer ts.Close()

	client := NewGoPlusClient(ts.URL, time.Second)
	report, err := client.Analyze(context.Background(), "Mint222")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if report.Source != "secondary" {
		t.Errorf("expected source secondary, got %s", report.Source)
	}
	if !report.ContractPass {
		t.Error("expected contract pass when not mintable")
	}
	if !report.HoldersPass {
		t.Error("expected holders pass at 12.5%% creator concentration")
	}
	if !report.LiquidityPass {
		t.Error("expected liquidity pass with nonzero lp_holder_count")
	}
}

func TestGoPlusClient_MintableFails(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"result": {
				"Mint333": {
					"mintable": "1",
					"is_open_source": "0",
					"creator_percent": "70",
					"lp_holder_count": "0"
				}
			}
		}`))
	}))
	defer ts.Close()

	client := NewGoPlusClient(ts.URL, time.Second)
	report, err := client.Analyze(context.Background(), "Mint333")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if report.ContractPass {
		t.Error("expected contract fail when mintable")
	}
	if report.HoldersPass {
		t.Error("expected holders fail at 70%% creator concentration")
	}
	if report.LiquidityPass {
		t.Error("expected liquidity fail with zero lp_holder_count")
	}
}

func TestBirdeyeClient_Analyze(t *testing.T) {
	var gotKey string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-KEY")
		w.Write([]byte(`{"data": {"top10HolderPercent": 0.42}}`))
	}))
	defer ts.Close()

	client := NewBirdeyeClient(ts.URL, "test-key", time.Second)
	report, err := client.Analyze(context.Background(), "Mint444")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if gotKey != "test-key" {
		t.Errorf("expected X-API-KEY header to be forwarded, got %q", gotKey)
	}
	if report.Source != "tertiary" {
		t.Errorf("expected source tertiary, got %s", report.Source)
	}
	if !report.HoldersChecked || !report.HoldersPass {
		t.Error("expected holders checked and passing at 42%% top10 concentration")
	}
	if report.LiquidityChecked || report.ContractChecked || report.AgeChecked {
		t.Error("expected every other check to remain unchecked for the Birdeye fallback")
	}
}

func TestHTTPSafetyClient_NonOKStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewRugCheckClient(ts.URL, time.Second)
	if _, err := client.Analyze(context.Background(), "MintAny"); err == nil {
		t.Error("expected error on non-200 status")
	}
}
