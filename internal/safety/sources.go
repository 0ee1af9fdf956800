package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"walltrack/internal/venue"
)

// HTTPSafetyClient implements venue.SafetyClient over a JSON HTTP API,
// grounded on internal/jupiter.Client's pooled-request shape: one GET per
// token address, a bounded client timeout, a typed response struct decoded
// straight off the body. The three constructors below differ only in base
// URL and response-shape parsing; the HTTP plumbing itself is shared.
type HTTPSafetyClient struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	parse   func([]byte) (*venue.SafetyReport, error)
}

func (c *HTTPSafetyClient) Name() string { return c.name }

func (c *HTTPSafetyClient) Analyze(ctx context.Context, tokenAddr string) (*venue.SafetyReport, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, tokenAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", c.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", c.name, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", c.name, err)
	}

	report, err := c.parse(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.name, err)
	}
	report.Source = c.name
	return report, nil
}

// rugCheckResponse mirrors rugcheck.xyz's /tokens/{mint}/report summary
// shape, trimmed to the fields this evaluator scores on.
type rugCheckResponse struct {
	TokenMeta struct {
		Symbol string `json:"symbol"`
	} `json:"tokenMeta"`
	Score        int     `json:"score"` // lower is safer; rugcheck's own 0-100000+ risk score
	TotalMarketLiquidity float64 `json:"totalMarketLiquidity"`
	TopHolders   []struct {
		Pct float64 `json:"pct"`
	} `json:"topHolders"`
	Mutable bool `json:"mutable"` // metadata still mutable by the mint authority
}

// NewRugCheckClient builds the primary SafetyClient against rugcheck.xyz's
// public summary report API.
func NewRugCheckClient(baseURL string, timeout time.Duration) *HTTPSafetyClient {
	return &HTTPSafetyClient{
		name: "primary", baseURL: baseURL, client: &http.Client{Timeout: timeout},
		parse: func(body []byte) (*venue.SafetyReport, error) {
			var r rugCheckResponse
			if err := json.Unmarshal(body, &r); err != nil {
				return nil, err
			}
			top := 0.0
			for _, h := range r.TopHolders {
				top += h.Pct
			}
			return &venue.SafetyReport{
				Symbol:           r.TokenMeta.Symbol,
				LiquidityChecked: true,
				LiquidityPass:    r.TotalMarketLiquidity > 0,
				HoldersChecked:   len(r.TopHolders) > 0,
				HoldersPass:      top < 80,
				ContractChecked:  true,
				ContractPass:     !r.Mutable,
			}, nil
		},
	}
}

// goPlusEntry is one mint's record in GoPlus Security's token_security
// response; every flag is string-typed ("1"/"0" or a decimal percentage).
type goPlusEntry struct {
	IsMintable     string `json:"mintable"`
	IsOpenSource   string `json:"is_open_source"`
	CreatorPercent string `json:"creator_percent"`
	LpHolderCount  string `json:"lp_holder_count"`
}

// goPlusResponse mirrors GoPlus Security's /token_security/{chain} response,
// keyed by mint address.
type goPlusResponse struct {
	Result map[string]goPlusEntry `json:"result"`
}

// NewGoPlusClient builds the secondary SafetyClient against GoPlus
// Security's token_security API.
func NewGoPlusClient(baseURL string, timeout time.Duration) *HTTPSafetyClient {
	return &HTTPSafetyClient{
		name: "secondary", baseURL: baseURL, client: &http.Client{Timeout: timeout},
		parse: func(body []byte) (*venue.SafetyReport, error) {
			var r goPlusResponse
			if err := json.Unmarshal(body, &r); err != nil {
				return nil, err
			}
			var entry goPlusEntry
			for _, v := range r.Result {
				entry = v
				break
			}
			creatorPct, _ := strconv.ParseFloat(entry.CreatorPercent, 64)
			return &venue.SafetyReport{
				ContractChecked:  entry.IsMintable != "" || entry.IsOpenSource != "",
				ContractPass:     entry.IsMintable == "0",
				HoldersChecked:   entry.CreatorPercent != "",
				HoldersPass:      entry.CreatorPercent != "" && creatorPct < 50,
				LiquidityChecked: entry.LpHolderCount != "",
				LiquidityPass:    entry.LpHolderCount != "" && entry.LpHolderCount != "0",
			}, nil
		},
	}
}

// birdeyeResponse mirrors Birdeye's /defi/token_security endpoint, the
// tertiary and least complete fallback: it only ever reports holder
// concentration, so every other check stays unchecked and the evaluator
// reproportions weights over the one it has.
type birdeyeResponse struct {
	Data struct {
		Top10HolderPercent float64 `json:"top10HolderPercent"`
	} `json:"data"`
}

// NewBirdeyeClient builds the tertiary, most-degraded SafetyClient.
func NewBirdeyeClient(baseURL, apiKey string, timeout time.Duration) *HTTPSafetyClient {
	return &HTTPSafetyClient{
		name: "tertiary", baseURL: baseURL, apiKey: apiKey, client: &http.Client{Timeout: timeout},
		parse: func(body []byte) (*venue.SafetyReport, error) {
			var r birdeyeResponse
			if err := json.Unmarshal(body, &r); err != nil {
				return nil, err
			}
			return &venue.SafetyReport{
				HoldersChecked: true,
				HoldersPass:    r.Data.Top10HolderPercent < 0.80,
			}, nil
		},
	}
}
