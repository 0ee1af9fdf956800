package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// TokenListURL is Jupiter's public token metadata lookup.
const TokenListURL = "https://api.jup.ag/tokens/v1/token"

// MetadataSource implements token.MetadataSource over Jupiter's token list
// API, reusing the client's pooled HTTP/2 transport.
type MetadataSource struct {
	client *Client
}

// NewMetadataSource wraps an existing Jupiter Client for symbol lookups.
func NewMetadataSource(client *Client) *MetadataSource {
	return &MetadataSource{client: client}
}

// Symbol fetches mint's ticker symbol. A 404 (unlisted mint) returns "" with
// no error, since an unlisted mint is routine for a freshly launched
// memecoin, not a failure.
func (m *MetadataSource) Symbol(ctx context.Context, mint string) (string, error) {
	url := fmt.Sprintf("%s/%s", TokenListURL, mint)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	client := m.client.clientPool.Get()
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("jupiter token lookup failed (%d)", resp.StatusCode)
	}

	var out struct {
		Symbol string `json:"symbol"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Symbol, nil
}
