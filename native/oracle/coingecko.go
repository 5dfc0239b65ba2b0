package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CoinGeckoFeed adapts the CoinGecko simple price API. The feed identifier is
// the CoinGecko asset id unless remapped through the id map.
type CoinGeckoFeed struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
	decimals uint8
	idMap    map[string]string
}

const (
	defaultCoinGeckoEndpoint = "https://api.coingecko.com/api/v3/simple/price"
	defaultCoinGeckoDecimals = 8
)

// NewCoinGeckoFeed constructs a new feed. When the client is nil
// http.DefaultClient is used.
func NewCoinGeckoFeed(client HTTPDoer, endpoint, apiKey string, idMap map[string]string) *CoinGeckoFeed {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultCoinGeckoEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	mapped := make(map[string]string, len(idMap))
	for k, v := range idMap {
		mapped[manualKey(k)] = strings.TrimSpace(v)
	}
	return &CoinGeckoFeed{
		client:   client,
		endpoint: ep,
		apiKey:   strings.TrimSpace(apiKey),
		decimals: defaultCoinGeckoDecimals,
		idMap:    mapped,
	}
}

func (f *CoinGeckoFeed) assetID(feedID string) string {
	if id, ok := f.idMap[manualKey(feedID)]; ok && id != "" {
		return id
	}
	return manualKey(feedID)
}

// GetPrice implements Feed.
func (f *CoinGeckoFeed) GetPrice(ctx context.Context, feedID string) (Price, error) {
	if f == nil {
		return Price{}, fmt.Errorf("coingecko feed not configured")
	}
	id := f.assetID(feedID)
	if id == "" {
		return Price{}, fmt.Errorf("coingecko feed: unmapped asset %q", feedID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return Price{}, err
	}
	values := url.Values{}
	values.Set("ids", id)
	values.Set("vs_currencies", "usd")
	values.Set("include_last_updated_at", "true")
	req.URL.RawQuery = values.Encode()
	if f.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", f.apiKey)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Price{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Price{}, fmt.Errorf("coingecko feed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]json.Number
	if err := decoder.Decode(&payload); err != nil {
		return Price{}, fmt.Errorf("coingecko feed: decode: %w", err)
	}
	entry, ok := payload[id]
	if !ok {
		return Price{}, fmt.Errorf("coingecko feed: quote missing for %s", id)
	}
	raw, ok := entry["usd"]
	if !ok {
		return Price{}, fmt.Errorf("coingecko feed: usd quote missing for %s", id)
	}
	value, err := ScaleDecimal(raw.String(), f.decimals)
	if err != nil {
		return Price{}, fmt.Errorf("coingecko feed: %w", err)
	}
	var ts time.Time
	if rawTs, exists := entry["last_updated_at"]; exists {
		if parsed, err := strconv.ParseInt(rawTs.String(), 10, 64); err == nil && parsed > 0 {
			ts = time.Unix(parsed, 0)
		}
	}
	return Price{Value: value, Decimals: f.decimals, AsOf: ts}, nil
}
