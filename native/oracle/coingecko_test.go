package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/holiman/uint256"
)

func TestCoinGeckoFeedParsesPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("ids"); got != "reflex-token" {
			t.Errorf("unexpected ids %q", got)
		}
		if got := r.URL.Query().Get("vs_currencies"); got != "usd" {
			t.Errorf("unexpected vs_currencies %q", got)
		}
		if got := r.Header.Get("x-cg-pro-api-key"); got != "secret" {
			t.Errorf("unexpected api key %q", got)
		}
		_, _ = w.Write([]byte(`{"reflex-token":{"usd":1.2345,"last_updated_at":1700000000}}`))
	}))
	defer server.Close()

	feed := NewCoinGeckoFeed(server.Client(), server.URL, "secret", map[string]string{"REFLEX-USD": "reflex-token"})
	price, err := feed.GetPrice(context.Background(), "reflex-usd")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if price.Decimals != 8 || !price.Value.Eq(uint256.NewInt(123_450_000)) {
		t.Fatalf("unexpected price %s/%d", price.Value.Dec(), price.Decimals)
	}
	if !price.AsOf.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected timestamp %v", price.AsOf)
	}
}

func TestCoinGeckoFeedErrors(t *testing.T) {
	status := http.StatusServiceUnavailable
	body := `{}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()
	feed := NewCoinGeckoFeed(server.Client(), server.URL, "", nil)

	if _, err := feed.GetPrice(context.Background(), "reflex"); err == nil {
		t.Fatalf("expected status error")
	}
	status = http.StatusOK
	if _, err := feed.GetPrice(context.Background(), "reflex"); err == nil {
		t.Fatalf("expected missing quote error")
	}
	body = `{"reflex":{"eur":1}}`
	if _, err := feed.GetPrice(context.Background(), "reflex"); err == nil {
		t.Fatalf("expected missing usd error")
	}
}
