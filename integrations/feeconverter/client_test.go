package feeconverter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"reflexstake/crypto"
)

func TestConvertRetriesWithStableKey(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
		last convertRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		keys = append(keys, r.Header.Get(idempotencyHeader))
		if len(keys) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&last)
		_ = json.NewEncoder(w).Encode(convertResponse{Reference: "swap-7"})
	}))
	defer server.Close()

	account := crypto.ModuleAddress("fee-converter")
	client, err := New(server.URL, account, WithRetry(3, time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, account, client.Account())

	ref, err := client.Convert(context.Background(), crypto.ModuleAddress("treasury"), uint256.NewInt(250))
	require.NoError(t, err)
	require.Equal(t, "swap-7", ref)
	require.Len(t, keys, 2)
	require.Equal(t, keys[0], keys[1])
	require.Equal(t, "250", last.Amount)
}

func TestConvertDoesNotRetryRejections(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "unsupported asset", http.StatusBadRequest)
	}))
	defer server.Close()

	client, err := New(server.URL, crypto.ModuleAddress("fee-converter"), WithRetry(3, time.Millisecond))
	require.NoError(t, err)
	_, err = client.Convert(context.Background(), crypto.ModuleAddress("treasury"), uint256.NewInt(1))
	require.ErrorContains(t, err, "unsupported asset")
	require.Equal(t, 1, calls)
}

func TestNewValidates(t *testing.T) {
	_, err := New("", crypto.ModuleAddress("x"))
	require.Error(t, err)
	_, err = New("http://converter", crypto.Address{})
	require.Error(t, err)
}
