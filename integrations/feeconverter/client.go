package feeconverter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"reflexstake/crypto"
)

const idempotencyHeader = "Idempotency-Key"

// Client submits swept fees to a conversion service over JSON/HTTP. It
// satisfies core.FeeConverter.
type Client struct {
	endpoint    string
	account     crypto.Address
	client      *http.Client
	maxAttempts int
	backoff     time.Duration
}

// Option mutates client configuration.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithRetry sets the attempt budget and the fixed pause between attempts.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// New returns a client that converts fees deposited into account.
func New(endpoint string, account crypto.Address, opts ...Option) (*Client, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("feeconverter: endpoint required")
	}
	if account.IsZero() {
		return nil, errors.New("feeconverter: account required")
	}
	c := &Client{
		endpoint:    endpoint,
		account:     account,
		client:      &http.Client{Timeout: 10 * time.Second},
		maxAttempts: 3,
		backoff:     500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Account() crypto.Address { return c.account }

type convertRequest struct {
	Sink    string `json:"sink"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type convertResponse struct {
	Reference string `json:"reference"`
}

// Convert asks the service to process amount swept from sink. The same
// idempotency key is sent on every attempt.
func (c *Client) Convert(ctx context.Context, sink crypto.Address, amount *uint256.Int) (string, error) {
	if amount == nil || amount.IsZero() {
		return "", errors.New("feeconverter: amount must be positive")
	}
	body, err := json.Marshal(convertRequest{Sink: sink.String(), Account: c.account.String(), Amount: amount.Dec()})
	if err != nil {
		return "", err
	}
	key := uuid.NewString()
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		ref, retry, err := c.send(ctx, key, body)
		if err == nil {
			return ref, nil
		}
		lastErr = err
		if !retry || attempt == c.maxAttempts {
			break
		}
		select {
		case <-time.After(c.backoff):
		case <-ctx.Done():
			return "", fmt.Errorf("feeconverter: %w", ctx.Err())
		}
	}
	return "", fmt.Errorf("feeconverter: convert: %w", lastErr)
}

func (c *Client) send(ctx context.Context, key string, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/convert", bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(idempotencyHeader, key)
	resp, err := c.client.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return "", retry, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	var out convertResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", false, fmt.Errorf("decode: %w", err)
	}
	if strings.TrimSpace(out.Reference) == "" {
		return "", false, errors.New("missing reference")
	}
	return out.Reference, false, nil
}
