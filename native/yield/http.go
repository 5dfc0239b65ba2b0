package yield

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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

const (
	defaultMaxAttempts = 4
	defaultMinBackoff  = 200 * time.Millisecond
	defaultMaxBackoff  = 5 * time.Second

	idempotencyHeader = "Idempotency-Key"
	signatureHeader   = "X-Reflex-Signature"
)

// errPermanent marks responses that must not be retried.
var errPermanent = errors.New("yield: permanent venue error")

// HTTPStrategy talks to a venue over JSON/HTTP. Every logical call carries one
// idempotency nonce reused across its retries, so a retried withdrawal is
// honoured at most once by the venue.
type HTTPStrategy struct {
	endpoint    string
	custody     crypto.Address
	client      *http.Client
	secret      []byte
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	newNonce    func() string
}

// Option mutates strategy configuration.
type Option func(*HTTPStrategy)

// WithHTTPClient overrides the HTTP client used for venue calls.
func WithHTTPClient(client *http.Client) Option {
	return func(s *HTTPStrategy) {
		if client != nil {
			s.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(s *HTTPStrategy) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			s.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			s.maxBackoff = maxBackoff
		}
	}
}

// WithSigningSecret signs request bodies with HMAC-SHA256.
func WithSigningSecret(secret []byte) Option {
	return func(s *HTTPStrategy) {
		s.secret = append([]byte(nil), secret...)
	}
}

// NewHTTPStrategy constructs a venue client rooted at endpoint.
func NewHTTPStrategy(endpoint string, custody crypto.Address, opts ...Option) (*HTTPStrategy, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("yield: endpoint required")
	}
	if custody.IsZero() {
		return nil, errors.New("yield: custody account required")
	}
	s := &HTTPStrategy{
		endpoint:    endpoint,
		custody:     custody,
		client:      &http.Client{Timeout: 10 * time.Second},
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		newNonce:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *HTTPStrategy) Custody() crypto.Address { return s.custody }

type amountRequest struct {
	Amount string `json:"amount"`
	Nonce  string `json:"nonce"`
}

// Deposit implements Strategy.
func (s *HTTPStrategy) Deposit(ctx context.Context, amount *uint256.Int) (*uint256.Int, error) {
	var resp struct {
		Accepted string `json:"accepted"`
	}
	if err := s.post(ctx, "/deposit", amount, &resp); err != nil {
		return nil, err
	}
	return parseAmount("accepted", resp.Accepted)
}

// Withdraw implements Strategy.
func (s *HTTPStrategy) Withdraw(ctx context.Context, amount *uint256.Int) (*uint256.Int, error) {
	var resp struct {
		Returned string `json:"returned"`
	}
	if err := s.post(ctx, "/withdraw", amount, &resp); err != nil {
		return nil, err
	}
	return parseAmount("returned", resp.Returned)
}

// CurrentBalance implements Strategy.
func (s *HTTPStrategy) CurrentBalance(ctx context.Context) (*uint256.Int, error) {
	var resp struct {
		Balance string `json:"balance"`
	}
	if err := s.do(ctx, http.MethodGet, "/balance", nil, "", &resp); err != nil {
		return nil, err
	}
	return parseAmount("balance", resp.Balance)
}

func (s *HTTPStrategy) post(ctx context.Context, path string, amount *uint256.Int, out interface{}) error {
	if amount == nil || amount.IsZero() {
		return errors.New("yield: amount must be positive")
	}
	nonce := s.newNonce()
	body, err := json.Marshal(amountRequest{Amount: amount.Dec(), Nonce: nonce})
	if err != nil {
		return err
	}
	return s.do(ctx, http.MethodPost, path, body, nonce, out)
}

func (s *HTTPStrategy) do(ctx context.Context, method, path string, body []byte, nonce string, out interface{}) error {
	attempt := 0
	backoff := s.minBackoff
	for {
		attempt++
		err := s.send(ctx, method, path, body, nonce, out)
		if err == nil {
			return nil
		}
		if errors.Is(err, errPermanent) || attempt >= s.maxAttempts {
			return fmt.Errorf("yield: %s %s after %d attempt(s): %w", method, path, attempt, err)
		}
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("yield: %s %s: %w", method, path, ctx.Err())
		}
		backoff = nextBackoff(backoff, s.maxBackoff)
	}
}

func (s *HTTPStrategy) send(ctx context.Context, method, path string, body []byte, nonce string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if nonce != "" {
		req.Header.Set(idempotencyHeader, nonce)
	}
	if len(s.secret) > 0 && body != nil {
		req.Header.Set(signatureHeader, s.sign(body))
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode: %v", errPermanent, err)
		}
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return statusErr
	}
	return fmt.Errorf("%w: %v", errPermanent, statusErr)
}

func (s *HTTPStrategy) sign(body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func parseAmount(field, raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: %s missing", errPermanent, field)
	}
	value, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", errPermanent, field, raw, err)
	}
	return value, nil
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	if next < current {
		return max
	}
	return next
}
