// Package webhook posts relayed ledger events to an HTTP observer.
package webhook

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/0g-invoice-ledger/internal/auth"
	"github.com/0gfoundation/0g-invoice-ledger/internal/events"
)

const (
	HeaderSignature = "X-Ledger-Signature"
	HeaderAddress   = "X-Ledger-Address"
)

// StatusError is returned when the observer answers with a non-2xx status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook: status %d: %s", e.Status, e.Body)
}

// Permanent is true for 4xx answers other than 408 and 429.
func (e *StatusError) Permanent() bool {
	return e.Status >= 400 && e.Status < 500 &&
		e.Status != http.StatusRequestTimeout && e.Status != http.StatusTooManyRequests
}

// Client delivers event batches to a single URL.
type Client struct {
	url  string
	key  *ecdsa.PrivateKey
	http *http.Client
}

type Option func(*Client)

// WithSigningKey signs each body with EIP-191.
func WithSigningKey(key *ecdsa.PrivateKey) Option { return func(c *Client) { c.key = key } }

func WithTimeout(d time.Duration) Option { return func(c *Client) { c.http.Timeout = d } }

func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:  url,
		http: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Deliver posts the batch as {"events":[...]}.
func (c *Client) Deliver(ctx context.Context, batch []events.Event) error {
	body, err := json.Marshal(struct {
		Events []events.Event `json:"events"`
	}{batch})
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != nil {
		sig, err := auth.Sign(body, c.key)
		if err != nil {
			return err
		}
		req.Header.Set(HeaderSignature, "0x"+hex.EncodeToString(sig))
		req.Header.Set(HeaderAddress, crypto.PubkeyToAddress(c.key.PublicKey).Hex())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	return nil
}
