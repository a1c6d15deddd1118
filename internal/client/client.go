// Package client calls a ledgerd server over HTTP, signing execute calls
// with the caller's wallet key.
package client

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/0gfoundation/0g-invoice-ledger/internal/auth"
	"github.com/0gfoundation/0g-invoice-ledger/internal/ledger"
)

const requestTTL = 2 * time.Minute

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledgerd: %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	key     *ecdsa.PrivateKey
	http    *http.Client
}

// New returns a client for baseURL. key may be nil for query-only use.
func New(baseURL string, key *ecdsa.PrivateKey) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Address returns the wallet address the client signs as.
func (c *Client) Address() (common.Address, bool) {
	if c.key == nil {
		return common.Address{}, false
	}
	return crypto.PubkeyToAddress(c.key.PublicKey), true
}

// Execute signs and submits msg with the given attached funds.
func (c *Client) Execute(ctx context.Context, msg ledger.ExecuteMsg, funds ...ledger.Coin) (*ledger.Response, error) {
	if c.key == nil {
		return nil, errors.New("client: no signing key configured")
	}
	payload, err := ledger.EncodeExecuteMsg(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	hdr, err := auth.SignRequest(auth.SignedRequest{
		Action:    "execute",
		ExpiresAt: time.Now().Add(requestTTL).Unix(),
		Funds:     funds,
		Nonce:     uuid.NewString(),
		Payload:   payload,
	}, c.key)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/execute", nil)
	if err != nil {
		return nil, err
	}
	hdr.Apply(req.Header)

	var resp ledger.Response
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateInvoice issues an invoice and returns its id.
func (c *Client) CreateInvoice(ctx context.Context, msg ledger.CreateInvoice) (uint64, *ledger.Response, error) {
	resp, err := c.Execute(ctx, msg)
	if err != nil {
		return 0, nil, err
	}
	raw, ok := resp.Attr("invoice_id")
	if !ok {
		return 0, resp, errors.New("client: response has no invoice_id")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, resp, fmt.Errorf("client: bad invoice_id %q: %w", raw, err)
	}
	return id, resp, nil
}

func (c *Client) PayInvoice(ctx context.Context, id uint64, funds ...ledger.Coin) (*ledger.Response, error) {
	return c.Execute(ctx, ledger.PayInvoice{InvoiceID: id}, funds...)
}

func (c *Client) GetInvoice(ctx context.Context, id uint64) (*ledger.Invoice, error) {
	var inv ledger.Invoice
	if err := c.get(ctx, "/query/invoices/"+strconv.FormatUint(id, 10), &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (c *Client) GetUserInvoices(ctx context.Context, user string) ([]ledger.Invoice, error) {
	var list []ledger.Invoice
	if err := c.get(ctx, "/query/users/"+url.PathEscape(user)+"/invoices", &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Query posts a raw query message and returns the result JSON.
func (c *Client) Query(ctx context.Context, msg ledger.QueryMsg) (json.RawMessage, error) {
	body, err := ledger.EncodeQueryMsg(msg)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	var out json.RawMessage
	return out, c.do(req, &out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
