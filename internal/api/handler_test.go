package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/0gfoundation/0g-invoice-ledger/internal/auth"
	"github.com/0gfoundation/0g-invoice-ledger/internal/events"
	"github.com/0gfoundation/0g-invoice-ledger/internal/ledger"
	"github.com/0gfoundation/0g-invoice-ledger/internal/store"
	"github.com/0gfoundation/0g-invoice-ledger/internal/store/redisstore"
)

func init() { gin.SetMode(gin.TestMode) }

const queue = "ledger:events"

// ── Mock recorder ─────────────────────────────────────────────────────────────

type mockRecorder struct {
	mu  sync.Mutex
	got []string // "op/result"
}

func (m *mockRecorder) ObserveRequest(op, result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, op+"/"+result)
}

func (m *mockRecorder) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.got) == 0 {
		return ""
	}
	return m.got[len(m.got)-1]
}

// ── Setup ─────────────────────────────────────────────────────────────────────

type testEnv struct {
	mr  *miniredis.Miniredis
	r   *gin.Engine
	rec *mockRecorder
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	return setupWith(t, zap.NewNop())
}

// setupWith builds the env with log; opts are applied after the defaults.
func setupWith(t *testing.T, log *zap.Logger, opts ...Option) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	st := redisstore.New(rdb, redisstore.WithPrefix("ledger:state:"))
	l := ledger.New(st, zap.NewNop(), ledger.WithDenom("neuron"))
	if _, err := l.Instantiate(context.Background()); err != nil {
		t.Fatalf("Instantiate: %v", err)
	}

	rec := &mockRecorder{}
	h := NewHandler(l, log, append([]Option{
		WithPublisher(events.NewPublisher(rdb, queue)),
		WithRecorder(rec),
		WithHealth(st),
	}, opts...)...)
	r := gin.New()
	h.Register(r, auth.Middleware(rdb, "execute", 5*time.Minute))
	return &testEnv{mr: mr, r: r, rec: rec}
}

type wallet struct {
	key  *ecdsa.PrivateKey
	addr string
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return wallet{key: key, addr: crypto.PubkeyToAddress(key.PublicKey).Hex()}
}

func (e *testEnv) execute(t *testing.T, w wallet, msg ledger.ExecuteMsg, funds ...ledger.Coin) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := ledger.EncodeExecuteMsg(msg)
	if err != nil {
		t.Fatal(err)
	}
	return e.executeRaw(t, w, payload, funds...)
}

func (e *testEnv) executeRaw(t *testing.T, w wallet, payload []byte, funds ...ledger.Coin) *httptest.ResponseRecorder {
	t.Helper()
	hdr, err := auth.SignRequest(auth.SignedRequest{
		Action:    "execute",
		ExpiresAt: time.Now().Add(2 * time.Minute).Unix(),
		Funds:     funds,
		Nonce:     uuid.NewString(),
		Payload:   payload,
	}, w.key)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/execute", nil)
	hdr.Apply(req.Header)
	rw := httptest.NewRecorder()
	e.r.ServeHTTP(rw, req)
	return rw
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	rw := httptest.NewRecorder()
	e.r.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, path, nil))
	return rw
}

func (e *testEnv) post(path, body string) *httptest.ResponseRecorder {
	rw := httptest.NewRecorder()
	e.r.ServeHTTP(rw, httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body)))
	return rw
}

func coin(n uint64) ledger.Coin { return ledger.Coin{Denom: "neuron", Amount: ledger.NewUint128(n)} }

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("error body not JSON: %s", w.Body.String())
	}
	return resp["error"]
}

// ── Execute ───────────────────────────────────────────────────────────────────

func TestExecute_CreateAndPay(t *testing.T) {
	env := setup(t)
	alice, bob := newWallet(t), newWallet(t)

	w := env.execute(t, alice, ledger.CreateInvoice{
		Recipient: bob.addr, Amount: ledger.NewUint128(100), Description: "rent", DueDate: 1000,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("create: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp ledger.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if id, _ := resp.Attr("invoice_id"); id != "1" {
		t.Errorf("invoice_id: got %q, want 1", id)
	}
	if issuer, _ := resp.Attr("issuer"); issuer != alice.addr {
		t.Errorf("issuer: got %q, want %s", issuer, alice.addr)
	}
	if got := env.rec.last(); got != "create_invoice/ok" {
		t.Errorf("metrics: got %q", got)
	}

	w = env.execute(t, bob, ledger.PayInvoice{InvoiceID: 1}, coin(100))
	if w.Code != http.StatusOK {
		t.Fatalf("pay: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = env.execute(t, bob, ledger.PayInvoice{InvoiceID: 1}, coin(100))
	if w.Code != http.StatusConflict {
		t.Fatalf("second pay: expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if got := env.rec.last(); got != "pay_invoice/already_paid" {
		t.Errorf("metrics: got %q", got)
	}

	w = env.get("/query/invoices/1")
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	var inv map[string]any
	json.Unmarshal(w.Body.Bytes(), &inv) //nolint:errcheck
	if inv["is_paid"] != true || inv["amount"] != "100" || inv["recipient"] != bob.addr {
		t.Errorf("invoice: got %v", inv)
	}
}

func TestExecute_PublishesEvents(t *testing.T) {
	env := setup(t)
	alice, bob := newWallet(t), newWallet(t)

	env.execute(t, alice, ledger.CreateInvoice{Recipient: bob.addr, Amount: ledger.NewUint128(5)})
	env.execute(t, alice, ledger.CreateInvoice{Recipient: alice.addr, Amount: ledger.NewUint128(5)}) // fails
	env.execute(t, bob, ledger.PayInvoice{InvoiceID: 1}, coin(5))

	items, err := env.mr.List(queue)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 events (failures are not published), got %d", len(items))
	}
	var ev events.Event
	json.Unmarshal([]byte(items[1]), &ev) //nolint:errcheck
	if ev.Action != "pay_invoice" || ev.Sender != bob.addr {
		t.Errorf("event: got %+v", ev)
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, events.Event) error {
	return errors.New("queue unavailable")
}

func TestExecute_PublishFailureLoggedOnce(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	env := setupWith(t, zap.New(core), WithPublisher(failingPublisher{}))
	alice, bob := newWallet(t), newWallet(t)

	w := env.execute(t, alice, ledger.CreateInvoice{Recipient: bob.addr, Amount: ledger.NewUint128(5)})
	if w.Code != http.StatusOK {
		t.Fatalf("a lost event must not fail the call: %d %s", w.Code, w.Body.String())
	}
	if n := logs.Len(); n != 1 {
		t.Fatalf("expected 1 warning, got %d: %v", n, logs.All())
	}
	entry := logs.All()[0]
	if entry.Message != "event not queued" || entry.ContextMap()["action"] != "create_invoice" {
		t.Errorf("log entry: %s %v", entry.Message, entry.ContextMap())
	}
}

func TestExecute_ErrorStatuses(t *testing.T) {
	env := setup(t)
	alice, bob, carol := newWallet(t), newWallet(t), newWallet(t)
	if w := env.execute(t, alice, ledger.CreateInvoice{Recipient: bob.addr, Amount: ledger.NewUint128(100)}); w.Code != http.StatusOK {
		t.Fatalf("setup create: %d %s", w.Code, w.Body.String())
	}

	cases := []struct {
		name    string
		w       wallet
		payload string
		funds   []ledger.Coin
		status  int
		errText string
	}{
		{"self invoice", alice, `{"CreateInvoice":{"recipient":"` + alice.addr + `","amount":"1","description":"","due_date":0}}`, nil,
			http.StatusBadRequest, ledger.ErrSelfInvoice.Error()},
		{"zero amount", alice, `{"CreateInvoice":{"recipient":"` + bob.addr + `","amount":"0","description":"","due_date":0}}`, nil,
			http.StatusBadRequest, ledger.ErrZeroAmount.Error()},
		{"bad recipient", alice, `{"CreateInvoice":{"recipient":"bob","amount":"1","description":"","due_date":0}}`, nil,
			http.StatusBadRequest, ""},
		{"missing field", alice, `{"CreateInvoice":{"recipient":"` + bob.addr + `","amount":"1"}}`, nil,
			http.StatusBadRequest, ""},
		{"unknown variant", alice, `{"BurnInvoice":{}}`, nil, http.StatusBadRequest, ""},
		{"not found", bob, `{"PayInvoice":{"invoice_id":9}}`, []ledger.Coin{coin(100)},
			http.StatusNotFound, ""},
		{"wrong payer", carol, `{"PayInvoice":{"invoice_id":1}}`, []ledger.Coin{coin(100)},
			http.StatusForbidden, ledger.ErrUnauthorized.Error()},
		{"wrong amount", bob, `{"PayInvoice":{"invoice_id":1}}`, []ledger.Coin{coin(99)},
			http.StatusPaymentRequired, ledger.ErrIncorrectPayment.Error()},
		{"no funds", bob, `{"PayInvoice":{"invoice_id":1}}`, nil,
			http.StatusPaymentRequired, ledger.ErrIncorrectPayment.Error()},
		{"wrong denom", bob, `{"PayInvoice":{"invoice_id":1}}`, []ledger.Coin{{Denom: "uatom", Amount: ledger.NewUint128(100)}},
			http.StatusPaymentRequired, ledger.ErrIncorrectPayment.Error()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.executeRaw(t, tc.w, []byte(tc.payload), tc.funds...)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, w.Code, w.Body.String())
			}
			if tc.errText != "" {
				if got := errorOf(t, w); got != tc.errText {
					t.Errorf("error: got %q, want %q", got, tc.errText)
				}
			}
		})
	}
}

func TestExecute_RequiresSignature(t *testing.T) {
	env := setup(t)
	w := env.post("/api/execute", `{"PayInvoice":{"invoice_id":1}}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

// ── Queries ───────────────────────────────────────────────────────────────────

func TestQuery_Routes(t *testing.T) {
	env := setup(t)
	alice, bob := newWallet(t), newWallet(t)
	for i := 0; i < 2; i++ {
		env.execute(t, alice, ledger.CreateInvoice{Recipient: bob.addr, Amount: ledger.NewUint128(uint64(i + 1))})
	}

	w := env.get("/query/users/" + alice.addr + "/invoices")
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	var list []map[string]any
	json.Unmarshal(w.Body.Bytes(), &list) //nolint:errcheck
	if len(list) != 2 || list[0]["id"] != float64(1) || list[1]["id"] != float64(2) {
		t.Errorf("list: got %v", list)
	}

	w = env.get("/query/users/" + bob.addr + "/invoices")
	if w.Code != http.StatusOK || w.Body.String() != "[]" {
		t.Errorf("empty list: got %d %q", w.Code, w.Body.String())
	}

	w = env.post("/query", `{"GetInvoice":{"invoice_id":2}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /query: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var inv map[string]any
	json.Unmarshal(w.Body.Bytes(), &inv) //nolint:errcheck
	if inv["amount"] != "2" {
		t.Errorf("invoice: got %v", inv)
	}

	w = env.post("/query", `{"GetUserInvoices":{"user":"`+alice.addr+`"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /query list: expected 200, got %d", w.Code)
	}
}

func TestQuery_Errors(t *testing.T) {
	env := setup(t)
	cases := []struct {
		name   string
		w      *httptest.ResponseRecorder
		status int
	}{
		{"missing invoice", env.get("/query/invoices/42"), http.StatusNotFound},
		{"non-numeric id", env.get("/query/invoices/abc"), http.StatusBadRequest},
		{"bad user", env.get("/query/users/nobody/invoices"), http.StatusBadRequest},
		{"bad query JSON", env.post("/query", `{`), http.StatusBadRequest},
		{"execute variant as query", env.post("/query", `{"PayInvoice":{"invoice_id":1}}`), http.StatusBadRequest},
	}
	for _, tc := range cases {
		if tc.w.Code != tc.status {
			t.Errorf("%s: expected %d, got %d: %s", tc.name, tc.status, tc.w.Code, tc.w.Body.String())
		}
	}
	if got := env.rec.last(); got != "query/unknown_message" {
		t.Errorf("metrics: got %q", got)
	}
}

func TestQuery_BodyTooLarge(t *testing.T) {
	env := setup(t)
	pad := strings.Repeat(" ", maxQueryBody)
	w := env.post("/query", `{"GetInvoice":{"invoice_id":1}}`+pad)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", w.Code, w.Body.String())
	}
	if got := env.rec.last(); got != "query/too_large" {
		t.Errorf("metrics: got %q", got)
	}

	// Just under the limit is still served.
	w = env.post("/query", `{"GetInvoice":{"invoice_id":1}}`+pad[:maxQueryBody-64])
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a valid query, got %d", w.Code)
	}
}

// ── Health & classification ───────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	env := setup(t)
	if w := env.get("/healthz"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	env.mr.SetError("LOADING")
	if w := env.get("/healthz"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{ledger.ErrNotInstantiated, http.StatusServiceUnavailable},
		{store.ErrConflict, http.StatusConflict},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got, _ := classify(tc.err); got != tc.status {
			t.Errorf("%v: got %d, want %d", tc.err, got, tc.status)
		}
	}
}

func TestInternalErrorHidesDetail(t *testing.T) {
	env := setup(t)
	env.mr.SetError("disk on fire")
	w := env.get("/query/invoices/1")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if got := errorOf(t, w); got != "internal error" {
		t.Errorf("error: got %q", got)
	}
}
