// Package api exposes the ledger over HTTP: signed execute calls and public queries.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-invoice-ledger/internal/auth"
	"github.com/0gfoundation/0g-invoice-ledger/internal/events"
	"github.com/0gfoundation/0g-invoice-ledger/internal/ledger"
	"github.com/0gfoundation/0g-invoice-ledger/internal/store"
)

// Ledger is satisfied by *ledger.Ledger.
type Ledger interface {
	Execute(ctx context.Context, info ledger.MessageInfo, msg ledger.ExecuteMsg) (*ledger.Response, error)
	Query(ctx context.Context, msg ledger.QueryMsg) ([]byte, error)
}

// Publisher is satisfied by *events.Publisher.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// Recorder is satisfied by *metrics.Metrics.
type Recorder interface {
	ObserveRequest(op, result string, elapsed time.Duration)
}

// maxQueryBody bounds POST /query bodies; a query message is a few hundred bytes.
const maxQueryBody = 64 << 10

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	ledger Ledger
	pub    Publisher
	rec    Recorder
	health Pinger
	log    *zap.Logger
}

type Option func(*Handler)

func WithPublisher(p Publisher) Option { return func(h *Handler) { h.pub = p } }
func WithRecorder(r Recorder) Option   { return func(h *Handler) { h.rec = r } }
func WithHealth(p Pinger) Option       { return func(h *Handler) { h.health = p } }

func NewHandler(l Ledger, log *zap.Logger, opts ...Option) *Handler {
	h := &Handler{ledger: l, log: log}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register mounts all routes. signed guards the execute route and must set
// the caller via auth.Middleware.
func (h *Handler) Register(r gin.IRouter, signed gin.HandlerFunc) {
	r.GET("/healthz", h.handleHealth)

	// ── Execute ─────────────────────────────────────────────────────────────
	r.POST("/api/execute", signed, h.handleExecute)

	// ── Queries ─────────────────────────────────────────────────────────────
	r.POST("/query", h.handleQuery)
	r.GET("/query/invoices/:id", h.handleGetInvoice)
	r.GET("/query/users/:user/invoices", h.handleGetUserInvoices)
}

func (h *Handler) handleHealth(c *gin.Context) {
	if h.health != nil {
		if err := h.health.Ping(c.Request.Context()); err != nil {
			h.log.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ── Execute ──────────────────────────────────────────────────────────────────

func (h *Handler) handleExecute(c *gin.Context) {
	start := time.Now()
	op := "execute"

	wallet, okW := auth.Wallet(c)
	req, okR := auth.Request(c)
	if !okW || !okR {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	msg, err := ledger.DecodeExecuteMsg(req.Payload)
	if err != nil {
		h.fail(c, op, start, err)
		return
	}
	op = opName(msg)

	resp, err := h.ledger.Execute(c.Request.Context(), ledger.MessageInfo{Sender: wallet, Funds: req.Funds}, msg)
	if err != nil {
		h.fail(c, op, start, err)
		return
	}
	h.observe(op, "ok", start)
	c.JSON(http.StatusOK, resp)

	h.publish(c.Request.Context(), wallet, resp)
}

func (h *Handler) publish(ctx context.Context, sender common.Address, resp *ledger.Response) {
	if h.pub == nil {
		return
	}
	// The call is committed; a dropped event must not fail the caller.
	ev := events.FromResponse(sender, resp, time.Now())
	if err := h.pub.Publish(context.WithoutCancel(ctx), ev); err != nil {
		h.log.Warn("event not queued",
			zap.String("action", ev.Action),
			zap.String("sender", sender.Hex()),
			zap.Error(err),
		)
	}
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (h *Handler) handleQuery(c *gin.Context) {
	start := time.Now()
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxQueryBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.observe("query", "too_large", start)
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "query body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body"})
		return
	}
	msg, err := ledger.DecodeQueryMsg(body)
	if err != nil {
		h.fail(c, "query", start, err)
		return
	}
	h.query(c, msg, start)
}

func (h *Handler) handleGetInvoice(c *gin.Context) {
	start := time.Now()
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		h.observe("get_invoice", "bad_request", start)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
		return
	}
	h.query(c, ledger.GetInvoice{InvoiceID: id}, start)
}

func (h *Handler) handleGetUserInvoices(c *gin.Context) {
	h.query(c, ledger.GetUserInvoices{User: c.Param("user")}, time.Now())
}

func (h *Handler) query(c *gin.Context, msg ledger.QueryMsg, start time.Time) {
	op := opName(msg)
	raw, err := h.ledger.Query(c.Request.Context(), msg)
	if err != nil {
		h.fail(c, op, start, err)
		return
	}
	h.observe(op, "ok", start)
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func opName(msg any) string {
	switch msg.(type) {
	case ledger.CreateInvoice:
		return "create_invoice"
	case ledger.PayInvoice:
		return "pay_invoice"
	case ledger.GetInvoice:
		return "get_invoice"
	case ledger.GetUserInvoices:
		return "get_user_invoices"
	}
	return "unknown"
}

func (h *Handler) observe(op, result string, start time.Time) {
	if h.rec != nil {
		h.rec.ObserveRequest(op, result, time.Since(start))
	}
}

func (h *Handler) fail(c *gin.Context, op string, start time.Time, err error) {
	status, class := classify(err)
	h.observe(op, class, start)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("ledger operation failed", zap.String("op", op), zap.Error(err))
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg})
}

var statusTable = []struct {
	err    error
	status int
	class  string
}{
	{ledger.ErrInvalidAddress, http.StatusBadRequest, "invalid_address"},
	{ledger.ErrSelfInvoice, http.StatusBadRequest, "self_invoice"},
	{ledger.ErrZeroAmount, http.StatusBadRequest, "zero_amount"},
	{ledger.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{ledger.ErrUnknownMessage, http.StatusBadRequest, "unknown_message"},
	{ledger.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{ledger.ErrInvoiceNotFound, http.StatusNotFound, "not_found"},
	{ledger.ErrAlreadyPaid, http.StatusConflict, "already_paid"},
	{ledger.ErrIncorrectPayment, http.StatusPaymentRequired, "incorrect_payment"},
	{ledger.ErrNotInstantiated, http.StatusServiceUnavailable, "not_instantiated"},
	{store.ErrConflict, http.StatusConflict, "conflict"},
}

func classify(err error) (int, string) {
	for _, e := range statusTable {
		if errors.Is(err, e.err) {
			return e.status, e.class
		}
	}
	return http.StatusInternalServerError, "internal"
}
