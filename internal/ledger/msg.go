package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ExecuteMsg is one of CreateInvoice or PayInvoice.
type ExecuteMsg interface {
	executeVariant() string
}

func (CreateInvoice) executeVariant() string { return "CreateInvoice" }
func (PayInvoice) executeVariant() string    { return "PayInvoice" }

// QueryMsg is one of GetInvoice or GetUserInvoices.
type QueryMsg interface {
	queryVariant() string
}

type GetInvoice struct {
	InvoiceID uint64 `json:"invoice_id"`
}

type GetUserInvoices struct {
	User string `json:"user"`
}

func (GetInvoice) queryVariant() string      { return "GetInvoice" }
func (GetUserInvoices) queryVariant() string { return "GetUserInvoices" }

// Messages travel as externally tagged objects: {"<Variant>": {...}}.

func EncodeExecuteMsg(msg ExecuteMsg) ([]byte, error) {
	return json.Marshal(map[string]ExecuteMsg{msg.executeVariant(): msg})
}

func EncodeQueryMsg(msg QueryMsg) ([]byte, error) {
	return json.Marshal(map[string]QueryMsg{msg.queryVariant(): msg})
}

func DecodeExecuteMsg(raw []byte) (ExecuteMsg, error) {
	variant, body, err := untag(raw)
	if err != nil {
		return nil, err
	}
	switch variant {
	case "CreateInvoice":
		var m CreateInvoice
		return m, decodeBody(variant, body, &m)
	case "PayInvoice":
		var m PayInvoice
		return m, decodeBody(variant, body, &m)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, variant)
	}
}

func DecodeQueryMsg(raw []byte) (QueryMsg, error) {
	variant, body, err := untag(raw)
	if err != nil {
		return nil, err
	}
	switch variant {
	case "GetInvoice":
		var m GetInvoice
		return m, decodeBody(variant, body, &m)
	case "GetUserInvoices":
		var m GetUserInvoices
		return m, decodeBody(variant, body, &m)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, variant)
	}
}

func untag(raw []byte) (string, json.RawMessage, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
	}
	if len(env) != 1 {
		return "", nil, fmt.Errorf("%w: expected exactly one variant, got %d", ErrUnknownMessage, len(env))
	}
	for k, v := range env {
		return k, v, nil
	}
	panic("unreachable")
}

// requiredFields lists the fields each variant must carry; there are no defaults.
var requiredFields = map[string][]string{
	"CreateInvoice":   {"recipient", "amount", "description", "due_date"},
	"PayInvoice":      {"invoice_id"},
	"GetInvoice":      {"invoice_id"},
	"GetUserInvoices": {"user"},
}

func decodeBody(variant string, body json.RawMessage, dst any) error {
	if err := json.Unmarshal(body, dst); err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", ErrUnknownMessage, variant, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnknownMessage, variant, err)
	}
	for _, f := range requiredFields[variant] {
		if v, ok := fields[f]; !ok || string(v) == "null" {
			return fmt.Errorf("%w: %s: missing field %q", ErrUnknownMessage, variant, f)
		}
	}
	return nil
}

// Execute dispatches an execute message on behalf of info.Sender.
func (l *Ledger) Execute(ctx context.Context, info MessageInfo, msg ExecuteMsg) (*Response, error) {
	switch m := msg.(type) {
	case CreateInvoice:
		return l.CreateInvoice(ctx, info.Sender, m)
	case PayInvoice:
		return l.PayInvoice(ctx, info.Sender, info.Funds, m)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
}

// Query dispatches a query message and returns its JSON result.
func (l *Ledger) Query(ctx context.Context, msg QueryMsg) ([]byte, error) {
	var (
		result any
		err    error
	)
	switch m := msg.(type) {
	case GetInvoice:
		result, err = l.GetInvoice(ctx, m.InvoiceID)
	case GetUserInvoices:
		result, err = l.GetUserInvoices(ctx, m.User)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}
