// Package ledger holds the invoicing rules: creating invoices, paying them,
// and reading them back. It is the only writer of invoice, counter and index
// records. Every public operation is one Store transaction, so a failed call
// leaves no partial state behind.
package ledger

import (
	"context"
	"errors"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-invoice-ledger/internal/store"
)

type Ledger struct {
	store  store.Store
	addrs  AddressValidator
	denom  string
	onSkip func(id uint64, err error)
	log    *zap.Logger
}

type Option func(*Ledger)

// WithDenom requires attached funds to be in denom. Empty accepts any denom.
func WithDenom(denom string) Option { return func(l *Ledger) { l.denom = denom } }

func WithAddressValidator(v AddressValidator) Option {
	return func(l *Ledger) { l.addrs = v }
}

// OnSkippedInvoice is called for every indexed id that GetUserInvoices could not load.
func OnSkippedInvoice(fn func(id uint64, err error)) Option {
	return func(l *Ledger) { l.onSkip = fn }
}

func New(st store.Store, log *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store: st,
		addrs: EthAddressValidator{},
		log:   log,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// CreateInvoice is the execute payload for issuing an invoice.
type CreateInvoice struct {
	Recipient   string  `json:"recipient"`
	Amount      Uint128 `json:"amount"`
	Description string  `json:"description"`
	DueDate     uint64  `json:"due_date"`
}

// PayInvoice is the execute payload for settling an invoice.
type PayInvoice struct {
	InvoiceID uint64 `json:"invoice_id"`
}

// Instantiate starts the id counter at 1. It refuses to run twice.
func (l *Ledger) Instantiate(ctx context.Context) (*Response, error) {
	err := l.store.Update(ctx, func(tx store.Tx) error {
		_, err := loadCounter(ctx, tx)
		switch {
		case err == nil:
			return ErrAlreadyInstantiated
		case !errors.Is(err, ErrNotInstantiated):
			return err
		}
		return saveCounter(ctx, tx, 1)
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("ledger instantiated")
	return newResponse().addAttribute("action", "instantiate"), nil
}

// IsInstantiated reports whether the counter exists.
func (l *Ledger) IsInstantiated(ctx context.Context) (bool, error) {
	var ok bool
	err := l.store.View(ctx, func(r store.Reader) error {
		_, err := loadCounter(ctx, r)
		if errors.Is(err, ErrNotInstantiated) {
			return nil
		}
		ok = err == nil
		return err
	})
	return ok, err
}

func (l *Ledger) CreateInvoice(ctx context.Context, caller common.Address, msg CreateInvoice) (*Response, error) {
	recipient, err := l.addrs.Validate(msg.Recipient)
	if err != nil {
		return nil, err
	}
	if caller == recipient {
		return nil, ErrSelfInvoice
	}
	if msg.Amount.IsZero() {
		return nil, ErrZeroAmount
	}

	var id uint64
	err = l.store.Update(ctx, func(tx store.Tx) error {
		var err error
		if id, err = allocateID(ctx, tx); err != nil {
			return err
		}
		inv := &Invoice{
			ID:          id,
			Issuer:      caller,
			Recipient:   recipient,
			Amount:      msg.Amount,
			Description: msg.Description,
			DueDate:     msg.DueDate,
			IsPaid:      false,
		}
		if err := saveInvoice(ctx, tx, inv); err != nil {
			return err
		}
		return appendUserIndex(ctx, tx, caller, id)
	})
	if err != nil {
		return nil, err
	}

	l.log.Info("invoice created",
		zap.Uint64("invoice_id", id),
		zap.String("issuer", caller.Hex()),
		zap.String("recipient", recipient.Hex()),
		zap.String("amount", msg.Amount.String()),
	)
	return newResponse().
		addAttribute("action", "create_invoice").
		addAttribute("issuer", caller.Hex()).
		addAttribute("recipient", msg.Recipient).
		addAttribute("invoice_id", strconv.FormatUint(id, 10)), nil
}

func (l *Ledger) PayInvoice(ctx context.Context, caller common.Address, funds []Coin, msg PayInvoice) (*Response, error) {
	err := l.store.Update(ctx, func(tx store.Tx) error {
		inv, err := loadInvoice(ctx, tx, msg.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Recipient != caller {
			return ErrUnauthorized
		}
		if inv.IsPaid {
			return ErrAlreadyPaid
		}
		if !l.exactPayment(funds, inv.Amount) {
			return ErrIncorrectPayment
		}
		inv.IsPaid = true
		return saveInvoice(ctx, tx, inv)
	})
	if err != nil {
		return nil, err
	}

	l.log.Info("invoice paid",
		zap.Uint64("invoice_id", msg.InvoiceID),
		zap.String("payer", caller.Hex()),
	)
	return newResponse().
		addAttribute("action", "pay_invoice").
		addAttribute("payer", caller.Hex()).
		addAttribute("invoice_id", strconv.FormatUint(msg.InvoiceID, 10)), nil
}

// exactPayment: one coin, same amount, and the ledger's denom when one is set.
func (l *Ledger) exactPayment(funds []Coin, amount Uint128) bool {
	if len(funds) != 1 {
		return false
	}
	if l.denom != "" && funds[0].Denom != l.denom {
		return false
	}
	return funds[0].Amount.Equal(amount)
}
