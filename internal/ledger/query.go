package ledger

import (
	"context"

	"go.uber.org/zap"

	"github.com/0gfoundation/0g-invoice-ledger/internal/store"
)

// GetInvoice returns the invoice with the given id.
func (l *Ledger) GetInvoice(ctx context.Context, id uint64) (*Invoice, error) {
	var inv *Invoice
	err := l.store.View(ctx, func(r store.Reader) error {
		var err error
		inv, err = loadInvoice(ctx, r, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// GetUserInvoices returns the invoices issued by user, in creation order.
//
// Indexed ids whose invoice cannot be loaded are left out of the result.
// Each one is logged and reported to the OnSkippedInvoice hook, since it
// means the index and the invoice table disagree.
func (l *Ledger) GetUserInvoices(ctx context.Context, user string) ([]Invoice, error) {
	addr, err := l.addrs.Validate(user)
	if err != nil {
		return nil, err
	}

	type skip struct {
		id  uint64
		err error
	}
	var (
		out     []Invoice
		skipped []skip
	)
	err = l.store.View(ctx, func(r store.Reader) error {
		out, skipped = []Invoice{}, nil
		ids, err := loadUserIndex(ctx, r, addr)
		if err != nil {
			return err
		}
		for _, id := range ids {
			inv, err := loadInvoice(ctx, r, id)
			if err != nil {
				skipped = append(skipped, skip{id, err})
				continue
			}
			out = append(out, *inv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Reported once the view is settled; View may run the callback again.
	for _, sk := range skipped {
		l.log.Warn("user index references unloadable invoice",
			zap.String("user", addr.Hex()),
			zap.Uint64("invoice_id", sk.id),
			zap.Error(sk.err),
		)
		if l.onSkip != nil {
			l.onSkip(sk.id, sk.err)
		}
	}
	return out, nil
}
