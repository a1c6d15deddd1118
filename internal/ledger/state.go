package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-invoice-ledger/internal/store"
)

// State
// 0x0/ (next invoice id)
// 0x1/ (invoices)
//   -> [id] => invoice
// 0x2/ (user invoices)
//   -> [issuer] => ids
const (
	counterPrefix   byte = 0x0
	invoicePrefix   byte = 0x1
	userIndexPrefix byte = 0x2
)

const idLen = 8

func CounterKey() string { return string([]byte{counterPrefix}) }

// [invoicePrefix] + [id]
func InvoiceKey(id uint64) string {
	k := make([]byte, 1+idLen)
	k[0] = invoicePrefix
	binary.BigEndian.PutUint64(k[1:], id)
	return string(k)
}

// [userIndexPrefix] + [address]
func UserIndexKey(addr common.Address) string {
	k := make([]byte, 1+common.AddressLength)
	k[0] = userIndexPrefix
	copy(k[1:], addr.Bytes())
	return string(k)
}

// ── Counter ───────────────────────────────────────────────────────────────────

func loadCounter(ctx context.Context, r store.Reader) (uint64, error) {
	v, err := r.Load(ctx, CounterKey())
	if errors.Is(err, store.ErrNotFound) {
		return 0, ErrNotInstantiated
	}
	if err != nil {
		return 0, fmt.Errorf("load counter: %w", err)
	}
	if len(v) != idLen {
		return 0, fmt.Errorf("load counter: corrupt value of %d bytes", len(v))
	}
	return binary.BigEndian.Uint64(v), nil
}

func saveCounter(ctx context.Context, tx store.Tx, next uint64) error {
	if err := tx.Save(ctx, CounterKey(), binary.BigEndian.AppendUint64(nil, next)); err != nil {
		return fmt.Errorf("save counter: %w", err)
	}
	return nil
}

// allocateID reads the counter, bumps it and returns the id to use.
func allocateID(ctx context.Context, tx store.Tx) (uint64, error) {
	id, err := loadCounter(ctx, tx)
	if err != nil {
		return 0, err
	}
	if id == math.MaxUint64 {
		return 0, ErrCounterOverflow
	}
	return id, saveCounter(ctx, tx, id+1)
}

// ── Invoices ──────────────────────────────────────────────────────────────────

func loadInvoice(ctx context.Context, r store.Reader, id uint64) (*Invoice, error) {
	v, err := r.Load(ctx, InvoiceKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrInvoiceNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load invoice %d: %w", id, err)
	}
	var inv Invoice
	if err := json.Unmarshal(v, &inv); err != nil {
		return nil, fmt.Errorf("decode invoice %d: %w", id, err)
	}
	return &inv, nil
}

func saveInvoice(ctx context.Context, tx store.Tx, inv *Invoice) error {
	raw, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("encode invoice %d: %w", inv.ID, err)
	}
	if err := tx.Save(ctx, InvoiceKey(inv.ID), raw); err != nil {
		return fmt.Errorf("save invoice %d: %w", inv.ID, err)
	}
	return nil
}

// ── User index ────────────────────────────────────────────────────────────────

// loadUserIndex returns the ids issued by addr, oldest first. Absent means empty.
func loadUserIndex(ctx context.Context, r store.Reader, addr common.Address) ([]uint64, error) {
	v, ok, err := r.MayLoad(ctx, UserIndexKey(addr))
	if err != nil {
		return nil, fmt.Errorf("load user index %s: %w", addr.Hex(), err)
	}
	if !ok {
		return []uint64{}, nil
	}
	if len(v)%idLen != 0 {
		return nil, fmt.Errorf("load user index %s: corrupt value of %d bytes", addr.Hex(), len(v))
	}
	ids := make([]uint64, 0, len(v)/idLen)
	for i := 0; i < len(v); i += idLen {
		ids = append(ids, binary.BigEndian.Uint64(v[i:i+idLen]))
	}
	return ids, nil
}

func appendUserIndex(ctx context.Context, tx store.Tx, addr common.Address, id uint64) error {
	ids, err := loadUserIndex(ctx, tx, addr)
	if err != nil {
		return err
	}
	ids = append(ids, id)
	v := make([]byte, 0, len(ids)*idLen)
	for _, i := range ids {
		v = binary.BigEndian.AppendUint64(v, i)
	}
	if err := tx.Save(ctx, UserIndexKey(addr), v); err != nil {
		return fmt.Errorf("save user index %s: %w", addr.Hex(), err)
	}
	return nil
}
