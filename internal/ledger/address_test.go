package ledger

import (
	"context"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/0gfoundation/0g-invoice-ledger/internal/store"
)

func TestEthAddressValidator(t *testing.T) {
	const checksummed = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	want := common.HexToAddress(checksummed)
	v := EthAddressValidator{}

	for _, s := range []string{
		checksummed,
		"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		"0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED",
	} {
		got, err := v.Validate(s)
		require.NoError(t, err, s)
		require.Equal(t, want, got)
	}

	for _, s := range []string{
		"",
		"0x",
		"5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		"0x5aaeb6053f3e94c9b9a09f33669435e7ef1bea",
		"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaedff",
		"0xZZaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAeD",
		"0x0000000000000000000000000000000000000000",
	} {
		_, err := v.Validate(s)
		require.ErrorIs(t, err, ErrInvalidAddress, s)
	}
}

// aliasValidator resolves short names, standing in for a host with its own
// address format.
type aliasValidator map[string]common.Address

func (a aliasValidator) Validate(s string) (common.Address, error) {
	if addr, ok := a[s]; ok {
		return addr, nil
	}
	return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
}

func TestWithAddressValidator(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		l := newTestLedger(t, st, WithAddressValidator(aliasValidator{"alice": addrA, "bob": addrB}))

		resp, err := l.CreateInvoice(ctx, addrA, createMsg("bob", 5))
		require.NoError(t, err)
		recipient, _ := resp.Attr("recipient")
		require.Equal(t, "bob", recipient)

		inv, err := l.GetInvoice(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, addrB, inv.Recipient)

		_, err = l.CreateInvoice(ctx, addrA, createMsg(bob, 5))
		require.ErrorIs(t, err, ErrInvalidAddress)

		list, err := l.GetUserInvoices(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, list, 1)
	})
}
