package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AddressValidator turns a user-supplied string into a validated address.
type AddressValidator interface {
	Validate(s string) (common.Address, error)
}

// EthAddressValidator accepts 0x-prefixed 20-byte hex addresses that are
// either single-case or carry a correct EIP-55 checksum. The zero address is
// rejected.
type EthAddressValidator struct{}

func (EthAddressValidator) Validate(s string) (common.Address, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Address{}, fmt.Errorf("%w: %q: missing 0x prefix", ErrInvalidAddress, s)
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	body := s[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		mixed, err := common.NewMixedcaseAddressFromString(s)
		if err != nil || !mixed.ValidChecksum() {
			return common.Address{}, fmt.Errorf("%w: %q: bad checksum", ErrInvalidAddress, s)
		}
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero address", ErrInvalidAddress)
	}
	return addr, nil
}
