package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
)

const uint128Bits = 128

// Uint128 is an unsigned amount of at most 128 bits. The zero value is 0.
// It is encoded as a decimal JSON string.
type Uint128 struct {
	v *big.Int
}

func NewUint128(n uint64) Uint128 {
	return Uint128{v: new(big.Int).SetUint64(n)}
}

// ParseUint128 parses a base-10 string.
func ParseUint128(s string) (Uint128, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Uint128{}, fmt.Errorf("%w: %q is not a decimal integer", ErrInvalidAmount, s)
	}
	return uint128FromBig(n)
}

func uint128FromBig(n *big.Int) (Uint128, error) {
	if n.Sign() < 0 {
		return Uint128{}, fmt.Errorf("%w: negative", ErrInvalidAmount)
	}
	if n.BitLen() > uint128Bits {
		return Uint128{}, fmt.Errorf("%w: exceeds 128 bits", ErrInvalidAmount)
	}
	return Uint128{v: n}, nil
}

func (u Uint128) big() *big.Int {
	if u.v == nil {
		return new(big.Int)
	}
	return u.v
}

func (u Uint128) IsZero() bool { return u.big().Sign() == 0 }

func (u Uint128) Equal(o Uint128) bool { return u.big().Cmp(o.big()) == 0 }

func (u Uint128) String() string { return u.big().String() }

func (u Uint128) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// UnmarshalJSON accepts "123" and, leniently, a bare 123.
func (u *Uint128) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*u = Uint128{}
		return nil
	}
	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	parsed, err := ParseUint128(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
