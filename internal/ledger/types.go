package ledger

import "github.com/ethereum/go-ethereum/common"

// Invoice is an amount owed by Recipient to Issuer.
type Invoice struct {
	ID          uint64         `json:"id"`
	Issuer      common.Address `json:"issuer"`
	Recipient   common.Address `json:"recipient"`
	Amount      Uint128        `json:"amount"`
	Description string         `json:"description"`
	DueDate     uint64         `json:"due_date"`
	IsPaid      bool           `json:"is_paid"`
}

// Coin is one entry of the funds attached to a call.
type Coin struct {
	Denom  string  `json:"denom"`
	Amount Uint128 `json:"amount"`
}

// MessageInfo is what the dispatcher knows about the caller of an execute call.
type MessageInfo struct {
	Sender common.Address
	Funds  []Coin
}

type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Response is the observable result of a successful execute call.
type Response struct {
	Attributes []Attribute `json:"attributes"`
}

func newResponse() *Response { return &Response{Attributes: []Attribute{}} }

func (r *Response) addAttribute(key, value string) *Response {
	r.Attributes = append(r.Attributes, Attribute{Key: key, Value: value})
	return r
}

// Attr returns the first attribute value with the given key.
func (r *Response) Attr(key string) (string, bool) {
	for _, a := range r.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}
