package store

import (
	"context"
	"errors"
)

// KV is a staged write.
type KV struct {
	Key   string
	Value []byte
}

// Overlay stages writes on top of a base GetFunc. Reads see staged values
// first. Nothing reaches the base until the owner commits Writes().
type Overlay struct {
	base    GetFunc
	pending map[string][]byte
	order   []string
}

func NewOverlay(base GetFunc) *Overlay {
	return &Overlay{
		base:    base,
		pending: make(map[string][]byte),
	}
}

func (o *Overlay) get(ctx context.Context, key string) ([]byte, error) {
	if v, ok := o.pending[key]; ok {
		return clone(v), nil
	}
	return o.base(ctx, key)
}

func (o *Overlay) Load(ctx context.Context, key string) ([]byte, error) {
	return o.get(ctx, key)
}

func (o *Overlay) MayLoad(ctx context.Context, key string) ([]byte, bool, error) {
	return mayLoad(ctx, o.get, key)
}

func (o *Overlay) Save(_ context.Context, key string, value []byte) error {
	if value == nil {
		return errors.New("store: nil value")
	}
	if _, ok := o.pending[key]; !ok {
		o.order = append(o.order, key)
	}
	o.pending[key] = clone(value)
	return nil
}

// Writes returns the staged writes in first-write order, each key once with
// its latest value.
func (o *Overlay) Writes() []KV {
	out := make([]KV, 0, len(o.order))
	for _, k := range o.order {
		out = append(out, KV{Key: k, Value: o.pending[k]})
	}
	return out
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
