package correlation

import (
	"context"
)

type storeContextKey struct{}

// Key is the context key under which the request store is carried.
var Key = storeContextKey{}

// ContextWithStore returns a context carrying store. Continuations of the request that derive from
// this context observe and update the same store.
func ContextWithStore(ctx context.Context, store *Store) context.Context {
	return context.WithValue(ctx, Key, store)
}

// StoreFromContext returns the request store, if any.
func StoreFromContext(ctx context.Context) (*Store, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(Key).(*Store)
	return s, ok && s != nil
}

// FromContext returns the request store or nil. All Store methods accept a nil receiver, so the
// result can be used directly.
func FromContext(ctx context.Context) *Store {
	s, _ := StoreFromContext(ctx)
	return s
}

// EnsureStore returns the store already carried by ctx, or attaches a new one.
func EnsureStore(ctx context.Context, masker Masker) (context.Context, *Store) {
	if s, ok := StoreFromContext(ctx); ok {
		return ctx, s
	}
	s := NewStore(masker)
	return ContextWithStore(ctx, s), s
}

// Get returns a single value from the request store.
func Get(ctx context.Context, name string) string {
	return FromContext(ctx).Get(name)
}

// Snapshot returns a copy of the request store values. Empty without a store.
func Snapshot(ctx context.Context) Data {
	return FromContext(ctx).Snapshot()
}
