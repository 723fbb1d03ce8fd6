package storage

import (
	"context"
	"errors"
)

// ErrUnavailable wraps backend failures so callers can tell them apart from a
// missing key, which is not an error.
var ErrUnavailable = errors.New("storage unavailable")

// Adapter is the persistence contract. GetItem reports ok=false for a missing
// key.
type Adapter interface {
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}

// ServerSide is implemented by adapters that proxy a server-held store.
type ServerSide interface {
	IsServer() bool
}

// IsServer reports whether a declares itself server-side.
func IsServer(a Adapter) bool {
	s, ok := a.(ServerSide)
	return ok && s.IsServer()
}

type serverAdapter struct {
	Adapter
}

func (serverAdapter) IsServer() bool { return true }

// MarkServer returns a flagged as server-side.
func MarkServer(a Adapter) Adapter {
	if IsServer(a) {
		return a
	}
	return serverAdapter{Adapter: a}
}
