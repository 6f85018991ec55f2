// Package state persists the coordinator's small amount of state (sync
// cursor, last sync time, status, recent records, NLP storage toggle) in a
// key/value backend.
package state

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// ErrNotFound is returned by KV.Get for a missing key.
var ErrNotFound = errors.New("state key not found")

// KV is a minimal byte-valued key/value store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open selects a backend from dsn:
//
//	sqlite:///path/to/state.db
//	nats://host:4222/bucket
//	memory://
func Open(ctx context.Context, dsn string) (KV, error) {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return nil, fmt.Errorf("invalid state dsn %q", dsn)
	}

	switch scheme {
	case "sqlite":
		if rest == "" {
			return nil, fmt.Errorf("invalid state dsn %q: missing path", dsn)
		}
		return NewSQLiteKV(rest)
	case "nats":
		u, err := url.Parse(dsn)
		if err != nil {
			return nil, fmt.Errorf("parsing state dsn: %w", err)
		}
		bucket := strings.Trim(u.Path, "/")
		if bucket == "" {
			bucket = DefaultBucket
		}
		return DialJetStreamKV(ctx, "nats://"+u.Host, bucket)
	case "memory":
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unsupported state backend %q", scheme)
	}
}

// MemoryKV keeps state in a map. Nothing survives a restart.
type MemoryKV struct {
	mu sync.Mutex
	m  map[string][]byte
}

// NewMemoryKV creates an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{m: make(map[string][]byte)}
}

func (k *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.m[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (k *MemoryKV) Put(_ context.Context, key string, value []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.m[key] = append([]byte(nil), value...)
	return nil
}

func (k *MemoryKV) Delete(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.m, key)
	return nil
}

func (k *MemoryKV) Close() error { return nil }
