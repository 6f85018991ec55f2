package state

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket is used when a nats:// dsn names no bucket.
const DefaultBucket = "inboxdigest_state"

// JetStreamKV stores state in a NATS JetStream key/value bucket, so a
// coordinator restarted on another host resumes from the same cursor.
type JetStreamKV struct {
	nc *nats.Conn
	kv jetstream.KeyValue
}

// DialJetStreamKV connects to url and binds to bucket, creating it if it
// does not exist yet.
func DialJetStreamKV(ctx context.Context, url, bucket string) (*JetStreamKV, error) {
	log.Printf("[state] connecting to NATS at %s", url)

	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	kv, err := BindJetStreamKV(ctx, nc, bucket)
	if err != nil {
		nc.Close()
		return nil, err
	}
	kv.nc = nc
	return kv, nil
}

// BindJetStreamKV uses an existing connection. Close does not close nc.
func BindJetStreamKV(ctx context.Context, nc *nats.Conn, bucket string) (*JetStreamKV, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	kv, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: bucket})
	}
	if err != nil {
		return nil, fmt.Errorf("binding kv bucket %s: %w", bucket, err)
	}
	return &JetStreamKV{kv: kv}, nil
}

func (k *JetStreamKV) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := k.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading state %q: %w", key, err)
	}
	return entry.Value(), nil
}

func (k *JetStreamKV) Put(ctx context.Context, key string, value []byte) error {
	if _, err := k.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("writing state %q: %w", key, err)
	}
	return nil
}

func (k *JetStreamKV) Delete(ctx context.Context, key string) error {
	err := k.kv.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("deleting state %q: %w", key, err)
	}
	return nil
}

func (k *JetStreamKV) Close() error {
	if k.nc != nil {
		k.nc.Close()
	}
	return nil
}
