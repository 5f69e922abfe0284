package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/sharder/types"
)

// KV reads the shard count from a JetStream KV key.
//
// The value is the decimal integer as text, the same format File accepts.
// Every call reads the latest revision, so a Put on the key takes effect on
// the leader's next tick.
type KV struct {
	kv  jetstream.KeyValue
	key string
}

var _ types.ShardCountSource = (*KV)(nil)

// NewKV creates a source backed by key in kv.
//
// Example:
//
//	kv, _ := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: "sharder-config"})
//	src := source.NewKV(kv, "shard-count")
//	_ = src.Set(ctx, 32)
func NewKV(kv jetstream.KeyValue, key string) *KV {
	return &KV{kv: kv, key: key}
}

// ShardCount reads and parses the key.
//
// Returns:
//   - int: The parsed shard count
//   - error: ErrShardCountUnavailable when the key is missing or the read fails,
//     ErrInvalidShardCount when the value is not a non-negative integer
func (s *KV) ShardCount(ctx context.Context) (int, error) {
	entry, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return 0, fmt.Errorf("%w: key %s not found", types.ErrShardCountUnavailable, s.key)
		}

		return 0, fmt.Errorf("%w: %w", types.ErrShardCountUnavailable, err)
	}

	return parseCount(entry.Value())
}

// Set stores count under the key.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - count: Non-negative shard count
//
// Returns:
//   - error: ErrInvalidShardCount for a negative count, or the KV error
func (s *KV) Set(ctx context.Context, count int) error {
	if count < 0 {
		return fmt.Errorf("%w: %d is negative", types.ErrInvalidShardCount, count)
	}
	if _, err := s.kv.Put(ctx, s.key, []byte(strconv.Itoa(count))); err != nil {
		return fmt.Errorf("failed to store shard count: %w", err)
	}

	return nil
}
