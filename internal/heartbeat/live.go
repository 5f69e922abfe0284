package heartbeat

import (
	"context"
	"fmt"
	"slices"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/sharder/internal/kvutil"
)

// Key returns the heartbeat key for a worker: "{prefix}.{workerID}".
func Key(prefix, workerID string) string {
	return prefix + "." + workerID
}

// Live returns the IDs of all workers with an unexpired heartbeat, sorted.
//
// Parameters:
//   - ctx: Context for the key listing
//   - kv: Heartbeat KV bucket
//   - prefix: Heartbeat key prefix
//
// Returns:
//   - []string: Worker IDs in ascending order, empty when none are alive
//   - error: KV listing error
func Live(ctx context.Context, kv jetstream.KeyValue, prefix string) ([]string, error) {
	ids, err := kvutil.KeysWithPrefix(ctx, kv, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list heartbeats: %w", err)
	}
	slices.Sort(ids)

	return ids, nil
}
