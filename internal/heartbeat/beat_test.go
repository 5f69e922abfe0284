package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// readBeat returns the last beat published by a worker, or false if it has none.
func readBeat(ctx context.Context, kv jetstream.KeyValue, prefix, workerID string) (Beat, bool, error) {
	entry, err := kv.Get(ctx, Key(prefix, workerID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return Beat{}, false, nil
		}

		return Beat{}, false, fmt.Errorf("failed to read heartbeat for %s: %w", workerID, err)
	}

	var beat Beat
	if err := json.Unmarshal(entry.Value(), &beat); err != nil {
		return Beat{}, false, fmt.Errorf("failed to decode heartbeat for %s: %w", workerID, err)
	}

	return beat, true, nil
}
