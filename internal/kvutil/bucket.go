// Package kvutil provides utilities for working with NATS JetStream KeyValue stores.
package kvutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/sharder/types"
)

// EnsureKVBucketWithRetry creates or opens a KV bucket with retry logic.
//
// Every worker bootstraps the election, heartbeat, and stable ID buckets on start,
// so concurrent creation of the same bucket is the normal case. Failures other
// than "already exists" are retried with exponential backoff (10ms, 20ms, 40ms...).
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - js: JetStream context
//   - config: KV bucket configuration
//   - maxRetries: Maximum number of attempts (3 when <= 0)
//
// Returns:
//   - jetstream.KeyValue: The KV bucket instance
//   - error: Last error after all attempts
//
// Example:
//
//	kv, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
//	    Bucket: "sharder-heartbeat",
//	    TTL:    6 * time.Second,
//	}, 3)
func EnsureKVBucketWithRetry(
	ctx context.Context,
	js jetstream.JetStream,
	config jetstream.KeyValueConfig,
	maxRetries int,
) (jetstream.KeyValue, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := range maxRetries {
		kv, err := js.CreateKeyValue(ctx, config)
		if err == nil {
			return kv, nil
		}

		if errors.Is(err, jetstream.ErrBucketExists) {
			kv, err = js.KeyValue(ctx, config.Bucket)
			if err == nil {
				return kv, nil
			}
			lastErr = fmt.Errorf("bucket exists but failed to open: %w", err)
		} else {
			lastErr = err
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("context cancelled during KV bucket creation: %w", ctx.Err())
		}

		if attempt < maxRetries-1 {
			backoff := time.Duration(1<<uint(attempt)) * 10 * time.Millisecond //nolint:gosec // attempt is bounded by maxRetries
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("failed to create/open KV bucket %s after %d attempts: %w",
		config.Bucket, maxRetries, lastErr)
}

// KeysWithPrefix lists the keys of kv that start with prefix + ".", with the prefix stripped.
//
// An empty bucket yields an empty slice, not an error.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - kv: Bucket to list
//   - prefix: Key prefix without the trailing dot (e.g. "hb")
//
// Returns:
//   - []string: Suffixes of the matching keys, in the order NATS returned them
//   - error: Listing error
func KeysWithPrefix(ctx context.Context, kv jetstream.KeyValue, prefix string) ([]string, error) {
	lister, err := kv.ListKeys(ctx)
	if err != nil {
		if types.IsNoKeysFoundError(err) {
			return []string{}, nil
		}

		return nil, fmt.Errorf("failed to list KV keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	want := prefix + "."
	out := []string{}
	for key := range lister.Keys() {
		if rest, ok := strings.CutPrefix(key, want); ok && rest != "" {
			out = append(out, rest)
		}
	}

	return out, nil
}
