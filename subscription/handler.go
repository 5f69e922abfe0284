package subscription

import (
	"context"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/sharder/types"
)

// MessageHandler processes messages pulled for the worker's shards.
//
// The pull loop calls Handle once per message and never concurrently: the next
// message is not fetched until Handle returns, so a slow handler applies
// backpressure. A nil return ACKs the message and an error NAKs it for
// redelivery. Delivery is at-least-once; handlers should be idempotent.
//
// Shard reports which owned shard the message subject belongs to, or -1 when
// the subject cannot be mapped back to a shard.
//
// Example:
//
//	h := subscription.MessageHandlerFunc(func(ctx context.Context, shard types.ShardID, msg jetstream.Msg) error {
//	    return process(shard, msg.Data())
//	})
type MessageHandler interface {
	Handle(ctx context.Context, shard types.ShardID, msg jetstream.Msg) error
}

// MessageHandlerFunc is a function adapter for MessageHandler.
type MessageHandlerFunc func(ctx context.Context, shard types.ShardID, msg jetstream.Msg) error

// Handle implements MessageHandler interface.
func (f MessageHandlerFunc) Handle(ctx context.Context, shard types.ShardID, msg jetstream.Msg) error {
	return f(ctx, shard, msg)
}
