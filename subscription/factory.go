package subscription

import (
	"context"
	"fmt"
	"text/template"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/sharder/types"
)

// Factory builds ShardConsumers for the manager. It implements types.ClientFactory.
type Factory struct {
	js      jetstream.JetStream
	cfg     ConsumerConfig
	tmpl    *template.Template
	handler MessageHandler
}

var _ types.ClientFactory = (*Factory)(nil)

// NewFactory creates a shard consumer factory.
//
// Parameters:
//   - js: JetStream context (must be non-nil)
//   - cfg: Consumer configuration with required fields (StreamName, ConsumerPrefix, SubjectTemplate)
//   - handler: Message handler shared by every consumer the factory builds
//
// Returns:
//   - *Factory: Factory with defaults applied
//   - error: Configuration, template parsing, or handler error
//
// Example:
//
//	factory, err := subscription.NewFactory(js, subscription.ConsumerConfig{
//	    StreamName:      "orders",
//	    ConsumerPrefix:  "order-worker",
//	    SubjectTemplate: "orders.{{.Shard}}",
//	}, subscription.MessageHandlerFunc(func(ctx context.Context, shard types.ShardID, msg jetstream.Msg) error {
//	    return nil // ACK
//	}))
//	mgr, err := sharder.NewManager(&cfg, nc, src, factory)
func NewFactory(js jetstream.JetStream, cfg ConsumerConfig, handler MessageHandler) (*Factory, error) {
	if js == nil {
		return nil, ErrJetStreamRequired
	}
	if handler == nil {
		return nil, ErrHandlerRequired
	}

	tmpl, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return &Factory{js: js, cfg: cfg, tmpl: tmpl, handler: handler}, nil
}

// NewFactoryFromConn creates a JetStream context on conn and calls NewFactory.
func NewFactoryFromConn(conn *nats.Conn, cfg ConsumerConfig, handler MessageHandler) (*Factory, error) {
	if conn == nil {
		return nil, types.ErrNATSConnectionRequired
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return NewFactory(js, cfg, handler)
}

// NewClient builds a ShardConsumer for the given shard set. It is not started.
func (f *Factory) NewClient(_ context.Context, cc types.ClientConfig) (types.ManagedClient, error) {
	return newShardConsumer(f.js, f.cfg, f.tmpl, f.handler, cc)
}
