package subscription

import "errors"

var (
	// ErrJetStreamRequired is returned when the factory gets a nil JetStream context.
	ErrJetStreamRequired = errors.New("JetStream context is required")

	// ErrStreamNameRequired is returned when ConsumerConfig.StreamName is empty.
	ErrStreamNameRequired = errors.New("stream name is required")

	// ErrConsumerPrefixRequired is returned when ConsumerConfig.ConsumerPrefix is empty.
	ErrConsumerPrefixRequired = errors.New("consumer prefix is required")

	// ErrSubjectTemplateRequired is returned when ConsumerConfig.SubjectTemplate is empty.
	ErrSubjectTemplateRequired = errors.New("subject template is required")

	// ErrHandlerRequired is returned when the message handler is nil.
	ErrHandlerRequired = errors.New("message handler is required")

	// ErrNoShards is returned when a consumer is started without any shard.
	ErrNoShards = errors.New("no shards to consume")

	// ErrWorkerIDRequired is returned when the client config has no worker ID.
	ErrWorkerIDRequired = errors.New("worker ID is required")

	// ErrConsumerStarted is returned when Start is called twice.
	ErrConsumerStarted = errors.New("shard consumer already started")
)
