package subscription

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/sharder/types"
)

// ShardConsumer consumes the subjects of a fixed shard set through one durable
// pull consumer named "<ConsumerPrefix>-<workerID>".
//
// A ShardConsumer serves exactly one shard set. When the assignment changes the
// manager stops it and starts a new one, which updates the same durable
// consumer's FilterSubjects so unacknowledged messages are not lost.
type ShardConsumer struct {
	js      jetstream.JetStream
	cfg     ConsumerConfig
	handler MessageHandler
	logger  types.Logger

	workerID  string
	durable   string
	shards    []types.ShardID
	subjects  []string
	bySubject map[string]types.ShardID

	mu       sync.Mutex
	consumer jetstream.Consumer
	cancel   context.CancelFunc
	doneCh   chan struct{}
	started  bool
}

var _ types.ManagedClient = (*ShardConsumer)(nil)

type subjectContext struct {
	Shard int
}

func newShardConsumer(js jetstream.JetStream, cfg ConsumerConfig, tmpl *template.Template,
	handler MessageHandler, cc types.ClientConfig,
) (*ShardConsumer, error) {
	if cc.WorkerID == "" {
		return nil, ErrWorkerIDRequired
	}

	shards := slices.Clone(cc.Shards)
	slices.Sort(shards)
	shards = slices.Compact(shards)

	subjects, bySubject, err := buildSubjects(tmpl, shards)
	if err != nil {
		return nil, err
	}

	return &ShardConsumer{
		js:        js,
		cfg:       cfg,
		handler:   handler,
		logger:    cfg.Logger,
		workerID:  cc.WorkerID,
		durable:   sanitizeConsumerName(cfg.ConsumerPrefix + "-" + cc.WorkerID),
		shards:    shards,
		subjects:  subjects,
		bySubject: bySubject,
	}, nil
}

// Start creates or updates the durable consumer and starts the pull loop.
//
// Consumer creation is retried with jittered backoff up to MaxRetries times.
//
// Parameters:
//   - ctx: Context bounding consumer creation; the pull loop outlives it
//
// Returns:
//   - error: ErrNoShards, ErrConsumerStarted, or the JetStream error after retries
func (c *ShardConsumer) Start(ctx context.Context) error {
	if len(c.shards) == 0 {
		return ErrNoShards
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrConsumerStarted
	}

	cons, err := c.createConsumer(ctx)
	if err != nil {
		return err
	}

	pullCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.consumer = cons
	c.cancel = cancel
	c.doneCh = make(chan struct{})
	c.started = true

	go c.pullLoop(pullCtx, cons, c.doneCh)

	c.logger.Info("shard consumer started",
		"durable", c.durable,
		"shards", c.shards,
		"subjects", len(c.subjects))

	return nil
}

// Stop halts the pull loop and waits for the in-flight message to finish.
//
// The durable consumer is left on the server so the next consumer for this
// worker resumes where this one stopped. NATS removes it after
// InactiveThreshold if nobody resumes.
//
// Returns:
//   - error: ctx.Err() if ctx ends before the loop exits
func (c *ShardConsumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	cancel, done := c.cancel, c.doneCh
	c.mu.Unlock()

	cancel()

	select {
	case <-done:
		c.logger.Info("shard consumer stopped", "durable", c.durable)
		return nil
	case <-ctx.Done():
		c.logger.Warn("shard consumer stop timed out", "durable", c.durable)
		return ctx.Err()
	}
}

// Durable returns the durable consumer name.
func (c *ShardConsumer) Durable() string {
	return c.durable
}

// Shards returns a copy of the consumed shards in ascending order.
func (c *ShardConsumer) Shards() []types.ShardID {
	return slices.Clone(c.shards)
}

// Subjects returns a copy of the filter subjects in shard order.
func (c *ShardConsumer) Subjects() []string {
	return slices.Clone(c.subjects)
}

// Info returns the JetStream consumer info.
//
// Returns:
//   - *jetstream.ConsumerInfo: Consumer metadata and current FilterSubjects
//   - error: Non-nil if the consumer was never started or the call fails
func (c *ShardConsumer) Info(ctx context.Context) (*jetstream.ConsumerInfo, error) {
	c.mu.Lock()
	cons := c.consumer
	c.mu.Unlock()
	if cons == nil {
		return nil, errors.New("shard consumer not initialized")
	}

	info, err := cons.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer info: %w", err)
	}

	return info, nil
}

func (c *ShardConsumer) createConsumer(ctx context.Context) (jetstream.Consumer, error) {
	cfg := jetstream.ConsumerConfig{
		Name:              c.durable,
		Durable:           c.durable,
		FilterSubjects:    c.subjects,
		AckPolicy:         c.cfg.AckPolicy,
		AckWait:           c.cfg.AckWait,
		MaxDeliver:        c.cfg.MaxDeliver,
		InactiveThreshold: c.cfg.InactiveThreshold,
		MaxWaiting:        c.cfg.MaxWaiting,
	}

	rng := newRetryRNG(c.cfg.RetrySeed)
	var delay time.Duration
	for attempt := 0; ; attempt++ {
		cons, err := c.js.CreateOrUpdateConsumer(ctx, c.cfg.StreamName, cfg)
		if err == nil {
			return cons, nil
		}
		if attempt >= c.cfg.MaxRetries {
			return nil, fmt.Errorf("failed to create/update consumer %s after %d attempts: %w",
				c.durable, attempt+1, err)
		}

		delay = jitterBackoff(delay, c.cfg.RetryBackoff, c.cfg.RetryMultiplier, c.cfg.RetryBackoffCap, rng)
		c.logger.Warn("consumer create failed, retrying",
			"durable", c.durable,
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *ShardConsumer) pullLoop(ctx context.Context, cons jetstream.Consumer, done chan struct{}) {
	defer close(done)

	c.logger.Debug("starting pull loop", "durable", c.durable)

	for ctx.Err() == nil {
		iter, err := cons.Messages(
			jetstream.PullMaxMessages(c.cfg.BatchSize),
			jetstream.PullExpiry(c.cfg.FetchTimeout),
			jetstream.PullHeartbeat(c.cfg.FetchTimeout/2),
		)
		if err != nil {
			c.logger.Error("failed to create message iterator", "durable", c.durable, "error", err)
			if !sleepCtx(ctx, c.cfg.RetryBackoff) {
				return
			}

			continue
		}

		c.drain(ctx, iter)
	}
}

// drain handles messages until the iterator fails or ctx ends.
func (c *ShardConsumer) drain(ctx context.Context, iter jetstream.MessagesContext) {
	stop := context.AfterFunc(ctx, iter.Stop)
	defer stop()
	defer iter.Stop()

	for {
		msg, err := iter.Next()
		if err != nil {
			switch {
			case ctx.Err() != nil, errors.Is(err, jetstream.ErrMsgIteratorClosed):
			case errors.Is(err, jetstream.ErrNoHeartbeat):
				c.logger.Warn("pull loop: no heartbeat", "durable", c.durable)
			default:
				c.logger.Warn("pull loop: iterator error, retrying", "durable", c.durable, "error", err)
				sleepCtx(ctx, c.cfg.RetryBackoff)
			}

			return
		}

		shard, ok := c.bySubject[msg.Subject()]
		if !ok {
			shard = -1
		}

		if err := c.handler.Handle(ctx, shard, msg); err != nil {
			c.logger.Debug("handler failed, NAK", "subject", msg.Subject(), "error", err)
			_ = msg.Nak()

			continue
		}
		_ = msg.Ack()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// buildSubjects renders one subject per shard and maps each subject back to its shard.
func buildSubjects(tmpl *template.Template, shards []types.ShardID) ([]string, map[string]types.ShardID, error) {
	subjects := make([]string, 0, len(shards))
	bySubject := make(map[string]types.ShardID, len(shards))

	for _, shard := range shards {
		subj, err := generateSubject(tmpl, shard)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := bySubject[subj]; dup {
			return nil, nil, fmt.Errorf("subject template maps shards to the same subject %q", subj)
		}
		bySubject[subj] = shard
		subjects = append(subjects, subj)
	}

	return subjects, bySubject, nil
}

func generateSubject(tmpl *template.Template, shard types.ShardID) (string, error) {
	var buf strings.Builder
	if err := tmpl.Execute(&buf, subjectContext{Shard: int(shard)}); err != nil {
		return "", fmt.Errorf("failed to execute subject template: %w", err)
	}

	return buf.String(), nil
}

// sanitizeConsumerName replaces characters NATS forbids in consumer names
// (whitespace, '.', '*', '>', path separators, non-printables) with '_'.
func sanitizeConsumerName(name string) string {
	var result strings.Builder
	result.Grow(len(name))

	for _, r := range name {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' ||
			r == '.' || r == '*' || r == '>' ||
			r == '/' || r == '\\' ||
			r < 32 || r == 127 {
			result.WriteRune('_')
		} else {
			result.WriteRune(r)
		}
	}

	return result.String()
}
