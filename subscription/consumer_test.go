package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"text/template"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	shardertest "github.com/arloliu/sharder/testing"
	"github.com/arloliu/sharder/types"
)

type received struct {
	shard types.ShardID
	data  string
}

type recordingHandler struct {
	mu   sync.Mutex
	msgs []received
	fail bool
}

func (h *recordingHandler) Handle(_ context.Context, shard types.ShardID, msg jetstream.Msg) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, received{shard: shard, data: string(msg.Data())})
	if h.fail {
		return errors.New("handler failed")
	}

	return nil
}

func (h *recordingHandler) snapshot() []received {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]received(nil), h.msgs...)
}

func mustTemplate(t *testing.T, text string) *template.Template {
	t.Helper()
	tmpl, err := template.New("subject").Option("missingkey=error").Parse(text)
	require.NoError(t, err)

	return tmpl
}

func TestSanitizeConsumerName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"worker.tool*001>region/us", "worker_tool_001_region_us"},
		{"worker\\001", "worker_001"},
		{"worker tool 001", "worker_tool_001"},
		{"valid_name", "valid_name"},
		{"worker\t001\n002", "worker_001_002"},
		{"worker\x00\x01\x1f\x7f001", "worker____001"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, sanitizeConsumerName(c.in), "input %q", c.in)
	}
}

func TestBuildSubjects(t *testing.T) {
	subjects, bySubject, err := buildSubjects(mustTemplate(t, "orders.{{.Shard}}.new"), []types.ShardID{0, 3, 7})
	require.NoError(t, err)
	require.Equal(t, []string{"orders.0.new", "orders.3.new", "orders.7.new"}, subjects)
	require.Equal(t, types.ShardID(3), bySubject["orders.3.new"])

	_, _, err = buildSubjects(mustTemplate(t, "orders.all"), []types.ShardID{0, 1})
	require.Error(t, err, "template without the shard must be rejected")
}

func TestNewFactory_Validation(t *testing.T) {
	_, nc := shardertest.StartEmbeddedNATS(t)
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	valid := ConsumerConfig{StreamName: "S", ConsumerPrefix: "p", SubjectTemplate: "s.{{.Shard}}"}
	h := &recordingHandler{}

	tests := []struct {
		name    string
		js      jetstream.JetStream
		mutate  func(*ConsumerConfig)
		handler MessageHandler
		wantErr error
	}{
		{name: "nil jetstream", js: nil, handler: h, wantErr: ErrJetStreamRequired},
		{name: "nil handler", js: js, handler: nil, wantErr: ErrHandlerRequired},
		{name: "missing stream", js: js, handler: h, mutate: func(c *ConsumerConfig) { c.StreamName = "" }, wantErr: ErrStreamNameRequired},
		{name: "missing prefix", js: js, handler: h, mutate: func(c *ConsumerConfig) { c.ConsumerPrefix = "" }, wantErr: ErrConsumerPrefixRequired},
		{name: "missing template", js: js, handler: h, mutate: func(c *ConsumerConfig) { c.SubjectTemplate = "" }, wantErr: ErrSubjectTemplateRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			_, err := NewFactory(tt.js, cfg, tt.handler)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("bad template", func(t *testing.T) {
		cfg := valid
		cfg.SubjectTemplate = "s.{{.Shard"
		_, err := NewFactory(js, cfg, h)
		require.Error(t, err)
	})

	t.Run("defaults applied", func(t *testing.T) {
		f, err := NewFactory(js, valid, h)
		require.NoError(t, err)
		require.Equal(t, DefaultBatchSize, f.cfg.BatchSize)
		require.Equal(t, jetstream.AckExplicitPolicy, f.cfg.AckPolicy)
		require.NotNil(t, f.cfg.Logger)
	})

	t.Run("nil conn", func(t *testing.T) {
		_, err := NewFactoryFromConn(nil, valid, h)
		require.ErrorIs(t, err, types.ErrNATSConnectionRequired)
	})
}

func TestFactory_NewClient(t *testing.T) {
	_, nc := shardertest.StartEmbeddedNATS(t)
	f, err := NewFactoryFromConn(nc, ConsumerConfig{
		StreamName:      "S",
		ConsumerPrefix:  "grp",
		SubjectTemplate: "s.{{.Shard}}",
	}, &recordingHandler{})
	require.NoError(t, err)

	_, err = f.NewClient(t.Context(), types.ClientConfig{Shards: []types.ShardID{1}})
	require.ErrorIs(t, err, ErrWorkerIDRequired)

	client, err := f.NewClient(t.Context(), types.ClientConfig{WorkerID: "w.1", Shards: []types.ShardID{4, 1, 4}})
	require.NoError(t, err)
	sc, ok := client.(*ShardConsumer)
	require.True(t, ok)
	require.Equal(t, "grp-w_1", sc.Durable())
	require.Equal(t, []types.ShardID{1, 4}, sc.Shards())
	require.Equal(t, []string{"s.1", "s.4"}, sc.Subjects())

	empty, err := f.NewClient(t.Context(), types.ClientConfig{WorkerID: "w.1"})
	require.NoError(t, err)
	require.ErrorIs(t, empty.Start(t.Context()), ErrNoShards)
	require.NoError(t, empty.Stop(t.Context()))
}

func TestShardConsumer_ConsumesOwnedShards(t *testing.T) {
	ctx := t.Context()
	_, nc := shardertest.StartEmbeddedNATS(t)
	js, _ := shardertest.CreateStream(t, nc, "WORK", "work.>")

	handler := &recordingHandler{}
	f, err := NewFactory(js, ConsumerConfig{
		StreamName:      "WORK",
		ConsumerPrefix:  "worker",
		SubjectTemplate: "work.{{.Shard}}",
		FetchTimeout:    time.Second,
	}, handler)
	require.NoError(t, err)

	for _, subj := range []string{"work.1", "work.2", "work.5"} {
		_, err := js.Publish(ctx, subj, []byte(subj))
		require.NoError(t, err)
	}

	client, err := f.NewClient(ctx, types.ClientConfig{WorkerID: "a", Shards: []types.ShardID{1, 5}, ShardCount: 6})
	require.NoError(t, err)
	require.NoError(t, client.Start(ctx))
	require.ErrorIs(t, client.Start(ctx), ErrConsumerStarted)

	require.Eventually(t, func() bool { return len(handler.snapshot()) == 2 }, 5*time.Second, 20*time.Millisecond)
	require.ElementsMatch(t, []received{{1, "work.1"}, {5, "work.5"}}, handler.snapshot())

	info, err := client.(*ShardConsumer).Info(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"work.1", "work.5"}, info.Config.FilterSubjects)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, client.Stop(stopCtx))
	require.NoError(t, client.Stop(stopCtx))

	// The same durable is reused with the new filter.
	next, err := f.NewClient(ctx, types.ClientConfig{WorkerID: "a", Shards: []types.ShardID{2}, ShardCount: 6})
	require.NoError(t, err)
	require.NoError(t, next.Start(ctx))
	t.Cleanup(func() { _ = next.Stop(context.Background()) })

	_, err = js.Publish(ctx, "work.2", []byte("again"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, m := range handler.snapshot() {
			if m.shard == 2 && m.data == "again" {
				return true
			}
		}

		return false
	}, 5*time.Second, 20*time.Millisecond)

	info, err = next.(*ShardConsumer).Info(ctx)
	require.NoError(t, err)
	require.Equal(t, "worker-a", info.Name)
	require.Equal(t, []string{"work.2"}, info.Config.FilterSubjects)
}

func TestShardConsumer_HandlerErrorRedelivers(t *testing.T) {
	ctx := t.Context()
	_, nc := shardertest.StartEmbeddedNATS(t)
	js, _ := shardertest.CreateStream(t, nc, "RETRY", "retry.>")

	handler := &recordingHandler{fail: true}
	f, err := NewFactory(js, ConsumerConfig{
		StreamName:      "RETRY",
		ConsumerPrefix:  "worker",
		SubjectTemplate: "retry.{{.Shard}}",
		MaxDeliver:      3,
		FetchTimeout:    time.Second,
	}, handler)
	require.NoError(t, err)

	client, err := f.NewClient(ctx, types.ClientConfig{WorkerID: "a", Shards: []types.ShardID{0}})
	require.NoError(t, err)
	require.NoError(t, client.Start(ctx))
	t.Cleanup(func() { _ = client.Stop(context.Background()) })

	_, err = js.Publish(ctx, "retry.0", []byte("x"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(handler.snapshot()) == 3 }, 5*time.Second, 20*time.Millisecond)
}

func TestShardConsumer_StartFailsWithoutStream(t *testing.T) {
	_, nc := shardertest.StartEmbeddedNATS(t)
	f, err := NewFactoryFromConn(nc, ConsumerConfig{
		StreamName:      "MISSING",
		ConsumerPrefix:  "worker",
		SubjectTemplate: "missing.{{.Shard}}",
		MaxRetries:      1,
		RetryBackoff:    10 * time.Millisecond,
	}, &recordingHandler{})
	require.NoError(t, err)

	client, err := f.NewClient(t.Context(), types.ClientConfig{WorkerID: "a", Shards: []types.ShardID{0}})
	require.NoError(t, err)
	require.Error(t, client.Start(t.Context()))
}
