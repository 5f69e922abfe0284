package assignment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/sharder/types"
)

// recordingFactory builds fakeClients and records every Start/Stop in order.
type recordingFactory struct {
	mu       sync.Mutex
	events   []string
	clients  []*fakeClient
	startErr error
}

type fakeClient struct {
	id      int
	cfg     types.ClientConfig
	factory *recordingFactory
}

func (f *recordingFactory) NewClient(_ context.Context, cfg types.ClientConfig) (types.ManagedClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := &fakeClient{id: len(f.clients), cfg: cfg, factory: f}
	f.clients = append(f.clients, c)

	return c, nil
}

func (f *recordingFactory) record(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *recordingFactory) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.events...)
}

func (f *recordingFactory) Last() *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}

	return f.clients[len(f.clients)-1]
}

func (c *fakeClient) Start(context.Context) error {
	c.factory.mu.Lock()
	err := c.factory.startErr
	c.factory.mu.Unlock()
	if err != nil {
		return err
	}
	c.factory.record(fmt.Sprintf("start:%d", c.id))

	return nil
}

func (c *fakeClient) Stop(context.Context) error {
	c.factory.record(fmt.Sprintf("stop:%d", c.id))
	return nil
}

func newTestReconciler(t *testing.T, self string) (*Reconciler, *recordingFactory) {
	t.Helper()

	factory := &recordingFactory{}
	r, err := NewReconciler(&ReconcilerConfig{SelfID: self, Factory: factory})
	require.NoError(t, err)

	return r, factory
}

func mustPayload(t *testing.T, a types.Assignment) []byte {
	t.Helper()

	data, err := json.Marshal(a)
	require.NoError(t, err)

	return data
}

func TestReconcile_RestartSuppression(t *testing.T) {
	state := LocalShardState{LastShardCount: 10, OwnedShards: []types.ShardID{2, 5}}

	tests := []struct {
		name     string
		snapshot types.Assignment
		want     bool
	}{
		{
			name:     "same total and same set",
			snapshot: types.Assignment{"me": {5, 2}, "other": {0, 1, 3, 4, 6, 7, 8, 9}},
			want:     false,
		},
		{
			name:     "other workers reshuffled",
			snapshot: types.Assignment{"me": {2, 5}, "x": {0, 1, 3, 4}, "y": {6, 7, 8, 9}},
			want:     false,
		},
		{
			name:     "total changed",
			snapshot: types.Assignment{"me": {2, 5}, "other": {0, 1, 3, 4, 6, 7, 8, 9, 10}},
			want:     true,
		},
		{
			name:     "owned set changed",
			snapshot: types.Assignment{"me": {2, 6}, "other": {0, 1, 3, 4, 5, 7, 8, 9}},
			want:     true,
		},
		{
			name:     "worker missing from snapshot",
			snapshot: types.Assignment{"other": {0, 1, 2, 3, 4, 5, 6, 7, 8, 9}},
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, mustRestart := Reconcile(tt.snapshot, "me", state)
			require.Equal(t, tt.want, mustRestart)
			require.Equal(t, tt.snapshot.TotalShards(), next.LastShardCount)
			require.ElementsMatch(t, tt.snapshot["me"], next.OwnedShards)
		})
	}
}

func TestReconciler_StartsClientWithOwnShards(t *testing.T) {
	r, factory := newTestReconciler(t, "me")
	ctx := t.Context()

	restarted, err := r.HandleMessage(ctx, mustPayload(t, types.Assignment{"me": {1, 3}, "other": {0, 2}}))
	require.NoError(t, err)
	require.True(t, restarted)

	require.Equal(t, []string{"start:0"}, factory.Events())
	c := factory.Last()
	require.Equal(t, []types.ShardID{1, 3}, c.cfg.Shards)
	require.Equal(t, 4, c.cfg.ShardCount)
	require.Equal(t, "me", c.cfg.WorkerID)
	require.True(t, r.HasClient())

	state := r.State()
	require.Equal(t, 4, state.LastShardCount)
	require.Equal(t, []types.ShardID{1, 3}, state.OwnedShards)
	require.Equal(t, types.Assignment{"me": {1, 3}, "other": {0, 2}}, r.Snapshot())
}

func TestReconciler_IgnoresUnrelatedChanges(t *testing.T) {
	r, factory := newTestReconciler(t, "me")
	ctx := t.Context()

	_, err := r.HandleMessage(ctx, mustPayload(t, types.Assignment{"me": {1, 3}, "a": {0, 2}, "b": {}}))
	require.NoError(t, err)

	restarted, err := r.HandleMessage(ctx, mustPayload(t, types.Assignment{"me": {3, 1}, "b": {0, 2}}))
	require.NoError(t, err)
	require.False(t, restarted)
	require.Equal(t, []string{"start:0"}, factory.Events())
	require.Equal(t, types.Assignment{"me": {3, 1}, "b": {0, 2}}, r.Snapshot())
}

func TestReconciler_DuplicatePayload(t *testing.T) {
	r, factory := newTestReconciler(t, "me")
	ctx := t.Context()
	payload := mustPayload(t, types.Assignment{"me": {0}})

	restarted, err := r.HandleMessage(ctx, payload)
	require.NoError(t, err)
	require.True(t, restarted)

	restarted, err = r.HandleMessage(ctx, payload)
	require.NoError(t, err)
	require.False(t, restarted)
	require.Len(t, factory.Events(), 1)
}

func TestReconciler_StopsBeforeStart(t *testing.T) {
	r, factory := newTestReconciler(t, "me")
	ctx := t.Context()

	_, err := r.HandleMessage(ctx, mustPayload(t, types.Assignment{"me": {0, 1}, "x": {2, 3}}))
	require.NoError(t, err)

	restarted, err := r.HandleMessage(ctx, mustPayload(t, types.Assignment{"me": {0}, "x": {2, 3}, "y": {1}}))
	require.NoError(t, err)
	require.True(t, restarted)

	require.Equal(t, []string{"start:0", "stop:0", "start:1"}, factory.Events())
	require.Equal(t, []types.ShardID{0}, factory.Last().cfg.Shards)
}

func TestReconciler_TotalChangeRestarts(t *testing.T) {
	r, factory := newTestReconciler(t, "me")
	ctx := t.Context()

	_, err := r.HandleMessage(ctx, mustPayload(t, types.Assignment{"me": {0, 1}, "x": {2, 3}}))
	require.NoError(t, err)

	restarted, err := r.HandleMessage(ctx, mustPayload(t, types.Assignment{"me": {0, 1}, "x": {2, 3, 4}}))
	require.NoError(t, err)
	require.True(t, restarted)
	require.Equal(t, 5, factory.Last().cfg.ShardCount)
}

func TestReconciler_IdleWhenNoShards(t *testing.T) {
	var changes [][]types.ShardID
	factory := &recordingFactory{}
	r, err := NewReconciler(&ReconcilerConfig{
		SelfID:  "me",
		Factory: factory,
		OnShardsChanged: func(shards []types.ShardID, total int) {
			changes = append(changes, shards)
		},
	})
	require.NoError(t, err)
	ctx := t.Context()

	_, err = r.HandleMessage(ctx, mustPayload(t, types.Assignment{"me": {0}, "x": {1}}))
	require.NoError(t, err)

	restarted, err := r.HandleMessage(ctx, mustPayload(t, types.Assignment{"x": {0, 1}}))
	require.NoError(t, err)
	require.True(t, restarted)

	require.Equal(t, []string{"start:0", "stop:0"}, factory.Events())
	require.False(t, r.HasClient())
	require.Empty(t, r.State().OwnedShards)
	require.Len(t, changes, 2)
	require.Empty(t, changes[1])
}

func TestReconciler_MalformedPayloadKeepsState(t *testing.T) {
	r, factory := newTestReconciler(t, "me")
	ctx := t.Context()

	_, err := r.HandleMessage(ctx, mustPayload(t, types.Assignment{"me": {4}}))
	require.NoError(t, err)
	before := r.State()

	for _, payload := range []string{"not json", "null", "[1,2]", `{"me":[1.5]}`, `{"me":[-1]}`} {
		restarted, err := r.HandleMessage(ctx, []byte(payload))
		require.ErrorIs(t, err, types.ErrMalformedSnapshot, payload)
		require.False(t, restarted)
	}

	require.Equal(t, before, r.State())
	require.Equal(t, []string{"start:0"}, factory.Events())
	require.True(t, r.HasClient())
}

func TestReconciler_StartFailureRetriesOnNextSnapshot(t *testing.T) {
	var reported []error
	factory := &recordingFactory{startErr: errors.New("gateway unavailable")}
	r, err := NewReconciler(&ReconcilerConfig{
		SelfID:  "me",
		Factory: factory,
		OnError: func(err error) { reported = append(reported, err) },
	})
	require.NoError(t, err)
	ctx := t.Context()
	payload := mustPayload(t, types.Assignment{"me": {0, 1}})

	restarted, err := r.HandleMessage(ctx, payload)
	require.Error(t, err)
	require.True(t, restarted)
	require.False(t, r.HasClient())
	require.Equal(t, LocalShardState{}, r.State())
	require.Len(t, reported, 1)

	factory.mu.Lock()
	factory.startErr = nil
	factory.mu.Unlock()

	restarted, err = r.HandleMessage(ctx, payload)
	require.NoError(t, err)
	require.True(t, restarted)
	require.True(t, r.HasClient())
}

func TestReconciler_Reset(t *testing.T) {
	r, factory := newTestReconciler(t, "me")
	ctx := t.Context()
	payload := mustPayload(t, types.Assignment{"me": {0, 1}})

	_, err := r.HandleMessage(ctx, payload)
	require.NoError(t, err)

	r.Reset(ctx)
	require.False(t, r.HasClient())
	require.Equal(t, LocalShardState{}, r.State())
	require.Nil(t, r.Snapshot())

	// The same snapshot after a reset counts as new.
	restarted, err := r.HandleMessage(ctx, payload)
	require.NoError(t, err)
	require.True(t, restarted)
	require.Equal(t, []string{"start:0", "stop:0", "start:1"}, factory.Events())
}

func TestNewReconciler_Validation(t *testing.T) {
	_, err := NewReconciler(&ReconcilerConfig{Factory: &recordingFactory{}})
	require.Error(t, err)

	_, err = NewReconciler(&ReconcilerConfig{SelfID: "me"})
	require.Error(t, err)
}
