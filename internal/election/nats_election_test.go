package election

import (
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	shardertest "github.com/arloliu/sharder/testing"
)

const leaderKey = "leader"

func electionKV(t *testing.T, bucket string) jetstream.KeyValue {
	t.Helper()

	_, nc := shardertest.StartEmbeddedNATS(t)

	return shardertest.CreateJetStreamKV(t, nc, bucket)
}

func mustLead(t *testing.T, e *NATSElection, workerID string) {
	t.Helper()

	won, err := e.RequestLeadership(t.Context(), workerID)
	require.NoError(t, err)
	require.True(t, won, "%s should hold the leader key", workerID)
}

func TestNATSElection_RequestLeadership(t *testing.T) {
	t.Run("vacant key is acquired", func(t *testing.T) {
		e := NewNATSElection(electionKV(t, "election-request-vacant"), leaderKey)

		mustLead(t, e, "worker-1")
		require.Equal(t, "worker-1", e.WorkerID())
	})

	t.Run("held key is refused without error", func(t *testing.T) {
		kv := electionKV(t, "election-request-held")
		mustLead(t, NewNATSElection(kv, leaderKey), "worker-1")

		won, err := NewNATSElection(kv, leaderKey).RequestLeadership(t.Context(), "worker-2")
		require.NoError(t, err)
		require.False(t, won)
	})

	t.Run("holder renews instead of recreating", func(t *testing.T) {
		kv := electionKV(t, "election-request-renew")
		e := NewNATSElection(kv, leaderKey)
		mustLead(t, e, "worker-1")

		before, err := kv.Get(t.Context(), leaderKey)
		require.NoError(t, err)

		mustLead(t, e, "worker-1")

		after, err := kv.Get(t.Context(), leaderKey)
		require.NoError(t, err)
		require.Greater(t, after.Revision(), before.Revision())
	})

	t.Run("empty worker ID is rejected", func(t *testing.T) {
		e := NewNATSElection(electionKV(t, "election-request-empty"), leaderKey)

		won, err := e.RequestLeadership(t.Context(), "")
		require.ErrorIs(t, err, ErrEmptyWorkerID)
		require.False(t, won)
		require.Empty(t, e.WorkerID())
	})

	t.Run("lost lease is reacquired when vacant", func(t *testing.T) {
		kv := electionKV(t, "election-request-reacquire")
		e := NewNATSElection(kv, leaderKey)
		mustLead(t, e, "worker-1")

		require.NoError(t, kv.Delete(t.Context(), leaderKey))

		// Renewal fails on the stale revision, then the fresh create wins.
		mustLead(t, e, "worker-1")

		leader, err := e.Leader(t.Context())
		require.NoError(t, err)
		require.Equal(t, "worker-1", leader)
	})
}

func TestNATSElection_RenewLeadership(t *testing.T) {
	tests := []struct {
		name    string
		lead    bool
		steal   bool
		wantErr error
	}{
		{name: "holder renews", lead: true},
		{name: "non-holder", wantErr: ErrNotLeader},
		{name: "key taken away", lead: true, steal: true, wantErr: ErrLeadershipLost},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := t.Context()
			kv := electionKV(t, fmt.Sprintf("election-renew-%d", i))
			e := NewNATSElection(kv, leaderKey)

			if tt.lead {
				mustLead(t, e, "worker-1")
			}
			if tt.steal {
				require.NoError(t, kv.Delete(ctx, leaderKey))
			}

			err := e.RenewLeadership(ctx)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)

			isLeader, err := e.IsLeader(ctx)
			require.NoError(t, err)
			require.False(t, isLeader)
		})
	}
}

func TestNATSElection_ReleaseLeadership(t *testing.T) {
	t.Run("holder deletes the key and a successor can win", func(t *testing.T) {
		ctx := t.Context()
		kv := electionKV(t, "election-release-handover")
		first := NewNATSElection(kv, leaderKey)
		mustLead(t, first, "worker-1")

		require.NoError(t, first.ReleaseLeadership(ctx))
		require.Empty(t, first.WorkerID())

		_, err := kv.Get(ctx, leaderKey)
		require.ErrorIs(t, err, jetstream.ErrKeyNotFound)

		mustLead(t, NewNATSElection(kv, leaderKey), "worker-2")
	})

	t.Run("non-holder", func(t *testing.T) {
		e := NewNATSElection(electionKV(t, "election-release-nonholder"), leaderKey)

		require.ErrorIs(t, e.ReleaseLeadership(t.Context()), ErrNotLeader)
	})

	t.Run("successor key survives a late release", func(t *testing.T) {
		ctx := t.Context()
		kv := electionKV(t, "election-release-successor")

		stale := NewNATSElection(kv, leaderKey)
		mustLead(t, stale, "worker-1")

		// worker-1's lease expires and worker-2 wins before worker-1 notices.
		require.NoError(t, kv.Delete(ctx, leaderKey))
		successor := NewNATSElection(kv, leaderKey)
		mustLead(t, successor, "worker-2")

		require.NoError(t, stale.ReleaseLeadership(ctx))

		leader, err := successor.Leader(ctx)
		require.NoError(t, err)
		require.Equal(t, "worker-2", leader)
	})
}

func TestNATSElection_IsLeader(t *testing.T) {
	tests := []struct {
		name    string
		lead    bool
		replace func(t *testing.T, kv jetstream.KeyValue)
		want    bool
	}{
		{name: "holder", lead: true, want: true},
		{name: "never campaigned"},
		{
			name: "key deleted",
			lead: true,
			replace: func(t *testing.T, kv jetstream.KeyValue) {
				require.NoError(t, kv.Delete(t.Context(), leaderKey))
			},
		},
		{
			name: "key recreated by another worker",
			lead: true,
			replace: func(t *testing.T, kv jetstream.KeyValue) {
				require.NoError(t, kv.Delete(t.Context(), leaderKey))
				_, err := kv.Create(t.Context(), leaderKey, encodeLeaderValue("worker-2", time.Now()))
				require.NoError(t, err)
			},
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := electionKV(t, fmt.Sprintf("election-isleader-%d", i))
			e := NewNATSElection(kv, leaderKey)
			if tt.lead {
				mustLead(t, e, "worker-1")
			}
			if tt.replace != nil {
				tt.replace(t, kv)
			}

			isLeader, err := e.IsLeader(t.Context())
			require.NoError(t, err)
			require.Equal(t, tt.want, isLeader)
		})
	}
}

func TestNATSElection_Leader(t *testing.T) {
	t.Run("vacant", func(t *testing.T) {
		leader, err := NewNATSElection(electionKV(t, "election-leader-vacant"), leaderKey).Leader(t.Context())
		require.NoError(t, err)
		require.Empty(t, leader)
	})

	t.Run("observers see the holder until release", func(t *testing.T) {
		ctx := t.Context()
		kv := electionKV(t, "election-leader-observer")
		holder := NewNATSElection(kv, leaderKey)
		observer := NewNATSElection(kv, leaderKey)
		mustLead(t, holder, "worker-3")

		leader, err := observer.Leader(ctx)
		require.NoError(t, err)
		require.Equal(t, "worker-3", leader)

		require.NoError(t, holder.ReleaseLeadership(ctx))
		leader, err = observer.Leader(ctx)
		require.NoError(t, err)
		require.Empty(t, leader)
	})

	t.Run("foreign value", func(t *testing.T) {
		kv := electionKV(t, "election-leader-foreign")
		_, err := kv.Put(t.Context(), leaderKey, []byte("garbage"))
		require.NoError(t, err)

		_, err = NewNATSElection(kv, leaderKey).Leader(t.Context())
		require.ErrorIs(t, err, ErrInvalidLeaderData)
	})
}

func TestParseLeaderValue(t *testing.T) {
	at := time.Unix(1700000000, 0)

	id, ts, err := parseLeaderValue(encodeLeaderValue("svc:worker-1", at))
	require.NoError(t, err)
	require.Equal(t, "svc:worker-1", id)
	require.True(t, at.Equal(ts))

	for _, bad := range []string{"", "worker-1", ":123", "worker-1:abc"} {
		_, _, err := parseLeaderValue([]byte(bad))
		require.ErrorIs(t, err, ErrInvalidLeaderData, bad)
	}
}

func TestNATSElection_LeaseExpiry(t *testing.T) {
	ctx := t.Context()
	_, nc := shardertest.StartEmbeddedNATS(t)

	js, err := jetstream.New(nc)
	require.NoError(t, err)
	kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  "election-lease-expiry",
		TTL:     time.Second,
		Storage: jetstream.MemoryStorage,
	})
	require.NoError(t, err)

	mustLead(t, NewNATSElection(kv, leaderKey), "worker-1")

	// The holder never renews, so the key expires and the next candidate wins.
	successor := NewNATSElection(kv, leaderKey)
	require.Eventually(t, func() bool {
		won, err := successor.RequestLeadership(ctx, "worker-2")
		return err == nil && won
	}, 5*time.Second, 100*time.Millisecond)
}

func TestNATSElection_SingleWinner(t *testing.T) {
	ctx := t.Context()
	kv := electionKV(t, "election-single-winner")

	const candidates = 5
	type result struct {
		won bool
		err error
	}
	results := make(chan result, candidates)

	for i := range candidates {
		go func() {
			won, err := NewNATSElection(kv, leaderKey).RequestLeadership(ctx, fmt.Sprintf("worker-%d", i))
			results <- result{won: won, err: err}
		}()
	}

	winners := 0
	for range candidates {
		select {
		case r := <-results:
			require.NoError(t, r.err)
			if r.won {
				winners++
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for candidates")
		}
	}
	require.Equal(t, 1, winners)
}
