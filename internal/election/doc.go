// Package election provides leader election on a NATS KV bucket.
//
// Exactly one worker holds the leader key at a time. The leader computes and
// broadcasts shard assignments; everyone else follows.
//
// # NATS KV Election
//
// NATSElection uses one key per election:
//   - Create (atomic): acquire leadership if the key doesn't exist
//   - Update (with revision): renew the lease while still holding it
//   - Delete (with revision): release without clobbering a successor
//
// The bucket TTL is the lease. A leader that stops renewing loses the key when
// it expires and another worker acquires it on its next attempt.
//
// # Campaign
//
// Campaign drives an Agent in a loop and reports transitions:
//
//	c := &election.Campaign{
//	    Agent:    election.NewNATSElection(kv, "leader"),
//	    WorkerID: workerID,
//	    Interval: electionTTL / 3,
//	    OnChange: func(isLeader bool) { events <- isLeader },
//	}
//	go c.Run(ctx)
//
// The recommended interval is a third of the TTL, so two renewals can be lost
// before the lease expires.
//
// # Error Handling
//
// Common errors:
//   - ErrNotLeader: the operation requires leadership
//   - ErrLeadershipLost: another worker took over or the lease expired
//   - ErrEmptyWorkerID: RequestLeadership was called without an ID
//   - ErrInvalidLeaderData: the leader key holds something this package did not write
package election
