// Package sharder assigns a fixed space of integer shards across a dynamic set
// of worker processes coordinated through NATS.
//
// One worker is elected leader. Every tick it lists the live workers, reads the
// target shard count, rebalances the shard space with as few moves as
// possible, and broadcasts the complete assignment as a JSON object
// ({"worker-0": [0, 3], "worker-1": [1, 2]}). Every worker applies the
// broadcasts it receives and restarts its managed client only when its own
// shard set or the total shard count changed.
//
// # Quick Start
//
//	import (
//	    "github.com/arloliu/sharder"
//	    "github.com/arloliu/sharder/source"
//	    "github.com/arloliu/sharder/subscription"
//	)
//
//	cfg := sharder.DefaultConfig()
//	factory, _ := subscription.NewFactoryFromConn(nc, subscription.ConsumerConfig{
//	    StreamName:      "orders",
//	    ConsumerPrefix:  "order-worker",
//	    SubjectTemplate: "orders.{{.Shard}}",
//	}, handler)
//
//	mgr, err := sharder.NewManager(&cfg, nc, source.NewStatic(64), factory)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := mgr.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Stop(context.Background())
//
// # Guarantees
//
// After every tick with at least one live worker:
//
//   - Coverage: every shard in [0, N) is owned by some worker
//   - Uniqueness: no shard is owned by two workers
//   - Balance: every worker owns floor(N/W) or floor(N/W)+1 shards
//   - Stickiness: a surviving worker keeps the shards it had, minus balancing moves
//
// # Roles
//
// A Manager moves through a small state machine:
//
//	Init → Follower ⇄ Leader → Stopped
//
// Winning the election stops the local managed client and starts the leader
// loop; losing it stops the loop. By default the leader only coordinates; set
// Config.LeaderAsWorker to let it own shards too.
//
// # Membership
//
// The built-in membership uses JetStream KV for stable worker IDs, heartbeats,
// and the leader lease, and a core NATS subject for broadcasts. Tests can swap
// it for the in-memory cluster in the testing package with WithMembership.
package sharder
