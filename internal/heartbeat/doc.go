// Package heartbeat tracks worker liveness through NATS KV.
//
// Every worker runs a Publisher that refreshes its key at a fixed interval. The
// bucket TTL (about three intervals) expires the key of a worker that stops
// publishing, so the set of keys is the set of live workers. The leader reads
// that set with Live on every tick.
//
// # Key Format
//
//	{prefix}.{workerID}
//
// The value is a JSON Beat with a sequence number and timestamp:
//
//	{"worker_id":"worker-1","seq":42,"at":"2025-01-01T00:00:00Z"}
//
// # Lifecycle
//
//	publisher := heartbeat.New(kv, "hb", 2*time.Second)
//	publisher.SetWorkerID("worker-1")
//	if err := publisher.Start(ctx); err != nil {
//	    return err
//	}
//	defer publisher.Stop(ctx)
//
// Stop deletes the key so the worker leaves the live set at once instead of
// after the TTL.
package heartbeat
