// Package testing provides test utilities for the sharder library.
//
// It follows Go's convention of shipping testing helpers in a dedicated
// package (similar to net/http/httptest).
//
// Key utilities:
//   - StartEmbeddedNATS: Single NATS server with JetStream
//   - CreateJetStreamKV, CreateStream: KV bucket and stream setup
//   - NewCluster: In-memory membership for multi-worker tests without NATS
//   - NewTestLogger: Logger that writes through t.Logf
//
// Example usage:
//
//	import (
//	    "testing"
//	    shardertest "github.com/arloliu/sharder/testing"
//	)
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := shardertest.StartEmbeddedNATS(t)
//	    // Use nc for your tests
//	}
package testing
