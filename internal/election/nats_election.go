package election

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Common errors for election operations.
var (
	ErrNotLeader         = errors.New("not the leader")
	ErrLeadershipLost    = errors.New("leadership was lost")
	ErrEmptyWorkerID     = errors.New("worker ID must not be empty")
	ErrInvalidLeaderData = errors.New("invalid leader key value")
)

// Agent is a single campaign participant.
//
// NATSElection is the production implementation. Campaign drives any Agent.
type Agent interface {
	RequestLeadership(ctx context.Context, workerID string) (bool, error)
	RenewLeadership(ctx context.Context) error
	ReleaseLeadership(ctx context.Context) error
	Leader(ctx context.Context) (string, error)
}

// NATSElection implements leader election on a NATS KV bucket.
//
// A single key holds the current leader:
//   - Create (atomic): acquire leadership if the key does not exist
//   - Update (with revision): renew the lease while still holding it
//   - Delete: release leadership
//
// The key value is "<workerID>:<unix seconds of last renewal>". The bucket TTL
// is the lease: a leader that stops renewing loses the key when it expires.
//
// All fields are protected by mu for thread-safe concurrent access.
type NATSElection struct {
	kv       jetstream.KeyValue
	key      string
	mu       sync.RWMutex
	workerID string
	revision uint64
	isLeader bool
}

var _ Agent = (*NATSElection)(nil)

// NewNATSElection creates a new NATS KV-based election agent.
//
// The KV bucket should be configured with a TTL equal to the desired lease
// (Config.ElectionTTL) so a crashed leader is replaced automatically.
//
// Parameters:
//   - kv: JetStream KV bucket for election coordination
//   - key: Key name for the leadership claim (e.g., "leader")
//
// Returns:
//   - *NATSElection: New election agent instance
//
// Example:
//
//	kv, _ := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
//	    Bucket:  "sharder-election",
//	    TTL:     15 * time.Second,
//	    Storage: jetstream.MemoryStorage,
//	})
//	agent := election.NewNATSElection(kv, "leader")
func NewNATSElection(kv jetstream.KeyValue, key string) *NATSElection {
	return &NATSElection{kv: kv, key: key}
}

// RequestLeadership attempts to acquire or keep leadership.
//
// A current leader renews its lease instead. Losing a renewal falls through to
// a fresh acquisition attempt.
//
// Parameters:
//   - ctx: Context for timeout
//   - workerID: The worker ID requesting leadership
//
// Returns:
//   - bool: true if leadership is held after the call
//   - error: KV error or context cancellation
func (e *NATSElection) RequestLeadership(ctx context.Context, workerID string) (bool, error) {
	if workerID == "" {
		return false, ErrEmptyWorkerID
	}

	isLeader, currentWorkerID, _ := e.getLeaderState()
	if isLeader && currentWorkerID == workerID {
		if err := e.RenewLeadership(ctx); err == nil {
			return true, nil
		}
	}

	revision, err := e.kv.Create(ctx, e.key, encodeLeaderValue(workerID, time.Now()))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return false, nil
		}

		return false, fmt.Errorf("failed to create leader key: %w", err)
	}

	e.setLeaderState(true, workerID, revision)

	return true, nil
}

// RenewLeadership renews the current leadership lease.
//
// Update with our revision fails if the key expired or another worker claimed it.
//
// Returns:
//   - error: ErrNotLeader if not the leader, ErrLeadershipLost if lost, nil on success
func (e *NATSElection) RenewLeadership(ctx context.Context) error {
	isLeader, workerID, revision := e.getLeaderState()
	if !isLeader {
		return ErrNotLeader
	}

	newRevision, err := e.kv.Update(ctx, e.key, encodeLeaderValue(workerID, time.Now()), revision)
	if err != nil {
		e.clearLeadership()

		return fmt.Errorf("%w: %w", ErrLeadershipLost, err)
	}

	e.mu.Lock()
	e.revision = newRevision
	e.mu.Unlock()

	return nil
}

// ReleaseLeadership deletes the leader key so another worker can take over immediately.
//
// Returns:
//   - error: ErrNotLeader if not the leader, or the KV delete error
func (e *NATSElection) ReleaseLeadership(ctx context.Context) error {
	isLeader, _, revision := e.getLeaderState()
	if !isLeader {
		return ErrNotLeader
	}

	// Only delete the key we wrote; a successor's key has a newer revision.
	err := e.kv.Delete(ctx, e.key, jetstream.LastRevision(revision))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) && !isWrongSequence(err) {
		return fmt.Errorf("failed to delete leader key: %w", err)
	}

	e.setLeaderState(false, "", 0)

	return nil
}

// IsLeader verifies leadership against the KV bucket.
//
// Returns:
//   - bool: true if the key still carries our revision
//   - error: KV error or context cancellation
func (e *NATSElection) IsLeader(ctx context.Context) (bool, error) {
	isLeader, _, revision := e.getLeaderState()
	if !isLeader {
		return false, nil
	}

	entry, err := e.kv.Get(ctx, e.key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			e.clearLeadership()

			return false, nil
		}

		return false, fmt.Errorf("failed to get leader key: %w", err)
	}

	if entry.Revision() != revision {
		e.clearLeadership()

		return false, nil
	}

	return true, nil
}

// Leader returns the worker ID currently holding the leader key.
//
// Returns:
//   - string: Leader worker ID, empty when there is no leader
//   - error: KV error or ErrInvalidLeaderData
func (e *NATSElection) Leader(ctx context.Context) (string, error) {
	entry, err := e.kv.Get(ctx, e.key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return "", nil
		}

		return "", fmt.Errorf("failed to get leader key: %w", err)
	}

	workerID, _, err := parseLeaderValue(entry.Value())
	if err != nil {
		return "", err
	}

	return workerID, nil
}

// WorkerID returns the worker ID this agent holds leadership for, or empty.
func (e *NATSElection) WorkerID() string {
	_, workerID, _ := e.getLeaderState()
	return workerID
}

func (e *NATSElection) getLeaderState() (isLeader bool, workerID string, revision uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.isLeader, e.workerID, e.revision
}

func (e *NATSElection) setLeaderState(isLeader bool, workerID string, revision uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.isLeader = isLeader
	e.workerID = workerID
	e.revision = revision
}

func (e *NATSElection) clearLeadership() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.isLeader = false
}

func encodeLeaderValue(workerID string, at time.Time) []byte {
	return fmt.Appendf(nil, "%s:%d", workerID, at.Unix())
}

// parseLeaderValue splits "<workerID>:<unix>" at the last colon.
func parseLeaderValue(value []byte) (string, time.Time, error) {
	idx := bytes.LastIndexByte(value, ':')
	if idx <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: %q", ErrInvalidLeaderData, value)
	}

	sec, err := strconv.ParseInt(string(value[idx+1:]), 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %q", ErrInvalidLeaderData, value)
	}

	return string(value[:idx]), time.Unix(sec, 0), nil
}

func isWrongSequence(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}

	return false
}
