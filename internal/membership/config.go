package membership

import (
	"errors"
	"time"
)

// Defaults applied by SetDefaults.
const (
	DefaultHeartbeatPrefix = "hb"
	DefaultLeaderKey       = "leader"
	DefaultSubject         = "sharder.assignment"
	DefaultBufferSize      = 64
)

// Config holds NATS membership configuration.
type Config struct {
	// Stable worker ID pool
	WorkerIDPrefix string
	WorkerIDMin    int
	WorkerIDMax    int
	WorkerIDTTL    time.Duration

	// Liveness and election
	HeartbeatInterval time.Duration
	HeartbeatTTL      time.Duration
	HeartbeatPrefix   string
	ElectionTTL       time.Duration
	LeaderKey         string

	// Broadcast
	Subject    string // Core NATS subject the assignment is published on
	BufferSize int    // Capacity of the Events channel

	// KV bucket names
	StableIDBucket  string
	ElectionBucket  string
	HeartbeatBucket string

	OperationTimeout time.Duration
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.WorkerIDPrefix == "" {
		return errors.New("the WorkerIDPrefix is required")
	}
	if c.WorkerIDMin < 0 || c.WorkerIDMax < c.WorkerIDMin {
		return errors.New("the worker ID range is invalid")
	}
	if c.WorkerIDTTL <= 0 || c.HeartbeatInterval <= 0 || c.HeartbeatTTL <= 0 || c.ElectionTTL <= 0 {
		return errors.New("the TTLs and HeartbeatInterval must be positive")
	}
	if c.HeartbeatTTL <= c.HeartbeatInterval {
		return errors.New("the HeartbeatTTL must exceed HeartbeatInterval")
	}
	if c.StableIDBucket == "" || c.ElectionBucket == "" || c.HeartbeatBucket == "" {
		return errors.New("all KV bucket names are required")
	}

	return nil
}

// SetDefaults fills zero-valued optional fields.
func (c *Config) SetDefaults() {
	if c.HeartbeatPrefix == "" {
		c.HeartbeatPrefix = DefaultHeartbeatPrefix
	}
	if c.LeaderKey == "" {
		c.LeaderKey = DefaultLeaderKey
	}
	if c.Subject == "" {
		c.Subject = DefaultSubject
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 10 * time.Second
	}
}
