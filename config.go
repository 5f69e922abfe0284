package sharder

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/sharder/internal/membership"
)

// BroadcastConfig configures how assignment snapshots travel between workers.
type BroadcastConfig struct {
	// Subject is the core NATS subject the leader publishes snapshots on.
	Subject string `yaml:"subject"`

	// BufferSize is the capacity of the membership event queue.
	BufferSize int `yaml:"bufferSize"`
}

// KVBucketConfig configures NATS JetStream KV bucket names.
type KVBucketConfig struct {
	// StableIDBucket is the bucket name for stable worker ID claims.
	StableIDBucket string `yaml:"stableIdBucket"`

	// ElectionBucket is the bucket name for the leader lease.
	ElectionBucket string `yaml:"electionBucket"`

	// HeartbeatBucket is the bucket name for worker heartbeats.
	HeartbeatBucket string `yaml:"heartbeatBucket"`
}

// Config is the configuration for the Manager.
//
// All duration fields accept standard Go duration strings like "30s", "5m", "1h".
type Config struct {
	// WorkerIDPrefix is the prefix for worker IDs (e.g., "worker" produces "worker-0", "worker-1").
	WorkerIDPrefix string `yaml:"workerIdPrefix"`

	// WorkerIDMin is the minimum stable ID number (inclusive).
	WorkerIDMin int `yaml:"workerIdMin"`

	// WorkerIDMax is the maximum stable ID number (inclusive).
	// Determines the maximum number of concurrent workers: (WorkerIDMax - WorkerIDMin + 1).
	WorkerIDMax int `yaml:"workerIdMax"`

	// WorkerIDTTL is how long a worker ID claim remains valid in the key-value store.
	// The claim is renewed every WorkerIDTTL/3.
	WorkerIDTTL time.Duration `yaml:"workerIdTtl"`

	// HeartbeatInterval is how often workers publish heartbeats.
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`

	// HeartbeatTTL is how long a heartbeat keeps a worker alive.
	// A worker that misses heartbeats for this long drops out of the next tick.
	HeartbeatTTL time.Duration `yaml:"heartbeatTtl"`

	// ElectionTTL is the leader lease duration. The holder renews it every ElectionTTL/3;
	// when it stops renewing, another worker takes over within about one ElectionTTL.
	ElectionTTL time.Duration `yaml:"electionTtl"`

	// TickInterval is the period of the leader's rebalance loop.
	TickInterval time.Duration `yaml:"tickInterval"`

	// OperationTimeout bounds every KV operation, broadcast, and managed client Start/Stop.
	OperationTimeout time.Duration `yaml:"operationTimeout"`

	// ShutdownTimeout bounds Stop when the caller's context has no deadline.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// LeaderAsWorker makes the leader own shards too. By default the leader only coordinates.
	LeaderAsWorker bool `yaml:"leaderAsWorker"`

	// VerifyAssignments checks coverage, uniqueness, and balance after every tick.
	// A failed check aborts the tick instead of broadcasting.
	VerifyAssignments bool `yaml:"verifyAssignments"`

	// Broadcast controls the snapshot transport.
	Broadcast BroadcastConfig `yaml:"broadcast"`

	// KVBuckets controls NATS JetStream KV bucket configuration.
	KVBuckets KVBucketConfig `yaml:"kvBuckets"`
}

// DefaultConfig returns a Config with sensible defaults.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		WorkerIDPrefix:    "worker",
		WorkerIDMin:       0,
		WorkerIDMax:       99,
		WorkerIDTTL:       30 * time.Second,
		HeartbeatInterval: 2 * time.Second,
		HeartbeatTTL:      6 * time.Second,
		ElectionTTL:       6 * time.Second,
		TickInterval:      time.Second,
		OperationTimeout:  10 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		Broadcast: BroadcastConfig{
			Subject:    membership.DefaultSubject,
			BufferSize: membership.DefaultBufferSize,
		},
		KVBuckets: KVBucketConfig{
			StableIDBucket:  "sharder-stableid",
			ElectionBucket:  "sharder-election",
			HeartbeatBucket: "sharder-heartbeat",
		},
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Boolean fields are left untouched.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.WorkerIDPrefix == "" {
		cfg.WorkerIDPrefix = defaults.WorkerIDPrefix
	}
	if cfg.WorkerIDMax == 0 {
		cfg.WorkerIDMax = defaults.WorkerIDMax
	}
	if cfg.WorkerIDTTL == 0 {
		cfg.WorkerIDTTL = defaults.WorkerIDTTL
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.HeartbeatTTL == 0 {
		cfg.HeartbeatTTL = defaults.HeartbeatTTL
	}
	if cfg.ElectionTTL == 0 {
		cfg.ElectionTTL = defaults.ElectionTTL
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = defaults.TickInterval
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.Broadcast.Subject == "" {
		cfg.Broadcast.Subject = defaults.Broadcast.Subject
	}
	if cfg.Broadcast.BufferSize == 0 {
		cfg.Broadcast.BufferSize = defaults.Broadcast.BufferSize
	}
	if cfg.KVBuckets.StableIDBucket == "" {
		cfg.KVBuckets.StableIDBucket = defaults.KVBuckets.StableIDBucket
	}
	if cfg.KVBuckets.ElectionBucket == "" {
		cfg.KVBuckets.ElectionBucket = defaults.KVBuckets.ElectionBucket
	}
	if cfg.KVBuckets.HeartbeatBucket == "" {
		cfg.KVBuckets.HeartbeatBucket = defaults.KVBuckets.HeartbeatBucket
	}
}

// Validate checks configuration constraints and returns error for invalid values.
//
// Hard Validation Rules:
//   - 0 <= WorkerIDMin <= WorkerIDMax
//   - HeartbeatTTL >= 2 * HeartbeatInterval (allow 1 missed heartbeat)
//   - WorkerIDTTL >= 3 * HeartbeatInterval (stable ID renewal)
//   - WorkerIDTTL >= HeartbeatTTL (ID must outlive heartbeat)
//   - ElectionTTL, TickInterval, OperationTimeout > 0
//   - Broadcast.Subject and Broadcast.BufferSize set
//
// Returns:
//   - error: Validation error with clear explanation, nil if valid
func (cfg *Config) Validate() error {
	if cfg.WorkerIDMin < 0 || cfg.WorkerIDMax < cfg.WorkerIDMin {
		return fmt.Errorf("worker ID range [%d, %d] is invalid", cfg.WorkerIDMin, cfg.WorkerIDMax)
	}

	if cfg.HeartbeatTTL < 2*cfg.HeartbeatInterval {
		return fmt.Errorf(
			"HeartbeatTTL (%v) must be >= 2*HeartbeatInterval (%v) to allow one missed heartbeat",
			cfg.HeartbeatTTL, cfg.HeartbeatInterval,
		)
	}

	if cfg.WorkerIDTTL < 3*cfg.HeartbeatInterval {
		return fmt.Errorf(
			"WorkerIDTTL (%v) must be >= 3*HeartbeatInterval (%v) for stable ID renewal",
			cfg.WorkerIDTTL, cfg.HeartbeatInterval,
		)
	}

	if cfg.WorkerIDTTL < cfg.HeartbeatTTL {
		return fmt.Errorf(
			"WorkerIDTTL (%v) must be >= HeartbeatTTL (%v) to prevent ID expiry before heartbeat",
			cfg.WorkerIDTTL, cfg.HeartbeatTTL,
		)
	}

	if cfg.ElectionTTL <= 0 {
		return fmt.Errorf("ElectionTTL must be > 0, got %v", cfg.ElectionTTL)
	}
	if cfg.TickInterval <= 0 {
		return fmt.Errorf("TickInterval must be > 0, got %v", cfg.TickInterval)
	}
	if cfg.OperationTimeout <= 0 {
		return fmt.Errorf("OperationTimeout must be > 0, got %v", cfg.OperationTimeout)
	}

	if cfg.Broadcast.Subject == "" {
		return errors.New("Broadcast.Subject is required")
	}
	if cfg.Broadcast.BufferSize <= 0 {
		return fmt.Errorf("Broadcast.BufferSize must be > 0, got %d", cfg.Broadcast.BufferSize)
	}

	return nil
}

// ValidateWithWarnings logs warnings for legal but non-recommended values.
//
// This is called after Validate() in NewManager() to provide operator guidance.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if cfg.ElectionTTL < cfg.HeartbeatTTL {
		logger.Warn(
			"ElectionTTL is shorter than HeartbeatTTL, a slow leader may flap before it is declared dead",
			"electionTTL", cfg.ElectionTTL,
			"heartbeatTTL", cfg.HeartbeatTTL,
		)
	}

	if cfg.TickInterval > cfg.HeartbeatTTL {
		logger.Warn(
			"TickInterval exceeds HeartbeatTTL, failed workers keep their shards for more than one tick",
			"tickInterval", cfg.TickInterval,
			"heartbeatTTL", cfg.HeartbeatTTL,
		)
	}
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Timings are 10-20x faster than production defaults and VerifyAssignments is
// enabled. Use DefaultConfig() for production deployments.
//
// Returns:
//   - Config: Configuration with fast timings for tests
//
// Example:
//
//	cfg := sharder.TestConfig()
//	cfg.WorkerIDPrefix = "test-worker"
//	mgr, err := sharder.NewManager(&cfg, nc, source.NewStatic(8), factory)
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.WorkerIDTTL = 3 * time.Second
	cfg.HeartbeatInterval = 200 * time.Millisecond
	cfg.HeartbeatTTL = time.Second
	cfg.ElectionTTL = time.Second
	cfg.TickInterval = 100 * time.Millisecond
	cfg.OperationTimeout = 2 * time.Second
	cfg.ShutdownTimeout = 5 * time.Second
	cfg.VerifyAssignments = true

	return cfg
}

// LoadConfig reads a YAML configuration file, fills defaults, and validates it.
//
// Parameters:
//   - path: Path to the YAML file
//
// Returns:
//   - Config: The loaded configuration
//   - error: Read, parse, or validation error
//
// Example:
//
//	cfg, err := sharder.LoadConfig("sharder.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	SetDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return cfg, nil
}

// membershipConfig maps the manager configuration onto the NATS membership.
func (cfg *Config) membershipConfig() membership.Config {
	return membership.Config{
		WorkerIDPrefix:    cfg.WorkerIDPrefix,
		WorkerIDMin:       cfg.WorkerIDMin,
		WorkerIDMax:       cfg.WorkerIDMax,
		WorkerIDTTL:       cfg.WorkerIDTTL,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTTL:      cfg.HeartbeatTTL,
		ElectionTTL:       cfg.ElectionTTL,
		Subject:           cfg.Broadcast.Subject,
		BufferSize:        cfg.Broadcast.BufferSize,
		StableIDBucket:    cfg.KVBuckets.StableIDBucket,
		ElectionBucket:    cfg.KVBuckets.ElectionBucket,
		HeartbeatBucket:   cfg.KVBuckets.HeartbeatBucket,
		OperationTimeout:  cfg.OperationTimeout,
	}
}
