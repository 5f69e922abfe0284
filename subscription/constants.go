package subscription

import "time"

// Default configuration values for ShardConsumer.
const (
	// DefaultBatchSize is the default number of messages to fetch per pull request.
	DefaultBatchSize = 1

	// DefaultMaxWaiting is the default maximum number of outstanding pull requests.
	DefaultMaxWaiting = 512

	// DefaultFetchTimeout is the default maximum duration to wait for messages.
	DefaultFetchTimeout = 5 * time.Second

	// DefaultMaxRetries is the default number of consumer creation retries.
	DefaultMaxRetries = 3

	// DefaultRetryBackoff is the base delay between consumer creation retries.
	DefaultRetryBackoff = 100 * time.Millisecond

	// DefaultRetryBackoffCap caps the jittered retry delay.
	DefaultRetryBackoffCap = 2 * time.Second

	// DefaultRetryMultiplier is the growth factor of the retry delay.
	DefaultRetryMultiplier = 2.0

	// DefaultAckWait is the default duration to wait for acknowledgment.
	DefaultAckWait = 30 * time.Second

	// DefaultMaxDeliver is the default maximum delivery attempts.
	DefaultMaxDeliver = 3

	// DefaultInactiveThreshold is the default inactive consumer cleanup threshold.
	DefaultInactiveThreshold = 24 * time.Hour
)
