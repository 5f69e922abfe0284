package subscription

import (
	"fmt"
	"text/template"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/sharder/internal/logging"
	"github.com/arloliu/sharder/types"
)

// ConsumerConfig configures the shard consumers built by a Factory.
//
// Required fields:
//   - StreamName
//   - ConsumerPrefix
//   - SubjectTemplate (template context has a single field, Shard)
//
// Zero values of the optional fields are replaced by the defaults in constants.go.
type ConsumerConfig struct {
	StreamName      string
	ConsumerPrefix  string
	SubjectTemplate string

	AckPolicy         jetstream.AckPolicy
	AckWait           time.Duration
	MaxDeliver        int
	InactiveThreshold time.Duration

	BatchSize    int
	MaxWaiting   int
	FetchTimeout time.Duration

	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffCap time.Duration
	RetryMultiplier float64
	// RetrySeed makes the retry jitter deterministic when non-zero.
	RetrySeed int64

	Logger types.Logger
}

// validate checks required fields and parses the subject template.
func (cfg *ConsumerConfig) validate() (*template.Template, error) {
	if cfg.StreamName == "" {
		return nil, ErrStreamNameRequired
	}
	if cfg.ConsumerPrefix == "" {
		return nil, ErrConsumerPrefixRequired
	}
	if cfg.SubjectTemplate == "" {
		return nil, ErrSubjectTemplateRequired
	}

	tmpl, err := template.New("subject").Option("missingkey=error").Parse(cfg.SubjectTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid subject template: %w", err)
	}

	return tmpl, nil
}

// applyDefaults fills unset optional fields.
func (cfg *ConsumerConfig) applyDefaults() {
	if cfg.AckPolicy == 0 {
		cfg.AckPolicy = jetstream.AckExplicitPolicy
	}
	if cfg.AckWait == 0 {
		cfg.AckWait = DefaultAckWait
	}
	if cfg.MaxDeliver == 0 {
		cfg.MaxDeliver = DefaultMaxDeliver
	}
	if cfg.InactiveThreshold == 0 {
		cfg.InactiveThreshold = DefaultInactiveThreshold
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxWaiting == 0 {
		cfg.MaxWaiting = DefaultMaxWaiting
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.RetryBackoffCap == 0 {
		cfg.RetryBackoffCap = DefaultRetryBackoffCap
	}
	if cfg.RetryMultiplier == 0 {
		cfg.RetryMultiplier = DefaultRetryMultiplier
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
}
