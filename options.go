package sharder

// Option configures a Manager with optional dependencies.
type Option func(*managerOptions)

// managerOptions holds optional Manager configuration.
type managerOptions struct {
	membership Membership
	hooks      *Hooks
	metrics    MetricsCollector
	logger     Logger
}

// WithMembership replaces the built-in NATS membership.
//
// When set, NewManager accepts a nil NATS connection. Tests use it with the
// in-memory cluster from the testing package.
//
// Parameters:
//   - m: Membership implementation
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	cluster := shardertest.NewCluster()
//	mgr, _ := sharder.NewManager(&cfg, nil, src, factory, sharder.WithMembership(cluster.NewMember("a")))
func WithMembership(m Membership) Option {
	return func(o *managerOptions) {
		o.membership = m
	}
}

// WithHooks sets lifecycle event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions; nil callbacks are ignored
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	hooks := &sharder.Hooks{
//	    OnShardsChanged: func(ctx context.Context, shards []sharder.ShardID, total int) error {
//	        log.Printf("serving %v of %d", shards, total)
//	        return nil
//	    },
//	}
//	mgr, _ := sharder.NewManager(&cfg, conn, src, factory, sharder.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *managerOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	mgr, _ := sharder.NewManager(&cfg, conn, src, factory,
//	    sharder.WithMetrics(sharder.NewPrometheusMetrics(prometheus.DefaultRegisterer, "")))
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *managerOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	mgr, _ := sharder.NewManager(&cfg, conn, src, factory, sharder.WithLogger(sharder.NewSlogLogger(slog.Default())))
func WithLogger(logger Logger) Option {
	return func(o *managerOptions) {
		o.logger = logger
	}
}
