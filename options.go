package personsearch

import "log/slog"

// Defaults shared by every dataset.
const (
	DefaultEmbeddingDim = 256
	DefaultMomentum     = 0.5
)

type options struct {
	embeddingDim     int
	momentum         float32
	numIdentities    int
	queueSize        int
	seed             int64
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures Network construction.
type Option func(*options)

// WithEmbeddingDim overrides the identity embedding width.
func WithEmbeddingDim(dim int) Option {
	return func(o *options) {
		o.embeddingDim = dim
	}
}

// WithMomentum overrides the bank's EMA momentum.
//
// Momentum weighs the OLD table entry: 0.5 is the shipping default, 1
// freezes the table entirely.
func WithMomentum(m float32) Option {
	return func(o *options) {
		o.momentum = m
	}
}

// WithBankShape overrides the dataset-derived bank shape. Useful for
// tests and for corpora not in the dataset registry.
func WithBankShape(numIdentities, queueSize int) Option {
	return func(o *options) {
		o.numIdentities = numIdentities
		o.queueSize = queueSize
	}
}

// WithSeed sets the RNG seed used for head weight initialization.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		embeddingDim:     DefaultEmbeddingDim,
		momentum:         DefaultMomentum,
		seed:             1,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
