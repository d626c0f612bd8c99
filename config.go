package ace

// Package defaults. Each is overridable per-component via builder methods.
var (
	// DefaultMaxRetries bounds the engine's attempt/grade/retry cycle.
	DefaultMaxRetries = 3

	// DefaultMaxContextItems caps the curator's persisted store; the oldest
	// items are dropped once the cap is exceeded.
	DefaultMaxContextItems = 50

	// DefaultHistoryLimit caps the bus message history (FIFO eviction).
	DefaultHistoryLimit = 1000

	// DefaultMaxMetrics caps each step's metric buffer and the shared error
	// buffer in the monitor.
	DefaultMaxMetrics = 10000

	// DefaultQualityThreshold is the minimum verdict score to pass the gate.
	DefaultQualityThreshold = 0.6

	// PatternScoreThreshold is the minimum reflected quality score at which
	// the curator promotes extracted patterns into the store.
	PatternScoreThreshold = 0.7
)
