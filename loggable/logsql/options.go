package logsql

import "log/slog"

// Option configures statement logging.
type Option func(*config)

type config struct {
	logger *slog.Logger
	level  slog.Level
}

func defaultConfig() *config {
	return &config{level: slog.LevelDebug}
}

func applyOptions(opts []Option) *config {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg
}

// WithLogger sets the fallback logger for statements whose context does not
// carry one. When nil, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithLevel sets the level successful statements log at. Failed statements
// always log at Error. The default is Debug.
func WithLevel(level slog.Level) Option {
	return func(cfg *config) {
		cfg.level = level
	}
}
