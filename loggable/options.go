// Copyright 2025 Lithic Technology
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package loggable

import (
	"io"
	"log/slog"
)

// Option configures a Handler during construction via New. Options apply
// after environment resolution, so an explicit option always overrides the
// corresponding LOGGABLE_* environment variable.
//
// Fields in the backing struct are pointers so an explicitly set zero value
// is distinguishable from an unset option.
type Option func(*options)

type options struct {
	writer                   io.Writer
	level                    *slog.Level
	leveler                  slog.Leveler
	loggerName               string
	maxMessageLength         *int
	maxStringLength          *int
	messageTruncateOver      *int
	messageTruncationContext *int
	fullMessageLevel         *slog.Level
	disableFullMessage       bool
	stackTraceEnabled        *bool
	stackTraceLevel          *slog.Level
	stringTruncator          StringTruncator
	middlewares              []Middleware
	internalLogger           *slog.Logger
}

// WithWriter sets the destination for serialized records. Defaults to
// os.Stderr.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

// WithLevel sets the minimum level, overriding LOGGABLE_LEVEL and
// LOG_LEVEL. The handler wraps it in a slog.LevelVar so SetLevel can adjust
// it at runtime.
func WithLevel(level slog.Level) Option {
	return func(o *options) {
		lvl := level
		o.level = &lvl
	}
}

// WithLeveler installs a caller-owned leveler, for callers that share one
// slog.LevelVar across several handlers. It takes precedence over
// WithLevel.
func WithLeveler(l slog.Leveler) Option {
	return func(o *options) {
		o.leveler = l
	}
}

// WithLoggerName sets the record's logger field. Named derives renamed
// loggers from an existing one.
func WithLoggerName(name string) Option {
	return func(o *options) {
		o.loggerName = name
	}
}

// WithBudget overrides the serialized-size budget from the environment.
func WithBudget(b Budget) Option {
	return func(o *options) {
		if b.MaxMessageLength > 0 {
			n := b.MaxMessageLength
			o.maxMessageLength = &n
		}
		if b.MaxStringLength > 0 {
			n := b.MaxStringLength
			o.maxStringLength = &n
		}
	}
}

// WithMessagePolicy overrides the message-length policy from the
// environment.
func WithMessagePolicy(p MessagePolicy) Option {
	return func(o *options) {
		if p.TruncateOver > 0 {
			n := p.TruncateOver
			o.messageTruncateOver = &n
		}
		if p.TruncationContext >= 0 {
			n := p.TruncationContext
			o.messageTruncationContext = &n
		}
	}
}

// WithFullMessageRecords enables emitting a second record carrying the full
// text whenever the message policy truncates a message. The secondary
// record is emitted at level, conventionally below the primary record's.
func WithFullMessageRecords(level slog.Level) Option {
	return func(o *options) {
		lvl := level
		o.fullMessageLevel = &lvl
		o.disableFullMessage = false
	}
}

// WithoutFullMessageRecords disables secondary full-message records even
// when LOGGABLE_FULL_MESSAGE_LEVEL is set.
func WithoutFullMessageRecords() Option {
	return func(o *options) {
		o.fullMessageLevel = nil
		o.disableFullMessage = true
	}
}

// WithStackTraceEnabled enables or disables ambient stack capture for
// records at or above the stack trace level, overriding
// LOGGABLE_STACK_TRACE_ENABLED.
func WithStackTraceEnabled(enabled bool) Option {
	return func(o *options) {
		e := enabled
		o.stackTraceEnabled = &e
	}
}

// WithStackTraceLevel sets the minimum level that triggers ambient stack
// capture, overriding LOGGABLE_STACK_TRACE_LEVEL. Defaults to LevelError.
func WithStackTraceLevel(level slog.Level) Option {
	return func(o *options) {
		lvl := level
		o.stackTraceLevel = &lvl
	}
}

// WithStringTruncator replaces the default shorten policy applied to
// over-long context strings during budget truncation.
func WithStringTruncator(fn StringTruncator) Option {
	return func(o *options) {
		o.stringTruncator = fn
	}
}

// WithMiddleware wraps the handler with middlewares when constructing a
// logger through NewLogger. The first middleware listed becomes the
// outermost wrapper.
func WithMiddleware(mws ...Middleware) Option {
	return func(o *options) {
		o.middlewares = append(o.middlewares, mws...)
	}
}

// WithInternalLogger sets the logger used for the handler's own
// diagnostics, such as environment parse warnings and write failures. It
// must not share this handler, or diagnostics would recurse.
func WithInternalLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.internalLogger = l
	}
}
