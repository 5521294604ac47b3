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
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Middleware wraps a handler to observe or transform records before they
// reach it. NewLogger applies middlewares supplied through WithMiddleware,
// first listed outermost.
type Middleware func(slog.Handler) slog.Handler

// groupedAttr pins a handler-bound attr to the groups that were open when
// it was added.
type groupedAttr struct {
	groups []string
	attr   slog.Attr
}

// Handler renders slog records as single-line JSON in the shape
//
//	{"level","time","logger","message","context","exception"}
//
// merging ambient tags from the context, converting error attrs into the
// exception field, and applying the size safeguards before writing.
type Handler struct {
	mu      *sync.Mutex
	out     io.Writer
	leveler slog.Leveler
	name    string

	budget           Budget
	msgPolicy        MessagePolicy
	fullMessageLevel *slog.Level
	stackEnabled     bool
	stackLevel       slog.Level
	shorten          StringTruncator
	internal         *slog.Logger

	attrs  []groupedAttr
	groups []string
}

var _ slog.Handler = (*Handler)(nil)

// New builds a Handler from the environment and the supplied options.
// Environment values come from the LOGGABLE_* settings; explicit options
// win over the environment. Invalid environment configuration is reported
// through the internal logger and replaced with defaults rather than
// failing construction.
func New(opts ...Option) *Handler {
	cfg, envErr := envSettings()

	o := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	internal := o.internalLogger
	if internal == nil {
		internal = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if envErr != nil {
		internal.Warn("invalid loggable environment configuration, using defaults",
			slog.Any("error", envErr))
	}

	if o.level != nil {
		cfg.level = *o.level
	}
	if o.maxMessageLength != nil {
		cfg.maxMessageLength = *o.maxMessageLength
	}
	if o.maxStringLength != nil {
		cfg.maxStringLength = *o.maxStringLength
	}
	if o.messageTruncateOver != nil {
		cfg.messageTruncateOver = *o.messageTruncateOver
	}
	if o.messageTruncationContext != nil {
		cfg.messageTruncationContext = *o.messageTruncationContext
	}
	if o.disableFullMessage {
		cfg.fullMessageLevel = nil
	} else if o.fullMessageLevel != nil {
		cfg.fullMessageLevel = o.fullMessageLevel
	}
	if o.stackTraceEnabled != nil {
		cfg.stackTraceEnabled = *o.stackTraceEnabled
	}
	if o.stackTraceLevel != nil {
		cfg.stackTraceLevel = *o.stackTraceLevel
	}

	leveler := o.leveler
	if leveler == nil {
		lv := new(slog.LevelVar)
		lv.Set(cfg.level)
		leveler = lv
	}

	out := o.writer
	if out == nil {
		out = os.Stderr
	}
	shorten := o.stringTruncator
	if shorten == nil {
		shorten = TruncateString
	}

	return &Handler{
		mu:               &sync.Mutex{},
		out:              out,
		leveler:          leveler,
		name:             o.loggerName,
		budget:           Budget{MaxMessageLength: cfg.maxMessageLength, MaxStringLength: cfg.maxStringLength},
		msgPolicy:        MessagePolicy{TruncateOver: cfg.messageTruncateOver, TruncationContext: cfg.messageTruncationContext},
		fullMessageLevel: cfg.fullMessageLevel,
		stackEnabled:     cfg.stackTraceEnabled,
		stackLevel:       cfg.stackTraceLevel,
		shorten:          shorten,
		internal:         internal,
	}
}

// NewLogger builds a slog.Logger around New, wrapped in any middlewares
// supplied through WithMiddleware.
func NewLogger(opts ...Option) *slog.Logger {
	o := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	var h slog.Handler = New(opts...)
	for i := len(o.middlewares) - 1; i >= 0; i-- {
		if mw := o.middlewares[i]; mw != nil {
			h = mw(h)
		}
	}
	return slog.New(h)
}

// Named returns a logger emitting under name. Loggers backed directly by a
// Handler are renamed in place; wrapped handlers get the reserved logger
// attr, which the handler lifts into the record's logger field.
func Named(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if h, ok := logger.Handler().(*Handler); ok {
		clone := h.clone()
		clone.name = name
		return slog.New(clone)
	}
	return logger.With(slog.String(LoggerKey, name))
}

// Level reports the current minimum level.
func (h *Handler) Level() slog.Level {
	return h.leveler.Level()
}

// SetLevel adjusts the minimum level at runtime. It only affects handlers
// that own their leveler; handlers built with WithLeveler are steered
// through the caller's leveler.
func (h *Handler) SetLevel(level slog.Level) {
	if lv, ok := h.leveler.(*slog.LevelVar); ok {
		lv.Set(level)
	}
}

// Enabled reports whether level is at or above the handler's minimum.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.leveler.Level()
}

// Handle assembles, bounds, and writes one record. Oversized serialized
// records are shrunk by the truncation walk; messages past the message
// policy's limit are middle-truncated, optionally followed by a secondary
// record carrying the full text.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if !h.Enabled(ctx, r.Level) {
		return nil
	}

	rec, fullMsg := h.assemble(ctx, r)

	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		buf.Reset()
		jsonBufferPool.Put(buf)
	}()

	if err := encodeRecord(buf, rec); err != nil {
		h.internal.Error("failed to encode log record", slog.Any("error", err))
		return err
	}
	if serializedLen(buf) > h.budget.MaxMessageLength {
		truncateContext(rec.Context, h.budget.MaxStringLength, h.shorten)
		if rec.Exception != nil {
			rec.Exception.Message = shortenString(rec.Exception.Message, h.budget.MaxStringLength, h.shorten)
			rec.Exception.StackTrace = elideStringFrames(rec.Exception.StackTrace, h.budget.MaxStringLength, h.shorten)
		}
		buf.Reset()
		if err := encodeRecord(buf, rec); err != nil {
			h.internal.Error("failed to encode truncated log record", slog.Any("error", err))
			return err
		}
	}

	h.mu.Lock()
	_, err := buf.WriteTo(h.out)
	h.mu.Unlock()
	if err != nil {
		h.internal.Error("failed to write log record", slog.Any("error", err))
		return err
	}

	if fullMsg != "" {
		return h.emitFullMessage(rec, fullMsg)
	}
	return nil
}

// assemble builds the wire record for r. The second return value is the
// untruncated message when the message policy fired and a secondary record
// should follow; otherwise it is empty.
func (h *Handler) assemble(ctx context.Context, r slog.Record) (*record, string) {
	b := newContextBuilder(int(r.NumAttrs()) + len(h.attrs) + 4)

	frames := tagFramesFromContext(ctx)
	for _, f := range frames {
		for _, label := range f.labels {
			b.positional = append(b.positional, label)
		}
	}
	if len(b.positional) > 0 {
		b.kv[TagsKey] = b.positional
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		b.kv[TraceIDKey] = sc.TraceID().String()
		b.kv[SpanIDKey] = sc.SpanID().String()
	}

	if st := stickyFromContext(ctx); st != nil {
		b.walkAttrs("", st.snapshot())
	}
	for _, f := range frames {
		b.walkAttrs("", f.attrs)
	}
	for _, ga := range h.attrs {
		b.walkAttr(joinGroups(ga.groups), ga.attr)
	}
	prefix := joinGroups(h.groups)
	r.Attrs(func(a slog.Attr) bool {
		b.walkAttr(prefix, a)
		return true
	})

	rec := &record{
		Level:   levelString(r.Level),
		Logger:  h.name,
		Message: r.Message,
	}
	if !r.Time.IsZero() {
		rec.Time = r.Time.UTC().Format(time.RFC3339Nano)
	}
	if b.loggerName != "" {
		rec.Logger = b.loggerName
	}

	if b.err != nil {
		ex := newException(b.err)
		if len(ex.StackTrace) == 0 && h.stackEnabled && r.Level >= h.stackLevel {
			ex.StackTrace = captureStackFrames()
		}
		rec.Exception = ex
	} else if h.stackEnabled && r.Level >= h.stackLevel {
		if fs := captureStackFrames(); len(fs) > 0 {
			b.kv[StackTraceKey] = fs
		}
	}

	var fullMsg string
	if h.msgPolicy.TruncateOver > 0 && len(rec.Message) > h.msgPolicy.TruncateOver {
		truncated := TruncateMiddle(rec.Message, h.msgPolicy.TruncateOver, h.msgPolicy.TruncationContext)
		if truncated != rec.Message {
			if h.fullMessageLevel != nil && h.Enabled(ctx, *h.fullMessageLevel) {
				fullMsg = rec.Message
			}
			rec.Message = truncated
		}
	}

	if len(b.kv) > 0 {
		rec.Context = b.kv
	}
	return rec, fullMsg
}

// emitFullMessage writes the secondary record carrying an untruncated
// message. It bypasses the size budget; recovering the full text is the
// record's entire point.
func (h *Handler) emitFullMessage(primary *record, msg string) error {
	sec := &record{
		Level:   levelString(*h.fullMessageLevel),
		Time:    primary.Time,
		Logger:  primary.Logger,
		Message: msg,
		Context: map[string]any{FullMessageKey: true},
	}
	for _, k := range []string{RequestIDKey, TraceIDKey} {
		if v, ok := primary.Context[k]; ok {
			sec.Context[k] = v
		}
	}

	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		buf.Reset()
		jsonBufferPool.Put(buf)
	}()

	if err := encodeRecord(buf, sec); err != nil {
		h.internal.Error("failed to encode full-message record", slog.Any("error", err))
		return err
	}
	h.mu.Lock()
	_, err := buf.WriteTo(h.out)
	h.mu.Unlock()
	if err != nil {
		h.internal.Error("failed to write full-message record", slog.Any("error", err))
	}
	return err
}

// WithAttrs returns a handler that includes attrs on every record, bound to
// the currently open groups.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := h.clone()
	gcopy := append([]string(nil), h.groups...)
	for _, a := range attrs {
		if a.Key == "" && a.Value.Any() == nil {
			continue
		}
		clone.attrs = append(clone.attrs, groupedAttr{groups: gcopy, attr: a})
	}
	return clone
}

// WithGroup nests subsequent attr keys under name, dotted.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := h.clone()
	clone.groups = append(clone.groups, name)
	return clone
}

func (h *Handler) clone() *Handler {
	return &Handler{
		mu:               h.mu,
		out:              h.out,
		leveler:          h.leveler,
		name:             h.name,
		budget:           h.budget,
		msgPolicy:        h.msgPolicy,
		fullMessageLevel: h.fullMessageLevel,
		stackEnabled:     h.stackEnabled,
		stackLevel:       h.stackLevel,
		shorten:          h.shorten,
		internal:         h.internal,
		attrs:            append([]groupedAttr(nil), h.attrs...),
		groups:           append([]string(nil), h.groups...),
	}
}
