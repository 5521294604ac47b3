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

// Package loghttp instruments HTTP servers and clients with request-scoped
// loggers and per-request completion records.
//
// The middleware assigns each request an ID, derives a logger carrying it,
// installs a sticky-tag container for SetRequestTags, and emits one record
// when the request completes with duration, status, and size fields.
package loghttp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/lithictech/appydays/loggable"
)

const instrumentationName = "github.com/lithictech/appydays/loggable/loghttp"

const defaultRequestIDHeader = "X-Request-Id"

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"
)

const requestFinishedMessage = "request_finished"

// Middleware returns an http.Handler middleware that derives a
// request-scoped logger, extracts trace context, echoes a request ID, and
// logs one completion record per request. Requests with a 5xx response log
// at Error, 4xx at Warn, everything else at Info. A panicking handler still
// gets its completion record, then the panic resumes so the server's own
// recovery applies.
func Middleware(opts ...Option) func(http.Handler) http.Handler {
	cfg := applyOptions(opts)

	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.NotFoundHandler()
		}

		loggingHandler := buildLoggingHandler(cfg, next)
		handlerChain := wrapWithOTel(cfg, loggingHandler)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if newCtx, _ := ensureSpanContext(ctx, r, cfg); newCtx != ctx {
				r = r.WithContext(newCtx)
			}
			handlerChain.ServeHTTP(w, r)
		})
	}
}

// buildLoggingHandler constructs the logging middleware around the next
// handler.
func buildLoggingHandler(cfg *config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		scope := newRequestScope(r, start, cfg)
		scope.requestID = requestID(r, cfg)
		w.Header().Set(cfg.requestIDHeader, scope.requestID)

		attrs := buildRequestAttributes(cfg, r, scope)
		requestLogger := loggerWithAttrs(cfg.logger, attrs)

		// Each request is its own unit of work: a fresh sticky container
		// guarantees tags from a previous request cannot leak in.
		ctx := loggable.ContextWithStickyTags(r.Context())
		ctx = loggable.ContextWithLogger(ctx, requestLogger)
		ctx = loggable.Tagged(ctx, slog.String(loggable.RequestIDKey, scope.requestID))
		ctx = context.WithValue(ctx, requestScopeKey{}, scope)
		r = r.WithContext(ctx)

		wrapped, recorder := wrapResponseWriter(w, scope)
		defer func() {
			p := recover()
			status := recorder.Status()
			if p != nil && !recorder.wroteHeader {
				status = http.StatusInternalServerError
			}
			scope.finalize(status, recorder.BytesWritten(), time.Since(start))
			logCompletion(ctx, cfg, requestLogger, scope, p)
			if p != nil {
				panic(p)
			}
		}()

		next.ServeHTTP(wrapped, r)
	})
}

// logCompletion emits the single per-request record.
func logCompletion(ctx context.Context, cfg *config, logger *slog.Logger, scope *RequestScope, panicked any) {
	level := levelForStatus(scope.Status())
	attrs := scope.completionAttrs(cfg)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs, slog.String(loggable.TraceIDKey, sc.TraceID().String()))
	}
	if panicked != nil {
		level = loggable.LevelError
		attrs = append(attrs,
			slog.String("panic", fmt.Sprint(panicked)),
			slog.Any(loggable.StackTraceKey, loggable.CaptureStack()),
		)
	}
	logger.LogAttrs(ctx, level, requestFinishedMessage, attrs...)
}

// levelForStatus maps a response status onto the completion record's level.
func levelForStatus(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return loggable.LevelError
	case status >= http.StatusBadRequest:
		return loggable.LevelWarn
	default:
		return loggable.LevelInfo
	}
}

// requestID returns the inbound request ID or generates a fresh one.
func requestID(r *http.Request, cfg *config) string {
	if id := strings.TrimSpace(r.Header.Get(cfg.requestIDHeader)); id != "" {
		return id
	}
	return uuid.NewString()
}

// buildRequestAttributes assembles the attributes bound to the derived
// request logger, including enrichers and transformers.
func buildRequestAttributes(cfg *config, r *http.Request, scope *RequestScope) []slog.Attr {
	attrs := make([]slog.Attr, 0, 2+len(cfg.attrEnrichers))
	attrs = append(attrs, slog.String(loggable.RequestIDKey, scope.requestID))
	if scope.route != "" {
		attrs = append(attrs, slog.String("route", scope.route))
	}
	attrs = applyRequestEnrichers(cfg, attrs, r, scope)
	return applyRequestTransformers(cfg, attrs, r, scope)
}

// applyRequestEnrichers appends attributes produced by attrEnrichers.
func applyRequestEnrichers(cfg *config, attrs []slog.Attr, r *http.Request, scope *RequestScope) []slog.Attr {
	for _, enricher := range cfg.attrEnrichers {
		if enricher == nil {
			continue
		}
		if extra := enricher(r, scope); len(extra) > 0 {
			attrs = append(attrs, extra...)
		}
	}
	return attrs
}

// applyRequestTransformers feeds attributes through configured transformers.
func applyRequestTransformers(cfg *config, attrs []slog.Attr, r *http.Request, scope *RequestScope) []slog.Attr {
	for _, transformer := range cfg.attrTransformers {
		if transformer == nil {
			continue
		}
		attrs = transformer(attrs, r, scope)
	}
	return attrs
}

// wrapWithOTel wraps handler with otelhttp middleware when enabled.
func wrapWithOTel(cfg *config, handler http.Handler) http.Handler {
	if !cfg.enableOTel {
		return handler
	}
	return otelhttp.NewHandler(handler, instrumentationName, otelOptions(cfg)...)
}

// otelOptions builds OpenTelemetry handler options from configuration.
func otelOptions(cfg *config) []otelhttp.Option {
	var otelOpts []otelhttp.Option
	if cfg.tracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(cfg.tracerProvider))
	}
	if cfg.propagateTrace {
		if cfg.propagatorsSet && cfg.propagators != nil {
			otelOpts = append(otelOpts, otelhttp.WithPropagators(cfg.propagators))
		}
	} else {
		otelOpts = append(otelOpts, otelhttp.WithPropagators(noopPropagator{}))
	}
	if cfg.spanNameFormatter != nil {
		otelOpts = append(otelOpts, otelhttp.WithSpanNameFormatter(cfg.spanNameFormatter))
	}
	for _, filter := range cfg.filters {
		if filter != nil {
			otelOpts = append(otelOpts, otelhttp.WithFilter(filter))
		}
	}
	return otelOpts
}

type noopPropagator struct{}

// Inject satisfies propagation.TextMapPropagator while remaining a no-op.
func (noopPropagator) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	_ = ctx
	_ = carrier
}

// Extract returns the provided context unchanged.
func (noopPropagator) Extract(ctx context.Context, _ propagation.TextMapCarrier) context.Context {
	return ctx
}

// Fields reports no injected fields.
func (noopPropagator) Fields() []string { return nil }

// ensureSpanContext extracts remote trace context from incoming headers when
// the context does not already carry a valid span.
func ensureSpanContext(ctx context.Context, r *http.Request, cfg *config) (context.Context, trace.SpanContext) {
	if cfg != nil && !cfg.propagateTrace {
		return ctx, trace.SpanContextFromContext(ctx)
	}

	sc := trace.SpanContextFromContext(ctx)
	if sc.IsValid() || r == nil {
		return ctx, sc
	}

	propagator := cfg.propagators
	if propagator == nil && !cfg.propagatorsSet {
		propagator = otel.GetTextMapPropagator()
	}
	if propagator == nil {
		return ctx, sc
	}

	extracted := propagator.Extract(ctx, propagation.HeaderCarrier(r.Header))
	if esc := trace.SpanContextFromContext(extracted); esc.IsValid() {
		return extracted, esc
	}
	return ctx, sc
}

// RequestScope captures request metadata surfaced to handlers via context.
type RequestScope struct {
	start       time.Time
	method      string
	target      string
	query       string
	route       string
	scheme      string
	host        string
	clientIP    string
	userAgent   string
	requestID   string
	requestSize int64

	status    atomic.Int64
	respBytes atomic.Int64
	latencyNS atomic.Int64
}

const unsetLatencySentinel = int64(-1)

// newRequestScope builds a RequestScope capturing request metadata.
func newRequestScope(r *http.Request, start time.Time, cfg *config) *RequestScope {
	scope := &RequestScope{start: start}
	if r != nil {
		scope.populateFromRequest(r, cfg)
	}
	scope.status.Store(http.StatusOK)
	scope.latencyNS.Store(unsetLatencySentinel)
	return scope
}

// populateFromRequest copies request metadata into the scope.
func (rs *RequestScope) populateFromRequest(r *http.Request, cfg *config) {
	rs.requestSize = r.ContentLength
	rs.method = r.Method
	rs.userAgent = r.UserAgent()
	if r.URL != nil {
		rs.target = r.URL.Path
		rs.query = r.URL.RawQuery
		rs.scheme = r.URL.Scheme
	}
	if rs.scheme == "" {
		if r.TLS != nil {
			rs.scheme = schemeHTTPS
		} else {
			rs.scheme = schemeHTTP
		}
	}
	rs.host = r.Host
	if cfg.includeClientIP {
		rs.clientIP = extractIP(r.RemoteAddr)
	}
	if cfg.routeGetter != nil {
		rs.route = strings.TrimSpace(cfg.routeGetter(r))
	}
}

// completionAttrs assembles the completion record's attributes.
func (rs *RequestScope) completionAttrs(cfg *config) []slog.Attr {
	lat, _ := rs.Latency()
	attrs := make([]slog.Attr, 0, 12)
	attrs = append(attrs,
		slog.String("request_method", rs.method),
		slog.String("request_path", rs.target),
		slog.Duration(loggable.DurationKey, lat),
		slog.Float64(loggable.DurationMSKey, durationMS(lat)),
		slog.Int(loggable.ResponseStatusKey, rs.Status()),
		slog.Int64(loggable.ResponseContentLengthKey, rs.ResponseSize()),
	)
	if rs.requestID != "" {
		attrs = append(attrs, slog.String(loggable.RequestIDKey, rs.requestID))
	}
	if cfg.includeQuery && rs.query != "" {
		attrs = append(attrs, slog.String("request_query", rs.query))
	}
	if rs.route != "" {
		attrs = append(attrs, slog.String("route", rs.route))
	}
	if rs.requestSize > 0 {
		attrs = append(attrs, slog.Int64("request_content_length", rs.requestSize))
	}
	if cfg.includeClientIP && rs.clientIP != "" {
		attrs = append(attrs, slog.String("peer_ip", rs.clientIP))
	}
	if cfg.includeUserAgent && rs.userAgent != "" {
		attrs = append(attrs, slog.String("user_agent", rs.userAgent))
	}
	return attrs
}

// durationMS converts a duration into fractional milliseconds.
func durationMS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / float64(time.Millisecond)
}

// Method returns the HTTP method.
func (rs *RequestScope) Method() string { return rs.method }

// Path returns the request path component.
func (rs *RequestScope) Path() string { return rs.target }

// Query returns the raw query string without the '?' prefix.
func (rs *RequestScope) Query() string { return rs.query }

// Route returns the resolved route template, if any.
func (rs *RequestScope) Route() string { return rs.route }

// RequestID returns the ID assigned to or carried by the request.
func (rs *RequestScope) RequestID() string { return rs.requestID }

// Scheme returns the resolved request scheme.
func (rs *RequestScope) Scheme() string { return rs.scheme }

// Host returns the request host.
func (rs *RequestScope) Host() string { return rs.host }

// ClientIP returns the parsed remote address.
func (rs *RequestScope) ClientIP() string { return rs.clientIP }

// UserAgent returns the request's User-Agent header.
func (rs *RequestScope) UserAgent() string { return rs.userAgent }

// Start returns the time the request began processing.
func (rs *RequestScope) Start() time.Time { return rs.start }

// Status returns the response status code with a default of 200.
func (rs *RequestScope) Status() int {
	code := rs.status.Load()
	if code == 0 {
		return http.StatusOK
	}
	return int(code)
}

// Latency returns the elapsed time and whether it is final.
func (rs *RequestScope) Latency() (time.Duration, bool) {
	ns := rs.latencyNS.Load()
	if ns != unsetLatencySentinel {
		return time.Duration(ns), true
	}
	return time.Since(rs.start), false
}

// ResponseSize returns the number of bytes written to the client.
func (rs *RequestScope) ResponseSize() int64 {
	return rs.respBytes.Load()
}

// RequestSize returns the content length reported by the client.
func (rs *RequestScope) RequestSize() int64 {
	return rs.requestSize
}

// setStatus records the response status, defaulting to 200 when unset.
func (rs *RequestScope) setStatus(code int) {
	if code <= 0 {
		code = http.StatusOK
	}
	rs.status.Store(int64(code))
}

// addResponseBytes accumulates response bytes if the delta is positive.
func (rs *RequestScope) addResponseBytes(delta int64) {
	if delta <= 0 {
		return
	}
	rs.respBytes.Add(delta)
}

// finalize stores the terminal status, byte count, and latency.
func (rs *RequestScope) finalize(status int, bytes int64, d time.Duration) {
	rs.setStatus(status)
	if bytes >= 0 {
		rs.respBytes.Store(bytes)
	}
	if d < 0 {
		d = 0
	}
	rs.latencyNS.Store(d.Nanoseconds())
}

type requestScopeKey struct{}

// ScopeFromContext retrieves the RequestScope placed in the request context
// by the middleware or transport.
func ScopeFromContext(ctx context.Context) (*RequestScope, bool) {
	if ctx == nil {
		return nil, false
	}
	scope, ok := ctx.Value(requestScopeKey{}).(*RequestScope)
	return scope, ok && scope != nil
}

type responseRecorder struct {
	http.ResponseWriter
	scope        *RequestScope
	status       int
	wroteHeader  bool
	bytesWritten int64
}

// WriteHeader records the status code before delegating to the wrapped
// writer.
func (rr *responseRecorder) WriteHeader(status int) {
	if rr.wroteHeader {
		rr.ResponseWriter.WriteHeader(status)
		return
	}
	rr.status = status
	rr.scope.setStatus(status)
	rr.ResponseWriter.WriteHeader(status)
	rr.wroteHeader = true
}

// Write records bytes written and forwards the call to the underlying
// writer.
func (rr *responseRecorder) Write(p []byte) (int, error) {
	if !rr.wroteHeader {
		rr.WriteHeader(http.StatusOK)
	}
	n, err := rr.ResponseWriter.Write(p)
	if n > 0 {
		rr.bytesWritten += int64(n)
		rr.scope.addResponseBytes(int64(n))
	}
	if err != nil {
		return n, fmt.Errorf("write response body: %w", err)
	}
	return n, nil
}

// ReadFrom streams data from src while tracking bytes for logging.
func (rr *responseRecorder) ReadFrom(src io.Reader) (int64, error) {
	if rf, ok := rr.ResponseWriter.(io.ReaderFrom); ok {
		if !rr.wroteHeader {
			rr.WriteHeader(http.StatusOK)
		}
		n, err := rf.ReadFrom(src)
		if n > 0 {
			rr.bytesWritten += n
			rr.scope.addResponseBytes(n)
		}
		if err != nil {
			return n, fmt.Errorf("read from body: %w", err)
		}
		return n, nil
	}
	if !rr.wroteHeader {
		rr.WriteHeader(http.StatusOK)
	}
	n, err := io.Copy(rr.ResponseWriter, src)
	if n > 0 {
		rr.bytesWritten += n
		rr.scope.addResponseBytes(n)
	}
	if err != nil {
		return n, fmt.Errorf("copy response body: %w", err)
	}
	return n, nil
}

// Status returns the HTTP status code that was written to the client.
func (rr *responseRecorder) Status() int {
	if rr.status == 0 {
		return http.StatusOK
	}
	return rr.status
}

// BytesWritten reports the cumulative number of bytes sent to the client.
func (rr *responseRecorder) BytesWritten() int64 {
	return rr.bytesWritten
}

// wrapResponseWriter decorates the ResponseWriter to capture response
// metadata and optional interfaces.
func wrapResponseWriter(w http.ResponseWriter, scope *RequestScope) (http.ResponseWriter, *responseRecorder) {
	rec := &responseRecorder{
		ResponseWriter: w,
		scope:          scope,
		status:         http.StatusOK,
	}
	scope.setStatus(http.StatusOK)
	return rec, rec
}

// Unwrap exposes the underlying ResponseWriter for http.ResponseController.
func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

// Flush forwards the flush request to the underlying ResponseWriter when
// supported.
func (rr *responseRecorder) Flush() {
	if flusher, ok := rr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack delegates to the wrapped Hijacker when supported, otherwise
// returns http.ErrNotSupported.
func (rr *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rr.ResponseWriter.(http.Hijacker); ok {
		conn, rw, err := hijacker.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, rw, nil
	}
	return nil, nil, http.ErrNotSupported
}

// Push forwards HTTP/2 push requests when the underlying writer supports
// http.Pusher.
func (rr *responseRecorder) Push(target string, opts *http.PushOptions) error {
	if pusher, ok := rr.ResponseWriter.(http.Pusher); ok {
		if err := pusher.Push(target, opts); err != nil {
			return fmt.Errorf("http/2 push: %w", err)
		}
		return nil
	}
	return http.ErrNotSupported
}

// CloseNotify exposes the wrapped CloseNotifier channel when available.
func (rr *responseRecorder) CloseNotify() <-chan bool {
	if cn, ok := rr.ResponseWriter.(interface{ CloseNotify() <-chan bool }); ok {
		return cn.CloseNotify()
	}
	return nil
}

// extractIP strips the port from a host:port string and returns the host
// component.
func extractIP(addr string) string {
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// loggerWithAttrs returns a logger enriched with the supplied attributes.
func loggerWithAttrs(base *slog.Logger, attrs []slog.Attr) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if len(attrs) == 0 {
		return base
	}
	handler := base.Handler().WithAttrs(attrs)
	return slog.New(handler)
}
