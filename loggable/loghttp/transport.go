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

package loghttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/lithictech/appydays/loggable"
)

const outboundFinishedMessage = "outbound_request_finished"

// Transport returns an http.RoundTripper that injects trace context, derives
// a logger per outbound request, and logs one completion record with the
// same duration and status keys the server middleware uses. Transport errors
// log at Error with the error attached.
func Transport(base http.RoundTripper, opts ...Option) http.RoundTripper {
	cfg := applyOptions(opts)
	if base == nil {
		base = http.DefaultTransport
	}
	return roundTripper{base: base, cfg: cfg}
}

type roundTripper struct {
	base http.RoundTripper
	cfg  *config
}

// RoundTrip instruments the outbound request, attaching context and
// forwarding to the base transport.
func (t roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("round trip nil request: %w", err)
		}
		return resp, nil
	}

	cfg := t.cfg
	ctx := req.Context()
	scope := newClientScope(req, time.Now(), cfg)

	attrs := applyRequestEnrichers(cfg, nil, req, scope)
	attrs = applyRequestTransformers(cfg, attrs, req, scope)

	baseLogger := cfg.logger
	if baseLogger == nil {
		baseLogger = loggable.Logger(ctx)
	}
	requestLogger := loggerWithAttrs(baseLogger, attrs)

	ctx = loggable.ContextWithLogger(ctx, requestLogger)
	ctx = context.WithValue(ctx, requestScopeKey{}, scope)
	req = req.WithContext(ctx)

	t.injectTrace(ctx, req)

	resp, err := t.base.RoundTrip(req)
	elapsed := time.Since(scope.Start())

	if resp != nil {
		scope.finalize(resp.StatusCode, resp.ContentLength, elapsed)
	} else {
		scope.finalize(0, 0, elapsed)
	}
	t.logCompletion(ctx, requestLogger, scope, err)

	if err != nil {
		return resp, fmt.Errorf("round trip request: %w", err)
	}
	return resp, nil
}

// logCompletion emits the outbound completion record.
func (t roundTripper) logCompletion(ctx context.Context, logger *slog.Logger, scope *RequestScope, err error) {
	lat, _ := scope.Latency()
	attrs := make([]slog.Attr, 0, 9)
	attrs = append(attrs,
		slog.String("request_method", scope.Method()),
		slog.String("request_path", scope.Path()),
		slog.Duration(loggable.DurationKey, lat),
		slog.Float64(loggable.DurationMSKey, durationMS(lat)),
	)
	if scope.Host() != "" {
		attrs = append(attrs, slog.String("host", scope.Host()))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs, slog.String(loggable.TraceIDKey, sc.TraceID().String()))
	}

	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
		logger.LogAttrs(ctx, loggable.LevelError, outboundFinishedMessage, attrs...)
		return
	}

	attrs = append(attrs,
		slog.Int(loggable.ResponseStatusKey, scope.Status()),
		slog.Int64(loggable.ResponseContentLengthKey, scope.ResponseSize()),
	)
	logger.LogAttrs(ctx, levelForStatus(scope.Status()), outboundFinishedMessage, attrs...)
}

// injectTrace injects trace headers onto the request via the configured or
// global propagator.
func (t roundTripper) injectTrace(ctx context.Context, req *http.Request) {
	if t.cfg != nil && !t.cfg.propagateTrace {
		return
	}
	propagator := t.cfg.propagators
	if propagator == nil {
		propagator = otel.GetTextMapPropagator()
	}
	if propagator != nil {
		propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))
	}
}

// newClientScope builds a RequestScope describing the outbound HTTP request.
func newClientScope(req *http.Request, start time.Time, cfg *config) *RequestScope {
	scope := &RequestScope{
		start:       start,
		method:      req.Method,
		requestSize: req.ContentLength,
	}
	if req.URL != nil {
		scope.target = req.URL.Path
		scope.query = req.URL.RawQuery
		scope.scheme = req.URL.Scheme
		scope.host = req.URL.Host
	}
	scope.userAgent = req.Header.Get("User-Agent")
	if cfg.routeGetter != nil {
		scope.route = cfg.routeGetter(req)
	}

	scope.status.Store(http.StatusOK)
	scope.latencyNS.Store(unsetLatencySentinel)
	return scope
}
