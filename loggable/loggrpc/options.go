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

package loggrpc

import (
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"
)

// Option configures the interceptors returned by this package.
type Option func(*config)

// config carries settings shared by the server and client interceptors.
type config struct {
	logger         *slog.Logger
	enableOTel     bool
	tracerProvider trace.TracerProvider
	propagators    propagation.TextMapPropagator
	propagatorsSet bool
	propagateTrace bool
	codeLevel      func(codes.Code) slog.Level
	payloadBytes   int
	includePeer    bool
	filters        []otelgrpc.Filter
}

func defaultConfig() *config {
	return &config{
		enableOTel:     true,
		propagateTrace: true,
		includePeer:    true,
	}
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

// levelFor maps a status code to a record severity, honoring any override.
func (c *config) levelFor(code codes.Code) slog.Level {
	if c.codeLevel != nil {
		return c.codeLevel(code)
	}
	return DefaultCodeLevel(code)
}

// WithLogger sets the logger used for completion records and handler
// contexts. When unset, interceptors use the logger already carried by the
// context, falling back to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithOTel toggles installation of otelgrpc stats handlers by ServerOptions
// and DialOptions. Enabled by default.
func WithOTel(enabled bool) Option {
	return func(c *config) { c.enableOTel = enabled }
}

// WithTracerProvider overrides the tracer provider handed to the otelgrpc
// stats handlers.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) { c.tracerProvider = tp }
}

// WithPropagators overrides the propagators used to extract incoming trace
// context and inject outgoing trace context. Passing nil restores the global
// propagator.
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(c *config) {
		c.propagators = p
		c.propagatorsSet = p != nil
	}
}

// WithTracePropagation toggles trace context extraction on the server side
// and injection on the client side. Enabled by default.
func WithTracePropagation(enabled bool) Option {
	return func(c *config) { c.propagateTrace = enabled }
}

// WithCodeLevel replaces DefaultCodeLevel as the mapping from gRPC status
// codes to completion record severities.
func WithCodeLevel(fn func(codes.Code) slog.Level) Option {
	return func(c *config) { c.codeLevel = fn }
}

// WithPayloadLogging enables request and response payload capture on unary
// server RPCs. Messages are rendered with protojson and truncated to
// maxBytes; values of maxBytes <= 0 select a 1024 byte cap.
func WithPayloadLogging(maxBytes int) Option {
	return func(c *config) {
		if maxBytes <= 0 {
			maxBytes = defaultPayloadBytes
		}
		c.payloadBytes = maxBytes
	}
}

// WithPeer toggles the peer_ip attribute on completion records. Enabled by
// default.
func WithPeer(enabled bool) Option {
	return func(c *config) { c.includePeer = enabled }
}

// WithFilter registers a filter consulted before an RPC is logged. When any
// filter returns false the completion record is suppressed; handler-scoped
// logging is unaffected. The same filters are handed to the otelgrpc stats
// handlers. Nil filters are ignored.
func WithFilter(filter otelgrpc.Filter) Option {
	return func(c *config) {
		if filter != nil {
			c.filters = append(c.filters, filter)
		}
	}
}
