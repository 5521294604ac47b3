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
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/metadata"
)

// metadataCarrier adapts gRPC metadata to the TextMapCarrier interface.
type metadataCarrier struct {
	metadata.MD
}

var _ propagation.TextMapCarrier = metadataCarrier{}

// Get returns the first value for the provided metadata key.
func (mc metadataCarrier) Get(key string) string {
	values := mc.MD.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Set stores the value under the provided metadata key.
func (mc metadataCarrier) Set(key string, value string) {
	mc.MD.Set(key, value)
}

// Keys reports all metadata keys present in the carrier.
func (mc metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(mc.MD))
	for k := range mc.MD {
		keys = append(keys, k)
	}
	return keys
}

// ensureServerSpanContext extracts remote trace context from incoming
// metadata when the context does not already carry a valid span.
func ensureServerSpanContext(ctx context.Context, md metadata.MD, cfg *config) context.Context {
	if !cfg.propagateTrace || md == nil {
		return ctx
	}
	if trace.SpanContextFromContext(ctx).IsValid() {
		return ctx
	}
	propagator := cfg.propagators
	if propagator == nil {
		propagator = otel.GetTextMapPropagator()
	}
	if propagator == nil {
		return ctx
	}
	extracted := propagator.Extract(ctx, metadataCarrier{MD: md})
	if trace.SpanContextFromContext(extracted).IsValid() {
		return extracted
	}
	return ctx
}

// injectClientTrace writes the current trace context into outgoing metadata.
func injectClientTrace(ctx context.Context, md metadata.MD, cfg *config) {
	if !cfg.propagateTrace {
		return
	}
	propagator := cfg.propagators
	if propagator == nil {
		propagator = otel.GetTextMapPropagator()
	}
	if propagator != nil {
		propagator.Inject(ctx, metadataCarrier{MD: md})
	}
}
