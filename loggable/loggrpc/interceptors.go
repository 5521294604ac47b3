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

// Package loggrpc instruments gRPC servers and clients with scoped logging.
//
// The server interceptors give every RPC a fresh sticky tag container, tag
// the scope with the service and method names, and store a request-scoped
// logger in the handler context. When the RPC finishes they emit a
// completion record carrying timing fields and the gRPC status code, at a
// severity derived from that code. The client interceptor injects trace
// context into outgoing metadata and logs an equivalent completion record
// for each call.
//
// ServerOptions and DialOptions bundle the interceptors with otelgrpc stats
// handlers so tracing and logging are installed together.
package loggrpc

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/stats"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/lithictech/appydays/loggable"
)

const (
	rpcFinishedMessage         = "rpc_finished"
	outboundRPCFinishedMessage = "outbound_rpc_finished"

	defaultPayloadBytes = 1024
)

// Attribute keys used on RPC scopes and completion records.
const (
	ServiceKey = "grpc_service"
	MethodKey  = "grpc_method"
	CodeKey    = "grpc_code"
	KindKey    = "rpc_kind"
	PeerIPKey  = "peer_ip"
)

// RPC kind labels attached under KindKey.
const (
	unaryKind        = "unary"
	clientStreamKind = "client_stream"
	serverStreamKind = "server_stream"
	bidiStreamKind   = "bidi_stream"
)

// Payload attribute names used when payload logging is enabled.
const (
	requestPayloadKey  = "request_payload"
	responsePayloadKey = "response_payload"
	payloadGroupKey    = "payload"
)

// DefaultCodeLevel maps a gRPC status code to the severity of its completion
// record. OK, NotFound, and Canceled log at info; Internal, Unknown, and
// DataLoss log at error; every other code logs at warn.
func DefaultCodeLevel(code codes.Code) slog.Level {
	switch code {
	case codes.OK, codes.NotFound, codes.Canceled:
		return loggable.LevelInfo
	case codes.Internal, codes.Unknown, codes.DataLoss:
		return loggable.LevelError
	default:
		return loggable.LevelWarn
	}
}

// UnaryServerInterceptor returns an interceptor that scopes logging for each
// unary RPC and emits a completion record when the handler returns.
func UnaryServerInterceptor(opts ...Option) grpc.UnaryServerInterceptor {
	cfg := applyOptions(opts)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		md, _ := metadata.FromIncomingContext(ctx)
		ctx = ensureServerSpanContext(ctx, md, cfg)
		ctx, logger := scopeRPC(ctx, cfg, info.FullMethod)

		resp, err := handler(ctx, req)

		if !shouldLogRPC(cfg, info.FullMethod) {
			return resp, err
		}
		attrs := completionAttrs(ctx, cfg, unaryKind, time.Since(start), err)
		if cfg.payloadBytes > 0 {
			attrs = appendPayload(attrs, requestPayloadKey, req, cfg.payloadBytes)
			if err == nil {
				attrs = appendPayload(attrs, responsePayloadKey, resp, cfg.payloadBytes)
			}
		}
		logger.LogAttrs(ctx, cfg.levelFor(status.Code(err)), rpcFinishedMessage, attrs...)
		return resp, err
	}
}

// StreamServerInterceptor returns an interceptor that scopes logging for
// each streaming RPC. Handlers observe the scoped context through the
// wrapped stream, and a completion record is emitted when the stream ends.
func StreamServerInterceptor(opts ...Option) grpc.StreamServerInterceptor {
	cfg := applyOptions(opts)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		ctx := ss.Context()
		md, _ := metadata.FromIncomingContext(ctx)
		ctx = ensureServerSpanContext(ctx, md, cfg)
		ctx, logger := scopeRPC(ctx, cfg, info.FullMethod)

		err := handler(srv, &serverStream{ServerStream: ss, ctx: ctx})

		if !shouldLogRPC(cfg, info.FullMethod) {
			return err
		}
		attrs := completionAttrs(ctx, cfg, streamKind(info), time.Since(start), err)
		logger.LogAttrs(ctx, cfg.levelFor(status.Code(err)), rpcFinishedMessage, attrs...)
		return err
	}
}

// UnaryClientInterceptor returns an interceptor that injects trace context
// into outgoing metadata and logs a completion record for each call.
func UnaryClientInterceptor(opts ...Option) grpc.UnaryClientInterceptor {
	cfg := applyOptions(opts)
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, callOpts ...grpc.CallOption) error {
		start := time.Now()
		md, ok := metadata.FromOutgoingContext(ctx)
		if ok {
			md = md.Copy()
		} else {
			md = metadata.New(nil)
		}
		injectClientTrace(ctx, md, cfg)
		ctx = metadata.NewOutgoingContext(ctx, md)

		err := invoker(ctx, method, req, reply, cc, callOpts...)
		logClientCompletion(ctx, cfg, method, unaryKind, time.Since(start), err)
		return err
	}
}

// StreamClientInterceptor returns an interceptor that injects trace context
// for streaming calls and logs a completion record when the stream reaches a
// terminal state.
func StreamClientInterceptor(opts ...Option) grpc.StreamClientInterceptor {
	cfg := applyOptions(opts)
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, callOpts ...grpc.CallOption) (grpc.ClientStream, error) {
		start := time.Now()
		md, ok := metadata.FromOutgoingContext(ctx)
		if ok {
			md = md.Copy()
		} else {
			md = metadata.New(nil)
		}
		injectClientTrace(ctx, md, cfg)
		ctx = metadata.NewOutgoingContext(ctx, md)

		cs, err := streamer(ctx, desc, cc, method, callOpts...)
		if err != nil {
			logClientCompletion(ctx, cfg, method, clientStreamRPCKind(desc), time.Since(start), err)
			return nil, err
		}
		return &clientStream{
			ClientStream: cs,
			cfg:          cfg,
			method:       method,
			kind:         clientStreamRPCKind(desc),
			start:        start,
		}, nil
	}
}

// logClientCompletion emits the outbound completion record shared by the
// client interceptors.
func logClientCompletion(ctx context.Context, cfg *config, fullMethod, kind string, elapsed time.Duration, err error) {
	if !shouldLogRPC(cfg, fullMethod) {
		return
	}
	service, method := splitFullMethod(fullMethod)
	attrs := []slog.Attr{
		slog.String(ServiceKey, service),
		slog.String(MethodKey, method),
	}
	attrs = append(attrs, completionAttrs(ctx, cfg, kind, elapsed, err)...)
	logger := baseLogger(ctx, cfg)
	logger.LogAttrs(ctx, cfg.levelFor(status.Code(err)), outboundRPCFinishedMessage, attrs...)
}

// ServerOptions returns grpc.ServerOption values that chain the server
// interceptors and, unless disabled, install an otelgrpc stats handler.
func ServerOptions(opts ...Option) []grpc.ServerOption {
	cfg := applyOptions(opts)
	serverOpts := make([]grpc.ServerOption, 0, 3)
	if cfg.enableOTel {
		serverOpts = append(serverOpts, grpc.StatsHandler(otelgrpc.NewServerHandler(statsHandlerOptions(cfg)...)))
	}
	serverOpts = append(serverOpts,
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor(opts...)),
		grpc.ChainStreamInterceptor(StreamServerInterceptor(opts...)),
	)
	return serverOpts
}

// DialOptions returns grpc.DialOption values that chain the client
// interceptor and, unless disabled, install an otelgrpc stats handler.
func DialOptions(opts ...Option) []grpc.DialOption {
	cfg := applyOptions(opts)
	dialOpts := make([]grpc.DialOption, 0, 3)
	if cfg.enableOTel {
		dialOpts = append(dialOpts, grpc.WithStatsHandler(otelgrpc.NewClientHandler(statsHandlerOptions(cfg)...)))
	}
	dialOpts = append(dialOpts,
		grpc.WithChainUnaryInterceptor(UnaryClientInterceptor(opts...)),
		grpc.WithChainStreamInterceptor(StreamClientInterceptor(opts...)),
	)
	return dialOpts
}

// statsHandlerOptions converts config into otelgrpc options.
func statsHandlerOptions(cfg *config) []otelgrpc.Option {
	var handlerOpts []otelgrpc.Option
	if cfg.tracerProvider != nil {
		handlerOpts = append(handlerOpts, otelgrpc.WithTracerProvider(cfg.tracerProvider))
	}
	if cfg.propagatorsSet && cfg.propagators != nil {
		handlerOpts = append(handlerOpts, otelgrpc.WithPropagators(cfg.propagators))
	}
	if len(cfg.filters) > 0 {
		handlerOpts = append(handlerOpts, otelgrpc.WithFilter(composeFilters(cfg.filters)))
	}
	return handlerOpts
}

// composeFilters merges filters into one that requires every filter to pass.
func composeFilters(filters []otelgrpc.Filter) otelgrpc.Filter {
	return func(info *stats.RPCTagInfo) bool {
		for _, filter := range filters {
			if filter != nil && !filter(info) {
				return false
			}
		}
		return true
	}
}

// shouldLogRPC applies the configured filters to the full method name.
func shouldLogRPC(cfg *config, fullMethod string) bool {
	if len(cfg.filters) == 0 {
		return true
	}
	info := &stats.RPCTagInfo{FullMethodName: fullMethod}
	for _, filter := range cfg.filters {
		if filter != nil && !filter(info) {
			return false
		}
	}
	return true
}

// scopeRPC prepares a per-RPC context with a fresh sticky tag container,
// service and method tags, and a scoped logger. It returns the new context
// and the logger used for the completion record.
func scopeRPC(ctx context.Context, cfg *config, fullMethod string) (context.Context, *slog.Logger) {
	service, method := splitFullMethod(fullMethod)
	serviceAttr := slog.String(ServiceKey, service)
	methodAttr := slog.String(MethodKey, method)

	ctx = loggable.ContextWithStickyTags(ctx)
	ctx = loggable.Tagged(ctx, serviceAttr, methodAttr)
	logger := loggerWithAttrs(baseLogger(ctx, cfg), []slog.Attr{serviceAttr, methodAttr})
	ctx = loggable.ContextWithLogger(ctx, logger)
	return ctx, logger
}

// baseLogger picks the configured logger, the context logger, or the default.
func baseLogger(ctx context.Context, cfg *config) *slog.Logger {
	if cfg.logger != nil {
		return cfg.logger
	}
	return loggable.Logger(ctx)
}

// completionAttrs assembles the shared fields of an RPC completion record.
func completionAttrs(ctx context.Context, cfg *config, kind string, elapsed time.Duration, err error) []slog.Attr {
	attrs := []slog.Attr{
		slog.String(KindKey, kind),
		slog.Duration(loggable.DurationKey, elapsed),
		slog.Float64(loggable.DurationMSKey, durationMS(elapsed)),
		slog.String(CodeKey, status.Code(err).String()),
	}
	if cfg.includePeer {
		if addr, ok := peerAddress(ctx); ok {
			attrs = append(attrs, slog.String(PeerIPKey, addr))
		}
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs, slog.String(loggable.TraceIDKey, sc.TraceID().String()))
	}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	return attrs
}

// appendPayload renders a protobuf payload as JSON, truncating it to
// maxBytes and recording the original size when the cap is exceeded.
// Non-protobuf payloads are skipped.
func appendPayload(attrs []slog.Attr, key string, payload any, maxBytes int) []slog.Attr {
	msg, ok := payload.(proto.Message)
	if !ok {
		return attrs
	}
	encoded, err := protojson.Marshal(msg)
	if err != nil {
		return attrs
	}
	if len(encoded) <= maxBytes {
		return append(attrs, slog.String(key, string(encoded)))
	}
	return append(attrs,
		slog.String(key, string(encoded[:maxBytes])),
		slog.Group(payloadGroupKey,
			slog.Bool("truncated", true),
			slog.Int("original_size", len(encoded)),
		),
	)
}

// splitFullMethod separates a gRPC full method name of the form
// "/package.Service/Method" into service and method parts.
func splitFullMethod(fullMethod string) (string, string) {
	name := strings.TrimPrefix(fullMethod, "/")
	service, method, ok := strings.Cut(name, "/")
	if !ok {
		return name, ""
	}
	return service, method
}

// streamKind labels the stream topology for completion records.
func streamKind(info *grpc.StreamServerInfo) string {
	switch {
	case info.IsClientStream && info.IsServerStream:
		return bidiStreamKind
	case info.IsClientStream:
		return clientStreamKind
	case info.IsServerStream:
		return serverStreamKind
	default:
		return unaryKind
	}
}

// clientStreamRPCKind labels the stream topology of an outgoing call.
func clientStreamRPCKind(desc *grpc.StreamDesc) string {
	switch {
	case desc.ClientStreams && desc.ServerStreams:
		return bidiStreamKind
	case desc.ClientStreams:
		return clientStreamKind
	case desc.ServerStreams:
		return serverStreamKind
	default:
		return unaryKind
	}
}

// peerAddress extracts the remote host from the RPC peer, when present.
func peerAddress(ctx context.Context) (string, bool) {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "", false
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host, true
	}
	return addr, true
}

// serverStream overrides Context so handlers observe the scoped context.
type serverStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *serverStream) Context() context.Context { return s.ctx }

// clientStream logs a completion record exactly once, when the wrapped
// stream reaches a terminal state. Send errors, receive errors, and io.EOF
// are terminal; a client-streaming call that ends with a successful receive
// relies on the stats handler for completion signals, matching the
// underlying stream contract.
type clientStream struct {
	grpc.ClientStream
	cfg    *config
	method string
	kind   string
	start  time.Time
	once   sync.Once
}

// SendMsg finalizes the stream when sending fails.
func (c *clientStream) SendMsg(m any) error {
	err := c.ClientStream.SendMsg(m)
	if err != nil {
		c.finish(err)
	}
	return err
}

// RecvMsg finalizes the stream on receive errors, treating io.EOF as a
// normal end of stream.
func (c *clientStream) RecvMsg(m any) error {
	err := c.ClientStream.RecvMsg(m)
	if err == nil {
		return nil
	}
	if err == io.EOF {
		c.finish(nil)
	} else {
		c.finish(err)
	}
	return err
}

// CloseSend finalizes the stream when closing the send side fails.
func (c *clientStream) CloseSend() error {
	err := c.ClientStream.CloseSend()
	if err != nil {
		c.finish(err)
	}
	return err
}

func (c *clientStream) finish(err error) {
	c.once.Do(func() {
		logClientCompletion(c.ClientStream.Context(), c.cfg, c.method, c.kind, time.Since(c.start), err)
	})
}

func durationMS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / float64(time.Millisecond)
}

// loggerWithAttrs returns a logger enriched with the supplied attributes.
func loggerWithAttrs(base *slog.Logger, attrs []slog.Attr) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if len(attrs) == 0 {
		return base
	}
	return slog.New(base.Handler().WithAttrs(attrs))
}
