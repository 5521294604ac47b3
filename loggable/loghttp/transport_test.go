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

package loghttp_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/lithictech/appydays/loggable/loghttp"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// TestTransportLogsOutboundCompletion drives a request to a live test server
// and checks the outbound record fields.
func TestTransportLogsOutboundCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	logger, buf := newTestLogger(t)
	client := &http.Client{Transport: loghttp.Transport(nil, loghttp.WithLogger(logger))}

	resp, err := client.Get(srv.URL + "/ping")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	r := onlyRecord(t, buf)
	if r.Message != "outbound_request_finished" {
		t.Errorf("message = %q, want outbound_request_finished", r.Message)
	}
	if r.Level != "info" {
		t.Errorf("level = %q, want info", r.Level)
	}
	if got := r.Context["request_method"]; got != "GET" {
		t.Errorf("request_method = %v, want GET", got)
	}
	if got := r.Context["request_path"]; got != "/ping" {
		t.Errorf("request_path = %v, want /ping", got)
	}
	if got := r.Context["response_status"]; got != float64(http.StatusOK) {
		t.Errorf("response_status = %v, want 200", got)
	}
	if got := r.Context["response_content_length"]; got != float64(len("pong")) {
		t.Errorf("response_content_length = %v, want 4", got)
	}
	if _, ok := r.Context["duration_ms"]; !ok {
		t.Error("outbound record missing duration_ms")
	}
	host, _ := r.Context["host"].(string)
	if host == "" {
		t.Error("outbound record missing host")
	}
}

// TestTransportInjectsTraceHeaders verifies the configured propagator puts
// the active span on the wire.
func TestTransportInjectsTraceHeaders(t *testing.T) {
	logger, _ := newTestLogger(t)
	var captured http.Header
	base := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		captured = r.Header.Clone()
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     make(http.Header),
			Body:       http.NoBody,
			Request:    r,
		}, nil
	})
	tr := loghttp.Transport(base,
		loghttp.WithLogger(logger),
		loghttp.WithPropagators(propagation.TraceContext{}))

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
		Remote:  true,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.com/a", nil)
	if err != nil {
		t.Fatalf("NewRequestWithContext() error = %v", err)
	}
	if _, err := tr.RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}

	tp := captured.Get("traceparent")
	if !strings.Contains(tp, "4bf92f3577b34da6a3ce929d0e0e4736") {
		t.Errorf("traceparent = %q, want it to carry the trace ID", tp)
	}
}

// TestTransportErrorLogsException checks transport failures surface as an
// Error record with the failure attached, and the error still returns to
// the caller.
func TestTransportErrorLogsException(t *testing.T) {
	logger, buf := newTestLogger(t)
	base := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	tr := loghttp.Transport(base, loghttp.WithLogger(logger))

	req, _ := http.NewRequest(http.MethodGet, "http://example.com/a", nil)
	if _, err := tr.RoundTrip(req); err == nil {
		t.Fatal("RoundTrip() error = nil, want error")
	}

	r := onlyRecord(t, buf)
	if r.Level != "error" {
		t.Errorf("level = %q, want error", r.Level)
	}
	if r.Exception == nil {
		t.Fatal("outbound record missing exception")
	}
	if got := r.Exception["message"]; got != "connection refused" {
		t.Errorf("exception message = %v, want connection refused", got)
	}
	if _, ok := r.Context["response_status"]; ok {
		t.Error("error record should not claim a response status")
	}
}
