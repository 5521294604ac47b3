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

// Conventional context keys shared by the adapters so records from HTTP
// middleware, job runners, and database drivers line up in log search.
const (
	MessageKey               = "message"
	LevelKey                 = "level"
	ContextKey               = "context"
	DurationKey              = "duration"
	DurationMSKey            = "duration_ms"
	ResponseStatusKey        = "response_status"
	ResponseContentLengthKey = "response_content_length"
	RequestIDKey             = "request_id"
	TraceIDKey               = "trace_id"
	SpanIDKey                = "span_id"
)

// Reserved keys with handler-level meaning.
const (
	// TagsKey holds the ordered positional tags inside the context map.
	TagsKey = "_tags"
	// LoggerKey names the emitting logger. A top-level string attr under
	// this key moves into the record's logger field instead of the context.
	LoggerKey = "logger"
	// StackTraceKey marks frame arrays that get the elide-the-middle
	// treatment during truncation.
	StackTraceKey = "stack_trace"
	// FullMessageKey marks the secondary record carrying an untruncated
	// message.
	FullMessageKey = "full_message"
)

// Exception is the structured form of an error attached to a record.
type Exception struct {
	Type       string   `json:"type"`
	Message    string   `json:"message"`
	StackTrace []string `json:"stack_trace,omitempty"`
}

// record is the wire shape of one emitted log line.
type record struct {
	Level     string         `json:"level"`
	Time      string         `json:"time,omitempty"`
	Logger    string         `json:"logger,omitempty"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	Exception *Exception     `json:"exception,omitempty"`
}
