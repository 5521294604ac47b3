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

// Package loggable is a structured-logging overlay for log/slog that
// normalizes records from disparate call sites (HTTP servers and clients,
// background jobs, database drivers) into one tagged-context JSON shape:
//
//	{"level":"info","time":"...","logger":"api","message":"...",
//	 "context":{"request_id":"...","_tags":["cache"]},
//	 "exception":{"type":"*errors.errorString","message":"...","stack_trace":[...]}}
//
// The context map merges, in increasing precedence: positional tags from
// enclosing Tagged scopes (rendered as the ordered _tags list), trace
// correlation from the active OpenTelemetry span, sticky tags set for the
// current unit of work, named tags from Tagged scopes, logger-bound attrs,
// and finally the record's own attrs. The first error-valued attr becomes
// the exception field instead of a context entry.
//
// Two independent safeguards bound record size. A Budget engages only when
// the serialized record exceeds MaxMessageLength, shortening over-long
// context strings and eliding the middle of large stack_trace arrays;
// records under the limit pass through byte-identical. A MessagePolicy
// bounds the message text itself, keeping both ends around an elision
// marker, and can emit the full text as a secondary lower-severity record
// for operators who need it.
//
// Handlers configure themselves from LOGGABLE_* environment variables
// through the configurable package; constructor options override the
// environment. The subpackages loghttp, logcron, logsql, and loggrpc adapt
// the common call sites onto this record shape.
package loggable
