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

// Package appydays is a toolkit for environment-driven configuration and
// structured logging in server applications.
//
// The root package carries module identity only; the functionality lives in
// subpackages:
//
//   - [github.com/lithictech/appydays/configurable] declares named settings
//     resolved from environment variables, with typed accessors, value
//     conversion, side effects, and after-configured hooks.
//   - [github.com/lithictech/appydays/loggable] shapes log records on top of
//     [log/slog]: scoped tag frames, sticky per-unit-of-work tags, exception
//     capture with stack traces, serialization size budgets, and JSON
//     emission.
//   - [github.com/lithictech/appydays/loggable/loghttp],
//     [github.com/lithictech/appydays/loggable/logcron],
//     [github.com/lithictech/appydays/loggable/logsql], and
//     [github.com/lithictech/appydays/loggable/loggrpc] wire scoped logging
//     into HTTP servers and clients, cron jobs, database/sql drivers, and
//     gRPC servers and clients.
//   - [github.com/lithictech/appydays/dotenv] loads layered .env files into
//     the process environment.
//
// Packages configure themselves from LOGGABLE_* environment variables
// through the configurable engine, so the same binary can run locally and
// in production without code changes.
package appydays
