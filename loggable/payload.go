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
	"log/slog"
	"strings"
	"time"
)

// contextBuilder assembles one record's context map. Sources merge in
// precedence order, later writes overwriting earlier ones on key collision:
// positional tags (under _tags), trace correlation, sticky tags, tag frames
// outermost first, handler-bound attrs, then the record's own attrs.
type contextBuilder struct {
	kv         map[string]any
	positional []any
	loggerName string
	err        error
}

func newContextBuilder(hint int) *contextBuilder {
	if hint < 4 {
		hint = 4
	}
	return &contextBuilder{kv: make(map[string]any, hint)}
}

// walkAttrs merges attrs into the context under the given dotted prefix.
func (b *contextBuilder) walkAttrs(prefix string, attrs []slog.Attr) {
	for _, a := range attrs {
		b.walkAttr(prefix, a)
	}
}

// walkAttr flattens one attr. Groups contribute their name as a dotted key
// segment; an empty group name merges children in place, matching slog's
// inline-group convention. The first error-valued attr becomes the record's
// exception and its key is dropped from the context.
func (b *contextBuilder) walkAttr(prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		children := a.Value.Group()
		next := prefix
		if a.Key != "" {
			next = prefix + a.Key + "."
		}
		for _, child := range children {
			b.walkAttr(next, child)
		}
		return
	}
	if a.Key == "" {
		return
	}

	if prefix == "" && a.Key == LoggerKey && a.Value.Kind() == slog.KindString {
		b.loggerName = a.Value.String()
		return
	}

	if b.err == nil {
		if err := extractError(a.Value); err != nil {
			b.err = err
			return
		}
	}

	if v := resolveValue(a.Value); v != nil {
		b.kv[prefix+a.Key] = v
	}
}

// resolveValue converts a resolved slog.Value into a JSON-ready Go value.
// Durations render as seconds so the conventional duration key stays
// numeric; times render as UTC RFC 3339. Maps and slices pass through
// untouched so the truncation walk can descend into them.
func resolveValue(v slog.Value) any {
	switch v.Kind() {
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().Seconds()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindString:
		return v.String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindGroup:
		return groupAttrsToMap(v.Group())
	case slog.KindAny:
		return resolveAnyValue(v.Any())
	default:
		return nil
	}
}

// groupAttrsToMap renders group attrs nested inside a value as a plain map,
// omitting blanks.
func groupAttrsToMap(attrs []slog.Attr) any {
	if len(attrs) == 0 {
		return nil
	}
	m := make(map[string]any, len(attrs))
	for _, a := range attrs {
		if a.Key == "" {
			continue
		}
		if v := resolveValue(a.Value.Resolve()); v != nil {
			m[a.Key] = v
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// resolveAnyValue unwraps common KindAny payloads to JSON-friendly forms.
// Errors past the record's first render as their message text.
func resolveAnyValue(val any) any {
	switch vt := val.(type) {
	case error:
		return vt.Error()
	case nil:
		return nil
	default:
		return val
	}
}

// joinGroups renders open group names as a dotted key prefix.
func joinGroups(groups []string) string {
	if len(groups) == 0 {
		return ""
	}
	return strings.Join(groups, ".") + "."
}
