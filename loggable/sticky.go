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
	"context"
	"log/slog"
	"sync"
)

// stickyTags is the single-level mutable tag container scoped to one unit
// of work. Unlike tag frames it is written after creation, so access is
// mutex-guarded.
type stickyTags struct {
	mu    sync.Mutex
	attrs []slog.Attr
}

func (st *stickyTags) set(attrs []slog.Attr) {
	st.mu.Lock()
	st.attrs = append(st.attrs, attrs...)
	st.mu.Unlock()
}

func (st *stickyTags) clear() {
	st.mu.Lock()
	st.attrs = nil
	st.mu.Unlock()
}

func (st *stickyTags) snapshot() []slog.Attr {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.attrs) == 0 {
		return nil
	}
	return append([]slog.Attr(nil), st.attrs...)
}

// ContextWithStickyTags returns a child context with a fresh, empty sticky
// tag container. Units of work (an HTTP request, one job run) each install
// their own container, so tags set during one unit can never leak into the
// next even when contexts or goroutines are reused.
func ContextWithStickyTags(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, stickyContextKey, &stickyTags{})
}

// SetStickyTags adds tags that stay attached to every record emitted under
// ctx until the unit of work ends or ClearStickyTags runs. It is a no-op
// when no container was installed with ContextWithStickyTags.
func SetStickyTags(ctx context.Context, attrs ...slog.Attr) {
	if st := stickyFromContext(ctx); st != nil && len(attrs) > 0 {
		st.set(attrs)
	}
}

// SetRequestTags attaches tags for the remainder of the current HTTP
// request. It is SetStickyTags under the name call sites in request
// handlers conventionally use.
func SetRequestTags(ctx context.Context, attrs ...slog.Attr) {
	SetStickyTags(ctx, attrs...)
}

// SetJobTags attaches tags for the remainder of the current background job
// run.
func SetJobTags(ctx context.Context, attrs ...slog.Attr) {
	SetStickyTags(ctx, attrs...)
}

// ClearStickyTags empties the current unit of work's sticky container.
// Unit-of-work wrappers call it when the unit finishes; the container
// installed for the next unit starts empty regardless.
func ClearStickyTags(ctx context.Context) {
	if st := stickyFromContext(ctx); st != nil {
		st.clear()
	}
}

func stickyFromContext(ctx context.Context) *stickyTags {
	if ctx == nil {
		return nil
	}
	st, _ := ctx.Value(stickyContextKey).(*stickyTags)
	return st
}
