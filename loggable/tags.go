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
	"fmt"
	"log/slog"
)

// tagFrame is one scope's worth of ambient tags. Positional labels render
// under the reserved _tags list; attrs merge flat into the context map.
type tagFrame struct {
	labels []string
	attrs  []slog.Attr
}

// Tagged returns a child context carrying an additional tag frame. Plain
// strings become positional labels, slog.Attr values become named tags, and
// anything else is formatted into a positional label. Frames accumulate:
// records emitted under the child context carry every enclosing frame's
// tags, inner frames overwriting outer ones on key collision.
//
// The frame's scope is the returned context. Code that never lets the child
// context escape has popped the frame by construction; there is no ambient
// stack to unwind and nothing for a panic to leave behind.
func Tagged(ctx context.Context, tags ...any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	var frame tagFrame
	for _, tag := range tags {
		switch v := tag.(type) {
		case slog.Attr:
			frame.attrs = append(frame.attrs, v)
		case string:
			frame.labels = append(frame.labels, v)
		case fmt.Stringer:
			frame.labels = append(frame.labels, v.String())
		default:
			frame.labels = append(frame.labels, fmt.Sprintf("%v", v))
		}
	}
	if len(frame.labels) == 0 && len(frame.attrs) == 0 {
		return ctx
	}

	parent := tagFramesFromContext(ctx)
	frames := make([]tagFrame, 0, len(parent)+1)
	frames = append(frames, parent...)
	frames = append(frames, frame)
	return context.WithValue(ctx, tagFramesContextKey, frames)
}

// WithTags runs fn under a context tagged with tags. The tag scope ends on
// every exit path: fn's error returns unchanged, and a panic inside fn
// propagates to the caller after the scope is gone, because the scope lives
// only in the context passed to fn.
func WithTags(ctx context.Context, fn func(context.Context) error, tags ...any) error {
	return fn(Tagged(ctx, tags...))
}

// tagFramesFromContext returns the enclosing tag frames, outermost first.
// The returned slice is shared; callers must not mutate it.
func tagFramesFromContext(ctx context.Context) []tagFrame {
	if ctx == nil {
		return nil
	}
	frames, _ := ctx.Value(tagFramesContextKey).([]tagFrame)
	return frames
}
