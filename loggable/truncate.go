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
	"fmt"
	"strconv"
	"strings"
)

// Defaults for the size safeguards. Message lengths are counted on the
// serialized record; string lengths are counted in runes.
const (
	DefaultMaxMessageLength         = 3072
	DefaultMaxStringLength          = 300
	DefaultMessageTruncateOver      = 2000
	DefaultMessageTruncationContext = 200
)

const (
	ellipsis = "..."
	// keptStackFrames is how many frames survive around the elision marker
	// when a stack_trace array is shortened: two from the top, the marker,
	// two from the bottom.
	keptStackFrames = 4
)

// Budget bounds the serialized size of a record. Truncation only engages
// when the serialized record exceeds MaxMessageLength; under that limit
// records pass through byte-identical.
type Budget struct {
	MaxMessageLength int
	MaxStringLength  int
}

// DefaultBudget returns the stock budget.
func DefaultBudget() Budget {
	return Budget{
		MaxMessageLength: DefaultMaxMessageLength,
		MaxStringLength:  DefaultMaxStringLength,
	}
}

// StringTruncator shortens one over-long string. Implementations must be
// pure and must never panic; the default keeps the first max runes and
// appends an ellipsis.
type StringTruncator func(s string, max int) string

// TruncateString is the default shorten policy: the first max runes of s
// followed by "...". Strings of max runes or fewer return unchanged.
func TruncateString(s string, max int) string {
	if max <= 0 {
		return ellipsis
	}
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + ellipsis
}

// truncateContext walks a record's context in a single pass, shortening
// over-long strings and eliding the middle of large stack_trace arrays.
// Scalars and unrecognized types pass through untouched; the walk never
// fails. The result is best-effort: no second pass runs if the record is
// still over budget afterward.
func truncateContext(m map[string]any, max int, shorten StringTruncator) {
	for k, v := range m {
		m[k] = truncateValue(k, v, max, shorten)
	}
}

func truncateValue(key string, v any, max int, shorten StringTruncator) any {
	switch t := v.(type) {
	case string:
		return shortenString(t, max, shorten)
	case map[string]any:
		truncateContext(t, max, shorten)
		return t
	case []any:
		if key == StackTraceKey {
			return elideStackFrames(t, max, shorten)
		}
		for i := range t {
			t[i] = truncateValue("", t[i], max, shorten)
		}
		return t
	case []string:
		anys := make([]any, len(t))
		for i, s := range t {
			anys[i] = s
		}
		return truncateValue(key, anys, max, shorten)
	default:
		return v
	}
}

// elideStackFrames shortens a frame array longer than keptStackFrames down
// to exactly five elements: the first two frames, a "skipped {n} frames"
// marker, and the last two frames. Shorter arrays pass through with only
// per-frame string shortening applied.
func elideStackFrames(frames []any, max int, shorten StringTruncator) []any {
	for i := range frames {
		frames[i] = truncateValue("", frames[i], max, shorten)
	}
	if len(frames) <= keptStackFrames {
		return frames
	}
	skipped := len(frames) - keptStackFrames
	out := make([]any, 0, keptStackFrames+1)
	out = append(out, frames[0], frames[1])
	out = append(out, "skipped "+strconv.Itoa(skipped)+" frames")
	out = append(out, frames[len(frames)-2], frames[len(frames)-1])
	return out
}

// elideStringFrames is elideStackFrames for a typed frame slice, used on
// exception stacks so they keep serializing as string arrays.
func elideStringFrames(frames []string, max int, shorten StringTruncator) []string {
	for i := range frames {
		frames[i] = shortenString(frames[i], max, shorten)
	}
	if len(frames) <= keptStackFrames {
		return frames
	}
	skipped := len(frames) - keptStackFrames
	out := make([]string, 0, keptStackFrames+1)
	out = append(out, frames[0], frames[1])
	out = append(out, "skipped "+strconv.Itoa(skipped)+" frames")
	out = append(out, frames[len(frames)-2], frames[len(frames)-1])
	return out
}

func shortenString(s string, max int, shorten StringTruncator) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if shorten == nil {
		shorten = TruncateString
	}
	return shorten(s, max)
}

// MessagePolicy bounds the record's message text independently of the
// serialized-size budget. Messages longer than TruncateOver keep
// TruncationContext runes from each end around an elision marker. When
// FullMessageLevel is set, a truncated message is additionally emitted
// whole as a separate record at that level.
type MessagePolicy struct {
	TruncateOver      int
	TruncationContext int
}

// DefaultMessagePolicy returns the stock message policy.
func DefaultMessagePolicy() MessagePolicy {
	return MessagePolicy{
		TruncateOver:      DefaultMessageTruncateOver,
		TruncationContext: DefaultMessageTruncationContext,
	}
}

const middleMarkerFormat = " [truncated %d chars] "

// TruncateMiddle applies the message policy to s: when s exceeds over
// runes, the middle is replaced with a marker naming the elided rune count,
// keeping keep runes from the start and from the end.
func TruncateMiddle(s string, over, keep int) string {
	if over <= 0 || len(s) <= over {
		return s
	}
	runes := []rune(s)
	if len(runes) <= over {
		return s
	}
	if keep < 0 {
		keep = 0
	}
	if keep*2 >= len(runes) {
		return s
	}
	elided := len(runes) - keep*2
	var sb strings.Builder
	sb.Grow(keep*2 + len(middleMarkerFormat) + 8)
	sb.WriteString(string(runes[:keep]))
	fmt.Fprintf(&sb, middleMarkerFormat, elided)
	sb.WriteString(string(runes[len(runes)-keep:]))
	return sb.String()
}
