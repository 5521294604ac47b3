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
	"runtime"
	"strconv"
	"strings"
	"sync"
)

const maxStackFrames = 64

// stackTracer is implemented by errors that carry their origin stack as
// program counters. Errors wrapped around such an error are unwrapped with
// errors.As.
type stackTracer interface {
	StackTrace() []uintptr
}

// CaptureStack records the current goroutine's call stack as formatted
// "function (file:line)" frames, trimmed of runtime and logging internals
// so the first frame is the caller's code. Adapters use it to attach
// stacks at panic-recovery points.
func CaptureStack() []string {
	return captureStackFrames()
}

var stackPCPool = sync.Pool{
	New: func() any {
		buf := make([]uintptr, maxStackFrames)
		return &buf
	},
}

// captureStackFrames records the current goroutine's stack as formatted
// frame strings, trimming runtime and logging internals from the top.
func captureStackFrames() []string {
	bufPtr := stackPCPool.Get().(*[]uintptr)
	defer stackPCPool.Put(bufPtr)

	pcs := (*bufPtr)[:cap(*bufPtr)]
	n := runtime.Callers(0, pcs)
	if n == 0 {
		return nil
	}
	trimmed := trimInternalPCs(pcs[:n])
	if len(trimmed) == 0 {
		trimmed = pcs[:n]
	}
	return formatFrames(trimmed)
}

// formatFrames renders program counters as "function (file:line)" strings.
func formatFrames(pcs []uintptr) []string {
	if len(pcs) == 0 {
		return nil
	}
	if len(pcs) > maxStackFrames {
		pcs = pcs[:maxStackFrames]
	}

	out := make([]string, 0, len(pcs))
	frames := runtime.CallersFrames(pcs)
	for {
		frame, more := frames.Next()
		if frame.PC == 0 {
			break
		}
		if frame.Function == "" || frame.Function == "runtime.goexit" {
			if !more {
				break
			}
			continue
		}

		var sb strings.Builder
		sb.Grow(len(frame.Function) + len(frame.File) + 16)
		sb.WriteString(frame.Function)
		sb.WriteString(" (")
		sb.WriteString(frame.File)
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(frame.Line))
		sb.WriteByte(')')
		out = append(out, sb.String())

		if !more || len(out) >= maxStackFrames {
			break
		}
	}
	return out
}

// trimInternalPCs drops leading frames that belong to the runtime, slog, or
// this module, so captured stacks start at the caller's code.
func trimInternalPCs(pcs []uintptr) []uintptr {
	if len(pcs) == 0 {
		return pcs
	}
	frames := runtime.CallersFrames(pcs)
	skip := 0
	for {
		frame, more := frames.Next()
		if !isInternalFrame(frame.Function) {
			break
		}
		skip++
		if !more {
			return nil
		}
	}
	if skip == 0 {
		return pcs
	}
	return pcs[skip:]
}

func isInternalFrame(funcName string) bool {
	if funcName == "" {
		return false
	}
	if strings.HasPrefix(funcName, "runtime.") {
		return true
	}
	if strings.HasPrefix(funcName, "log/slog.") {
		return true
	}
	return strings.HasPrefix(funcName, "github.com/lithictech/appydays/loggable.") ||
		strings.HasPrefix(funcName, "github.com/lithictech/appydays/loggable/")
}
