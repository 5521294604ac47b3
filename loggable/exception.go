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
	"errors"
	"fmt"
	"log/slog"
)

// newException converts an error into its structured record form. The stack
// comes from the error itself when it implements stackTracer; otherwise
// StackTrace stays empty and the handler may fill in an ambient capture.
func newException(err error) *Exception {
	if err == nil {
		return nil
	}
	ex := &Exception{
		Type:    fmt.Sprintf("%T", err),
		Message: err.Error(),
	}
	var st stackTracer
	if errors.As(err, &st) {
		ex.StackTrace = formatFrames(st.StackTrace())
	}
	return ex
}

// extractError unwraps an error from a resolved slog.Value when possible.
func extractError(v slog.Value) error {
	if v.Kind() != slog.KindAny {
		return nil
	}
	if anyVal := v.Any(); anyVal != nil {
		if err, ok := anyVal.(error); ok {
			return err
		}
	}
	return nil
}
