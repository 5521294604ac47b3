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

package configurable

import (
	"errors"
	"fmt"
)

// ErrMissingBlock is returned by Declare when no declaration block is
// supplied. A namespace without a block has nothing to resolve, so the
// omission is treated as a programming error rather than an empty namespace.
var ErrMissingBlock = errors.New("configurable: declaration block required")

// UnsupportedDefaultTypeError reports a setting whose default value has a
// type the built-in converters cannot handle and which supplied no explicit
// converter. It is returned from Declare before any accessor for the setting
// is installed.
type UnsupportedDefaultTypeError struct {
	Namespace string
	Setting   string
	Default   any
}

// Error implements the error interface.
func (e *UnsupportedDefaultTypeError) Error() string {
	return fmt.Sprintf(
		"configurable: setting %s.%s has default of unsupported type %T and no converter",
		e.Namespace, e.Setting, e.Default,
	)
}

// UnknownSettingError reports a write to a setting name that was never
// declared in the namespace.
type UnknownSettingError struct {
	Namespace string
	Setting   string
}

// Error implements the error interface.
func (e *UnknownSettingError) Error() string {
	return fmt.Sprintf("configurable: namespace %s has no setting %q", e.Namespace, e.Setting)
}
