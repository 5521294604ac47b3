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
	"fmt"
	"strconv"
	"strings"
)

// Symbol is an enumeration atom: a string-backed token distinct from
// free-form text. Settings whose default is a Symbol coerce environment
// values to Symbol rather than string.
type Symbol string

// Converter parses a raw environment string into a setting's value. It runs
// only for environment-sourced values; defaults are stored as declared.
type Converter func(raw string) (any, error)

// SideEffect runs after every write to its setting, including the write made
// during initial resolution. Side effects must be idempotent-safe for the
// caller's purposes; the engine guarantees ordering, not idempotence.
type SideEffect func(value any)

// Hook runs after a namespace completes a configuration pass. Hooks receive
// the namespace so they can read sibling settings.
type Hook func(ns *Namespace)

// Kind identifies how a setting coerces environment strings. It is selected
// from the default value's type at declaration time; supplying a Converter
// forces KindCustom regardless of the default.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindSymbol
	KindCustom
)

// String returns the lower-case kind name.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindSymbol:
		return "symbol"
	case KindCustom:
		return "custom"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// kindForDefault classifies a default value. The boolean reports whether the
// type is supported without an explicit converter.
func kindForDefault(def any) (Kind, bool) {
	switch def.(type) {
	case nil, string:
		return KindString, true
	case int, int64:
		return KindInt, true
	case float64:
		return KindFloat, true
	case bool:
		return KindBool, true
	case Symbol:
		return KindSymbol, true
	default:
		return KindCustom, false
	}
}

// converterForKind returns the built-in converter for a kind. Every built-in
// converter maps an empty raw string to nil so a blank environment value
// resolves to absence no matter the declared type.
func converterForKind(k Kind) Converter {
	switch k {
	case KindInt:
		return convertInt
	case KindFloat:
		return convertFloat
	case KindBool:
		return convertBool
	case KindSymbol:
		return convertSymbol
	default:
		return convertString
	}
}

func convertString(raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	return raw, nil
}

func convertInt(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	i, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return i, nil
}

func convertFloat(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func convertBool(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	return strings.EqualFold(raw, "true"), nil
}

func convertSymbol(raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	return Symbol(raw), nil
}

// normalizeEmpty collapses empty string-like values to nil. It runs after
// conversion and applies uniformly to environment-sourced and default
// values.
func normalizeEmpty(v any) any {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
	case Symbol:
		if t == "" {
			return nil
		}
	}
	return v
}

var envKeyReplacer = strings.NewReplacer(".", "_", "-", "_", " ", "_")

// envKeyFor synthesizes the default environment key for a setting:
// NAMESPACE_NAME upper-cased, with separator punctuation folded to
// underscores.
func envKeyFor(namespaceKey, name string) string {
	return strings.ToUpper(envKeyReplacer.Replace(namespaceKey) + "_" + envKeyReplacer.Replace(name))
}

// setting pairs an immutable declaration with its live resolved value. The
// value is guarded by the owning namespace's mutex.
type setting struct {
	name       string
	def        any
	kind       Kind
	envKeys    []string
	convert    Converter
	sideEffect SideEffect

	value any
}

// newSetting compiles a declaration into a setting, selecting the kind and
// converter and synthesizing env key candidates. It fails before any
// accessor is installed when the default's type is unsupported.
func newSetting(namespaceKey string, spec settingSpec) (*setting, error) {
	s := &setting{
		name:       spec.name,
		def:        spec.def,
		sideEffect: spec.sideEffect,
	}

	if spec.converter != nil {
		s.kind = KindCustom
		s.convert = spec.converter
	} else {
		kind, ok := kindForDefault(spec.def)
		if !ok {
			return nil, &UnsupportedDefaultTypeError{
				Namespace: namespaceKey,
				Setting:   spec.name,
				Default:   spec.def,
			}
		}
		s.kind = kind
		s.convert = converterForKind(kind)
	}

	if len(spec.envKeys) > 0 {
		s.envKeys = append([]string(nil), spec.envKeys...)
	} else {
		s.envKeys = []string{envKeyFor(namespaceKey, spec.name)}
	}
	return s, nil
}
