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
	"os"
	"sync"
)

// LookupFunc reads one environment key, reporting the value and whether the
// key is present. A present-but-blank value is distinct from an absent key.
type LookupFunc func(key string) (string, bool)

// RegistryOption configures a Registry at construction.
type RegistryOption func(*Registry)

// WithLookup replaces the environment source. The default is os.LookupEnv;
// tests typically install a map-backed lookup instead of mutating the
// process environment.
func WithLookup(fn LookupFunc) RegistryOption {
	return func(r *Registry) {
		if fn != nil {
			r.lookup = fn
		}
	}
}

// Registry holds declared namespaces keyed by their namespace key. Each
// namespace belongs to exactly one declaring owner; the registry never
// merges or shares settings across namespaces.
type Registry struct {
	mu         sync.RWMutex
	lookup     LookupFunc
	namespaces map[string]*Namespace
}

// NewRegistry constructs an empty registry reading from the process
// environment unless WithLookup overrides it.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		lookup:     os.LookupEnv,
		namespaces: make(map[string]*Namespace),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used by the package-level
// Declare and Lookup helpers.
func Default() *Registry {
	return defaultRegistry
}

// Declare registers a namespace on the default registry.
func Declare(key string, build func(*Builder)) (*Namespace, error) {
	return defaultRegistry.Declare(key, build)
}

// Lookup fetches a previously declared namespace from the default registry.
func Lookup(key string) (*Namespace, bool) {
	return defaultRegistry.Namespace(key)
}

// Declare runs the declaration block, resolves every declared setting, and
// publishes the namespace under key. For each setting, in declaration order:
//
//  1. Candidate environment keys are the explicit WithEnvKeys list or the
//     synthesized NAMESPACE_NAME key.
//  2. The first candidate present in the environment supplies the raw value;
//     when none is present the default is used as declared, unconverted.
//  3. Environment-sourced strings pass through the setting's converter.
//  4. Empty string results collapse to nil, whether from environment or
//     default.
//  5. The resolved value is stored through the write path, so side effects
//     fire once during initial resolution.
//
// After all settings resolve, the after-configured hooks run once in
// registration order. Declare fails with ErrMissingBlock when build is nil,
// with *UnsupportedDefaultTypeError for an inconvertible default, and with a
// wrapped parse error when an environment value cannot be converted;
// declaration failures are fatal and leave no namespace registered.
func (r *Registry) Declare(key string, build func(*Builder)) (*Namespace, error) {
	if build == nil {
		return nil, ErrMissingBlock
	}

	r.mu.RLock()
	_, exists := r.namespaces[key]
	lookup := r.lookup
	r.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("configurable: namespace %q already declared", key)
	}

	b := &Builder{}
	build(b)

	ns := &Namespace{
		key:    key,
		lookup: lookup,
		byName: make(map[string]*setting, len(b.specs)),
		hooks:  b.hooks,
	}
	for _, spec := range b.specs {
		if _, dup := ns.byName[spec.name]; dup {
			return nil, fmt.Errorf("configurable: setting %q declared twice in namespace %q", spec.name, key)
		}
		s, err := newSetting(key, spec)
		if err != nil {
			return nil, err
		}
		ns.byName[spec.name] = s
		ns.order = append(ns.order, s)
	}

	for _, s := range ns.order {
		v, err := ns.resolveFresh(s)
		if err != nil {
			return nil, err
		}
		ns.write(s, v)
	}

	r.mu.Lock()
	if _, raced := r.namespaces[key]; raced {
		r.mu.Unlock()
		return nil, fmt.Errorf("configurable: namespace %q already declared", key)
	}
	r.namespaces[key] = ns
	r.mu.Unlock()

	ns.RunAfterConfiguredHooks()
	return ns, nil
}

// Namespace fetches a declared namespace by key.
func (r *Registry) Namespace(key string) (*Namespace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ns, ok := r.namespaces[key]
	return ns, ok
}

// Namespace is one owner's registry of resolved settings. Get and Set are
// safe for concurrent use, though settings are expected to be configured
// before concurrent traffic begins.
type Namespace struct {
	key    string
	lookup LookupFunc
	hooks  []Hook

	mu     sync.RWMutex
	order  []*setting
	byName map[string]*setting
}

// Key returns the namespace key used for env prefixes and registry lookup.
func (ns *Namespace) Key() string {
	return ns.key
}

// SettingNames returns the declared setting names in declaration order.
func (ns *Namespace) SettingNames() []string {
	names := make([]string, len(ns.order))
	for i, s := range ns.order {
		names[i] = s.name
	}
	return names
}

// resolveFresh computes a setting's value from the live environment, falling
// back to the declared default. The environment is consulted on every call;
// nothing caches the first resolution.
func (ns *Namespace) resolveFresh(s *setting) (any, error) {
	for _, key := range s.envKeys {
		raw, ok := ns.lookup(key)
		if !ok {
			continue
		}
		v, err := s.convert(raw)
		if err != nil {
			return nil, fmt.Errorf("configurable: convert %s for %s.%s: %w", key, ns.key, s.name, err)
		}
		return normalizeEmpty(v), nil
	}
	return normalizeEmpty(s.def), nil
}

// write stores a value and fires the setting's side effect. This is the
// single write path shared by initial resolution, Set, and Reset.
func (ns *Namespace) write(s *setting, v any) {
	ns.mu.Lock()
	s.value = v
	ns.mu.Unlock()
	if s.sideEffect != nil {
		s.sideEffect(v)
	}
}

// Get returns the current resolved value, or nil for undeclared names.
func (ns *Namespace) Get(name string) any {
	v, _ := ns.GetOK(name)
	return v
}

// GetOK returns the current resolved value and whether the name is declared.
func (ns *Namespace) GetOK(name string) (any, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	s, ok := ns.byName[name]
	if !ok {
		return nil, false
	}
	return s.value, true
}

// Set stores value verbatim: no conversion and no empty-string collapsing.
// The setting's side effect is re-invoked with the new value.
func (ns *Namespace) Set(name string, value any) error {
	ns.mu.RLock()
	s, ok := ns.byName[name]
	ns.mu.RUnlock()
	if !ok {
		return &UnknownSettingError{Namespace: ns.key, Setting: name}
	}
	ns.write(s, value)
	return nil
}

// Reset restores every setting in declaration order: to overrides[name] when
// present, otherwise to a value recomputed fresh from the environment and
// default exactly as Declare computed it. Every restored value goes through
// the write path, so side effects fire, and the after-configured hooks run
// once at the end. Unknown override keys are ignored.
//
// The environment is re-read on every Reset rather than replayed from the
// first resolution, so a reset after changing an environment variable picks
// up the new value.
func (ns *Namespace) Reset(overrides map[string]any) error {
	ns.mu.RLock()
	order := append([]*setting(nil), ns.order...)
	ns.mu.RUnlock()

	var errs []error
	for _, s := range order {
		if v, ok := overrides[s.name]; ok {
			ns.write(s, v)
			continue
		}
		v, err := ns.resolveFresh(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ns.write(s, v)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	ns.RunAfterConfiguredHooks()
	return nil
}

// RunAfterConfiguredHooks re-invokes the namespace's hooks in registration
// order without touching setting values. Use it when a hook's side effects
// must re-fire independent of value changes.
func (ns *Namespace) RunAfterConfiguredHooks() {
	for _, h := range ns.hooks {
		h(ns)
	}
}

// Values returns a snapshot of the namespace as a plain map.
func (ns *Namespace) Values() map[string]any {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	out := make(map[string]any, len(ns.order))
	for _, s := range ns.order {
		out[s.name] = s.value
	}
	return out
}

// String returns the setting as a string. Symbols convert to their text;
// nil returns ""; other values format with %v.
func (ns *Namespace) String(name string) string {
	switch v := ns.Get(name).(type) {
	case nil:
		return ""
	case string:
		return v
	case Symbol:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Int returns the setting as an int, or 0 when the value has no integer
// representation.
func (ns *Namespace) Int(name string) int {
	switch v := ns.Get(name).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Float64 returns the setting as a float64, or 0 when the value is not
// numeric.
func (ns *Namespace) Float64(name string) float64 {
	switch v := ns.Get(name).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// Bool returns the setting as a bool, or false for non-boolean values.
func (ns *Namespace) Bool(name string) bool {
	v, _ := ns.Get(name).(bool)
	return v
}

// Symbol returns the setting as a Symbol. Strings convert; other values
// return the empty Symbol.
func (ns *Namespace) Symbol(name string) Symbol {
	switch v := ns.Get(name).(type) {
	case Symbol:
		return v
	case string:
		return Symbol(v)
	default:
		return ""
	}
}
