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

// settingSpec captures one Setting call before compilation. Specs are frozen
// once Declare returns; converters and defaults never change afterward.
type settingSpec struct {
	name       string
	def        any
	envKeys    []string
	converter  Converter
	sideEffect SideEffect
}

// SettingOption adjusts a single setting declaration.
type SettingOption func(*settingSpec)

// WithEnvKeys replaces the synthesized environment key with explicit
// candidates, scanned in order. The first key present in the environment
// wins, even when its value is blank.
func WithEnvKeys(keys ...string) SettingOption {
	return func(spec *settingSpec) {
		spec.envKeys = append(spec.envKeys[:0], keys...)
	}
}

// WithConverter supplies an explicit converter for environment values. Any
// converter makes the setting KindCustom, which also lifts the restriction
// on the default's type.
func WithConverter(fn Converter) SettingOption {
	return func(spec *settingSpec) {
		spec.converter = fn
	}
}

// WithSideEffect registers a callback invoked with the setting's value on
// every write, including the initial resolution.
func WithSideEffect(fn SideEffect) SettingOption {
	return func(spec *settingSpec) {
		spec.sideEffect = fn
	}
}

// Builder accumulates the declarations made inside a Declare block.
type Builder struct {
	specs []settingSpec
	hooks []Hook
}

// Setting declares one environment-bindable value. Resolution order and
// coercion rules are documented on Declare.
func (b *Builder) Setting(name string, def any, opts ...SettingOption) {
	spec := settingSpec{name: name, def: def}
	for _, opt := range opts {
		if opt != nil {
			opt(&spec)
		}
	}
	b.specs = append(b.specs, spec)
}

// AfterConfigured registers a hook to run after every configuration pass:
// the initial declaration, every Reset, and every explicit
// RunAfterConfiguredHooks call. Hooks run in registration order.
func (b *Builder) AfterConfigured(fn Hook) {
	if fn != nil {
		b.hooks = append(b.hooks, fn)
	}
}
