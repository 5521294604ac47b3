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

package configurable_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/lithictech/appydays/configurable"
)

// mapLookup builds a LookupFunc backed by a plain map so tests control the
// environment without touching the process.
func mapLookup(env map[string]string) configurable.LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func newRegistry(env map[string]string) *configurable.Registry {
	return configurable.NewRegistry(configurable.WithLookup(mapLookup(env)))
}

// TestDeclareResolvesTypedValuesFromEnv checks that environment strings
// coerce to the declared default's type, not to strings.
func TestDeclareResolvesTypedValuesFromEnv(t *testing.T) {
	reg := newRegistry(map[string]string{
		"MYCLASS_INTVAL":  "1",
		"MYCLASS_BOOLVAL": "false",
	})

	ns, err := reg.Declare("myclass", func(b *configurable.Builder) {
		b.Setting("intval", 0)
		b.Setting("boolval", true)
	})
	if err != nil {
		t.Fatalf("Declare() error = %v", err)
	}

	if got, want := ns.Get("intval"), any(1); got != want {
		t.Errorf("Get(intval) = %#v, want %#v", got, want)
	}
	if got, want := ns.Get("boolval"), any(false); got != want {
		t.Errorf("Get(boolval) = %#v, want %#v", got, want)
	}
	if got := ns.Int("intval"); got != 1 {
		t.Errorf("Int(intval) = %d, want 1", got)
	}
	if ns.Bool("boolval") {
		t.Error("Bool(boolval) = true, want false")
	}
}

// TestDeclareUsesDefaultsWhenEnvAbsent verifies defaults pass through
// without conversion when no candidate key is present.
func TestDeclareUsesDefaultsWhenEnvAbsent(t *testing.T) {
	reg := newRegistry(nil)

	ns, err := reg.Declare("svc", func(b *configurable.Builder) {
		b.Setting("port", 8080)
		b.Setting("endpoint", "https://api.example.com")
		b.Setting("ratio", 0.25)
		b.Setting("mode", configurable.Symbol("plain"))
		b.Setting("verbose", true)
	})
	if err != nil {
		t.Fatalf("Declare() error = %v", err)
	}

	if got := ns.Int("port"); got != 8080 {
		t.Errorf("Int(port) = %d, want 8080", got)
	}
	if got := ns.String("endpoint"); got != "https://api.example.com" {
		t.Errorf("String(endpoint) = %q", got)
	}
	if got := ns.Float64("ratio"); got != 0.25 {
		t.Errorf("Float64(ratio) = %v, want 0.25", got)
	}
	if got := ns.Symbol("mode"); got != "plain" {
		t.Errorf("Symbol(mode) = %q, want plain", got)
	}
	if !ns.Bool("verbose") {
		t.Error("Bool(verbose) = false, want true")
	}
}

// TestDeclareCoercionByKind exercises the built-in converter for every
// supported default type.
func TestDeclareCoercionByKind(t *testing.T) {
	tests := []struct {
		name string
		def  any
		raw  string
		want any
	}{
		{name: "string", def: "fallback", raw: "hello", want: "hello"},
		{name: "absent default acts as string", def: nil, raw: "hello", want: "hello"},
		{name: "int", def: 2, raw: "5", want: 5},
		{name: "int with spaces", def: 2, raw: " 5 ", want: 5},
		{name: "float", def: 1.5, raw: "2.25", want: 2.25},
		{name: "bool true upper", def: false, raw: "TRUE", want: true},
		{name: "bool true mixed", def: false, raw: "True", want: true},
		{name: "bool false literal", def: true, raw: "false", want: false},
		{name: "bool non-true word", def: true, raw: "banana", want: false},
		{name: "symbol", def: configurable.Symbol("red"), raw: "blue", want: configurable.Symbol("blue")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newRegistry(map[string]string{"NS_VALUE": tt.raw})
			ns, err := reg.Declare("ns", func(b *configurable.Builder) {
				b.Setting("value", tt.def)
			})
			if err != nil {
				t.Fatalf("Declare() error = %v", err)
			}
			if got := ns.Get("value"); got != tt.want {
				t.Errorf("Get(value) = %#v (%T), want %#v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

// TestEmptyEnvValueResolvesToAbsence checks the uniform blank rule: a
// present-but-empty environment value resolves to nil for every kind.
func TestEmptyEnvValueResolvesToAbsence(t *testing.T) {
	defaults := []struct {
		name string
		def  any
	}{
		{name: "string", def: "fallback"},
		{name: "int", def: 7},
		{name: "float", def: 1.5},
		{name: "bool", def: true},
		{name: "symbol", def: configurable.Symbol("red")},
	}

	for _, tt := range defaults {
		t.Run(tt.name, func(t *testing.T) {
			reg := newRegistry(map[string]string{"NS_VALUE": ""})
			ns, err := reg.Declare("ns", func(b *configurable.Builder) {
				b.Setting("value", tt.def)
			})
			if err != nil {
				t.Fatalf("Declare() error = %v", err)
			}
			if got := ns.Get("value"); got != nil {
				t.Errorf("Get(value) = %#v, want nil", got)
			}
		})
	}
}

// TestBlankDefaultsCollapseToAbsence verifies the post-conversion empty
// rule also applies to declared defaults.
func TestBlankDefaultsCollapseToAbsence(t *testing.T) {
	reg := newRegistry(nil)
	ns, err := reg.Declare("ns", func(b *configurable.Builder) {
		b.Setting("s", "")
		b.Setting("sym", configurable.Symbol(""))
	})
	if err != nil {
		t.Fatalf("Declare() error = %v", err)
	}
	if got := ns.Get("s"); got != nil {
		t.Errorf("Get(s) = %#v, want nil", got)
	}
	if got := ns.Get("sym"); got != nil {
		t.Errorf("Get(sym) = %#v, want nil", got)
	}
}

// TestEnvKeyFallbackOrder checks multi-key scanning: the first present
// candidate wins, even when its value is blank.
func TestEnvKeyFallbackOrder(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want any
	}{
		{
			name: "second key used when first absent",
			env:  map[string]string{"SECOND": "two"},
			want: "two",
		},
		{
			name: "first key wins when both present",
			env:  map[string]string{"FIRST": "one", "SECOND": "two"},
			want: "one",
		},
		{
			name: "blank first key still wins and resolves absent",
			env:  map[string]string{"FIRST": "", "SECOND": "two"},
			want: nil,
		},
		{
			name: "default when neither present",
			env:  nil,
			want: "fallback",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newRegistry(tt.env)
			ns, err := reg.Declare("ns", func(b *configurable.Builder) {
				b.Setting("value", "fallback", configurable.WithEnvKeys("FIRST", "SECOND"))
			})
			if err != nil {
				t.Fatalf("Declare() error = %v", err)
			}
			if got := ns.Get("value"); got != tt.want {
				t.Errorf("Get(value) = %#v, want %#v", got, tt.want)
			}
		})
	}
}

// TestDeclareWithoutBlockFails verifies the missing-block error.
func TestDeclareWithoutBlockFails(t *testing.T) {
	reg := newRegistry(nil)
	if _, err := reg.Declare("ns", nil); !errors.Is(err, configurable.ErrMissingBlock) {
		t.Fatalf("Declare(nil block) error = %v, want ErrMissingBlock", err)
	}
}

// TestDeclareUnsupportedDefaultFails checks that an inconvertible default
// without a converter aborts declaration before any setting is exposed.
func TestDeclareUnsupportedDefaultFails(t *testing.T) {
	reg := newRegistry(nil)
	_, err := reg.Declare("ns", func(b *configurable.Builder) {
		b.Setting("items", []string{})
	})

	var unsupported *configurable.UnsupportedDefaultTypeError
	if !errors.As(err, &unsupported) {
		t.Fatalf("Declare() error = %v, want UnsupportedDefaultTypeError", err)
	}
	if unsupported.Namespace != "ns" || unsupported.Setting != "items" {
		t.Errorf("error fields = %q.%q, want ns.items", unsupported.Namespace, unsupported.Setting)
	}
	if _, ok := reg.Namespace("ns"); ok {
		t.Error("Namespace(ns) registered despite failed declaration")
	}
}

// TestDeclareConverterLiftsDefaultRestriction verifies an explicit
// converter permits otherwise-unsupported default types.
func TestDeclareConverterLiftsDefaultRestriction(t *testing.T) {
	split := func(raw string) (any, error) {
		if raw == "" {
			return nil, nil
		}
		return strings.Split(raw, ","), nil
	}

	reg := newRegistry(map[string]string{"NS_ITEMS": "a,b,c"})
	ns, err := reg.Declare("ns", func(b *configurable.Builder) {
		b.Setting("items", []string{"x"}, configurable.WithConverter(split))
		b.Setting("fallback_items", []string{"x"}, configurable.WithConverter(split))
	})
	if err != nil {
		t.Fatalf("Declare() error = %v", err)
	}

	got, ok := ns.Get("items").([]string)
	if !ok || len(got) != 3 || got[0] != "a" {
		t.Errorf("Get(items) = %#v, want [a b c]", ns.Get("items"))
	}
	def, ok := ns.Get("fallback_items").([]string)
	if !ok || len(def) != 1 || def[0] != "x" {
		t.Errorf("Get(fallback_items) = %#v, want declared default", ns.Get("fallback_items"))
	}
}

// TestDeclareConverterFailureAborts verifies unparsable environment values
// fail declaration with a descriptive wrapped error.
func TestDeclareConverterFailureAborts(t *testing.T) {
	reg := newRegistry(map[string]string{"NS_COUNT": "not-a-number"})
	_, err := reg.Declare("ns", func(b *configurable.Builder) {
		b.Setting("count", 3)
	})
	if err == nil {
		t.Fatal("Declare() error = nil, want parse failure")
	}
	if !strings.Contains(err.Error(), "ns.count") {
		t.Errorf("Declare() error = %v, want mention of ns.count", err)
	}
	if _, ok := reg.Namespace("ns"); ok {
		t.Error("Namespace(ns) registered despite failed declaration")
	}
}

// TestSetStoresVerbatimAndFiresSideEffect checks the write accessor: no
// conversion, no blank collapsing, side effect re-invoked per write.
func TestSetStoresVerbatimAndFiresSideEffect(t *testing.T) {
	var seen []any
	reg := newRegistry(map[string]string{"NS_COUNT": "4"})
	ns, err := reg.Declare("ns", func(b *configurable.Builder) {
		b.Setting("count", 0, configurable.WithSideEffect(func(v any) {
			seen = append(seen, v)
		}))
	})
	if err != nil {
		t.Fatalf("Declare() error = %v", err)
	}
	if len(seen) != 1 || seen[0] != 4 {
		t.Fatalf("side effect after declare = %#v, want [4]", seen)
	}

	if err := ns.Set("count", "verbatim"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := ns.Get("count"); got != "verbatim" {
		t.Errorf("Get(count) = %#v, want unconverted string", got)
	}
	if len(seen) != 2 || seen[1] != "verbatim" {
		t.Errorf("side effect after Set = %#v, want second call with verbatim", seen)
	}

	var unknown *configurable.UnknownSettingError
	if err := ns.Set("missing", 1); !errors.As(err, &unknown) {
		t.Fatalf("Set(missing) error = %v, want UnknownSettingError", err)
	}
}

// TestAfterConfiguredHookInvocationCount verifies the deterministic hook
// count: one initial run plus one per reset or explicit re-run.
func TestAfterConfiguredHookInvocationCount(t *testing.T) {
	var runs int
	reg := newRegistry(nil)
	ns, err := reg.Declare("ns", func(b *configurable.Builder) {
		b.Setting("value", "v")
		b.AfterConfigured(func(*configurable.Namespace) { runs++ })
	})
	if err != nil {
		t.Fatalf("Declare() error = %v", err)
	}
	if runs != 1 {
		t.Fatalf("hook runs after declare = %d, want 1", runs)
	}

	if err := ns.Reset(nil); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if err := ns.Reset(map[string]any{"value": "override"}); err != nil {
		t.Fatalf("Reset(overrides) error = %v", err)
	}
	ns.RunAfterConfiguredHooks()

	if runs != 4 {
		t.Errorf("hook runs = %d, want 4 (declare + 2 resets + 1 rerun)", runs)
	}
}

// TestAfterConfiguredHooksRunInOrderAndReadSiblings checks hook ordering
// and that hooks can read sibling settings through the namespace.
func TestAfterConfiguredHooksRunInOrderAndReadSiblings(t *testing.T) {
	var order []string
	var derived string

	reg := newRegistry(map[string]string{"SVC_HOST": "example.com", "SVC_PORT": "9000"})
	_, err := reg.Declare("svc", func(b *configurable.Builder) {
		b.Setting("host", "localhost")
		b.Setting("port", 80)
		b.AfterConfigured(func(ns *configurable.Namespace) {
			order = append(order, "first")
			derived = fmt.Sprintf("%s:%d", ns.String("host"), ns.Int("port"))
		})
		b.AfterConfigured(func(*configurable.Namespace) {
			order = append(order, "second")
		})
	})
	if err != nil {
		t.Fatalf("Declare() error = %v", err)
	}

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("hook order = %v, want [first second]", order)
	}
	if derived != "example.com:9000" {
		t.Errorf("derived = %q, want example.com:9000", derived)
	}
}

// TestResetRestoresFreshResolution verifies Reset recomputes from the live
// environment rather than replaying the first resolution, and that manual
// writes are discarded.
func TestResetRestoresFreshResolution(t *testing.T) {
	env := map[string]string{"NS_COUNT": "1"}
	reg := newRegistry(env)
	ns, err := reg.Declare("ns", func(b *configurable.Builder) {
		b.Setting("count", 0)
		b.Setting("label", "default-label")
	})
	if err != nil {
		t.Fatalf("Declare() error = %v", err)
	}

	if err := ns.Set("count", 99); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := ns.Set("label", "scribbled"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if err := ns.Reset(nil); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if got := ns.Int("count"); got != 1 {
		t.Errorf("Int(count) after reset = %d, want 1", got)
	}
	if got := ns.String("label"); got != "default-label" {
		t.Errorf("String(label) after reset = %q, want default-label", got)
	}

	// The environment is consulted fresh, so a change between resets shows up.
	env["NS_COUNT"] = "7"
	if err := ns.Reset(nil); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if got := ns.Int("count"); got != 7 {
		t.Errorf("Int(count) after env change = %d, want 7", got)
	}
}

// TestResetOverridesExactlyNamedSettings verifies override precision: the
// named setting takes the override, every other setting re-resolves.
func TestResetOverridesExactlyNamedSettings(t *testing.T) {
	reg := newRegistry(map[string]string{"NS_A": "1", "NS_B": "2"})
	ns, err := reg.Declare("ns", func(b *configurable.Builder) {
		b.Setting("a", 0)
		b.Setting("b", 0)
	})
	if err != nil {
		t.Fatalf("Declare() error = %v", err)
	}

	if err := ns.Set("a", 50); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := ns.Set("b", 60); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if err := ns.Reset(map[string]any{"a": 42, "ignored": true}); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if got := ns.Get("a"); got != 42 {
		t.Errorf("Get(a) = %#v, want override 42", got)
	}
	if got := ns.Int("b"); got != 2 {
		t.Errorf("Int(b) = %d, want re-resolved 2", got)
	}
}

// TestResetFiresSideEffects verifies every restored value passes through
// the write path.
func TestResetFiresSideEffects(t *testing.T) {
	var seen []any
	reg := newRegistry(map[string]string{"NS_COUNT": "3"})
	ns, err := reg.Declare("ns", func(b *configurable.Builder) {
		b.Setting("count", 0, configurable.WithSideEffect(func(v any) {
			seen = append(seen, v)
		}))
	})
	if err != nil {
		t.Fatalf("Declare() error = %v", err)
	}

	if err := ns.Reset(map[string]any{"count": 11}); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if len(seen) != 2 || seen[1] != 11 {
		t.Errorf("side effect calls = %#v, want [3 11]", seen)
	}
}

// TestDeclareRejectsDuplicates covers redeclared namespaces and duplicate
// setting names within one block.
func TestDeclareRejectsDuplicates(t *testing.T) {
	reg := newRegistry(nil)
	declare := func() error {
		_, err := reg.Declare("ns", func(b *configurable.Builder) {
			b.Setting("value", "v")
		})
		return err
	}
	if err := declare(); err != nil {
		t.Fatalf("first Declare() error = %v", err)
	}
	if err := declare(); err == nil {
		t.Fatal("second Declare() error = nil, want already-declared failure")
	}

	_, err := reg.Declare("other", func(b *configurable.Builder) {
		b.Setting("dup", 1)
		b.Setting("dup", 2)
	})
	if err == nil {
		t.Fatal("Declare() with duplicate setting = nil error, want failure")
	}
}

// TestDefaultRegistryReadsProcessEnv exercises the package-level helpers
// against the real environment via t.Setenv.
func TestDefaultRegistryReadsProcessEnv(t *testing.T) {
	t.Setenv("WIDGETSVC_LIMIT", "12")

	ns, err := configurable.Declare("widgetsvc", func(b *configurable.Builder) {
		b.Setting("limit", 5)
	})
	if err != nil {
		t.Fatalf("Declare() error = %v", err)
	}
	if got := ns.Int("limit"); got != 12 {
		t.Errorf("Int(limit) = %d, want 12", got)
	}

	looked, ok := configurable.Lookup("widgetsvc")
	if !ok || looked != ns {
		t.Error("Lookup(widgetsvc) did not return the declared namespace")
	}
}

// TestSettingNamesAndValuesSnapshot checks declaration-order bookkeeping.
func TestSettingNamesAndValuesSnapshot(t *testing.T) {
	reg := newRegistry(nil)
	ns, err := reg.Declare("ns", func(b *configurable.Builder) {
		b.Setting("zeta", 1)
		b.Setting("alpha", 2)
	})
	if err != nil {
		t.Fatalf("Declare() error = %v", err)
	}

	names := ns.SettingNames()
	if len(names) != 2 || names[0] != "zeta" || names[1] != "alpha" {
		t.Errorf("SettingNames() = %v, want declaration order [zeta alpha]", names)
	}

	values := ns.Values()
	if values["zeta"] != 1 || values["alpha"] != 2 {
		t.Errorf("Values() = %#v", values)
	}

	// Snapshot is detached from live state.
	values["zeta"] = 99
	if got := ns.Int("zeta"); got != 1 {
		t.Errorf("Int(zeta) = %d after mutating snapshot, want 1", got)
	}
}
