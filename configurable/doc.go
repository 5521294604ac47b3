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

// Package configurable binds typed application settings to environment
// variables. A component declares a namespace of settings with defaults,
// and each setting resolves from the environment on declaration: the first
// candidate key with a value wins, the raw string is coerced to the type of
// the declared default, and empty strings collapse to nil so unset and
// blank behave identically.
//
// Declare a namespace with a builder block:
//
//	ns, err := configurable.Declare("myservice", func(b *configurable.Builder) {
//		b.Setting("port", 8080)
//		b.Setting("endpoint", "https://api.example.com",
//			configurable.WithEnvKeys("SERVICE_ENDPOINT", "ENDPOINT"))
//		b.Setting("verbose", false,
//			configurable.WithSideEffect(func(v any) { toggleDebug(v) }))
//		b.AfterConfigured(func(ns *configurable.Namespace) {
//			dialTarget = fmt.Sprintf("%s:%d", ns.String("endpoint"), ns.Int("port"))
//		})
//	})
//
// Setting names synthesize environment keys as NAMESPACE_NAME upper-cased
// ("myservice" + "port" reads MYSERVICE_PORT) unless WithEnvKeys supplies
// explicit candidates. Values written through Set bypass coercion and
// re-invoke the setting's side effect; Reset recomputes every setting from
// the live environment (or a caller-supplied override) and re-runs the
// namespace's after-configured hooks, which makes tests that manipulate the
// environment cheap to write.
package configurable
