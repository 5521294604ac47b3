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
	"log/slog"
	"sync"

	"github.com/lithictech/appydays/configurable"
)

// settings is the resolved environment configuration for new handlers.
// Explicit options override individual fields after resolution.
type settings struct {
	level                    slog.Level
	maxMessageLength         int
	maxStringLength          int
	messageTruncateOver      int
	messageTruncationContext int
	fullMessageLevel         *slog.Level
	stackTraceEnabled        bool
	stackTraceLevel          slog.Level
}

func defaultSettings() settings {
	return settings{
		level:                    LevelInfo,
		maxMessageLength:         DefaultMaxMessageLength,
		maxStringLength:          DefaultMaxStringLength,
		messageTruncateOver:      DefaultMessageTruncateOver,
		messageTruncationContext: DefaultMessageTruncationContext,
		stackTraceEnabled:        false,
		stackTraceLevel:          LevelError,
	}
}

// levelConverter parses level names from the environment. A blank value
// resolves to absence like every other setting.
func levelConverter(raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	l, err := ParseLevel(raw)
	if err != nil {
		return nil, err
	}
	return l, nil
}

var (
	settingsOnce sync.Once
	settingsNS   *configurable.Namespace
	settingsErr  error
)

// settingsNamespace declares the loggable configuration namespace on the
// default registry. Settings read LOGGABLE_* environment keys; the level
// additionally honors LOG_LEVEL so one knob can steer an entire deployment.
func settingsNamespace() (*configurable.Namespace, error) {
	settingsOnce.Do(func() {
		settingsNS, settingsErr = configurable.Declare("loggable", func(b *configurable.Builder) {
			b.Setting("level", nil,
				configurable.WithEnvKeys("LOGGABLE_LEVEL", "LOG_LEVEL"),
				configurable.WithConverter(levelConverter))
			b.Setting("max_message_length", DefaultMaxMessageLength)
			b.Setting("max_string_length", DefaultMaxStringLength)
			b.Setting("message_truncate_over", DefaultMessageTruncateOver)
			b.Setting("message_truncation_context", DefaultMessageTruncationContext)
			b.Setting("full_message_level", nil,
				configurable.WithConverter(levelConverter))
			b.Setting("stack_trace_enabled", false)
			b.Setting("stack_trace_level", nil,
				configurable.WithConverter(levelConverter))
		})
	})
	return settingsNS, settingsErr
}

// envSettings resolves handler settings from the environment, falling back
// to defaults when the namespace failed to declare (for example an
// unparsable LOG_LEVEL). The error is reported for logging, never fatal.
func envSettings() (settings, error) {
	cfg := defaultSettings()
	ns, err := settingsNamespace()
	if ns == nil {
		return cfg, err
	}

	if l, ok := ns.Get("level").(slog.Level); ok {
		cfg.level = l
	}
	if n := ns.Int("max_message_length"); n > 0 {
		cfg.maxMessageLength = n
	}
	if n := ns.Int("max_string_length"); n > 0 {
		cfg.maxStringLength = n
	}
	if n := ns.Int("message_truncate_over"); n > 0 {
		cfg.messageTruncateOver = n
	}
	if n, ok := ns.GetOK("message_truncation_context"); ok && n != nil {
		if i, isInt := n.(int); isInt && i >= 0 {
			cfg.messageTruncationContext = i
		}
	}
	if l, ok := ns.Get("full_message_level").(slog.Level); ok {
		lv := l
		cfg.fullMessageLevel = &lv
	}
	cfg.stackTraceEnabled = ns.Bool("stack_trace_enabled")
	if l, ok := ns.Get("stack_trace_level").(slog.Level); ok {
		cfg.stackTraceLevel = l
	}
	return cfg, err
}
