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

	"github.com/go-viper/mapstructure/v2"
)

// Scan decodes the namespace's resolved values into a struct. Fields match
// setting names via the `config` tag (falling back to case-insensitive field
// names), string values decode into time.Duration and comma-separated
// slices, and numeric widths convert weakly so an int setting can populate
// an int64 field.
//
//	var cfg struct {
//		Port    int           `config:"port"`
//		Timeout time.Duration `config:"timeout"`
//	}
//	err := ns.Scan(&cfg)
func (ns *Namespace) Scan(target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           target,
		TagName:          "config",
	})
	if err != nil {
		return fmt.Errorf("configurable: build decoder for %s: %w", ns.key, err)
	}
	if err := dec.Decode(ns.Values()); err != nil {
		return fmt.Errorf("configurable: scan %s: %w", ns.key, err)
	}
	return nil
}
