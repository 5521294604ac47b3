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
	"bytes"
	"encoding/json"
	"sync"
)

var jsonBufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// encodeRecord serializes rec into buf as one newline-terminated JSON
// object. HTML escaping is off; records carry URLs and SQL.
func encodeRecord(buf *bytes.Buffer, rec *record) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return enc.Encode(rec)
}

// serializedLen reports the record's serialized length, excluding the
// newline the encoder appends.
func serializedLen(buf *bytes.Buffer) int {
	n := buf.Len()
	if n > 0 && buf.Bytes()[n-1] == '\n' {
		n--
	}
	return n
}
