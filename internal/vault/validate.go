/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package vault

import (
	"strings"

	"github.com/cloudflare/vibesdk-vault/internal/pgutil"
)

// validateName trims and checks the display name against spec.md's limits:
// non-empty after trimming, and ≤200 bytes.
func validateName(name string) (string, bool) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", false
	}
	if len(trimmed) > MaxNameBytes {
		return "", false
	}
	return trimmed, true
}

// validateValue checks a plaintext value is non-empty and ≤50 KiB.
func validateValue(value string) bool {
	return len(value) >= 1 && len(value) <= MaxValueBytes
}

// encodeMetadata marshals metadata to JSON and checks the encoded size is
// ≤10 KiB. Returns (nil, true) for a nil/empty map (stored as nothing).
func encodeMetadata(metadata map[string]string) ([]byte, bool) {
	encoded, err := pgutil.MarshalJSON(metadata)
	if err != nil {
		return nil, false
	}
	if len(encoded) > MaxMetadataBytes {
		return nil, false
	}
	return encoded, true
}

func decodeMetadata(encoded []byte) map[string]string {
	return pgutil.UnmarshalJSON(encoded)
}
