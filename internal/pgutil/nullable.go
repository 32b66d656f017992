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

// Package pgutil provides shared PostgreSQL helpers: nullable type
// conversion and JSON marshaling for the storage layer's scan and bind
// paths.
package pgutil

import (
	"encoding/json"
	"time"
)

// NullString returns nil when s is empty, otherwise a pointer to s.
func NullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// DerefString returns the empty string when s is nil, otherwise *s.
func DerefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// NullTime returns nil when t is the zero value, otherwise a pointer to t.
func NullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// TimeOrZero returns the zero time when t is nil, otherwise *t.
func TimeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// MarshalJSON marshals v to JSON bytes, or nil if v is nil/empty.
func MarshalJSON(v map[string]string) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return json.Marshal(v)
}

// UnmarshalJSON unmarshals JSON bytes into a map[string]string. Returns nil
// when data is empty or does not contain valid key/value pairs.
func UnmarshalJSON(data []byte) map[string]string {
	if len(data) == 0 {
		return nil
	}
	var m map[string]string
	if json.Unmarshal(data, &m) != nil || len(m) == 0 {
		return nil
	}
	return m
}
