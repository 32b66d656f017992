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
	"context"
	"sort"
	"sync"
	"time"
)

// memoryStorage is an in-process fake implementing Storage, used by this
// package's tests in place of a real PostgreSQL connection.
type memoryStorage struct {
	mu       sync.Mutex
	records  map[string]*Record
	rotation *RotationMetadata
	timer    time.Time
	closed   bool
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{records: make(map[string]*Record)}
}

func cloneRecord(r *Record) *Record {
	cp := *r
	cp.Ciphertext = append([]byte(nil), r.Ciphertext...)
	cp.Nonce = append([]byte(nil), r.Nonce...)
	cp.Salt = append([]byte(nil), r.Salt...)
	cp.MetadataJSON = append([]byte(nil), r.MetadataJSON...)
	return &cp
}

func (m *memoryStorage) EnsureSchema(ctx context.Context) error { return nil }

func (m *memoryStorage) Insert(ctx context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = cloneRecord(r)
	return nil
}

func (m *memoryStorage) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return cloneRecord(r), nil
}

func (m *memoryStorage) ListActive(ctx context.Context) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Record
	for _, r := range m.records {
		if r.IsActive {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryStorage) Update(ctx context.Context, id string, u RecordUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}

	if u.Name != nil {
		r.Name = *u.Name
	}
	if u.Ciphertext != nil {
		r.Ciphertext = u.Ciphertext
		r.Nonce = u.Nonce
		r.Salt = u.Salt
	}
	if u.KeyPreview != nil {
		r.KeyPreview = *u.KeyPreview
	}
	if u.HasMetadata {
		r.MetadataJSON = u.MetadataJSON
	}
	if u.ClearExpiresAt {
		r.ExpiresAt = time.Time{}
	} else if u.ExpiresAt != nil {
		r.ExpiresAt = *u.ExpiresAt
	}
	if u.KeyFingerprint != nil {
		r.KeyFingerprint = *u.KeyFingerprint
	}
	if u.LastAccessed != nil {
		r.LastAccessed = *u.LastAccessed
	}
	if u.AccessCountInc {
		r.AccessCount++
	}
	r.UpdatedAt = u.UpdatedAt
	return nil
}

func (m *memoryStorage) SoftDelete(ctx context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || !r.IsActive {
		return false, nil
	}
	r.IsActive = false
	r.UpdatedAt = now
	return true, nil
}

func (m *memoryStorage) HardDeleteTombstones(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.records {
		if !r.IsActive && r.UpdatedAt.Before(cutoff) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

func (m *memoryStorage) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.records {
		if r.IsActive && !r.ExpiresAt.IsZero() && r.ExpiresAt.Before(now) {
			r.IsActive = false
			r.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *memoryStorage) GetRotationMetadata(ctx context.Context) (*RotationMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rotation == nil {
		return nil, nil
	}
	cp := *m.rotation
	return &cp, nil
}

func (m *memoryStorage) InitRotationMetadata(ctx context.Context, meta RotationMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rotation != nil {
		return nil
	}
	cp := meta
	m.rotation = &cp
	return nil
}

func (m *memoryStorage) CommitRotation(ctx context.Context, updates map[string]RecordUpdate, meta RotationMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, u := range updates {
		r, ok := m.records[id]
		if !ok {
			continue
		}
		if u.Ciphertext != nil {
			r.Ciphertext = u.Ciphertext
			r.Nonce = u.Nonce
			r.Salt = u.Salt
		}
		if u.KeyPreview != nil {
			r.KeyPreview = *u.KeyPreview
		}
		if u.KeyFingerprint != nil {
			r.KeyFingerprint = *u.KeyFingerprint
		}
		r.UpdatedAt = u.UpdatedAt
	}

	cp := meta
	m.rotation = &cp
	return nil
}

func (m *memoryStorage) ScheduleTimer(ctx context.Context, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timer = next
	return nil
}

func (m *memoryStorage) NextTimer(ctx context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer, nil
}

func (m *memoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
