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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMasterKeyHexA = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	testMasterKeyHexB = "fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210"
)

func newTestStore(t *testing.T, masterKeyHex string, opts ...Option) (*Store, *memoryStorage) {
	t.Helper()
	storage := newMemoryStorage()
	s, err := New(context.Background(), "user-1", masterKeyHex, storage, opts...)
	require.NoError(t, err)
	return s, storage
}

func TestStore_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t, testMasterKeyHexA)
	defer s.Close()

	meta, err := s.Store(context.Background(), StoreRequest{
		Name:       "github token",
		SecretType: SecretTypeToken,
		Provider:   "github",
		Value:      "ghp_1234567890",
	})
	require.NoError(t, err)
	assert.Equal(t, "ghp_******7890", meta.KeyPreview)
	assert.Equal(t, int64(0), meta.AccessCount)

	got, err := s.Get(context.Background(), meta.ID)
	require.NoError(t, err)
	assert.Equal(t, "ghp_1234567890", got.Value)
	assert.Equal(t, int64(1), got.Metadata.AccessCount)
	assert.False(t, got.Metadata.LastAccessed.IsZero())
}

func TestStore_ValidationRejectsEmptyValue(t *testing.T) {
	s, _ := newTestStore(t, testMasterKeyHexA)
	defer s.Close()

	_, err := s.Store(context.Background(), StoreRequest{Name: "x", Value: ""})
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestStore_ValidationRejectsOversizedValue(t *testing.T) {
	s, _ := newTestStore(t, testMasterKeyHexA)
	defer s.Close()

	_, err := s.Store(context.Background(), StoreRequest{
		Name:  "x",
		Value: strings.Repeat("a", MaxValueBytes+1),
	})
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestStore_ValidationRejectsBlankName(t *testing.T) {
	s, _ := newTestStore(t, testMasterKeyHexA)
	defer s.Close()

	_, err := s.Store(context.Background(), StoreRequest{Name: "   ", Value: "v"})
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestStore_GetExpiredSecretReturnsNotFound(t *testing.T) {
	s, _ := newTestStore(t, testMasterKeyHexA)
	defer s.Close()

	past := time.Now().UTC().Add(-time.Minute)
	meta, err := s.Store(context.Background(), StoreRequest{
		Name: "expiring", Value: "v", ExpiresAt: past,
	})
	require.NoError(t, err)

	_, err = s.Get(context.Background(), meta.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetTamperedCiphertextFailsDecryption(t *testing.T) {
	s, storage := newTestStore(t, testMasterKeyHexA)
	defer s.Close()

	meta, err := s.Store(context.Background(), StoreRequest{Name: "x", Value: "v"})
	require.NoError(t, err)

	storage.mu.Lock()
	storage.records[meta.ID].Ciphertext[0] ^= 0xFF
	storage.mu.Unlock()

	_, err = s.Get(context.Background(), meta.ID)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestStore_DeleteThenGetNotFound(t *testing.T) {
	s, _ := newTestStore(t, testMasterKeyHexA)
	defer s.Close()

	meta, err := s.Store(context.Background(), StoreRequest{Name: "x", Value: "v"})
	require.NoError(t, err)

	ok, err := s.Delete(context.Background(), meta.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.Get(context.Background(), meta.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err = s.Delete(context.Background(), meta.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_DeletedSecretExcludedFromList(t *testing.T) {
	s, _ := newTestStore(t, testMasterKeyHexA)
	defer s.Close()

	meta, err := s.Store(context.Background(), StoreRequest{Name: "x", Value: "v"})
	require.NoError(t, err)
	_, err = s.Store(context.Background(), StoreRequest{Name: "y", Value: "w"})
	require.NoError(t, err)

	_, err = s.Delete(context.Background(), meta.ID)
	require.NoError(t, err)

	list, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, "y", list[0].Name)
}

func TestStore_UpdateEmptyPatchRejected(t *testing.T) {
	s, _ := newTestStore(t, testMasterKeyHexA)
	defer s.Close()

	meta, err := s.Store(context.Background(), StoreRequest{Name: "x", Value: "v"})
	require.NoError(t, err)

	_, err = s.Update(context.Background(), meta.ID, UpdatePatch{})
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestStore_UpdateValueReencryptsAndRefreshesPreview(t *testing.T) {
	s, _ := newTestStore(t, testMasterKeyHexA)
	defer s.Close()

	meta, err := s.Store(context.Background(), StoreRequest{Name: "x", Value: "old-value-here"})
	require.NoError(t, err)

	newValue := "new-value-here-1234"
	updated, err := s.Update(context.Background(), meta.ID, UpdatePatch{Value: &newValue})
	require.NoError(t, err)
	assert.NotEqual(t, meta.KeyPreview, updated.KeyPreview)

	got, err := s.Get(context.Background(), meta.ID)
	require.NoError(t, err)
	assert.Equal(t, newValue, got.Value)
}

func TestStore_UpdateClearExpiry(t *testing.T) {
	s, _ := newTestStore(t, testMasterKeyHexA)
	defer s.Close()

	future := time.Now().UTC().Add(time.Hour)
	meta, err := s.Store(context.Background(), StoreRequest{Name: "x", Value: "v", ExpiresAt: future})
	require.NoError(t, err)

	zero := time.Time{}
	updated, err := s.Update(context.Background(), meta.ID, UpdatePatch{ExpiresAt: &zero})
	require.NoError(t, err)
	assert.True(t, updated.ExpiresAt.IsZero())
}

func TestStore_UpdateNotFound(t *testing.T) {
	s, _ := newTestStore(t, testMasterKeyHexA)
	defer s.Close()

	name := "x"
	_, err := s.Update(context.Background(), "does-not-exist", UpdatePatch{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_AccessCountOnlyIncreasesOnSuccessfulGet(t *testing.T) {
	s, _ := newTestStore(t, testMasterKeyHexA)
	defer s.Close()

	meta, err := s.Store(context.Background(), StoreRequest{Name: "x", Value: "v"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.Get(context.Background(), meta.ID)
		require.NoError(t, err)
	}

	list, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(3), list[0].AccessCount)
}

func TestStore_RotationHappyPath(t *testing.T) {
	storage := newMemoryStorage()
	s1, err := New(context.Background(), "user-1", testMasterKeyHexA, storage)
	require.NoError(t, err)

	meta, err := s1.Store(context.Background(), StoreRequest{Name: "x", Value: "rotate-me-value"})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := New(context.Background(), "user-1", testMasterKeyHexB, storage,
		WithOldMasterKeyForRotation(testMasterKeyHexA))
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(context.Background(), meta.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotate-me-value", got.Value)

	info, err := s2.KeyRotationInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.TotalSecrets)
	assert.Equal(t, int64(1), info.SecretsRotated)
	assert.Equal(t, int64(1), info.RotationCount)
}

func TestStore_RotationWithoutOldKeyLeavesRowsReportsDrift(t *testing.T) {
	storage := newMemoryStorage()
	s1, err := New(context.Background(), "user-1", testMasterKeyHexA, storage)
	require.NoError(t, err)

	_, err = s1.Store(context.Background(), StoreRequest{Name: "x", Value: "v"})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := New(context.Background(), "user-1", testMasterKeyHexB, storage)
	require.NoError(t, err)
	defer s2.Close()

	info, err := s2.KeyRotationInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.TotalSecrets)
	assert.Equal(t, int64(0), info.SecretsRotated)
}

func TestStore_RotationSkipsCorruptedRowButCommitsRest(t *testing.T) {
	storage := newMemoryStorage()
	s1, err := New(context.Background(), "user-1", testMasterKeyHexA, storage)
	require.NoError(t, err)

	good, err := s1.Store(context.Background(), StoreRequest{Name: "good", Value: "rotate-me-value"})
	require.NoError(t, err)
	bad, err := s1.Store(context.Background(), StoreRequest{Name: "bad", Value: "corrupt-me-value"})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	storage.mu.Lock()
	storage.records[bad.ID].Ciphertext[0] ^= 0xFF
	storage.mu.Unlock()

	s2, err := New(context.Background(), "user-1", testMasterKeyHexB, storage,
		WithOldMasterKeyForRotation(testMasterKeyHexA))
	require.NoError(t, err)
	defer s2.Close()

	info, err := s2.KeyRotationInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.TotalSecrets)
	assert.Equal(t, int64(1), info.SecretsRotated)
	assert.Equal(t, int64(1), info.RotationCount)

	gotGood, err := s2.Get(context.Background(), good.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotate-me-value", gotGood.Value)

	_, err = s2.Get(context.Background(), bad.ID)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestStore_ConcurrentOperationsAreSerialized(t *testing.T) {
	s, _ := newTestStore(t, testMasterKeyHexA)
	defer s.Close()

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			_, err := s.Store(context.Background(), StoreRequest{
				Name: "concurrent", Value: "value",
			})
			assert.NoError(t, err)
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	list, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 10)
}
