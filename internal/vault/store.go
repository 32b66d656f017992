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
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/cloudflare/vibesdk-vault/internal/vault/crypto"
	"github.com/cloudflare/vibesdk-vault/internal/vault/kdf"
)

// Store owns one user's vault: it composes key derivation, the encryption
// service, and the Storage Layer, and enforces validation, access
// accounting, expiry, soft-delete, and key rotation. All operations on a
// single Store are serialized; distinct users' Stores are independent.
type Store struct {
	mu sync.Mutex

	userID    string
	storage   Storage
	derivConf *kdf.Derivation

	userMasterKey      []byte
	currentFingerprint string
	retention          time.Duration
	log                logr.Logger
	metrics            OperationRecorder
	ready              bool

	pendingRotationSource *rotationSource
}

// OperationRecorder is the subset of pkg/metrics.Vault the Store needs;
// satisfied by *metrics.Vault or a no-op in tests.
type OperationRecorder interface {
	ObserveStore(ok bool)
	ObserveGet(ok bool)
	ObserveUpdate(ok bool)
	ObserveDelete(ok bool)
	ObserveRotation(total, rotated int64, d time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) ObserveStore(bool)                       {}
func (noopRecorder) ObserveGet(bool)                         {}
func (noopRecorder) ObserveUpdate(bool)                      {}
func (noopRecorder) ObserveDelete(bool)                      {}
func (noopRecorder) ObserveRotation(int64, int64, time.Duration) {}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger sets the logger a Store uses for non-user-facing errors and
// rotation summaries. Defaults to a discarded logger.
func WithLogger(log logr.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithMetrics sets the OperationRecorder a Store reports operation outcomes
// to. Defaults to a no-op recorder.
func WithMetrics(m OperationRecorder) Option {
	return func(s *Store) { s.metrics = m }
}

// WithRetention overrides the default 90-day tombstone retention.
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// rotationSource carries the old master key supplied through
// WithOldMasterKeyForRotation below; it is nil unless that option is given,
// the common case being that the process only holds the new master key.
type rotationSource struct {
	oldMasterKeyHex string
}

// WithOldMasterKeyForRotation supplies the master key that was in effect
// before this process's key changed, so that New can perform the rotation
// algorithm in §4.5 rather than leaving rows with a stale fingerprint. Most
// deployments never call this; without it, a fingerprint mismatch at init
// is reported as drift via KeyRotationInfo instead of being corrected.
func WithOldMasterKeyForRotation(oldMasterKeyHex string) Option {
	return func(s *Store) { s.pendingRotationSource = &rotationSource{oldMasterKeyHex: oldMasterKeyHex} }
}

// New constructs and fully initializes a Store for userID: it creates
// schema if absent, derives the user master key from masterKeyHex, ensures
// the rotation-metadata row exists, performs rotation if the stored
// fingerprint differs from the current one, and schedules the maintenance
// timer if none is scheduled. The returned Store is always ready; there is
// no separate lazy-init window for callers to observe.
func New(ctx context.Context, userID, masterKeyHex string, storage Storage, opts ...Option) (*Store, error) {
	deriv, err := kdf.New(masterKeyHex)
	if err != nil {
		return nil, err
	}

	umk, err := deriv.DeriveUserMasterKey(userID)
	if err != nil {
		return nil, err
	}

	s := &Store{
		userID:    userID,
		storage:   storage,
		derivConf: deriv,

		userMasterKey: umk,
		retention:     DefaultTombstoneRetention,
		log:           logr.Discard(),
		metrics:       noopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initialize(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	if err := s.storage.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("%w: ensuring schema: %v", ErrStorageFailure, err)
	}

	currentFP := s.derivConf.Fingerprint()
	now := time.Now().UTC()

	if err := s.storage.InitRotationMetadata(ctx, RotationMetadata{
		CurrentKeyFingerprint: currentFP,
		LastRotationAt:        now,
		RotationCount:         0,
		CreatedAt:             now,
	}); err != nil {
		return fmt.Errorf("%w: initializing rotation metadata: %v", ErrStorageFailure, err)
	}

	meta, err := s.storage.GetRotationMetadata(ctx)
	if err != nil {
		return fmt.Errorf("%w: reading rotation metadata: %v", ErrStorageFailure, err)
	}
	s.currentFingerprint = currentFP

	if meta.CurrentKeyFingerprint != currentFP {
		if err := s.rotate(ctx, meta.CurrentKeyFingerprint, currentFP); err != nil {
			return err
		}
	}

	next, err := s.storage.NextTimer(ctx)
	if err != nil {
		return fmt.Errorf("%w: reading timer: %v", ErrStorageFailure, err)
	}
	if next.IsZero() {
		if err := s.storage.ScheduleTimer(ctx, now.Add(ReaperInterval)); err != nil {
			return fmt.Errorf("%w: scheduling timer: %v", ErrStorageFailure, err)
		}
	}

	s.ready = true
	return nil
}

// IsReady reports whether initialization has completed.
func (s *Store) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Close zeroes the held user master key. The Store must not be used after
// Close returns.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kdf.Wipe(s.userMasterKey)
	s.derivConf.Wipe()
	return s.storage.Close()
}

// List returns all active secrets, projected to non-secret metadata,
// ordered by created_at descending.
func (s *Store) List(ctx context.Context) ([]Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.storage.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing secrets: %v", ErrStorageFailure, err)
	}

	out := make([]Metadata, 0, len(records))
	for _, r := range records {
		out = append(out, projectMetadata(r))
	}
	return out, nil
}

// Store validates and encrypts req, and inserts a new active secret.
func (s *Store) Store(ctx context.Context, req StoreRequest) (*Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, ok := validateName(req.Name)
	if !ok {
		s.metrics.ObserveStore(false)
		return nil, ErrValidationFailed
	}
	if !validateValue(req.Value) {
		s.metrics.ObserveStore(false)
		return nil, ErrValidationFailed
	}
	metaJSON, ok := encodeMetadata(req.Metadata)
	if !ok {
		s.metrics.ObserveStore(false)
		return nil, ErrValidationFailed
	}

	sealed, err := crypto.Encrypt(s.userMasterKey, req.Value)
	if err != nil {
		s.metrics.ObserveStore(false)
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	now := time.Now().UTC()
	r := &Record{
		ID:             uuid.NewString(),
		Name:           name,
		SecretType:     req.SecretType,
		Provider:       req.Provider,
		Ciphertext:     sealed.Ciphertext,
		Nonce:          sealed.Nonce,
		Salt:           sealed.Salt,
		KeyPreview:     sealed.KeyPreview,
		MetadataJSON:   metaJSON,
		ExpiresAt:      req.ExpiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessed:   time.Time{},
		AccessCount:    0,
		IsActive:       true,
		KeyFingerprint: s.currentFingerprint,
	}

	if err := s.storage.Insert(ctx, r); err != nil {
		s.metrics.ObserveStore(false)
		return nil, fmt.Errorf("%w: inserting secret: %v", ErrStorageFailure, err)
	}

	s.metrics.ObserveStore(true)
	m := projectMetadata(r)
	return &m, nil
}

// Get fetches and decrypts a secret by id, updating its access accounting.
// Returns ErrNotFound if the id does not exist, is inactive, or has
// expired; returns ErrDecryptionFailed if the AEAD tag does not validate.
func (s *Store) Get(ctx context.Context, id string) (*SecretWithValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.storage.Get(ctx, id)
	if err != nil {
		s.metrics.ObserveGet(false)
		return nil, fmt.Errorf("%w: fetching secret: %v", ErrStorageFailure, err)
	}
	if r == nil || !r.IsActive {
		s.metrics.ObserveGet(false)
		return nil, ErrNotFound
	}
	if !r.ExpiresAt.IsZero() && r.ExpiresAt.Before(time.Now().UTC()) {
		s.metrics.ObserveGet(false)
		return nil, ErrNotFound
	}

	plaintext, err := crypto.Decrypt(s.userMasterKey, r.Nonce, r.Salt, r.Ciphertext)
	if err != nil {
		s.metrics.ObserveGet(false)
		s.log.Error(err, "secret failed to decrypt", "userID", s.userID, "secretID", id)
		return nil, err
	}

	now := time.Now().UTC()
	update := RecordUpdate{
		LastAccessed:   &now,
		AccessCountInc: true,
		UpdatedAt:      now,
	}
	if err := s.storage.Update(ctx, id, update); err != nil {
		s.metrics.ObserveGet(false)
		return nil, fmt.Errorf("%w: recording access: %v", ErrStorageFailure, err)
	}

	r.LastAccessed = now
	r.UpdatedAt = now
	r.AccessCount++

	s.metrics.ObserveGet(true)
	return &SecretWithValue{Value: plaintext, Metadata: projectMetadata(r)}, nil
}

// Update applies patch to an existing active secret. Returns
// ErrValidationFailed if patch is empty or a present field fails
// validation; ErrNotFound if id does not exist or is inactive.
func (s *Store) Update(ctx context.Context, id string, patch UpdatePatch) (*Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if patch.IsEmpty() {
		s.metrics.ObserveUpdate(false)
		return nil, ErrValidationFailed
	}

	r, err := s.storage.Get(ctx, id)
	if err != nil {
		s.metrics.ObserveUpdate(false)
		return nil, fmt.Errorf("%w: fetching secret: %v", ErrStorageFailure, err)
	}
	if r == nil || !r.IsActive {
		s.metrics.ObserveUpdate(false)
		return nil, ErrNotFound
	}

	now := time.Now().UTC()
	update := RecordUpdate{UpdatedAt: now}

	if patch.Name != nil {
		name, ok := validateName(*patch.Name)
		if !ok {
			s.metrics.ObserveUpdate(false)
			return nil, ErrValidationFailed
		}
		update.Name = &name
		r.Name = name
	}

	if patch.Value != nil {
		if !validateValue(*patch.Value) {
			s.metrics.ObserveUpdate(false)
			return nil, ErrValidationFailed
		}
		sealed, err := crypto.Encrypt(s.userMasterKey, *patch.Value)
		if err != nil {
			s.metrics.ObserveUpdate(false)
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		update.Ciphertext = sealed.Ciphertext
		update.Nonce = sealed.Nonce
		update.Salt = sealed.Salt
		update.KeyPreview = &sealed.KeyPreview
		update.KeyFingerprint = &s.currentFingerprint
		r.KeyPreview = sealed.KeyPreview
		r.KeyFingerprint = s.currentFingerprint
	}

	if patch.HasMeta {
		metaJSON, ok := encodeMetadata(patch.Metadata)
		if !ok {
			s.metrics.ObserveUpdate(false)
			return nil, ErrValidationFailed
		}
		update.MetadataJSON = metaJSON
		update.HasMetadata = true
		r.MetadataJSON = metaJSON
	}

	if patch.ExpiresAt != nil {
		if patch.ExpiresAt.IsZero() {
			update.ClearExpiresAt = true
			r.ExpiresAt = time.Time{}
		} else {
			update.ExpiresAt = patch.ExpiresAt
			r.ExpiresAt = *patch.ExpiresAt
		}
	}

	if err := s.storage.Update(ctx, id, update); err != nil {
		s.metrics.ObserveUpdate(false)
		return nil, fmt.Errorf("%w: updating secret: %v", ErrStorageFailure, err)
	}

	r.UpdatedAt = now
	s.metrics.ObserveUpdate(true)
	m := projectMetadata(r)
	return &m, nil
}

// Delete soft-deletes a secret. Returns false (not an error) if the id does
// not exist or is already inactive.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.storage.SoftDelete(ctx, id, time.Now().UTC())
	if err != nil {
		s.metrics.ObserveDelete(false)
		return false, fmt.Errorf("%w: deleting secret: %v", ErrStorageFailure, err)
	}
	s.metrics.ObserveDelete(ok)
	return ok, nil
}

// KeyRotationInfo reports the store's current rotation state.
func (s *Store) KeyRotationInfo(ctx context.Context) (*KeyRotationInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyRotationInfoLocked(ctx)
}

func (s *Store) keyRotationInfoLocked(ctx context.Context) (*KeyRotationInfo, error) {
	meta, err := s.storage.GetRotationMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: reading rotation metadata: %v", ErrStorageFailure, err)
	}

	records, err := s.storage.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing secrets: %v", ErrStorageFailure, err)
	}

	var rotated int64
	for _, r := range records {
		if r.KeyFingerprint == meta.CurrentKeyFingerprint {
			rotated++
		}
	}

	return &KeyRotationInfo{
		CurrentKeyFingerprint: meta.CurrentKeyFingerprint,
		LastRotationAt:        meta.LastRotationAt,
		RotationCount:         meta.RotationCount,
		TotalSecrets:          int64(len(records)),
		SecretsRotated:        rotated,
	}, nil
}

func projectMetadata(r *Record) Metadata {
	return Metadata{
		ID:             r.ID,
		Name:           r.Name,
		SecretType:     r.SecretType,
		Provider:       r.Provider,
		KeyPreview:     r.KeyPreview,
		Metadata:       decodeMetadata(r.MetadataJSON),
		ExpiresAt:      r.ExpiresAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		LastAccessed:   r.LastAccessed,
		AccessCount:    r.AccessCount,
		IsActive:       r.IsActive,
		KeyFingerprint: r.KeyFingerprint,
	}
}
