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
	"time"

	"github.com/cloudflare/vibesdk-vault/internal/vault/crypto"
	"github.com/cloudflare/vibesdk-vault/internal/vault/kdf"
)

// rotate re-encrypts every active row from oldFingerprint to newFingerprint
// in a single atomic commit, per spec.md §4.5. It needs the user master key
// that was in effect under the old deployment master key; that is only
// reachable when the caller supplied WithOldMasterKeyForRotation. Without
// it, rotate leaves every row untouched and only updates the
// rotation-metadata fingerprint, so KeyRotationInfo can report the drift
// (secrets_rotated < total_secrets) rather than the store silently
// pretending nothing changed.
func (s *Store) rotate(ctx context.Context, oldFingerprint, newFingerprint string) error {
	start := time.Now()

	oldUMK, err := s.oldUserMasterKey()
	if err != nil {
		return err
	}
	if oldUMK == nil {
		s.log.Info("rotation skipped: old master key unreachable, rows left untouched",
			"userID", s.userID, "oldFingerprint", oldFingerprint, "newFingerprint", newFingerprint)
		return s.commitRotationMetadataOnly(ctx, newFingerprint)
	}
	defer kdf.Wipe(oldUMK)

	records, err := s.storage.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("%w: listing secrets for rotation: %v", ErrStorageFailure, err)
	}

	updates := make(map[string]RecordUpdate, len(records))
	for _, r := range records {
		if r.KeyFingerprint != oldFingerprint {
			// Already on the target fingerprint (or some other stale one);
			// nothing to do for this row in this rotation pass.
			continue
		}

		plaintext, err := crypto.Decrypt(oldUMK, r.Nonce, r.Salt, r.Ciphertext)
		if err != nil {
			s.log.Error(err, "rotation: row failed to decrypt under old key, skipping",
				"userID", s.userID, "secretID", r.ID)
			continue
		}

		sealed, err := crypto.Encrypt(s.userMasterKey, plaintext)
		if err != nil {
			s.log.Error(err, "rotation: row failed to re-encrypt, skipping",
				"userID", s.userID, "secretID", r.ID)
			continue
		}

		fp := newFingerprint
		updates[r.ID] = RecordUpdate{
			Ciphertext:     sealed.Ciphertext,
			Nonce:          sealed.Nonce,
			Salt:           sealed.Salt,
			KeyPreview:     &sealed.KeyPreview,
			KeyFingerprint: &fp,
			UpdatedAt:      time.Now().UTC(),
		}
	}

	meta, err := s.storage.GetRotationMetadata(ctx)
	if err != nil {
		return fmt.Errorf("%w: reading rotation metadata: %v", ErrStorageFailure, err)
	}

	newMeta := RotationMetadata{
		CurrentKeyFingerprint: newFingerprint,
		LastRotationAt:        time.Now().UTC(),
		RotationCount:         meta.RotationCount + 1,
		CreatedAt:             meta.CreatedAt,
	}

	if err := s.storage.CommitRotation(ctx, updates, newMeta); err != nil {
		return fmt.Errorf("%w: committing rotation: %v", ErrStorageFailure, err)
	}

	s.metrics.ObserveRotation(int64(len(records)), int64(len(updates)), time.Since(start))
	s.log.Info("rotation committed",
		"userID", s.userID, "rotationCount", newMeta.RotationCount,
		"totalSecrets", len(records), "secretsRotated", len(updates))

	return nil
}

// commitRotationMetadataOnly advances the rotation-metadata fingerprint
// without touching any row, used when the old user master key cannot be
// derived. This is the conservative, non-destructive failure mode spec.md
// §9 mandates: legible and observable via KeyRotationInfo, never
// corrupting.
func (s *Store) commitRotationMetadataOnly(ctx context.Context, newFingerprint string) error {
	meta, err := s.storage.GetRotationMetadata(ctx)
	if err != nil {
		return fmt.Errorf("%w: reading rotation metadata: %v", ErrStorageFailure, err)
	}

	newMeta := RotationMetadata{
		CurrentKeyFingerprint: newFingerprint,
		LastRotationAt:        time.Now().UTC(),
		RotationCount:         meta.RotationCount + 1,
		CreatedAt:             meta.CreatedAt,
	}

	if err := s.storage.CommitRotation(ctx, nil, newMeta); err != nil {
		return fmt.Errorf("%w: committing rotation metadata: %v", ErrStorageFailure, err)
	}
	return nil
}

// oldUserMasterKey derives the user master key under the old deployment
// master key, if one was supplied via WithOldMasterKeyForRotation. Returns
// (nil, nil) when none was supplied.
func (s *Store) oldUserMasterKey() ([]byte, error) {
	if s.pendingRotationSource == nil {
		return nil, nil
	}
	oldDeriv, err := kdf.New(s.pendingRotationSource.oldMasterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: old master key: %v", ErrInvalidMasterKey, err)
	}
	defer oldDeriv.Wipe()
	return oldDeriv.DeriveUserMasterKey(s.userID)
}
