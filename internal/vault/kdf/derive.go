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

// Package kdf derives per-user and per-secret symmetric keys from a single
// deployment-wide master key using PBKDF2-SHA256, and fingerprints the
// master key for rotation detection.
//
// PBKDF2-SHA256 is used because it is available in every standard
// cryptographic library and gives deterministic derivation with a tunable
// work factor. The high iteration count on the user-master-key step is the
// line of defense against brute-forcing the master key through a leaked
// per-user derivation; the lower count on the data-key step is acceptable
// because its input (the UMK) is already high-entropy.
package kdf

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/cloudflare/vibesdk-vault/internal/vault"
)

// Derivation turns a single deployment master key into per-user and
// per-secret keys. It holds the master key bytes until Wipe zeroes them;
// nothing else mutates them after construction.
type Derivation struct {
	masterKey []byte
}

// New constructs a Derivation from a 64-hex-character master key.
func New(masterKeyHex string) (*Derivation, error) {
	if len(masterKeyHex) != vault.MasterKeyHexLen {
		return nil, fmt.Errorf("%w: expected %d hex characters, got %d",
			vault.ErrInvalidMasterKey, vault.MasterKeyHexLen, len(masterKeyHex))
	}
	key, err := hex.DecodeString(strings.ToLower(masterKeyHex))
	if err != nil {
		return nil, fmt.Errorf("%w: not valid hex: %v", vault.ErrInvalidMasterKey, err)
	}
	if len(key) != vault.MasterKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", vault.ErrInvalidMasterKey, vault.MasterKeySize, len(key))
	}
	return &Derivation{masterKey: key}, nil
}

// Wipe zeroes the held master key. Call when the Derivation is no longer
// needed (e.g. a store is being torn down after rotation completes).
func (d *Derivation) Wipe() {
	for i := range d.masterKey {
		d.masterKey[i] = 0
	}
}

// DeriveUserMasterKey derives the 32-byte user master key for userID. The
// salt is the fixed context prefix concatenated with the user id, so the
// same (master key, user id) pair always yields the same output.
func (d *Derivation) DeriveUserMasterKey(userID string) ([]byte, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is empty", vault.ErrInvalidUserID)
	}
	salt := append([]byte(vault.UserSaltContext), []byte(userID)...)
	return pbkdf2.Key(d.masterKey, salt, vault.UserMasterKeyIterations, vault.DataKeySize, sha256.New), nil
}

// DeriveDataKey derives a 32-byte per-secret data encryption key from a
// user master key and a per-secret salt.
func DeriveDataKey(userMasterKey, salt []byte) []byte {
	return pbkdf2.Key(userMasterKey, salt, vault.DataKeyIterations, vault.DataKeySize, sha256.New)
}

// Fingerprint returns the lowercase-hex SHA-256 of the master key. Stable
// across processes for the same master key; used only to detect rotation,
// never as a credential.
func (d *Derivation) Fingerprint() string {
	sum := sha256.Sum256(d.masterKey)
	return hex.EncodeToString(sum[:])
}

// Wipe zeroes a derived key buffer in place.
func Wipe(key []byte) {
	for i := range key {
		key[i] = 0
	}
}
