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

// Package vault implements a per-user encrypted secrets store: hierarchical
// key derivation, AEAD sealing, expiry, soft-delete, and online master-key
// rotation.
package vault

import "errors"

// Sentinel errors returned by Store methods. Callers map these to their own
// transport-layer status codes; the vault core never encodes an HTTP status.
var (
	// ErrInvalidMasterKey is returned when the deployment master key is not
	// exactly 64 hex characters. Fatal: the Store that hit it must not be used.
	ErrInvalidMasterKey = errors.New("vault: invalid master key")
	// ErrInvalidUserID is returned when a user id is empty or all whitespace.
	ErrInvalidUserID = errors.New("vault: invalid user id")
	// ErrValidationFailed is returned when a Store/Update request violates a
	// size or emptiness limit.
	ErrValidationFailed = errors.New("vault: validation failed")
	// ErrNotFound is returned when a secret id does not exist, is inactive
	// (soft-deleted), or has expired.
	ErrNotFound = errors.New("vault: secret not found")
	// ErrExpired names the expired-secret error kind. No Store method returns
	// it: Get reports a secret whose expires_at has passed as ErrNotFound.
	ErrExpired = errors.New("vault: secret expired")
	// ErrCorruptRecord is returned when a stored row is missing a required
	// ciphertext component or has a byte column of the wrong length.
	ErrCorruptRecord = errors.New("vault: corrupt record")
	// ErrDecryptionFailed is returned when the AEAD authentication tag does
	// not validate. Never retried: it indicates tampering or an
	// unrecoverable rotation gap.
	ErrDecryptionFailed = errors.New("vault: decryption failed")
	// ErrStorageFailure is returned when the storage layer aborts a
	// transaction or hits a schema-level error.
	ErrStorageFailure = errors.New("vault: storage failure")
)
