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

import "time"

// SecretType classifies the kind of value a secret holds. A closed enum:
// no dynamic dispatch is needed in the core.
type SecretType string

const (
	// SecretTypeAPIKey marks an API key.
	SecretTypeAPIKey SecretType = "api_key"
	// SecretTypeToken marks a bearer/access token.
	SecretTypeToken SecretType = "token"
	// SecretTypePassword marks a password.
	SecretTypePassword SecretType = "password"
	// SecretTypeConfig marks a configuration blob.
	SecretTypeConfig SecretType = "config"
	// SecretTypeCustom marks any other kind of secret. No additional
	// validation rules apply beyond the shared size/emptiness limits.
	SecretTypeCustom SecretType = "custom"
)

// Metadata is the non-secret, display-safe projection of a secret record:
// no ciphertext, nonce, salt, or derived key material ever appears here.
type Metadata struct {
	// ID is the opaque, unique (UUID-shaped) secret identifier.
	ID string `json:"id"`
	// Name is the display label, 1-200 bytes trimmed non-empty.
	Name string `json:"name"`
	// SecretType classifies the secret.
	SecretType SecretType `json:"secretType"`
	// Provider is an optional free-form tag (e.g. "github", "stripe").
	Provider string `json:"provider,omitempty"`
	// KeyPreview is a non-reversible display string derived from the
	// plaintext length; see crypto.Preview.
	KeyPreview string `json:"keyPreview"`
	// Metadata is an optional JSON-encodable map, ≤10 KiB encoded.
	Metadata map[string]string `json:"metadata,omitempty"`
	// ExpiresAt is the optional expiry instant; zero means never expires.
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	// CreatedAt is when the secret was first stored.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is when the secret's row last changed.
	UpdatedAt time.Time `json:"updatedAt"`
	// LastAccessed is when the secret's plaintext was last successfully read.
	LastAccessed time.Time `json:"lastAccessed"`
	// AccessCount counts successful plaintext reads; only ever increases.
	AccessCount int64 `json:"accessCount"`
	// IsActive is false for a soft-deleted tombstone.
	IsActive bool `json:"isActive"`
	// KeyFingerprint is the 64-hex-char SHA-256 of the master key that last
	// encrypted this record.
	KeyFingerprint string `json:"keyFingerprint"`
}

// SecretWithValue pairs a secret's decrypted plaintext with its refreshed
// metadata, returned by Store.Get.
type SecretWithValue struct {
	Value    string
	Metadata Metadata
}

// StoreRequest is the input to Store.Store.
type StoreRequest struct {
	Name       string
	SecretType SecretType
	Provider   string
	Value      string
	Metadata   map[string]string
	ExpiresAt  time.Time
}

// UpdatePatch is the input to Store.Update. Name, Value and ExpiresAt are
// applied when non-nil (a non-nil ExpiresAt holding the zero time clears the
// expiry); Metadata is applied only when HasMeta is set. An entirely empty
// patch is a validation error (spec.md §4.5).
type UpdatePatch struct {
	Name      *string
	Value     *string
	Metadata  map[string]string
	HasMeta   bool
	ExpiresAt *time.Time
}

// IsEmpty reports whether the patch requests no observable column changes.
func (p UpdatePatch) IsEmpty() bool {
	return p.Name == nil && p.Value == nil && !p.HasMeta && p.ExpiresAt == nil
}

// KeyRotationInfo reports the current rotation state of a store, per
// spec.md §4.5/§6.
type KeyRotationInfo struct {
	CurrentKeyFingerprint string
	LastRotationAt        time.Time
	RotationCount         int64
	TotalSecrets          int64
	SecretsRotated        int64
}

// Record is the full, unprojected row used by the Storage Layer. It is
// never returned to callers directly; Store projects it to Metadata or
// decrypts it into a SecretWithValue.
type Record struct {
	ID             string
	Name           string
	SecretType     SecretType
	Provider       string
	Ciphertext     []byte
	Nonce          []byte
	Salt           []byte
	KeyPreview     string
	MetadataJSON   []byte
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessed   time.Time
	AccessCount    int64
	IsActive       bool
	KeyFingerprint string
}

// RotationMetadata is the single key-rotation-metadata row a store owns.
type RotationMetadata struct {
	CurrentKeyFingerprint string
	LastRotationAt        time.Time
	RotationCount         int64
	CreatedAt             time.Time
}

// RecordUpdate describes a dynamic column update applied atomically to one
// record by id. Nil fields are left unchanged.
type RecordUpdate struct {
	Name           *string
	Ciphertext     []byte
	Nonce          []byte
	Salt           []byte
	KeyPreview     *string
	MetadataJSON   []byte
	HasMetadata    bool
	ExpiresAt      *time.Time
	ClearExpiresAt bool
	KeyFingerprint *string
	LastAccessed   *time.Time
	AccessCountInc bool
	UpdatedAt      time.Time
}
