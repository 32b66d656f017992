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

package postgres

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// schemaName derives a stable, SQL-identifier-safe Postgres schema name for
// one user's vault from their user id. Each user's Store owns an isolated
// schema (secrets table + key_rotation_metadata + maintenance_timer), per
// spec.md §3's "each user's vault instance exclusively owns its rows" — a
// user-controlled id is never interpolated into an identifier directly, so
// it is hashed first.
func schemaName(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return "vault_" + hex.EncodeToString(sum[:])[:16]
}

// qualify returns a sanitized, schema-qualified table reference.
func (p *Provider) qualify(table string) string {
	return pgx.Identifier{p.schema, table}.Sanitize()
}

func (p *Provider) schemaDDL() []string {
	schema := pgx.Identifier{p.schema}.Sanitize()
	secrets := p.qualify("secrets")
	rotation := p.qualify("key_rotation_metadata")
	timer := p.qualify("maintenance_timer")

	return []string{
		fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			secret_type TEXT NOT NULL,
			provider TEXT,
			ciphertext BYTEA NOT NULL,
			nonce BYTEA NOT NULL,
			salt BYTEA NOT NULL,
			key_preview TEXT NOT NULL,
			metadata JSONB,
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			last_accessed TIMESTAMPTZ,
			access_count BIGINT NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			key_fingerprint TEXT NOT NULL
		)`, secrets),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS secrets_active_created_idx
			ON %s (is_active, created_at DESC)`, secrets),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS secrets_expiry_idx
			ON %s (expires_at) WHERE expires_at IS NOT NULL AND is_active = TRUE`, secrets),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			current_key_fingerprint TEXT NOT NULL,
			last_rotation_at TIMESTAMPTZ NOT NULL,
			rotation_count BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		)`, rotation),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			next_fire_at TIMESTAMPTZ NOT NULL
		)`, timer),
	}
}
