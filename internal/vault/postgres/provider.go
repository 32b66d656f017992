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

// Package postgres implements the vault Storage Layer on PostgreSQL: schema
// and indexes, indexed CRUD, transactional batch rotation commits, and a
// persisted maintenance timer row.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloudflare/vibesdk-vault/internal/pgutil"
	"github.com/cloudflare/vibesdk-vault/internal/vault"
)

// Compile-time interface check.
var _ vault.Storage = (*Provider)(nil)

// Provider implements vault.Storage using PostgreSQL, scoped to one user's
// isolated schema.
type Provider struct {
	pool     *pgxpool.Pool
	ownsPool bool
	schema   string
}

// NewPool creates a pgxpool.Pool from cfg, applying its pool-sizing fields
// and verifying connectivity with a PING. Shared by New and by callers
// (such as cmd/vaultd) that need a pool not yet scoped to any one user.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.ConnString == "" {
		return nil, fmt.Errorf("postgres: connection string is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parsing connection string: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping failed: %w", err)
	}
	return pool, nil
}

// New creates a Provider that owns the underlying connection pool, scoped
// to userID's schema. The pool is created from cfg via NewPool. Close shuts
// the pool down.
func New(ctx context.Context, cfg Config, userID string) (*Provider, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Provider{pool: pool, ownsPool: true, schema: schemaName(userID)}, nil
}

// NewFromPool wraps an existing connection pool, scoped to userID's schema.
// Close is a no-op because the caller retains ownership of the pool.
func NewFromPool(pool *pgxpool.Pool, userID string) *Provider {
	return &Provider{pool: pool, ownsPool: false, schema: schemaName(userID)}
}

func (p *Provider) EnsureSchema(ctx context.Context) error {
	for _, stmt := range p.schemaDDL() {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: schema DDL: %w", err)
		}
	}
	return nil
}

// --- row scanning -----------------------------------------------------------

const recordColumns = `id, name, secret_type, provider, ciphertext, nonce, salt,
	key_preview, metadata, expires_at, created_at, updated_at, last_accessed,
	access_count, is_active, key_fingerprint`

func scanRecord(row pgx.Row) (*vault.Record, error) {
	var r vault.Record
	var provider *string
	var metadataJSON []byte
	var expiresAt, lastAccessed *time.Time
	var secretType string

	err := row.Scan(
		&r.ID, &r.Name, &secretType, &provider, &r.Ciphertext, &r.Nonce, &r.Salt,
		&r.KeyPreview, &metadataJSON, &expiresAt, &r.CreatedAt, &r.UpdatedAt, &lastAccessed,
		&r.AccessCount, &r.IsActive, &r.KeyFingerprint,
	)
	if err != nil {
		if errorsIsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: scan record: %w", err)
	}

	r.SecretType = vault.SecretType(secretType)
	r.Provider = pgutil.DerefString(provider)
	r.MetadataJSON = metadataJSON
	r.ExpiresAt = pgutil.TimeOrZero(expiresAt)
	r.LastAccessed = pgutil.TimeOrZero(lastAccessed)
	return &r, nil
}

func errorsIsNoRows(err error) bool {
	return err == pgx.ErrNoRows
}

// --- CRUD --------------------------------------------------------------------

func (p *Provider) Insert(ctx context.Context, r *vault.Record) error {
	query := fmt.Sprintf(`INSERT INTO %s (
		id, name, secret_type, provider, ciphertext, nonce, salt, key_preview,
		metadata, expires_at, created_at, updated_at, last_accessed, access_count,
		is_active, key_fingerprint
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`, p.qualify("secrets"))

	_, err := p.pool.Exec(ctx, query,
		r.ID, r.Name, string(r.SecretType), pgutil.NullString(r.Provider),
		r.Ciphertext, r.Nonce, r.Salt, r.KeyPreview,
		r.MetadataJSON, pgutil.NullTime(r.ExpiresAt), r.CreatedAt, r.UpdatedAt,
		pgutil.NullTime(r.LastAccessed), r.AccessCount, r.IsActive, r.KeyFingerprint,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert record: %w", err)
	}
	return nil
}

func (p *Provider) Get(ctx context.Context, id string) (*vault.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, recordColumns, p.qualify("secrets"))
	return scanRecord(p.pool.QueryRow(ctx, query, id))
}

func (p *Provider) ListActive(ctx context.Context) ([]*vault.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE is_active = TRUE ORDER BY created_at DESC`,
		recordColumns, p.qualify("secrets"))

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active: %w", err)
	}
	defer rows.Close()

	var out []*vault.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate active: %w", err)
	}
	return out, nil
}

// setBuilder accumulates "col = $n" SET clauses for a dynamic UPDATE.
type setBuilder struct {
	clauses []string
	args    []any
}

func (b *setBuilder) set(col string, arg any) {
	b.args = append(b.args, arg)
	b.clauses = append(b.clauses, fmt.Sprintf("%s = $%d", col, len(b.args)))
}

func (p *Provider) Update(ctx context.Context, id string, u vault.RecordUpdate) error {
	b := &setBuilder{}

	if u.Name != nil {
		b.set("name", *u.Name)
	}
	if u.Ciphertext != nil {
		b.set("ciphertext", u.Ciphertext)
		b.set("nonce", u.Nonce)
		b.set("salt", u.Salt)
	}
	if u.KeyPreview != nil {
		b.set("key_preview", *u.KeyPreview)
	}
	if u.HasMetadata {
		b.set("metadata", u.MetadataJSON)
	}
	if u.ClearExpiresAt {
		b.set("expires_at", nil)
	} else if u.ExpiresAt != nil {
		b.set("expires_at", pgutil.NullTime(*u.ExpiresAt))
	}
	if u.KeyFingerprint != nil {
		b.set("key_fingerprint", *u.KeyFingerprint)
	}
	if u.LastAccessed != nil {
		b.set("last_accessed", *u.LastAccessed)
	}
	if u.AccessCountInc {
		b.clauses = append(b.clauses, "access_count = access_count + 1")
	}
	b.set("updated_at", u.UpdatedAt)

	b.args = append(b.args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d",
		p.qualify("secrets"), joinClauses(b.clauses), len(b.args))

	tag, err := p.pool.Exec(ctx, query, b.args...)
	if err != nil {
		return fmt.Errorf("postgres: update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return vault.ErrNotFound
	}
	return nil
}

func joinClauses(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += ", " + c
	}
	return out
}

func (p *Provider) SoftDelete(ctx context.Context, id string, now time.Time) (bool, error) {
	query := fmt.Sprintf(`UPDATE %s SET is_active = FALSE, updated_at = $1
		WHERE id = $2 AND is_active = TRUE`, p.qualify("secrets"))

	tag, err := p.pool.Exec(ctx, query, now, id)
	if err != nil {
		return false, fmt.Errorf("postgres: soft delete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Provider) HardDeleteTombstones(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE is_active = FALSE AND updated_at < $1`, p.qualify("secrets"))

	tag, err := p.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: hard delete tombstones: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Provider) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	query := fmt.Sprintf(`UPDATE %s SET is_active = FALSE, updated_at = $1
		WHERE is_active = TRUE AND expires_at IS NOT NULL AND expires_at < $1`, p.qualify("secrets"))

	tag, err := p.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("postgres: expire due: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- rotation metadata -------------------------------------------------------

func (p *Provider) GetRotationMetadata(ctx context.Context) (*vault.RotationMetadata, error) {
	query := fmt.Sprintf(`SELECT current_key_fingerprint, last_rotation_at, rotation_count, created_at
		FROM %s WHERE id = 1`, p.qualify("key_rotation_metadata"))

	var m vault.RotationMetadata
	err := p.pool.QueryRow(ctx, query).Scan(&m.CurrentKeyFingerprint, &m.LastRotationAt, &m.RotationCount, &m.CreatedAt)
	if err != nil {
		if errorsIsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get rotation metadata: %w", err)
	}
	return &m, nil
}

func (p *Provider) InitRotationMetadata(ctx context.Context, m vault.RotationMetadata) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, current_key_fingerprint, last_rotation_at, rotation_count, created_at)
		VALUES (1, $1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`, p.qualify("key_rotation_metadata"))

	_, err := p.pool.Exec(ctx, query, m.CurrentKeyFingerprint, m.LastRotationAt, m.RotationCount, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: init rotation metadata: %w", err)
	}
	return nil
}

// CommitRotation applies every update in updates plus the rotation-metadata
// row update as a single transaction: either all apply, or none do.
func (p *Provider) CommitRotation(ctx context.Context, updates map[string]vault.RecordUpdate, meta vault.RotationMetadata) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin rotation tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for id, u := range updates {
		if err := p.updateTx(ctx, tx, id, u); err != nil {
			return err
		}
	}

	query := fmt.Sprintf(`UPDATE %s SET current_key_fingerprint = $1, last_rotation_at = $2, rotation_count = $3
		WHERE id = 1`, p.qualify("key_rotation_metadata"))
	if _, err := tx.Exec(ctx, query, meta.CurrentKeyFingerprint, meta.LastRotationAt, meta.RotationCount); err != nil {
		return fmt.Errorf("postgres: update rotation metadata: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit rotation: %w", err)
	}
	return nil
}

// updateTx applies one record update inside an existing transaction,
// mirroring Update but against a pgx.Tx instead of the pool.
func (p *Provider) updateTx(ctx context.Context, tx pgx.Tx, id string, u vault.RecordUpdate) error {
	b := &setBuilder{}

	if u.Ciphertext != nil {
		b.set("ciphertext", u.Ciphertext)
		b.set("nonce", u.Nonce)
		b.set("salt", u.Salt)
	}
	if u.KeyPreview != nil {
		b.set("key_preview", *u.KeyPreview)
	}
	if u.KeyFingerprint != nil {
		b.set("key_fingerprint", *u.KeyFingerprint)
	}
	b.set("updated_at", u.UpdatedAt)

	b.args = append(b.args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d",
		p.qualify("secrets"), joinClauses(b.clauses), len(b.args))

	if _, err := tx.Exec(ctx, query, b.args...); err != nil {
		return fmt.Errorf("postgres: rotation row update %s: %w", id, err)
	}
	return nil
}

// --- timer -------------------------------------------------------------------

func (p *Provider) ScheduleTimer(ctx context.Context, next time.Time) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, next_fire_at) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET next_fire_at = EXCLUDED.next_fire_at`, p.qualify("maintenance_timer"))

	_, err := p.pool.Exec(ctx, query, next)
	if err != nil {
		return fmt.Errorf("postgres: schedule timer: %w", err)
	}
	return nil
}

func (p *Provider) NextTimer(ctx context.Context) (time.Time, error) {
	query := fmt.Sprintf(`SELECT next_fire_at FROM %s WHERE id = 1`, p.qualify("maintenance_timer"))

	var next time.Time
	err := p.pool.QueryRow(ctx, query).Scan(&next)
	if err != nil {
		if errorsIsNoRows(err) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("postgres: next timer: %w", err)
	}
	return next, nil
}

func (p *Provider) Close() error {
	if p.ownsPool {
		p.pool.Close()
	}
	return nil
}
