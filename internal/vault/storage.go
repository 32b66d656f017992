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
	"time"
)

// Storage is the persistence contract the Secrets Store composes against.
// It owns schema creation, indexed CRUD on one user's secrets table, the
// single rotation-metadata row, and a one-shot rescheduling timer.
// internal/vault/postgres.Provider implements this for PostgreSQL.
type Storage interface {
	// EnsureSchema creates the secrets and key_rotation_metadata tables and
	// their indexes if absent. Called once by New during initialization.
	EnsureSchema(ctx context.Context) error

	// Insert adds a new active record. The caller guarantees a unique ID.
	Insert(ctx context.Context, r *Record) error
	// Get fetches a record by id regardless of active state; the Store
	// decides visibility rules (active/expired) on top of this.
	Get(ctx context.Context, id string) (*Record, error)
	// ListActive returns all active records ordered by created_at DESC.
	ListActive(ctx context.Context) ([]*Record, error)
	// Update applies a dynamic column update to one record, atomically.
	// Returns ErrNotFound if id does not exist.
	Update(ctx context.Context, id string, u RecordUpdate) error
	// SoftDelete sets is_active=false, updated_at=now for an active record.
	// Returns true if a row was affected.
	SoftDelete(ctx context.Context, id string, now time.Time) (bool, error)
	// HardDeleteTombstones permanently removes rows with is_active=false
	// and updated_at < cutoff. Returns the number of rows removed.
	HardDeleteTombstones(ctx context.Context, cutoff time.Time) (int64, error)
	// ExpireDue flips is_active=false, updated_at=now for every row whose
	// expires_at has passed while still active. Returns the number flipped.
	ExpireDue(ctx context.Context, now time.Time) (int64, error)

	// GetRotationMetadata reads the single rotation-metadata row, or nil if
	// it has never been initialized.
	GetRotationMetadata(ctx context.Context) (*RotationMetadata, error)
	// InitRotationMetadata inserts the rotation-metadata row if absent. A
	// no-op (not an error) if it already exists.
	InitRotationMetadata(ctx context.Context, m RotationMetadata) error
	// CommitRotation atomically applies every successful re-encryption in
	// updates plus the rotation-metadata update. All-or-nothing.
	CommitRotation(ctx context.Context, updates map[string]RecordUpdate, meta RotationMetadata) error

	// ScheduleTimer records the next maintenance-loop fire time.
	ScheduleTimer(ctx context.Context, next time.Time) error
	// NextTimer returns the currently scheduled fire time, or zero if none
	// has ever been scheduled.
	NextTimer(ctx context.Context) (time.Time, error)

	// Close releases any resources held by the storage layer.
	Close() error
}
