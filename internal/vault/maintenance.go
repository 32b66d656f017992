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
)

// AdvanceMaintenance runs one maintenance pass as of now: it soft-deletes
// every active row whose expires_at has passed, then hard-deletes every
// tombstone older than the store's retention window. Both steps are single
// transactions at the Storage Layer. Safe to call directly from an external
// cron instead of running MaintenanceLoop, per spec.md §9.
func (s *Store) AdvanceMaintenance(ctx context.Context, now time.Time) (expired, reaped int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired, err = s.storage.ExpireDue(ctx, now)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: expiring due secrets: %v", ErrStorageFailure, err)
	}

	cutoff := now.Add(-s.retention)
	reaped, err = s.storage.HardDeleteTombstones(ctx, cutoff)
	if err != nil {
		return expired, 0, fmt.Errorf("%w: reaping tombstones: %v", ErrStorageFailure, err)
	}

	if err := s.storage.ScheduleTimer(ctx, now.Add(ReaperInterval)); err != nil {
		return expired, reaped, fmt.Errorf("%w: rescheduling timer: %v", ErrStorageFailure, err)
	}

	return expired, reaped, nil
}

// MaintenanceLoop fires AdvanceMaintenance on a ticker until its context is
// cancelled, for hosts that want the Store to self-schedule rather than
// drive AdvanceMaintenance from an external cron.
type MaintenanceLoop struct {
	store    *Store
	interval time.Duration
}

// NewMaintenanceLoop creates a loop that advances store's maintenance every
// interval (spec.md's default is one hour).
func NewMaintenanceLoop(store *Store, interval time.Duration) *MaintenanceLoop {
	return &MaintenanceLoop{store: store, interval: interval}
}

// Run blocks, firing AdvanceMaintenance every interval, until ctx is done.
func (l *MaintenanceLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, _, err := l.store.AdvanceMaintenance(ctx, now.UTC()); err != nil {
				l.store.log.Error(err, "maintenance pass failed", "userID", l.store.userID)
			}
		}
	}
}
