/*
Copyright 2024 Blnk Finance Authors.

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

package database

import (
	"context"
	"time"

	"github.com/jerry-enebeli/linkcache/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	link // Interface for link record operations
}

// link defines methods for reading and transitioning link records.
type link interface {
	FindByCanonicalID(ctx context.Context, canonicalID string) (*model.LinkRecord, error)                                           // Retrieves a record, nil when absent
	FindByCanonicalIDs(ctx context.Context, canonicalIDs []string) ([]*model.LinkRecord, error)                                     // Retrieves all existing records in one round trip
	InsertPendingOrDoNothing(ctx context.Context, pending model.PendingLink) error                                                  // Inserts a never-tried record unless one exists
	LockForProcessing(ctx context.Context, canonicalID string, lockTTL, minUpdateInterval time.Duration) (*model.LinkRecord, error) // Claims a due, unlocked record; nil means no work
	UpdateWithSuccess(ctx context.Context, card *model.NormalizedCard) error                                                        // Persists a resolved card and releases the lock
	UpdateWithFailure(ctx context.Context, canonicalID string, message string) error                                                // Persists the last error and releases the lock
	FindRefreshCandidates(ctx context.Context, lockTTL, minUpdateInterval time.Duration, limit int) ([]*model.LinkRecord, error)    // Lists lockable stale records, oldest attempt first
}
