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
	"sort"
	"sync"
	"time"

	"github.com/jerry-enebeli/linkcache/internal/apierror"
	"github.com/jerry-enebeli/linkcache/model"
)

// MemoryDataSource keeps link records in process. It applies the same claim
// rules as the PostgreSQL store, with the mutex standing in for row locks.
type MemoryDataSource struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[string]*model.LinkRecord
}

// NewMemoryDataSource returns an empty store. A nil clock uses time.Now.
func NewMemoryDataSource(clock func() time.Time) *MemoryDataSource {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryDataSource{now: clock, records: make(map[string]*model.LinkRecord)}
}

func (m *MemoryDataSource) nowMillis() int64 {
	return m.now().UnixMilli()
}

// Records are copied on the way out. Pointer fields are only ever replaced, never written through.
func copyRecord(r *model.LinkRecord) *model.LinkRecord {
	c := *r
	return &c
}

func (m *MemoryDataSource) FindByCanonicalID(_ context.Context, canonicalID string) (*model.LinkRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[canonicalID]
	if !ok {
		return nil, nil
	}
	return copyRecord(r), nil
}

func (m *MemoryDataSource) FindByCanonicalIDs(_ context.Context, canonicalIDs []string) ([]*model.LinkRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := []*model.LinkRecord{}
	seen := make(map[string]struct{}, len(canonicalIDs))
	for _, id := range canonicalIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if r, ok := m.records[id]; ok {
			records = append(records, copyRecord(r))
		}
	}
	return records, nil
}

func (m *MemoryDataSource) InsertPendingOrDoNothing(_ context.Context, pending model.PendingLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[pending.CanonicalID]; ok {
		return nil
	}
	viewURL := pending.ViewURL
	m.records[pending.CanonicalID] = &model.LinkRecord{
		CanonicalID: pending.CanonicalID,
		Platform:    pending.Platform,
		ViewURL:     &viewURL,
		Chain:       pending.Chain,
		Contract:    pending.Contract,
		Token:       pending.Token,
		CustomID:    pending.CustomID,
	}
	return nil
}

func (m *MemoryDataSource) lockable(r *model.LinkRecord, now int64, lockTTL, minUpdateInterval time.Duration) bool {
	at := time.UnixMilli(now)
	return !r.IsLocked(at, lockTTL) && r.IsStale(at, minUpdateInterval)
}

func (m *MemoryDataSource) LockForProcessing(_ context.Context, canonicalID string, lockTTL, minUpdateInterval time.Duration) (*model.LinkRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[canonicalID]
	if !ok {
		return nil, nil
	}
	now := m.nowMillis()
	if !m.lockable(r, now, lockTTL, minUpdateInterval) {
		return nil, nil
	}
	r.IsLockedSince = &now
	return copyRecord(r), nil
}

func (m *MemoryDataSource) UpdateWithSuccess(_ context.Context, card *model.NormalizedCard) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := model.NewPendingLink(card.Identifier)
	r, ok := m.records[pending.CanonicalID]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "Link not found: "+pending.CanonicalID, nil)
	}

	now := m.nowMillis()
	stored := *card
	updated := copyRecord(r)
	updated.FullData = &stored
	if pending.Chain != nil {
		updated.Chain = pending.Chain
	}
	if pending.Contract != nil {
		updated.Contract = pending.Contract
	}
	if pending.Token != nil {
		updated.Token = pending.Token
	}
	if pending.CustomID != nil {
		updated.CustomID = pending.CustomID
	}
	updated.MediaURI = stored.MediaURI()
	updated.Price = stored.PriceAmount()
	updated.LastErrorMessage = nil
	updated.FailedSince = nil
	updated.IsLockedSince = nil
	updated.LastTriedToUpdate = max(updated.LastTriedToUpdate, now)
	updated.LastSuccessfullyUpdated = &now
	m.records[pending.CanonicalID] = updated
	return nil
}

func (m *MemoryDataSource) UpdateWithFailure(_ context.Context, canonicalID string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[canonicalID]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "Link not found: "+canonicalID, nil)
	}

	now := m.nowMillis()
	updated := copyRecord(r)
	updated.LastErrorMessage = &message
	if updated.FailedSince == nil {
		updated.FailedSince = &now
	}
	updated.IsLockedSince = nil
	updated.LastTriedToUpdate = max(updated.LastTriedToUpdate, now)
	m.records[canonicalID] = updated
	return nil
}

func (m *MemoryDataSource) FindRefreshCandidates(_ context.Context, lockTTL, minUpdateInterval time.Duration, limit int) ([]*model.LinkRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowMillis()
	records := []*model.LinkRecord{}
	for _, r := range m.records {
		if m.lockable(r, now, lockTTL, minUpdateInterval) {
			records = append(records, copyRecord(r))
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].LastTriedToUpdate == records[j].LastTriedToUpdate {
			return records[i].CanonicalID < records[j].CanonicalID
		}
		return records[i].LastTriedToUpdate < records[j].LastTriedToUpdate
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
