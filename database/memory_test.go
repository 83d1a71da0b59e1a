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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jerry-enebeli/linkcache/internal/apierror"
	"github.com/jerry-enebeli/linkcache/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMemory() (*MemoryDataSource, *testClock) {
	clock := &testClock{now: time.UnixMilli(1700000000000)}
	return NewMemoryDataSource(clock.Now), clock
}

func TestMemory_InsertPendingIsIdempotent(t *testing.T) {
	ds, _ := newTestMemory()
	ctx := context.Background()
	pending := model.NewPendingLink(testCard().Identifier)

	require.NoError(t, ds.InsertPendingOrDoNothing(ctx, pending))
	require.NoError(t, ds.InsertPendingOrDoNothing(ctx, pending))

	record, err := ds.FindByCanonicalID(ctx, testCanonicalID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, int64(0), record.LastTriedToUpdate)
	assert.Nil(t, record.FullData)
	assert.Nil(t, record.IsLockedSince)

	records, err := ds.FindByCanonicalIDs(ctx, []string{testCanonicalID, testCanonicalID, "missing"})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestMemory_LockIsExclusive(t *testing.T) {
	ds, _ := newTestMemory()
	ctx := context.Background()
	require.NoError(t, ds.InsertPendingOrDoNothing(ctx, model.NewPendingLink(testCard().Identifier)))

	var acquired int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record, err := ds.LockForProcessing(ctx, testCanonicalID, 2*time.Minute, 2*time.Minute)
			assert.NoError(t, err)
			if record != nil {
				atomic.AddInt32(&acquired, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), acquired)
}

func TestMemory_ExpiredLockIsReclaimable(t *testing.T) {
	ds, clock := newTestMemory()
	ctx := context.Background()
	require.NoError(t, ds.InsertPendingOrDoNothing(ctx, model.NewPendingLink(testCard().Identifier)))

	first, err := ds.LockForProcessing(ctx, testCanonicalID, time.Minute, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)

	clock.Advance(30 * time.Second)
	again, err := ds.LockForProcessing(ctx, testCanonicalID, time.Minute, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, again)

	clock.Advance(31 * time.Second)
	reclaimed, err := ds.LockForProcessing(ctx, testCanonicalID, time.Minute, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, clock.Now().UnixMilli(), *reclaimed.IsLockedSince)
}

func TestMemory_LockRespectsMinUpdateInterval(t *testing.T) {
	ds, clock := newTestMemory()
	ctx := context.Background()
	require.NoError(t, ds.InsertPendingOrDoNothing(ctx, model.NewPendingLink(testCard().Identifier)))

	_, err := ds.LockForProcessing(ctx, testCanonicalID, time.Minute, 2*time.Minute)
	require.NoError(t, err)
	require.NoError(t, ds.UpdateWithSuccess(ctx, testCard()))

	clock.Advance(time.Minute)
	record, err := ds.LockForProcessing(ctx, testCanonicalID, time.Minute, 2*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, record)

	clock.Advance(time.Minute + time.Millisecond)
	record, err = ds.LockForProcessing(ctx, testCanonicalID, time.Minute, 2*time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, record)
}

func TestMemory_FailureStreak(t *testing.T) {
	ds, clock := newTestMemory()
	ctx := context.Background()
	require.NoError(t, ds.InsertPendingOrDoNothing(ctx, model.NewPendingLink(testCard().Identifier)))

	firstFailure := clock.Now().UnixMilli()
	require.NoError(t, ds.UpdateWithFailure(ctx, testCanonicalID, "first"))

	clock.Advance(time.Minute)
	require.NoError(t, ds.UpdateWithFailure(ctx, testCanonicalID, "second"))

	record, err := ds.FindByCanonicalID(ctx, testCanonicalID)
	require.NoError(t, err)
	assert.Equal(t, firstFailure, *record.FailedSince)
	assert.Equal(t, "second", *record.LastErrorMessage)
	assert.Equal(t, clock.Now().UnixMilli(), record.LastTriedToUpdate)
	assert.Nil(t, record.FullData)

	clock.Advance(time.Minute)
	require.NoError(t, ds.UpdateWithSuccess(ctx, testCard()))

	record, err = ds.FindByCanonicalID(ctx, testCanonicalID)
	require.NoError(t, err)
	assert.Nil(t, record.FailedSince)
	assert.Nil(t, record.LastErrorMessage)
	assert.Nil(t, record.IsLockedSince)
	assert.Equal(t, "https://cdn.example/x.png", *record.MediaURI)
	assert.Equal(t, "1.5", record.Price.Decimal.String())
	assert.Equal(t, clock.Now().UnixMilli(), *record.LastSuccessfullyUpdated)

	// a failure after success keeps the last known good data
	clock.Advance(time.Minute)
	require.NoError(t, ds.UpdateWithFailure(ctx, testCanonicalID, "third"))
	record, err = ds.FindByCanonicalID(ctx, testCanonicalID)
	require.NoError(t, err)
	require.NotNil(t, record.FullData)
	assert.Equal(t, clock.Now().UnixMilli(), *record.FailedSince)
}

func TestMemory_UpdateUnknownRecord(t *testing.T) {
	ds, _ := newTestMemory()

	err := ds.UpdateWithFailure(context.Background(), "missing", "boom")
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))

	err = ds.UpdateWithSuccess(context.Background(), testCard())
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))
}

func TestMemory_FindRefreshCandidates(t *testing.T) {
	ds, clock := newTestMemory()
	ctx := context.Background()

	card := testCard()
	require.NoError(t, ds.InsertPendingOrDoNothing(ctx, model.NewPendingLink(card.Identifier)))
	require.NoError(t, ds.UpdateWithFailure(ctx, testCanonicalID, "boom"))

	other := model.CanonicalLink{Platform: model.PlatformOpenSea, CanonicalID: "OPENSEA:eth:0x0000000000000000000000000000000000000001:1", ViewURL: "https://opensea.io/assets/ethereum/0x0000000000000000000000000000000000000001/1"}
	require.NoError(t, ds.InsertPendingOrDoNothing(ctx, model.NewPendingLink(other)))

	locked := model.CanonicalLink{Platform: model.PlatformOpenSea, CanonicalID: "OPENSEA:eth:0x0000000000000000000000000000000000000001:2", ViewURL: "https://opensea.io/assets/ethereum/0x0000000000000000000000000000000000000001/2"}
	require.NoError(t, ds.InsertPendingOrDoNothing(ctx, model.NewPendingLink(locked)))
	_, err := ds.LockForProcessing(ctx, locked.CanonicalID, time.Hour, time.Minute)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	records, err := ds.FindRefreshCandidates(ctx, time.Hour, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, other.CanonicalID, records[0].CanonicalID)
	assert.Equal(t, testCanonicalID, records[1].CanonicalID)

	records, err = ds.FindRefreshCandidates(ctx, time.Hour, time.Minute, 1)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
