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

package redlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sweepKey = "linkcache:sweeper"

func TestLocker_Lock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLockerWithOwner(db, sweepKey, "worker-1")

	mock.ExpectSetNX(sweepKey, "worker-1", 30*time.Second).SetVal(true)
	mock.ExpectSetNX(sweepKey, "worker-1", 30*time.Second).SetVal(false)
	mock.ExpectSetNX(sweepKey, "worker-1", 30*time.Second).SetErr(errors.New("connection refused"))

	assert.NoError(t, locker.Lock(context.Background(), 30*time.Second))
	assert.ErrorIs(t, locker.Lock(context.Background(), 30*time.Second), ErrLockHeld)
	assert.EqualError(t, locker.Lock(context.Background(), 30*time.Second), "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Unlock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLockerWithOwner(db, sweepKey, "worker-1")

	mock.ExpectEval(releaseScript, []string{sweepKey}, "worker-1").SetVal(int64(1))
	mock.ExpectEval(releaseScript, []string{sweepKey}, "worker-1").SetVal(int64(0))

	assert.NoError(t, locker.Unlock(context.Background()))
	assert.ErrorIs(t, locker.Unlock(context.Background()), ErrNotHolder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Extend(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLockerWithOwner(db, sweepKey, "worker-1")

	mock.ExpectEval(extendScript, []string{sweepKey}, "worker-1", "60000").SetVal(int64(1))
	mock.ExpectEval(extendScript, []string{sweepKey}, "worker-1", "60000").SetVal(int64(0))

	assert.NoError(t, locker.Extend(context.Background(), time.Minute))
	assert.ErrorIs(t, locker.Extend(context.Background(), time.Minute), ErrNotHolder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_OwnersExcludeEachOther(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	first := NewLocker(client, sweepKey)
	second := NewLocker(client, sweepKey)

	require.NoError(t, first.Lock(ctx, time.Minute))
	assert.ErrorIs(t, second.Lock(ctx, time.Minute), ErrLockHeld)
	assert.ErrorIs(t, second.Unlock(ctx), ErrNotHolder)

	require.NoError(t, first.Unlock(ctx))
	assert.NoError(t, second.Lock(ctx, time.Minute))
}

func TestLocker_Expiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	first := NewLocker(client, sweepKey)
	second := NewLocker(client, sweepKey)

	require.NoError(t, first.Lock(ctx, time.Second))
	mr.FastForward(2 * time.Second)

	assert.NoError(t, second.Lock(ctx, time.Second))
	assert.Equal(t, sweepKey, second.Key())
}
