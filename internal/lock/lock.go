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
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockHeld  = errors.New("lock is held by another owner")
	ErrNotHolder = errors.New("lock expired or is held by another owner")
)

const (
	releaseScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript  = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

// Locker is a single-key Redis lock. Only the owner that acquired the key
// can release or extend it.
type Locker struct {
	client redis.UniversalClient
	key    string
	owner  string
}

// NewLocker creates a lock on key with a random owner token.
func NewLocker(client redis.UniversalClient, key string) *Locker {
	return NewLockerWithOwner(client, key, uuid.NewString())
}

func NewLockerWithOwner(client redis.UniversalClient, key, owner string) *Locker {
	return &Locker{client: client, key: key, owner: owner}
}

func (l *Locker) Key() string {
	return l.key
}

// Lock acquires the key for ttl or returns ErrLockHeld.
func (l *Locker) Lock(ctx context.Context, ttl time.Duration) error {
	acquired, err := l.client.SetNX(ctx, l.key, l.owner, ttl).Result()
	if err != nil {
		return err
	}
	if !acquired {
		return ErrLockHeld
	}
	return nil
}

func (l *Locker) Unlock(ctx context.Context) error {
	return l.runOwned(ctx, releaseScript)
}

// Extend resets the expiry of a lock this owner still holds.
func (l *Locker) Extend(ctx context.Context, ttl time.Duration) error {
	return l.runOwned(ctx, extendScript, strconv.FormatInt(ttl.Milliseconds(), 10))
}

func (l *Locker) runOwned(ctx context.Context, script string, extra ...interface{}) error {
	args := append([]interface{}{l.owner}, extra...)
	result, err := l.client.Eval(ctx, script, []string{l.key}, args...).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return ErrNotHolder
	}
	return nil
}
