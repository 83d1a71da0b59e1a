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

package linkcache

import (
	"context"
	"embed"
	"time"

	"github.com/jerry-enebeli/linkcache/config"
	"github.com/jerry-enebeli/linkcache/database"
	"github.com/jerry-enebeli/linkcache/internal/cache"
	"github.com/jerry-enebeli/linkcache/model"
	"go.opentelemetry.io/otel"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

var tracer = otel.Tracer("linkcache")

// Canonicalizer turns an arbitrary marketplace URL into its stable identity.
type Canonicalizer interface {
	Canonicalize(rawURL string) (model.CanonicalLink, error)
}

// Resolver fetches the current state of a link from upstream.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) (*model.NormalizedCard, error)
}

// Notifier receives the post-update view after a successful resolution.
type Notifier interface {
	Notify(ctx context.Context, view *model.LinkView) error
}

// Dispatcher hands a stale link to whatever performs the resolution, either
// a queue or the calling goroutine.
type Dispatcher interface {
	Dispatch(ctx context.Context, link model.CanonicalLink, rawURL string) error
}

// LinkCache coordinates reads, refreshes and resolution of marketplace links.
// The datasource is the only coordination point between processes.
type LinkCache struct {
	datasource    database.IDataSource
	canonicalizer Canonicalizer
	resolver      Resolver
	notifier      Notifier
	dispatcher    Dispatcher
	queue         *Queue

	viewCache    cache.Cache
	viewCacheTTL time.Duration

	lockTTL             time.Duration
	minUpdateInterval   time.Duration
	maxAttempts         int
	retryInterval       time.Duration
	trackingConcurrency int
	now                 func() time.Time
}

type Option func(*LinkCache)

func WithNotifier(n Notifier) Option {
	return func(l *LinkCache) {
		l.notifier = n
	}
}

// WithDispatcher replaces the default inline dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(l *LinkCache) {
		l.dispatcher = d
	}
}

// WithQueue dispatches refreshes through q instead of resolving inline.
func WithQueue(q *Queue) Option {
	return func(l *LinkCache) {
		l.queue = q
		l.dispatcher = NewQueueDispatcher(q)
	}
}

// WithViewCache serves views from c for up to ttl. A zero ttl disables it.
func WithViewCache(c cache.Cache, ttl time.Duration) Option {
	return func(l *LinkCache) {
		l.viewCache = c
		l.viewCacheTTL = ttl
	}
}

func WithRetryPolicy(maxAttempts int, interval time.Duration) Option {
	return func(l *LinkCache) {
		l.maxAttempts = maxAttempts
		l.retryInterval = interval
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *LinkCache) {
		l.now = now
	}
}

// New builds a LinkCache. Without options refreshes run inline and
// notifications are dropped.
func New(db database.IDataSource, c Canonicalizer, r Resolver, cnf config.ResolutionConfig, opts ...Option) *LinkCache {
	l := &LinkCache{
		datasource:          db,
		canonicalizer:       c,
		resolver:            r,
		notifier:            noopNotifier{},
		lockTTL:             cnf.LockTTL(),
		minUpdateInterval:   cnf.MinUpdateInterval(),
		maxAttempts:         cnf.MaxAttempts,
		retryInterval:       cnf.RetryInterval(),
		trackingConcurrency: cnf.TrackingConcurrency,
		now:                 time.Now,
	}
	if l.lockTTL <= 0 {
		l.lockTTL = time.Duration(config.DEFAULT_LOCK_TTL_MS) * time.Millisecond
	}
	if l.minUpdateInterval <= 0 {
		l.minUpdateInterval = time.Duration(config.DEFAULT_MIN_UPDATE_INTERVAL_MS) * time.Millisecond
	}
	if l.maxAttempts <= 0 {
		l.maxAttempts = config.DEFAULT_MAX_ATTEMPTS
	}
	if l.retryInterval <= 0 {
		l.retryInterval = time.Duration(config.DEFAULT_RETRY_INTERVAL_MS) * time.Millisecond
	}
	if l.trackingConcurrency <= 0 {
		l.trackingConcurrency = config.DEFAULT_TRACKING_CONCURRENCY
	}
	l.dispatcher = NewInlineDispatcher(l)

	for _, opt := range opts {
		opt(l)
	}
	if l.notifier == nil {
		l.notifier = noopNotifier{}
	}
	return l
}

func (l *LinkCache) Canonicalizer() Canonicalizer {
	return l.canonicalizer
}

// Queue returns the refresh queue, or nil when refreshes run inline.
func (l *LinkCache) Queue() *Queue {
	return l.queue
}

func (l *LinkCache) Close() error {
	if l.queue == nil {
		return nil
	}
	return l.queue.Close()
}
