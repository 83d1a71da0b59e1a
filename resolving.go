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
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jerry-enebeli/linkcache/internal/cache"
	"github.com/jerry-enebeli/linkcache/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// GetLinkData returns the cached view of rawURL, scheduling a refresh when
// the record is missing or stale. The view returned may predate that refresh,
// and is nil while the link has never been stored.
func (l *LinkCache) GetLinkData(ctx context.Context, rawURL string) (*model.LinkView, error) {
	ctx, span := tracer.Start(ctx, "Get Link Data")
	defer span.End()

	link, err := l.canonicalizer.Canonicalize(rawURL)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("link.canonical_id", link.CanonicalID))

	if view, ok := l.cachedView(ctx, link.CanonicalID); ok {
		return view, nil
	}

	record, err := l.datasource.FindByCanonicalID(ctx, link.CanonicalID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	stale := true
	if record == nil {
		if err := l.datasource.InsertPendingOrDoNothing(ctx, model.NewPendingLink(link)); err != nil {
			span.RecordError(err)
			return nil, err
		}
	} else {
		stale = record.IsStale(l.now(), l.minUpdateInterval)
	}

	if stale {
		if err := l.dispatcher.Dispatch(ctx, link, link.OriginalURL); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	record, err = l.datasource.FindByCanonicalID(ctx, link.CanonicalID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	view := record.ToView()
	if record.LastSuccessfullyUpdated != nil {
		l.storeView(ctx, record, &view)
	}
	return &view, nil
}

// AttemptResolve claims the record for rawURL and resolves it. Nothing happens
// when another worker holds the claim or the record was updated recently.
// Resolver failures are retried and then stored on the record; only
// datasource failures are returned.
func (l *LinkCache) AttemptResolve(ctx context.Context, rawURL string) error {
	ctx, span := tracer.Start(ctx, "Attempt Resolve")
	defer span.End()

	logger := logrus.WithField("url", rawURL)
	logger.Info("attempting to resolve link")

	link, err := l.canonicalizer.Canonicalize(rawURL)
	if err != nil {
		logger.Errorf("link did not pass validation and should never have been dispatched: %v", err)
		return nil
	}
	logger = logger.WithField("canonical_id", link.CanonicalID)
	span.SetAttributes(attribute.String("link.canonical_id", link.CanonicalID))

	record, err := l.datasource.LockForProcessing(ctx, link.CanonicalID, l.lockTTL, l.minUpdateInterval)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if record == nil {
		logger.Info("no link ready for processing")
		return nil
	}

	// The claim is held until a terminal write, so the loop must not be cut
	// short by the caller going away.
	ctx = context.WithoutCancel(ctx)

	if err := l.resolveWithRetry(ctx, link, rawURL, logger); err != nil {
		if ferr := l.datasource.UpdateWithFailure(ctx, link.CanonicalID, err.Error()); ferr != nil {
			span.RecordError(ferr)
			return ferr
		}
		l.evictView(ctx, link.CanonicalID)
		return nil
	}

	logger.Info("link data updated")
	l.evictView(ctx, link.CanonicalID)
	l.publishUpdate(ctx, link.CanonicalID, logger)
	return nil
}

// resolveWithRetry runs up to maxAttempts resolve-and-persist attempts with a
// fixed pause between them and returns the last error. The card is always
// stored under the claimed link.
func (l *LinkCache) resolveWithRetry(ctx context.Context, link model.CanonicalLink, rawURL string, logger *logrus.Entry) error {
	attempt := 0
	operation := func() error {
		attempt++
		card, err := l.resolver.Resolve(ctx, rawURL)
		if err == nil && card == nil {
			err = errResolverNoCard
		}
		if err == nil {
			err = l.datasource.UpdateWithSuccess(ctx, claimedCard(card, link, logger))
		}
		if err != nil {
			entry := logger.WithField("attempt", attempt).WithError(err)
			if attempt < l.maxAttempts {
				entry.Errorf("attempt %d of %d failed, retrying in %s", attempt, l.maxAttempts, l.retryInterval)
			} else {
				entry.Errorf("attempt %d of %d failed", attempt, l.maxAttempts)
			}
		}
		return err
	}
	return backoff.Retry(operation, l.retryPolicy())
}

func claimedCard(card *model.NormalizedCard, link model.CanonicalLink, logger *logrus.Entry) *model.NormalizedCard {
	if card.Identifier.CanonicalID == link.CanonicalID {
		return card
	}
	logger.WithField("resolved_id", card.Identifier.CanonicalID).Warn("resolver returned a card for another link")
	claimed := *card
	claimed.Identifier = link
	return &claimed
}

func (l *LinkCache) retryPolicy() backoff.BackOff {
	if l.maxAttempts <= 1 {
		return &backoff.StopBackOff{}
	}
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(l.retryInterval), uint64(l.maxAttempts-1))
}

// publishUpdate sends the stored view to the notifier. Nothing it does can
// fail the resolution that was already persisted.
func (l *LinkCache) publishUpdate(ctx context.Context, canonicalID string, logger *logrus.Entry) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("link update notification panicked: %v", r)
		}
	}()

	record, err := l.datasource.FindByCanonicalID(ctx, canonicalID)
	if err != nil {
		logger.WithError(err).Error("failed to read link for notification")
		return
	}
	if record == nil {
		return
	}

	view := record.ToView()
	if err := l.notifier.Notify(ctx, &view); err != nil {
		logger.WithError(err).Error("failed to send link update notification")
	}
}

var errResolverNoCard = errors.New("resolver returned no card")

// minViewCacheTTL is the shortest TTL the Redis cache accepts.
const minViewCacheTTL = time.Second

func viewCacheKey(canonicalID string) string {
	return fmt.Sprintf("link-view:%s", canonicalID)
}

// cachedLinkView is a view together with the moment its record turns stale.
// Entries are only served while they are fresh, so a cache hit never hides
// a refresh that is due.
type cachedLinkView struct {
	View       model.LinkView `json:"view"`
	FreshUntil int64          `json:"fresh_until"`
}

func (l *LinkCache) cachedView(ctx context.Context, canonicalID string) (*model.LinkView, bool) {
	if l.viewCache == nil || l.viewCacheTTL <= 0 {
		return nil, false
	}
	var entry cachedLinkView
	if err := l.viewCache.Get(ctx, viewCacheKey(canonicalID), &entry); err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			logrus.WithField("canonical_id", canonicalID).WithError(err).Warn("view cache read failed")
		}
		return nil, false
	}
	if l.now().UnixMilli() > entry.FreshUntil {
		return nil, false
	}
	return &entry.View, true
}

// storeView caches the view of a fresh record for the shorter of the
// configured TTL and the time left until the record turns stale.
func (l *LinkCache) storeView(ctx context.Context, record *model.LinkRecord, view *model.LinkView) {
	if l.viewCache == nil || l.viewCacheTTL <= 0 {
		return
	}
	freshUntil := record.LastTriedToUpdate + l.minUpdateInterval.Milliseconds()
	ttl := min(l.viewCacheTTL, time.Duration(freshUntil-l.now().UnixMilli())*time.Millisecond)
	if ttl < minViewCacheTTL {
		return
	}
	entry := cachedLinkView{View: *view, FreshUntil: freshUntil}
	if err := l.viewCache.Set(ctx, viewCacheKey(view.CanonicalID), &entry, ttl); err != nil {
		logrus.WithField("canonical_id", view.CanonicalID).WithError(err).Warn("view cache write failed")
	}
}

func (l *LinkCache) evictView(ctx context.Context, canonicalID string) {
	if l.viewCache == nil || l.viewCacheTTL <= 0 {
		return
	}
	if err := l.viewCache.Delete(ctx, viewCacheKey(canonicalID)); err != nil {
		logrus.WithField("canonical_id", canonicalID).WithError(err).Warn("view cache eviction failed")
	}
}
