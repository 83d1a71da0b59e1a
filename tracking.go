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

	"github.com/jerry-enebeli/linkcache/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

type trackedLink struct {
	link   model.CanonicalLink
	rawURL string
}

// EnsureTrackingForUrls stores every valid URL that is not yet known and
// schedules its first resolution. Known links are left alone.
func (l *LinkCache) EnsureTrackingForUrls(ctx context.Context, urls []string) error {
	return l.trackUrls(ctx, urls, false)
}

// RefreshStaleTrackingForUrls behaves like EnsureTrackingForUrls and also
// schedules a refresh for known links that are stale.
func (l *LinkCache) RefreshStaleTrackingForUrls(ctx context.Context, urls []string) error {
	return l.trackUrls(ctx, urls, true)
}

func (l *LinkCache) trackUrls(ctx context.Context, urls []string, refreshIfStale bool) error {
	ctx, span := tracer.Start(ctx, "Track Urls")
	defer span.End()

	links := l.uniqueLinks(urls)
	span.SetAttributes(attribute.Int("links.count", len(links)))
	if len(links) == 0 {
		return nil
	}

	ids := make([]string, 0, len(links))
	for _, t := range links {
		ids = append(ids, t.link.CanonicalID)
	}
	records, err := l.datasource.FindByCanonicalIDs(ctx, ids)
	if err != nil {
		span.RecordError(err)
		return err
	}
	existing := make(map[string]*model.LinkRecord, len(records))
	for _, r := range records {
		existing[r.CanonicalID] = r
	}

	now := l.now()
	var toDispatch []trackedLink
	for _, t := range links {
		record, ok := existing[t.link.CanonicalID]
		if !ok {
			if err := l.datasource.InsertPendingOrDoNothing(ctx, model.NewPendingLink(t.link)); err != nil {
				span.RecordError(err)
				return err
			}
			toDispatch = append(toDispatch, t)
			continue
		}
		if refreshIfStale && record.IsStale(now, l.minUpdateInterval) {
			toDispatch = append(toDispatch, t)
		}
	}

	l.dispatchAll(ctx, toDispatch)
	return nil
}

// uniqueLinks canonicalizes urls, dropping invalid ones and keeping the first
// URL seen for each canonical id.
func (l *LinkCache) uniqueLinks(urls []string) []trackedLink {
	seen := make(map[string]struct{}, len(urls))
	links := make([]trackedLink, 0, len(urls))
	for _, rawURL := range urls {
		link, err := l.canonicalizer.Canonicalize(rawURL)
		if err != nil {
			logrus.WithField("url", rawURL).Debugf("skipping untrackable url: %v", err)
			continue
		}
		if _, dup := seen[link.CanonicalID]; dup {
			continue
		}
		seen[link.CanonicalID] = struct{}{}
		links = append(links, trackedLink{link: link, rawURL: link.OriginalURL})
	}
	return links
}

// dispatchAll dispatches each link on its own goroutine. A failed dispatch is
// logged and does not stop the others.
func (l *LinkCache) dispatchAll(ctx context.Context, links []trackedLink) {
	var g errgroup.Group
	g.SetLimit(l.trackingConcurrency)
	for _, t := range links {
		g.Go(func() error {
			if err := l.dispatcher.Dispatch(ctx, t.link, t.rawURL); err != nil {
				logrus.WithFields(logrus.Fields{
					"url":          t.rawURL,
					"canonical_id": t.link.CanonicalID,
				}).WithError(err).Error("failed to dispatch link refresh")
			}
			return nil
		})
	}
	_ = g.Wait()
}
