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
	"sync"
	"time"

	redlock "github.com/jerry-enebeli/linkcache/internal/lock"
	"github.com/jerry-enebeli/linkcache/model"
	"github.com/sirupsen/logrus"
)

const SweeperLockKey = "linkcache:stale-link-sweeper"

// StaleLinkSweeper periodically dispatches refreshes for links nobody has
// asked about since they went stale. With a locker only one process sweeps
// per interval.
type StaleLinkSweeper struct {
	linkCache *LinkCache
	locker    *redlock.Locker
	interval  time.Duration
	batchSize int

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

func NewStaleLinkSweeper(l *LinkCache, locker *redlock.Locker, interval time.Duration, batchSize int) *StaleLinkSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &StaleLinkSweeper{
		linkCache: l,
		locker:    locker,
		interval:  interval,
		batchSize: batchSize,
		stopCh:    make(chan struct{}),
	}
}

func (s *StaleLinkSweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()

	logrus.Info("Stale link sweeper started")
}

func (s *StaleLinkSweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	logrus.Info("Stale link sweeper stopped")
}

func (s *StaleLinkSweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *StaleLinkSweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				logrus.WithError(err).Error("stale link sweep failed")
			}
		}
	}
}

// Sweep dispatches one batch of refresh candidates and reports how many were
// dispatched. It returns zero without error when another process holds the
// sweep lock.
func (s *StaleLinkSweeper) Sweep(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "Sweep Stale Links")
	defer span.End()

	if s.locker != nil {
		if err := s.locker.Lock(ctx, s.interval); err != nil {
			if errors.Is(err, redlock.ErrLockHeld) {
				return 0, nil
			}
			return 0, err
		}
		// The lock is kept alive while the batch is dispatched and then left
		// to expire one interval later, so other processes skip that interval.
		defer s.holdLock(ctx)()
	}

	l := s.linkCache
	records, err := l.datasource.FindRefreshCandidates(ctx, l.lockTTL, l.minUpdateInterval, s.batchSize)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	var links []trackedLink
	for _, record := range records {
		if link, ok := s.relink(record); ok {
			links = append(links, link)
		}
	}
	l.dispatchAll(ctx, links)

	if len(links) > 0 {
		logrus.Infof("Dispatched %d stale links for refresh", len(links))
	}
	return len(links), nil
}

// holdLock extends the sweep lock every half interval until the returned
// func is called, which extends it a last time.
func (s *StaleLinkSweeper) holdLock(ctx context.Context) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.extendLock(ctx)
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
		s.extendLock(context.WithoutCancel(ctx))
	}
}

func (s *StaleLinkSweeper) extendLock(ctx context.Context) {
	if err := s.locker.Extend(ctx, s.interval); err != nil {
		logrus.WithField("lock", s.locker.Key()).WithError(err).Warn("failed to extend stale link sweep lock")
	}
}

func (s *StaleLinkSweeper) relink(record *model.LinkRecord) (trackedLink, bool) {
	if record.ViewURL == nil || *record.ViewURL == "" {
		return trackedLink{}, false
	}
	link, err := s.linkCache.canonicalizer.Canonicalize(*record.ViewURL)
	if err != nil {
		logrus.WithField("canonical_id", record.CanonicalID).WithError(err).Warn("stored view url no longer canonicalizes")
		return trackedLink{}, false
	}
	if link.CanonicalID != record.CanonicalID {
		logrus.WithFields(logrus.Fields{
			"canonical_id": record.CanonicalID,
			"resolved_id":  link.CanonicalID,
		}).Warn("stored view url maps to a different canonical id")
		return trackedLink{}, false
	}
	return trackedLink{link: link, rawURL: *record.ViewURL}, true
}
