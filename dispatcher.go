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
)

// InlineDispatcher resolves on the calling goroutine.
type InlineDispatcher struct {
	linkCache *LinkCache
}

func NewInlineDispatcher(l *LinkCache) *InlineDispatcher {
	return &InlineDispatcher{linkCache: l}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, _ model.CanonicalLink, rawURL string) error {
	return d.linkCache.AttemptResolve(ctx, rawURL)
}

// QueueDispatcher enqueues a refresh task and returns immediately.
type QueueDispatcher struct {
	queue *Queue
}

func NewQueueDispatcher(q *Queue) *QueueDispatcher {
	return &QueueDispatcher{queue: q}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, link model.CanonicalLink, rawURL string) error {
	return d.queue.EnqueueLinkRefresh(ctx, link.CanonicalID, rawURL)
}
