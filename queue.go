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
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/jerry-enebeli/linkcache/config"
	redis_db "github.com/jerry-enebeli/linkcache/internal/redis-db"
	"github.com/sirupsen/logrus"
)

const (
	TaskTypeLinkRefresh = "link:refresh"
	TaskTypeWebhook     = "link:webhook"
)

// Queue wraps the asynq client used to hand work to the worker processes.
type Queue struct {
	Client       *asynq.Client
	Inspector    *asynq.Inspector
	refreshQueue string
	webhookQueue string
	maxRetry     int
}

// LinkRefreshPayload is the body of a refresh task.
type LinkRefreshPayload struct {
	RawURL string `json:"rawUrl"`
}

// NewQueue connects to the Redis instance configured for the queue.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := redis_db.AsynqConnOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	return &Queue{
		Client:       asynq.NewClient(opt),
		Inspector:    asynq.NewInspector(opt),
		refreshQueue: queueName(conf.Queue.RefreshQueue, config.DEFAULT_REFRESH_QUEUE),
		webhookQueue: queueName(conf.Queue.WebhookQueue, config.DEFAULT_WEBHOOK_QUEUE),
		maxRetry:     conf.Queue.MaxRetry,
	}, nil
}

func queueName(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

// EnqueueLinkRefresh adds a refresh task keyed by canonical id. While a task
// for the same id is still waiting or running, further refreshes are absorbed
// by it. A finished task that asynq still retains under the id is replaced.
func (q *Queue) EnqueueLinkRefresh(ctx context.Context, canonicalID, rawURL string) error {
	ctx, span := tracer.Start(ctx, "Enqueue Link Refresh")
	defer span.End()

	payload, err := json.Marshal(LinkRefreshPayload{RawURL: rawURL})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypeLinkRefresh, payload,
		asynq.TaskID(canonicalID),
		asynq.Queue(q.refreshQueue),
		asynq.MaxRetry(q.maxRetry),
	)
	logger := logrus.WithField("canonical_id", canonicalID)

	info, err := q.Client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		var replaced bool
		replaced, err = q.releaseFinishedTask(canonicalID)
		if err != nil {
			span.RecordError(err)
			logger.WithError(err).Error("failed to inspect conflicting link refresh")
			return err
		}
		if !replaced {
			logger.Debug(" [*] refresh already queued")
			return nil
		}
		info, err = q.Client.EnqueueContext(ctx, task)
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			// another process re-enqueued it first
			return nil
		}
	}
	if err != nil {
		span.RecordError(err)
		logger.WithError(err).Error("failed to enqueue link refresh")
		return err
	}
	logrus.Infof(" [*] Successfully enqueued link refresh: %s (%s)", canonicalID, info.Queue)
	return nil
}

// releaseFinishedTask deletes the retained task holding canonicalID when it
// can no longer run. It reports whether the id is free for a new task.
func (q *Queue) releaseFinishedTask(canonicalID string) (bool, error) {
	info, err := q.Inspector.GetTaskInfo(q.refreshQueue, canonicalID)
	if errors.Is(err, asynq.ErrTaskNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if !isFinished(info.State) {
		return false, nil
	}
	err = q.Inspector.DeleteTask(q.refreshQueue, canonicalID)
	if err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return false, err
	}
	logrus.WithFields(logrus.Fields{
		"canonical_id": canonicalID,
		"state":        info.State.String(),
	}).Warn("replacing finished link refresh task")
	return true, nil
}

func isFinished(state asynq.TaskState) bool {
	return state == asynq.TaskStateArchived || state == asynq.TaskStateCompleted
}

// QueuedRefresh returns the refresh task waiting for canonicalID, or nil.
// Archived and completed tasks are not waiting.
func (q *Queue) QueuedRefresh(canonicalID string) (*LinkRefreshPayload, error) {
	info, err := q.Inspector.GetTaskInfo(q.refreshQueue, canonicalID)
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if isFinished(info.State) {
		return nil, nil
	}
	var payload LinkRefreshPayload
	if err := json.Unmarshal(info.Payload, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (q *Queue) enqueueWebhook(ctx context.Context, hook NewWebhook) error {
	payload, err := json.Marshal(hook)
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskTypeWebhook, payload,
		asynq.Queue(q.webhookQueue),
		asynq.MaxRetry(q.maxRetry),
	)
	if _, err := q.Client.EnqueueContext(ctx, task); err != nil {
		return err
	}
	return nil
}

func (q *Queue) Close() error {
	return errors.Join(q.Client.Close(), q.Inspector.Close())
}

// ProcessLinkRefresh is the worker handler for refresh tasks. A task that
// cannot be decoded is dropped, since redelivering it cannot succeed.
func (l *LinkCache) ProcessLinkRefresh(ctx context.Context, task *asynq.Task) error {
	ctx, span := tracer.Start(ctx, "Process Link Refresh From Redis Queue")
	defer span.End()

	var payload LinkRefreshPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.WithError(err).Error("dropping malformed link refresh task")
		return nil
	}
	if payload.RawURL == "" {
		logrus.Error("dropping link refresh task without a url")
		return nil
	}

	logrus.Infof(" [*] Processing link refresh: %s", payload.RawURL)
	return l.AttemptResolve(ctx, payload.RawURL)
}
