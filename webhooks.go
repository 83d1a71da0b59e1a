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
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jerry-enebeli/linkcache/config"
	"github.com/jerry-enebeli/linkcache/internal/request"
	"github.com/jerry-enebeli/linkcache/model"
	"github.com/sirupsen/logrus"
)

const EventLinkUpdated = "link.updated"

const webhookTimeout = 10 * time.Second

// NewWebhook is the body posted to the configured webhook URL.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

// WebhookNotifier forwards link updates to the webhook URL. With a queue the
// delivery happens on a worker, otherwise it is posted right away.
type WebhookNotifier struct {
	queue  *Queue
	client *http.Client
}

func NewWebhookNotifier(q *Queue) *WebhookNotifier {
	return &WebhookNotifier{queue: q, client: &http.Client{Timeout: webhookTimeout}}
}

func (w *WebhookNotifier) Notify(ctx context.Context, view *model.LinkView) error {
	hook := NewWebhook{Event: EventLinkUpdated, Payload: view}
	if w.queue != nil {
		return w.queue.enqueueWebhook(ctx, hook)
	}
	return postWebhook(ctx, w.client, hook)
}

func postWebhook(ctx context.Context, client *http.Client, hook NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	status, err := request.PostJSON(ctx, client, conf.Notification.Webhook.Url, hook, conf.Notification.Webhook.Headers)
	if err != nil {
		// 4xx will not get better on redelivery.
		if status >= 400 && status < 500 {
			logrus.Errorf("webhook rejected with status code: %d", status)
			return nil
		}
		return err
	}
	logrus.Infof("webhook notification sent: %s", hook.Event)
	return nil
}

// ProcessWebhook is the worker handler for webhook tasks.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.Errorf("Error unmarshaling task payload: %v", err)
		return err
	}
	logrus.Infof("Processing webhook: %s", payload.Event)
	return postWebhook(ctx, &http.Client{Timeout: webhookTimeout}, payload)
}
