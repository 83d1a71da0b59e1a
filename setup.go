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
	"github.com/jerry-enebeli/linkcache/config"
	"github.com/jerry-enebeli/linkcache/database"
	"github.com/jerry-enebeli/linkcache/internal/cache"
	"github.com/jerry-enebeli/linkcache/internal/canonical"
	"github.com/jerry-enebeli/linkcache/internal/notification"
	redis_db "github.com/jerry-enebeli/linkcache/internal/redis-db"
	"github.com/jerry-enebeli/linkcache/internal/resolver"
)

// NewLinkCache wires a LinkCache from configuration: the HTTP resolver, the
// refresh queue when enabled, Redis and webhook notifiers when configured and
// the view cache when it has a TTL.
func NewLinkCache(db database.IDataSource) (*LinkCache, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	canonicalizer := canonical.New(cnf.Canonicalizer.MaxURLLength)
	opts := []Option{}

	var queue *Queue
	if cnf.Queue.Enabled {
		queue, err = NewQueue(cnf)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithQueue(queue))
	}

	// closeQueue releases the queue connections when a later step fails.
	closeQueue := func() {
		if queue != nil {
			_ = queue.Close()
		}
	}

	var notifiers []Notifier
	if cnf.Notification.RedisChannel != "" {
		client, err := redis_db.NewRedisClient(redis_db.SplitAddresses(cnf.Redis.Dns), cnf.Redis.SkipTLSVerify)
		if err != nil {
			closeQueue()
			return nil, err
		}
		notifiers = append(notifiers, notification.NewRedisNotifier(client.Client(), cnf.Notification.RedisChannel))
	}
	if cnf.Notification.Webhook.Url != "" {
		notifiers = append(notifiers, NewWebhookNotifier(queue))
	}
	opts = append(opts, WithNotifier(CombineNotifiers(notifiers...)))

	if cnf.Resolution.ViewCacheTTLSec > 0 {
		viewCache, err := cache.NewCache(cnf)
		if err != nil {
			closeQueue()
			return nil, err
		}
		opts = append(opts, WithViewCache(viewCache, cnf.Resolution.ViewCacheTTL()))
	}

	return New(db, canonicalizer, resolver.New(canonicalizer, cnf.Resolver), cnf.Resolution, opts...), nil
}
