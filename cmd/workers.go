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

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/jerry-enebeli/linkcache"
	"github.com/jerry-enebeli/linkcache/config"
	redlock "github.com/jerry-enebeli/linkcache/internal/lock"
	redis_db "github.com/jerry-enebeli/linkcache/internal/redis-db"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

func initializeQueues(conf *config.Configuration) map[string]int {
	return map[string]int{
		conf.Queue.RefreshQueue: 3,
		conf.Queue.WebhookQueue: 1,
	}
}

func initializeWorkerServer(conf *config.Configuration, redisOpt asynq.RedisConnOpt) *asynq.Server {
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: conf.Queue.Concurrency,
		Queues:      initializeQueues(conf),
		Logger:      logrus.StandardLogger(),
	})
}

func initializeTaskHandlers(l *linkcache.LinkCache, mux *asynq.ServeMux) {
	mux.HandleFunc(linkcache.TaskTypeLinkRefresh, l.ProcessLinkRefresh)
	mux.HandleFunc(linkcache.TaskTypeWebhook, linkcache.ProcessWebhook)
}

func startMonitoring(conf *config.Configuration, redisOpt asynq.RedisConnOpt) {
	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: redisOpt,
	})

	go func() {
		monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
		log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
		if err := http.ListenAndServe(monitoringAddr, h); err != nil {
			log.Fatalf("could not start asynqmon server: %v", err)
		}
	}()
}

// startSweeper runs the stale link sweeper when it is enabled. Every worker
// may start one; the redis lock lets only one of them sweep per interval.
func startSweeper(ctx context.Context, conf *config.Configuration, l *linkcache.LinkCache) (*linkcache.StaleLinkSweeper, error) {
	if !conf.Sweeper.Enabled {
		return nil, nil
	}
	rdb, err := redis_db.NewRedisClient(redis_db.SplitAddresses(conf.Redis.Dns), conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error connecting sweeper to redis: %w", err)
	}
	locker := redlock.NewLocker(rdb.Client(), linkcache.SweeperLockKey)
	sweeper := linkcache.NewStaleLinkSweeper(l, locker, conf.Sweeper.Interval(), conf.Sweeper.BatchSize)
	sweeper.Start(ctx)
	return sweeper, nil
}

// workerCommands starts the queue consumers for link refreshes and webhooks.
func workerCommands(app *linkCacheInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start linkcache workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conf := app.cnf
			if !conf.Queue.Enabled {
				logrus.Warn("queue is disabled; workers will only drain tasks enqueued by other instances")
			}

			shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			redisOpt, err := redis_db.AsynqConnOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			if err != nil {
				log.Fatalf("error parsing Redis URL: %v", err)
			}

			sweeper, err := startSweeper(ctx, conf, app.linkCache)
			if err != nil {
				log.Fatal(err)
			}
			if sweeper != nil {
				defer sweeper.Stop()
			}

			srv := initializeWorkerServer(conf, redisOpt)
			mux := asynq.NewServeMux()
			initializeTaskHandlers(app.linkCache, mux)

			startMonitoring(conf, redisOpt)

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
