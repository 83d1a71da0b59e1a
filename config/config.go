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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"

	DEFAULT_REFRESH_QUEUE = "link_refresh"
	DEFAULT_WEBHOOK_QUEUE = "webhook_queue"

	DEFAULT_MIN_UPDATE_INTERVAL_MS = 2 * 60 * 1000
	DEFAULT_LOCK_TTL_MS            = 2 * 60 * 1000
	DEFAULT_MAX_ATTEMPTS           = 5
	DEFAULT_RETRY_INTERVAL_MS      = 10 * 1000
	DEFAULT_TRACKING_CONCURRENCY   = 8

	DEFAULT_RESOLVER_TIMEOUT_MS = 5000
	DEFAULT_RESOLVER_MAX_BYTES  = 2_000_000
	DEFAULT_USER_AGENT          = "linkcache-resolver/1.0"
	DEFAULT_MAX_URL_LENGTH      = 2048
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"LINKCACHE_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"LINKCACHE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"LINKCACHE_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"LINKCACHE_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"LINKCACHE_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"LINKCACHE_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns             string `json:"dns" envconfig:"LINKCACHE_DATA_SOURCE_DNS"`
	MaxOpenConns    int    `json:"max_open_conns" envconfig:"LINKCACHE_DATA_SOURCE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" envconfig:"LINKCACHE_DATA_SOURCE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime_sec" envconfig:"LINKCACHE_DATA_SOURCE_CONN_MAX_LIFETIME_SEC"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"LINKCACHE_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"LINKCACHE_REDIS_SKIP_TLS_VERIFY"`
}

// QueueConfig controls asynchronous dispatch. When Enabled is false every
// refresh is resolved inline by the process that detected staleness.
type QueueConfig struct {
	Enabled        bool   `json:"enabled" envconfig:"LINKCACHE_QUEUE_ENABLED"`
	RefreshQueue   string `json:"refresh_queue" envconfig:"LINKCACHE_QUEUE_REFRESH_QUEUE"`
	WebhookQueue   string `json:"webhook_queue" envconfig:"LINKCACHE_QUEUE_WEBHOOK_QUEUE"`
	MaxRetry       int    `json:"max_retry" envconfig:"LINKCACHE_QUEUE_MAX_RETRY"`
	Concurrency    int    `json:"concurrency" envconfig:"LINKCACHE_QUEUE_CONCURRENCY"`
	MonitoringPort string `json:"monitoring_port" envconfig:"LINKCACHE_QUEUE_MONITORING_PORT"`
}

type ResolutionConfig struct {
	MinUpdateIntervalMs int64 `json:"min_update_interval_ms" envconfig:"LINKCACHE_MIN_UPDATE_INTERVAL_MS"`
	LockTTLMs           int64 `json:"lock_ttl_ms" envconfig:"LINKCACHE_LOCK_TTL_MS"`
	MaxAttempts         int   `json:"max_attempts" envconfig:"LINKCACHE_MAX_ATTEMPTS"`
	RetryIntervalMs     int64 `json:"retry_interval_ms" envconfig:"LINKCACHE_RETRY_INTERVAL_MS"`
	TrackingConcurrency int   `json:"tracking_concurrency" envconfig:"LINKCACHE_TRACKING_CONCURRENCY"`
	ViewCacheTTLSec     int   `json:"view_cache_ttl_sec" envconfig:"LINKCACHE_VIEW_CACHE_TTL_SEC"`
}

func (r ResolutionConfig) MinUpdateInterval() time.Duration {
	return time.Duration(r.MinUpdateIntervalMs) * time.Millisecond
}

func (r ResolutionConfig) LockTTL() time.Duration {
	return time.Duration(r.LockTTLMs) * time.Millisecond
}

func (r ResolutionConfig) RetryInterval() time.Duration {
	return time.Duration(r.RetryIntervalMs) * time.Millisecond
}

func (r ResolutionConfig) ViewCacheTTL() time.Duration {
	return time.Duration(r.ViewCacheTTLSec) * time.Second
}

type ResolverConfig struct {
	TimeoutMs         int64   `json:"timeout_ms" envconfig:"LINKCACHE_RESOLVER_TIMEOUT_MS"`
	MaxBytes          int64   `json:"max_bytes" envconfig:"LINKCACHE_RESOLVER_HTTP_MAX_BYTES"`
	UserAgent         string  `json:"user_agent" envconfig:"LINKCACHE_RESOLVER_USER_AGENT"`
	RequestsPerSecond float64 `json:"requests_per_second" envconfig:"LINKCACHE_RESOLVER_RPS"`
	Burst             int     `json:"burst" envconfig:"LINKCACHE_RESOLVER_BURST"`
}

func (r ResolverConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

type CanonicalizerConfig struct {
	MaxURLLength int `json:"max_url_length" envconfig:"LINKCACHE_MAX_URL_LENGTH"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"LINKCACHE_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack        SlackWebhook `json:"slack"`
	RedisChannel string       `json:"redis_channel" envconfig:"LINKCACHE_NOTIFICATION_REDIS_CHANNEL"`
	Webhook      struct {
		Url     string            `json:"url" envconfig:"LINKCACHE_WEBHOOK_URL"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type SweeperConfig struct {
	Enabled     bool `json:"enabled" envconfig:"LINKCACHE_SWEEPER_ENABLED"`
	IntervalSec int  `json:"interval_sec" envconfig:"LINKCACHE_SWEEPER_INTERVAL_SEC"`
	BatchSize   int  `json:"batch_size" envconfig:"LINKCACHE_SWEEPER_BATCH_SIZE"`
}

func (s SweeperConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSec) * time.Second
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"LINKCACHE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"LINKCACHE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"LINKCACHE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type Configuration struct {
	ProjectName     string              `json:"project_name" envconfig:"LINKCACHE_PROJECT_NAME"`
	EnableTelemetry bool                `json:"enable_telemetry" envconfig:"LINKCACHE_ENABLE_TELEMETRY"`
	Server          ServerConfig        `json:"server"`
	DataSource      DataSourceConfig    `json:"data_source"`
	Redis           RedisConfig         `json:"redis"`
	Queue           QueueConfig         `json:"queue"`
	Resolution      ResolutionConfig    `json:"resolution"`
	Resolver        ResolverConfig      `json:"resolver"`
	Canonicalizer   CanonicalizerConfig `json:"canonicalizer"`
	Notification    Notification        `json:"notification"`
	Sweeper         SweeperConfig       `json:"sweeper"`
	RateLimit       RateLimitConfig     `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("linkcache", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called linkcache.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Link Cache"
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Queue.Enabled && cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's required when the queue is enabled.")
		return errors.New("redis DNS is required when queue is enabled")
	}

	if cnf.Notification.RedisChannel != "" && cnf.Redis.Dns == "" {
		return errors.New("redis DNS is required for redis notifications")
	}

	if cnf.Resolution.ViewCacheTTLSec > 0 && cnf.Redis.Dns == "" {
		return errors.New("redis DNS is required for the view cache")
	}

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.setQueueDefaults()
	cnf.setResolutionDefaults()

	if cnf.Canonicalizer.MaxURLLength <= 0 {
		cnf.Canonicalizer.MaxURLLength = DEFAULT_MAX_URL_LENGTH
	}

	if cnf.Sweeper.IntervalSec <= 0 {
		cnf.Sweeper.IntervalSec = 60
	}
	if cnf.Sweeper.BatchSize <= 0 {
		cnf.Sweeper.BatchSize = 100
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (cnf *Configuration) setQueueDefaults() {
	if cnf.Queue.RefreshQueue == "" {
		cnf.Queue.RefreshQueue = DEFAULT_REFRESH_QUEUE
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = DEFAULT_WEBHOOK_QUEUE
	}
	if cnf.Queue.MaxRetry <= 0 {
		cnf.Queue.MaxRetry = 3
	}
	if cnf.Queue.Concurrency <= 0 {
		cnf.Queue.Concurrency = 10
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5004"
	}
}

func (cnf *Configuration) setResolutionDefaults() {
	r := &cnf.Resolution
	if r.MinUpdateIntervalMs <= 0 {
		r.MinUpdateIntervalMs = DEFAULT_MIN_UPDATE_INTERVAL_MS
	}
	if r.LockTTLMs <= 0 {
		r.LockTTLMs = DEFAULT_LOCK_TTL_MS
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = DEFAULT_MAX_ATTEMPTS
	}
	if r.RetryIntervalMs < 0 {
		r.RetryIntervalMs = 0
	} else if r.RetryIntervalMs == 0 {
		r.RetryIntervalMs = DEFAULT_RETRY_INTERVAL_MS
	}
	if r.TrackingConcurrency <= 0 {
		r.TrackingConcurrency = DEFAULT_TRACKING_CONCURRENCY
	}

	v := &cnf.Resolver
	if v.TimeoutMs <= 0 {
		v.TimeoutMs = DEFAULT_RESOLVER_TIMEOUT_MS
	}
	if v.MaxBytes <= 0 {
		v.MaxBytes = DEFAULT_RESOLVER_MAX_BYTES
	}
	if v.UserAgent == "" {
		v.UserAgent = DEFAULT_USER_AGENT
	}
	if v.RequestsPerSecond <= 0 {
		v.RequestsPerSecond = 2
	}
	if v.Burst <= 0 {
		v.Burst = 4
	}

	if worst := cnf.worstCaseResolution(); r.LockTTL() <= worst {
		logrus.Warnf("lock TTL %s does not exceed worst case resolution time %s; a slow worker may lose its lock", r.LockTTL(), worst)
	}
}

// worstCaseResolution is the longest a single locked resolution can take:
// every attempt times out and every pause between attempts is taken.
func (cnf *Configuration) worstCaseResolution() time.Duration {
	attempts := time.Duration(cnf.Resolution.MaxAttempts)
	return attempts*cnf.Resolver.Timeout() + (attempts-1)*cnf.Resolution.RetryInterval()
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
