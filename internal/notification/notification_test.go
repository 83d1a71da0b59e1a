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

package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jerry-enebeli/linkcache/config"
	"github.com/jerry-enebeli/linkcache/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wacul/ptr"
)

func TestRedisNotifier_Publishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "links:updated")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	messages := sub.Channel()

	view := &model.LinkView{
		CanonicalID: "OPENSEA:eth:0x0000000000000000000000000000000000000001:1",
		Platform:    "OPENSEA",
		Name:        ptr.String("X"),
		Price:       ptr.String("1.5"),
	}
	notifier := NewRedisNotifier(client, "links:updated")
	require.NoError(t, notifier.Notify(ctx, view))

	select {
	case msg := <-messages:
		var got model.LinkView
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, view.CanonicalID, got.CanonicalID)
		assert.Equal(t, "X", *got.Name)
		assert.Equal(t, "1.5", *got.Price)
		assert.Nil(t, got.LastErrorMessage)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a published message")
	}
}

func TestRedisNotifier_ConnectionError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	err := NewRedisNotifier(client, "links:updated").Notify(context.Background(), &model.LinkView{CanonicalID: "x"})
	assert.Error(t, err)
}

func TestSlackNotification(t *testing.T) {
	received := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		raw, _ := json.Marshal(body)
		received <- string(raw)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cnf := &config.Configuration{}
	cnf.Notification.Slack.WebhookUrl = server.URL
	config.MockConfig(cnf)

	SlackNotification(errors.New("database unreachable"))

	select {
	case body := <-received:
		assert.True(t, strings.Contains(body, "database unreachable"))
	case <-time.After(2 * time.Second):
		t.Fatal("expected slack webhook to be called")
	}
}
