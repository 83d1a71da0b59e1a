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

package request_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jerry-enebeli/linkcache/internal/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToJsonReq_Success(t *testing.T) {
	payload := map[string]string{
		"key": "value",
	}

	reqBuffer, err := request.ToJsonReq(payload)
	assert.NoError(t, err)

	// Ensure the returned buffer contains the expected JSON
	expectedJSON, _ := json.Marshal(payload)
	assert.Equal(t, expectedJSON, reqBuffer.Bytes())
}

func TestToJsonReq_Fail(t *testing.T) {
	// Payload with unsupported data type
	payload := map[string]interface{}{
		"key": make(chan int), // invalid data type for JSON encoding
	}

	reqBuffer, err := request.ToJsonReq(payload)
	assert.Error(t, err)
	assert.Nil(t, reqBuffer)
}

func TestFetchText_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "linkcache-test", r.Header.Get("User-Agent"))
		_, err := w.Write([]byte(`<html><head><title>ok</title></head></html>`))
		assert.NoError(t, err)
	}))
	defer server.Close()

	body, err := request.FetchText(context.Background(), server.Client(), server.URL, request.FetchOptions{UserAgent: "linkcache-test"})
	require.NoError(t, err)
	assert.Contains(t, body, "<title>ok</title>")
}

func TestFetchText_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := request.FetchText(context.Background(), server.Client(), server.URL, request.FetchOptions{})
	var httpErr *request.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.Status)
}

func TestFetchText_TooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 64)))
	}))
	defer server.Close()

	_, err := request.FetchText(context.Background(), server.Client(), server.URL, request.FetchOptions{MaxBytes: 32})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "response too large")

	body, err := request.FetchText(context.Background(), server.Client(), server.URL, request.FetchOptions{MaxBytes: 64})
	require.NoError(t, err)
	assert.Len(t, body, 64)
}

func TestPostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Signature"))

		var got map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "link.updated", got["event"])
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	status, err := request.PostJSON(context.Background(), server.Client(), server.URL, map[string]string{"event": "link.updated"}, map[string]string{"X-Signature": "secret"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, status)
}

func TestPostJSON_Fail_DoRequest(t *testing.T) {
	_, err := request.PostJSON(context.Background(), http.DefaultClient, "http://invalid-url.invalid", map[string]string{}, nil)
	assert.Error(t, err)
}
