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
	"testing"
	"time"

	"github.com/jerry-enebeli/linkcache/config"
	"github.com/jerry-enebeli/linkcache/database/mocks"
	"github.com/jerry-enebeli/linkcache/internal/apierror"
	"github.com/jerry-enebeli/linkcache/internal/canonical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestEnsureTracking_DedupesByCanonicalID(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	l, store, _ := newTestLinkCache(newStubResolver(), WithDispatcher(dispatcher))

	urls := []string{
		artworkURL(1),
		"https://www.superrare.com/artwork/eth/" + testContract + "/1/?utm_campaign=drop",
		"not a url at all",
		artworkURL(2),
	}
	require.NoError(t, l.EnsureTrackingForUrls(context.Background(), urls))

	assert.ElementsMatch(t, []string{artworkURL(1), artworkURL(2)}, dispatcher.dispatched())

	records, err := store.FindByCanonicalIDs(context.Background(), []string{artworkID(1), artworkID(2)})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestEnsureTracking_InlineResolvesEachLinkOnce(t *testing.T) {
	resolver := newStubResolver()
	l, store, _ := newTestLinkCache(resolver)

	urls := []string{artworkURL(1), artworkURL(1), artworkURL(2), artworkURL(3)}
	require.NoError(t, l.EnsureTrackingForUrls(context.Background(), urls))
	assert.Equal(t, int32(3), resolver.calls.Load())

	for _, token := range []int{1, 2, 3} {
		record, err := store.FindByCanonicalID(context.Background(), artworkID(token))
		require.NoError(t, err)
		assert.NotNil(t, record.FullData)
	}
}

func TestTracking_OnlyRefreshDispatchesStaleKnownLinks(t *testing.T) {
	resolver := newStubResolver()
	l, _, clock := newTestLinkCache(resolver)
	ctx := context.Background()

	require.NoError(t, l.EnsureTrackingForUrls(ctx, []string{artworkURL(1)}))
	clock.Advance(3 * time.Minute)
	require.NoError(t, l.EnsureTrackingForUrls(ctx, []string{artworkURL(2)}))
	require.Equal(t, int32(2), resolver.calls.Load())

	dispatcher := &recordingDispatcher{}
	l.dispatcher = dispatcher

	require.NoError(t, l.EnsureTrackingForUrls(ctx, []string{artworkURL(1), artworkURL(2)}))
	assert.Empty(t, dispatcher.dispatched())

	require.NoError(t, l.RefreshStaleTrackingForUrls(ctx, []string{artworkURL(1), artworkURL(2)}))
	assert.Equal(t, []string{artworkURL(1)}, dispatcher.dispatched())
}

func TestTracking_DispatchFailureDoesNotBlockOthers(t *testing.T) {
	dispatcher := &recordingDispatcher{failFor: map[string]error{
		artworkID(2): errors.New("queue unavailable"),
	}}
	l, _, _ := newTestLinkCache(newStubResolver(), WithDispatcher(dispatcher))

	urls := []string{artworkURL(1), artworkURL(2), artworkURL(3)}
	require.NoError(t, l.EnsureTrackingForUrls(context.Background(), urls))
	assert.ElementsMatch(t, []string{artworkURL(1), artworkURL(3)}, dispatcher.dispatched())
}

func TestTracking_NothingValidMeansNoStoreCalls(t *testing.T) {
	store := &mocks.MockDataSource{}
	l := New(store, canonical.New(0), newStubResolver(), config.ResolutionConfig{})

	require.NoError(t, l.RefreshStaleTrackingForUrls(context.Background(), []string{"", "https://example.com/x"}))
	store.AssertExpectations(t)
}

func TestTracking_BulkReadFailure(t *testing.T) {
	readErr := apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fetch links", nil)
	store := &mocks.MockDataSource{}
	store.On("FindByCanonicalIDs", mock.Anything, []string{artworkID(1)}).Return(nil, readErr)
	l := New(store, canonical.New(0), newStubResolver(), config.ResolutionConfig{})

	assert.Equal(t, readErr, l.EnsureTrackingForUrls(context.Background(), []string{artworkURL(1)}))
	store.AssertExpectations(t)
}
