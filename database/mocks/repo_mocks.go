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

package mocks

import (
	"context"
	"time"

	"github.com/jerry-enebeli/linkcache/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Link methods

func (m *MockDataSource) FindByCanonicalID(ctx context.Context, canonicalID string) (*model.LinkRecord, error) {
	args := m.Called(ctx, canonicalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.LinkRecord), args.Error(1)
}

func (m *MockDataSource) FindByCanonicalIDs(ctx context.Context, canonicalIDs []string) ([]*model.LinkRecord, error) {
	args := m.Called(ctx, canonicalIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.LinkRecord), args.Error(1)
}

func (m *MockDataSource) InsertPendingOrDoNothing(ctx context.Context, pending model.PendingLink) error {
	args := m.Called(ctx, pending)
	return args.Error(0)
}

func (m *MockDataSource) LockForProcessing(ctx context.Context, canonicalID string, lockTTL, minUpdateInterval time.Duration) (*model.LinkRecord, error) {
	args := m.Called(ctx, canonicalID, lockTTL, minUpdateInterval)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.LinkRecord), args.Error(1)
}

func (m *MockDataSource) UpdateWithSuccess(ctx context.Context, card *model.NormalizedCard) error {
	args := m.Called(ctx, card)
	return args.Error(0)
}

func (m *MockDataSource) UpdateWithFailure(ctx context.Context, canonicalID string, message string) error {
	args := m.Called(ctx, canonicalID, message)
	return args.Error(0)
}

func (m *MockDataSource) FindRefreshCandidates(ctx context.Context, lockTTL, minUpdateInterval time.Duration, limit int) ([]*model.LinkRecord, error) {
	args := m.Called(ctx, lockTTL, minUpdateInterval, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.LinkRecord), args.Error(1)
}
