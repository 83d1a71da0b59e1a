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

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LinkRecord is the persisted state of one canonical marketplace resource.
// Timestamps are epoch milliseconds taken from the store's clock.
type LinkRecord struct {
	CanonicalID             string              `json:"canonical_id"`
	Platform                string              `json:"platform"`
	ViewURL                 *string             `json:"view_url"`
	Chain                   *string             `json:"chain"`
	Contract                *string             `json:"contract"`
	Token                   *string             `json:"token"`
	CustomID                *string             `json:"custom_id"`
	FullData                *NormalizedCard     `json:"full_data"`
	MediaURI                *string             `json:"media_uri"`
	Price                   decimal.NullDecimal `json:"price"`
	LastErrorMessage        *string             `json:"last_error_message"`
	LastTriedToUpdate       int64               `json:"last_tried_to_update"`
	LastSuccessfullyUpdated *int64              `json:"last_successfully_updated"`
	FailedSince             *int64              `json:"failed_since"`
	IsLockedSince           *int64              `json:"is_locked_since"`
}

// PendingLink holds the identifying columns written when a link is first seen.
type PendingLink struct {
	CanonicalID string
	Platform    string
	ViewURL     string
	Chain       *string
	Contract    *string
	Token       *string
	CustomID    *string
}

// LinkView is the read projection handed to API callers and notification listeners.
type LinkView struct {
	CanonicalID             string  `json:"canonical_id"`
	Platform                string  `json:"platform"`
	Chain                   *string `json:"chain"`
	Contract                *string `json:"contract"`
	Token                   *string `json:"token"`
	Name                    *string `json:"name"`
	Description             *string `json:"description"`
	MediaURI                *string `json:"media_uri"`
	LastErrorMessage        *string `json:"last_error_message"`
	Price                   *string `json:"price"`
	LastSuccessfullyUpdated *int64  `json:"last_successfully_updated"`
	FailedSince             *int64  `json:"failed_since"`
}

// NewPendingLink copies the identifying attributes of a canonical link.
func NewPendingLink(link CanonicalLink) PendingLink {
	ids := link.Identifiers
	return PendingLink{
		CanonicalID: link.CanonicalID,
		Platform:    string(link.Platform),
		ViewURL:     link.ViewURL,
		Chain:       nullableString(ids.Chain),
		Contract:    nullableString(ids.Contract),
		Token:       nullableString(ids.TokenID),
		CustomID:    nullableString(ids.CustomID()),
	}
}

// IsStale reports whether the last attempt is older than minUpdateInterval.
func (r *LinkRecord) IsStale(now time.Time, minUpdateInterval time.Duration) bool {
	return r.LastTriedToUpdate+minUpdateInterval.Milliseconds() < now.UnixMilli()
}

// IsLocked reports whether a worker holds a lock that has not yet expired.
func (r *LinkRecord) IsLocked(now time.Time, lockTTL time.Duration) bool {
	if r.IsLockedSince == nil {
		return false
	}
	return *r.IsLockedSince >= now.UnixMilli()-lockTTL.Milliseconds()
}

// ToView projects the record into its public shape.
func (r *LinkRecord) ToView() LinkView {
	view := LinkView{
		CanonicalID:             r.CanonicalID,
		Platform:                r.Platform,
		Chain:                   r.Chain,
		Contract:                r.Contract,
		Token:                   r.Token,
		MediaURI:                r.MediaURI,
		LastErrorMessage:        r.LastErrorMessage,
		LastSuccessfullyUpdated: r.LastSuccessfullyUpdated,
		FailedSince:             r.FailedSince,
	}
	if r.FullData != nil {
		view.Name = nullableString(r.FullData.Asset.Title)
		view.Description = nullableString(r.FullData.Asset.Description)
	}
	if r.Price.Valid {
		price := r.Price.Decimal.String()
		view.Price = &price
	}
	return view
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
