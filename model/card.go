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
	"github.com/shopspring/decimal"
)

type Platform string

const (
	PlatformSuperRare  Platform = "SUPERRARE"
	PlatformOpenSea    Platform = "OPENSEA"
	PlatformFoundation Platform = "FOUNDATION"
	PlatformManifold   Platform = "MANIFOLD"
	PlatformTransient  Platform = "TRANSIENT"
)

type IdentifierKind string

const (
	KindToken         IdentifierKind = "TOKEN"
	KindContractOnly  IdentifierKind = "CONTRACT_ONLY"
	KindManifoldClaim IdentifierKind = "MANIFOLD_CLAIM"
	KindURLOnly       IdentifierKind = "URL_ONLY"
)

// CanonicalIdentifiers are the platform specific fields parsed out of a link.
// Which fields are set depends on Kind.
type CanonicalIdentifiers struct {
	Kind         IdentifierKind `json:"kind"`
	Chain        string         `json:"chain,omitempty"`
	Contract     string         `json:"contract,omitempty"`
	TokenID      string         `json:"tokenId,omitempty"`
	InstanceID   string         `json:"instanceId,omitempty"`
	InstanceSlug string         `json:"instanceSlug,omitempty"`
	AppID        string         `json:"appId,omitempty"`
}

// CustomID returns the non-token identifier used by claim style platforms.
func (i CanonicalIdentifiers) CustomID() string {
	switch {
	case i.InstanceSlug != "":
		return i.InstanceSlug
	case i.InstanceID != "":
		return i.InstanceID
	default:
		return i.AppID
	}
}

// CanonicalLink is the stable identity of a marketplace URL.
type CanonicalLink struct {
	Platform    Platform             `json:"platform"`
	ViewURL     string               `json:"viewUrl"`
	CanonicalID string               `json:"canonicalId"`
	Identifiers CanonicalIdentifiers `json:"identifiers"`
	OriginalURL string               `json:"originalUrl"`
}

type Creator struct {
	Name       string `json:"name,omitempty"`
	Address    string `json:"address,omitempty"`
	ProfileURL string `json:"profileUrl,omitempty"`
}

type Collection struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

type Media struct {
	Kind         string `json:"kind"`
	ImageURL     string `json:"imageUrl,omitempty"`
	AnimationURL string `json:"animationUrl,omitempty"`
	MimeType     string `json:"mimeType,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
}

type Asset struct {
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	Creator     *Creator    `json:"creator,omitempty"`
	Collection  *Collection `json:"collection,omitempty"`
	Contract    string      `json:"contract,omitempty"`
	TokenID     string      `json:"tokenId,omitempty"`
	Media       *Media      `json:"media,omitempty"`
}

type Price struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type CallToAction struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

type Market struct {
	SaleType     string        `json:"saleType,omitempty"`
	Availability string        `json:"availability,omitempty"`
	Price        *Price        `json:"price,omitempty"`
	EndsAt       string        `json:"endsAt,omitempty"`
	CTA          *CallToAction `json:"cta,omitempty"`
}

type Links struct {
	ViewURL     string `json:"viewUrl"`
	BuyOrBidURL string `json:"buyOrBidUrl,omitempty"`
	ExplorerURL string `json:"explorerUrl,omitempty"`
}

// NormalizedCard is the platform independent description of a listing
// returned by a resolver and stored as full_data.
type NormalizedCard struct {
	Identifier CanonicalLink `json:"identifier"`
	Asset      Asset         `json:"asset"`
	Market     Market        `json:"market"`
	Links      Links         `json:"links"`
}

// MediaURI prefers the still image over the animation.
func (c *NormalizedCard) MediaURI() *string {
	if c.Asset.Media == nil {
		return nil
	}
	if c.Asset.Media.ImageURL != "" {
		return &c.Asset.Media.ImageURL
	}
	return nullableString(c.Asset.Media.AnimationURL)
}

// PriceAmount parses the market price. An unparsable amount is treated as absent.
func (c *NormalizedCard) PriceAmount() decimal.NullDecimal {
	if c.Market.Price == nil || c.Market.Price.Amount == "" {
		return decimal.NullDecimal{}
	}
	amount, err := decimal.NewFromString(c.Market.Price.Amount)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(amount)
}
