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

// Package resolver builds normalized cards for canonical marketplace links
// from the listing page itself.
package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jerry-enebeli/linkcache/config"
	"github.com/jerry-enebeli/linkcache/internal/canonical"
	"github.com/jerry-enebeli/linkcache/internal/request"
	"github.com/jerry-enebeli/linkcache/model"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"
)

const weiDecimals = 18

var platformNames = map[model.Platform]string{
	model.PlatformSuperRare:  "SuperRare",
	model.PlatformOpenSea:    "OpenSea",
	model.PlatformFoundation: "Foundation",
	model.PlatformManifold:   "Manifold",
	model.PlatformTransient:  "Transient",
}

// ErrMissingMedia is returned when neither the link nor the page yields media.
var ErrMissingMedia = errors.New("missing media")

type canonicalizer interface {
	Canonicalize(rawURL string) (model.CanonicalLink, error)
}

// HTTPResolver fetches the listing page of a canonical link and reads its
// Open Graph data. Requests are rate limited per host.
type HTTPResolver struct {
	canonicalizer canonicalizer
	client        *http.Client
	timeout       time.Duration
	maxBytes      int64
	userAgent     string

	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option configures an HTTPResolver.
type Option func(*HTTPResolver)

// WithHTTPClient replaces the default http client.
func WithHTTPClient(client *http.Client) Option {
	return func(r *HTTPResolver) {
		r.client = client
	}
}

func New(c canonicalizer, cnf config.ResolverConfig, opts ...Option) *HTTPResolver {
	r := &HTTPResolver{
		canonicalizer: c,
		client:        &http.Client{},
		timeout:       cnf.Timeout(),
		maxBytes:      cnf.MaxBytes,
		userAgent:     cnf.UserAgent,
		limit:         rate.Limit(cnf.RequestsPerSecond),
		burst:         cnf.Burst,
		limiters:      make(map[string]*rate.Limiter),
	}
	if r.timeout <= 0 {
		r.timeout = time.Duration(config.DEFAULT_RESOLVER_TIMEOUT_MS) * time.Millisecond
	}
	if r.limit <= 0 {
		r.limit = rate.Inf
	}
	if r.burst <= 0 {
		r.burst = 1
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *HTTPResolver) limiterFor(host string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	limiter, ok := r.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(r.limit, r.burst)
		r.limiters[host] = limiter
	}
	return limiter
}

// Resolve returns a card for rawURL. The error describes why the link could
// not be enriched and is stored as the record's last error.
func (r *HTTPResolver) Resolve(ctx context.Context, rawURL string) (*model.NormalizedCard, error) {
	ctx, span := otel.Tracer("resolver").Start(ctx, "Resolving link")
	defer span.End()

	link, err := r.canonicalizer.Canonicalize(rawURL)
	if err != nil {
		return nil, err
	}

	card := baseCard(link)
	if err := r.enrichFromPage(ctx, card, link); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if card.Asset.Media == nil {
		return nil, errors.Wrapf(ErrMissingMedia, "unable to enrich %s", rawURL)
	}
	return card, nil
}

func baseCard(link model.CanonicalLink) *model.NormalizedCard {
	card := &model.NormalizedCard{
		Identifier: link,
		Market: model.Market{
			SaleType: "UNKNOWN",
			CTA:      primaryAction(link.Platform, link.ViewURL),
		},
		Links: model.Links{
			ViewURL:     link.ViewURL,
			BuyOrBidURL: link.ViewURL,
		},
	}

	ids := link.Identifiers
	switch ids.Kind {
	case model.KindToken:
		card.Asset.Contract = ids.Contract
		card.Asset.TokenID = ids.TokenID
		card.Links.ExplorerURL = fmt.Sprintf("https://etherscan.io/nft/%s/%s", ids.Contract, ids.TokenID)
	case model.KindContractOnly:
		card.Asset.Contract = ids.Contract
		card.Links.ExplorerURL = fmt.Sprintf("https://etherscan.io/address/%s", ids.Contract)
	}
	return card
}

func primaryAction(platform model.Platform, viewURL string) *model.CallToAction {
	name, ok := platformNames[platform]
	if !ok {
		name = string(platform)
	}
	return &model.CallToAction{Label: "View on " + name, URL: viewURL}
}

func ogFetchAllowed(viewURL string) bool {
	u, err := url.Parse(viewURL)
	if err != nil {
		return false
	}
	return canonical.IsSupportedHost(u.Hostname())
}

func (r *HTTPResolver) enrichFromPage(ctx context.Context, card *model.NormalizedCard, link model.CanonicalLink) error {
	needsTitle := card.Asset.Title == ""
	needsImage := card.Asset.Media == nil || (card.Asset.Media.ImageURL == "" && card.Asset.Media.AnimationURL == "")
	if !needsTitle && !needsImage {
		return nil
	}
	if !ogFetchAllowed(link.ViewURL) {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	u, _ := url.Parse(link.ViewURL)
	if err := r.limiterFor(u.Hostname()).Wait(ctx); err != nil {
		return errors.Wrapf(err, "rate limited fetching %s", link.ViewURL)
	}

	html, err := request.FetchText(ctx, r.client, link.ViewURL, request.FetchOptions{
		UserAgent: r.userAgent,
		MaxBytes:  r.maxBytes,
	})
	if err != nil {
		return err
	}

	og := ExtractOG(html)
	if needsTitle && og.Title != "" {
		card.Asset.Title = og.Title
	}
	if card.Asset.Description == "" && og.Description != "" {
		card.Asset.Description = og.Description
	}
	if needsImage && og.Image != "" {
		card.Asset.Media = &model.Media{Kind: "image", ImageURL: og.Image}
	}
	if card.Market.Price == nil && og.LastPrice != "" {
		amount, err := FormatTokenAmount(og.LastPrice, weiDecimals)
		if err != nil {
			logrus.WithField("url", link.ViewURL).Warnf("ignoring unparsable lastPrice %q: %v", og.LastPrice, err)
		} else {
			card.Market.Price = &model.Price{Amount: amount, Currency: "ETH"}
		}
	}
	return nil
}

// FormatTokenAmount renders an integer amount of base units as a decimal
// string with the given number of decimals.
func FormatTokenAmount(baseUnits string, decimals int32) (string, error) {
	d, err := decimal.NewFromString(baseUnits)
	if err != nil {
		return "", err
	}
	return d.Shift(-decimals).String(), nil
}
