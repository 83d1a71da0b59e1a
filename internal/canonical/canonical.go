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

// Package canonical turns marketplace URLs into stable identities without
// touching the network.
package canonical

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jerry-enebeli/linkcache/internal/apierror"
	"github.com/jerry-enebeli/linkcache/model"
)

const DefaultMaxURLLength = 2048

var (
	superRareHosts  = hostSet("superrare.com")
	openSeaHosts    = hostSet("opensea.io", "testnets.opensea.io")
	foundationHosts = hostSet("foundation.app")
	manifoldHosts   = hostSet("app.manifold.xyz", "manifold.xyz", "studio.manifold.xyz", "help.manifold.xyz")
	transientHosts  = hostSet("transient.xyz", "lab.transient.xyz")

	trackingKeys = hostSet("ref", "referrer", "source", "fbclid", "gclid", "mc_cid", "mc_eid")
)

var (
	contractRe = regexp.MustCompile(`^0x[a-f0-9]{40}$`)
	digitsRe   = regexp.MustCompile(`^\d+$`)

	superRareArtworkRe = regexp.MustCompile(`^/artwork/([a-z0-9-]+)/(0x[a-fA-F0-9]{40})/(\d+)/?$`)

	openSeaAssetRe       = regexp.MustCompile(`^/assets/([a-z0-9-]+)/(0x[a-fA-F0-9]{40})/(\d+)/?$`)
	openSeaItemRe        = regexp.MustCompile(`^/item/([a-z0-9-]+)/(0x[a-fA-F0-9]{40})/(\d+)/?$`)
	openSeaLegacyAssetRe = regexp.MustCompile(`^/assets/(0x[a-fA-F0-9]{40})/(\d+)/?$`)
	foundationTokenRe    = regexp.MustCompile(`^/mint/([a-z0-9-]+)/(0x[a-fA-F0-9]{40})/(\d+)/?$`)
	foundationContractRe = regexp.MustCompile(`^/mint/([a-z0-9-]+)/(0x[a-fA-F0-9]{40})/?$`)
	transientTokenRe     = regexp.MustCompile(`^/nfts/([a-z0-9-]+)/(0x[a-fA-F0-9]{40})/(\d+)/?$`)
	transientMintRe      = regexp.MustCompile(`^/mint/([^/?#]+)/?$`)

	manifoldInstanceParamRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,128}$`)
	manifoldUserIDRe        = regexp.MustCompile(`^/(?:@[^/]+|%40[^/]+)/id/(\d+)/?$`)
	manifoldIDRe            = regexp.MustCompile(`^/id/(\d+)/?$`)
	manifoldClaimSlugRe     = regexp.MustCompile(`^/c/([^/?#]+)/?$`)
	manifoldClaimPathRe     = regexp.MustCompile(`^/claim/([^/?#]+)/?$`)
	manifoldSlugRe          = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{1,128}$`)
)

var manifoldInstanceParams = []string{"id", "instanceId", "claimId", "claimID", "instance", "instance_id"}

// Only Ethereum mainnet is enabled. The other entries keep the error message
// specific when a link points at another chain.
var chainAliases = map[string]string{
	"ethereum":    "eth",
	"eth":         "eth",
	"mainnet":     "eth",
	"polygon":     "polygon",
	"matic":       "polygon",
	"base":        "base",
	"arbitrum":    "arbitrum",
	"arb":         "arbitrum",
	"arbitrumone": "arbitrum",
	"optimism":    "optimism",
	"op":          "optimism",
	"sepolia":     "sepolia",
	"goerli":      "goerli",
}

func hostSet(hosts ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		set[h] = struct{}{}
	}
	return set
}

func has(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}

// Canonicalizer validates supported marketplace links.
type Canonicalizer struct {
	maxURLLength int
}

// New returns a Canonicalizer. A non-positive maxURLLength uses DefaultMaxURLLength.
func New(maxURLLength int) *Canonicalizer {
	if maxURLLength <= 0 {
		maxURLLength = DefaultMaxURLLength
	}
	return &Canonicalizer{maxURLLength: maxURLLength}
}

func invalid(format string, args ...interface{}) error {
	return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf(format, args...), nil)
}

// Canonicalize returns the canonical identity of rawURL or an ErrInvalidInput API error.
func (c *Canonicalizer) Canonicalize(rawURL string) (model.CanonicalLink, error) {
	u := c.parse(rawURL)
	if u == nil {
		return model.CanonicalLink{}, invalid("Could not parse URL.")
	}
	if u.Scheme != "https" {
		return model.CanonicalLink{}, invalid("Only https:// links are supported.")
	}

	host := stripWww(u.Hostname())
	switch {
	case has(superRareHosts, host):
		return parseSuperRare(u, rawURL)
	case has(openSeaHosts, host):
		return parseOpenSea(u, rawURL)
	case has(foundationHosts, host):
		return parseFoundation(u, rawURL)
	case has(transientHosts, host):
		return parseTransient(u, rawURL)
	case has(manifoldHosts, host) || strings.HasSuffix(host, ".manifold.xyz"):
		return parseManifold(u, rawURL)
	}

	return model.CanonicalLink{}, invalid("Unsupported URL. Supported links: SuperRare, OpenSea, Foundation, Manifold, Transient.")
}

// IsSupportedHost reports whether host belongs to a supported marketplace.
func IsSupportedHost(host string) bool {
	h := stripWww(host)
	return has(superRareHosts, h) || has(openSeaHosts, h) || has(foundationHosts, h) ||
		has(transientHosts, h) || has(manifoldHosts, h) || strings.HasSuffix(h, ".manifold.xyz")
}

func cleanInput(raw string) string {
	s := strings.TrimSpace(raw)
	s = unwrap(s, "<", ">")
	s = unwrap(s, `"`, `"`)
	s = unwrap(s, "'", "'")
	return strings.TrimSpace(s)
}

func unwrap(s, open, close string) string {
	if len(s) > len(open)+len(close) && strings.HasPrefix(s, open) && strings.HasSuffix(s, close) {
		return s[len(open) : len(s)-len(close)]
	}
	return s
}

func (c *Canonicalizer) parse(raw string) *url.URL {
	s := cleanInput(raw)
	if s == "" || utf8.RuneCountInString(s) > c.maxURLLength {
		return nil
	}
	if u, err := url.Parse(s); err == nil && u.Scheme != "" && u.Host != "" {
		return u
	} else if err == nil && u.Scheme != "" && u.Opaque != "" {
		// mailto:, javascript: and friends
		return u
	}
	u, err := url.Parse("https://" + s)
	if err != nil || u.Host == "" {
		return nil
	}
	return u
}

func stripWww(hostname string) string {
	return strings.TrimPrefix(strings.ToLower(hostname), "www.")
}

func isTrackingKey(key string) bool {
	k := strings.ToLower(key)
	return has(trackingKeys, k) || strings.HasPrefix(k, "utm_")
}

func trimTrailingSlashes(path string) string {
	if len(path) <= 1 {
		return path
	}
	end := len(path)
	for end > 1 && path[end-1] == '/' {
		end--
	}
	return path[:end]
}

// normalizeViewURL lowercases the host, drops www. and tracking parameters and
// trims trailing slashes. Parameter order is preserved.
func normalizeViewURL(u *url.URL) string {
	v := *u
	v.Host = stripWww(v.Host)

	if v.RawQuery != "" {
		kept := make([]string, 0)
		for _, pair := range strings.Split(v.RawQuery, "&") {
			if pair == "" {
				continue
			}
			key := pair
			if i := strings.IndexByte(pair, '='); i >= 0 {
				key = pair[:i]
			}
			if unescaped, err := url.QueryUnescape(key); err == nil {
				key = unescaped
			}
			if isTrackingKey(key) {
				continue
			}
			kept = append(kept, pair)
		}
		v.RawQuery = strings.Join(kept, "&")
		v.ForceQuery = false
	}

	if len(v.Path) > 1 && strings.HasSuffix(v.Path, "/") {
		v.Path = trimTrailingSlashes(v.Path)
		v.RawPath = trimTrailingSlashes(v.RawPath)
	}

	return v.String()
}

// effectivePath supports single page apps that route through the fragment.
func effectivePath(u *url.URL) string {
	if fragment := u.EscapedFragment(); strings.HasPrefix(fragment, "/") {
		return fragment
	}
	return u.EscapedPath()
}

func normalizeAddress(addr string) (string, bool) {
	a := strings.ToLower(addr)
	if !contractRe.MatchString(a) {
		return "", false
	}
	return a, true
}

func normalizeTokenID(tokenID string) (string, bool) {
	t := strings.TrimSpace(tokenID)
	if !digitsRe.MatchString(t) {
		return "", false
	}
	t = strings.TrimLeft(t, "0")
	if t == "" {
		t = "0"
	}
	return t, true
}

func normalizeChain(raw string) string {
	k := strings.ToLower(raw)
	if alias, ok := chainAliases[k]; ok {
		return alias
	}
	return k
}

func requireEthMainnet(chain, inputURL, platform string) (string, error) {
	switch strings.ToLower(chain) {
	case "eth", "ethereum":
		return "eth", nil
	}
	return "", invalid("Invalid chain in link %s. %s links are only supported on Ethereum mainnet.", inputURL, platform)
}

func canonicalID(platform model.Platform, ids model.CanonicalIdentifiers, viewURL string) string {
	switch ids.Kind {
	case model.KindToken:
		return fmt.Sprintf("%s:%s:%s:%s", platform, ids.Chain, ids.Contract, ids.TokenID)
	case model.KindContractOnly:
		return fmt.Sprintf("%s:%s:%s", platform, ids.Chain, ids.Contract)
	case model.KindManifoldClaim:
		if ids.InstanceID != "" {
			return fmt.Sprintf("%s:claim:%s", platform, ids.InstanceID)
		}
		if ids.InstanceSlug != "" {
			return fmt.Sprintf("%s:slug:%s", platform, strings.ToLower(ids.InstanceSlug))
		}
	}
	return fmt.Sprintf("%s:url:%s", platform, base64.RawURLEncoding.EncodeToString([]byte(viewURL)))
}

func link(inputURL string, platform model.Platform, viewURL string, ids model.CanonicalIdentifiers) model.CanonicalLink {
	return model.CanonicalLink{
		Platform:    platform,
		ViewURL:     viewURL,
		CanonicalID: canonicalID(platform, ids, viewURL),
		Identifiers: ids,
		OriginalURL: inputURL,
	}
}

// tokenLink validates the chain, contract and token captured from a token page path.
func tokenLink(inputURL string, platform model.Platform, name, viewURL, chain, contract, tokenID string) (model.CanonicalLink, error) {
	chain, err := requireEthMainnet(chain, inputURL, name)
	if err != nil {
		return model.CanonicalLink{}, err
	}
	addr, ok := normalizeAddress(contract)
	if !ok {
		return model.CanonicalLink{}, invalid("Invalid contract address in %s URL.", name)
	}
	token, ok := normalizeTokenID(tokenID)
	if !ok {
		return model.CanonicalLink{}, invalid("Invalid tokenId in %s URL.", name)
	}
	return link(inputURL, platform, viewURL, model.CanonicalIdentifiers{
		Kind:     model.KindToken,
		Chain:    chain,
		Contract: addr,
		TokenID:  token,
	}), nil
}

func parseSuperRare(u *url.URL, inputURL string) (model.CanonicalLink, error) {
	viewURL := normalizeViewURL(u)
	m := superRareArtworkRe.FindStringSubmatch(effectivePath(u))
	if m == nil {
		return model.CanonicalLink{}, invalid("SuperRare link must look like /artwork/{chain}/{contract}/{tokenId}.")
	}
	return tokenLink(inputURL, model.PlatformSuperRare, "SuperRare", viewURL, m[1], m[2], m[3])
}

func parseOpenSea(u *url.URL, inputURL string) (model.CanonicalLink, error) {
	viewURL := normalizeViewURL(u)
	path := effectivePath(u)

	if m := openSeaAssetRe.FindStringSubmatch(path); m != nil {
		return tokenLink(inputURL, model.PlatformOpenSea, "OpenSea", viewURL, normalizeChain(m[1]), m[2], m[3])
	}
	if m := openSeaItemRe.FindStringSubmatch(path); m != nil {
		return tokenLink(inputURL, model.PlatformOpenSea, "OpenSea", viewURL, normalizeChain(m[1]), m[2], m[3])
	}
	if m := openSeaLegacyAssetRe.FindStringSubmatch(path); m != nil {
		return tokenLink(inputURL, model.PlatformOpenSea, "OpenSea", viewURL, "eth", m[1], m[2])
	}
	return model.CanonicalLink{}, invalid("OpenSea link must look like /assets/{chain}/{contract}/{tokenId} or /item/{chain}/{contract}/{tokenId}.")
}

func parseFoundation(u *url.URL, inputURL string) (model.CanonicalLink, error) {
	viewURL := normalizeViewURL(u)
	path := effectivePath(u)

	if m := foundationTokenRe.FindStringSubmatch(path); m != nil {
		return tokenLink(inputURL, model.PlatformFoundation, "Foundation", viewURL, m[1], m[2], m[3])
	}
	if m := foundationContractRe.FindStringSubmatch(path); m != nil {
		chain, err := requireEthMainnet(m[1], inputURL, "Foundation")
		if err != nil {
			return model.CanonicalLink{}, err
		}
		addr, ok := normalizeAddress(m[2])
		if !ok {
			return model.CanonicalLink{}, invalid("Invalid contract address in Foundation URL.")
		}
		return link(inputURL, model.PlatformFoundation, viewURL, model.CanonicalIdentifiers{
			Kind:     model.KindContractOnly,
			Chain:    chain,
			Contract: addr,
		}), nil
	}
	return model.CanonicalLink{}, invalid("Foundation link must look like /mint/{chain}/{contract}/{tokenId} (or /mint/{chain}/{contract} for contract-level mint pages).")
}

func parseTransient(u *url.URL, inputURL string) (model.CanonicalLink, error) {
	viewURL := normalizeViewURL(u)
	path := effectivePath(u)

	if m := transientTokenRe.FindStringSubmatch(path); m != nil {
		return tokenLink(inputURL, model.PlatformTransient, "Transient", viewURL, normalizeChain(m[1]), m[2], m[3])
	}
	if transientMintRe.MatchString(path) {
		return link(inputURL, model.PlatformTransient, viewURL, model.CanonicalIdentifiers{Kind: model.KindURLOnly}), nil
	}
	return model.CanonicalLink{}, invalid("Transient link must look like /nfts/{chain}/{contract}/{tokenId} or /mint/{slug}.")
}

func manifoldIdentifiers(u *url.URL) model.CanonicalIdentifiers {
	ids := model.CanonicalIdentifiers{Kind: model.KindManifoldClaim}

	query := u.Query()
	for _, key := range manifoldInstanceParams {
		if v := query.Get(key); v != "" && manifoldInstanceParamRe.MatchString(v) {
			ids.InstanceID = v
			return ids
		}
	}

	path := effectivePath(u)
	if m := manifoldUserIDRe.FindStringSubmatch(path); m != nil {
		ids.InstanceID = m[1]
		return ids
	}
	if m := manifoldIDRe.FindStringSubmatch(path); m != nil {
		ids.InstanceID = m[1]
		return ids
	}

	for _, re := range []*regexp.Regexp{manifoldClaimSlugRe, manifoldClaimPathRe} {
		m := re.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		slug, err := url.PathUnescape(m[1])
		if err != nil {
			continue
		}
		slug = strings.TrimSpace(slug)
		if manifoldSlugRe.MatchString(slug) {
			ids.InstanceSlug = slug
			return ids
		}
	}

	return ids
}

func parseManifold(u *url.URL, inputURL string) (model.CanonicalLink, error) {
	viewURL := normalizeViewURL(u)

	ids := manifoldIdentifiers(u)
	if ids.InstanceID == "" && ids.InstanceSlug == "" {
		return model.CanonicalLink{}, invalid("Manifold link must include a claim slug (/c/{slug}) or an instance/claim id (?id=...).")
	}

	return link(inputURL, model.PlatformManifold, viewURL, ids), nil
}
