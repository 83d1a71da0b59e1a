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

package canonical

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/jerry-enebeli/linkcache/internal/apierror"
	"github.com/jerry-enebeli/linkcache/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contract = "0xb932a70a57673d89f4acffbe830e8ed7f75fb9e0"

func TestCanonicalize(t *testing.T) {
	c := New(0)

	tests := []struct {
		name        string
		input       string
		platform    model.Platform
		kind        model.IdentifierKind
		canonicalID string
		viewURL     string
	}{
		{
			name:        "SuperRare artwork with mixed case contract and padded token",
			input:       "https://superrare.com/artwork/eth/0xB932a70A57673d89f4acfFBE830E8ed7f75Fb9e0/0042",
			platform:    model.PlatformSuperRare,
			kind:        model.KindToken,
			canonicalID: "SUPERRARE:eth:" + contract + ":42",
			viewURL:     "https://superrare.com/artwork/eth/0xB932a70A57673d89f4acfFBE830E8ed7f75Fb9e0/0042",
		},
		{
			name:        "SuperRare strips www tracking params and trailing slash",
			input:       "https://www.superrare.com/artwork/ethereum/" + contract + "/7/?utm_source=x&foo=bar&fbclid=1",
			platform:    model.PlatformSuperRare,
			kind:        model.KindToken,
			canonicalID: "SUPERRARE:eth:" + contract + ":7",
			viewURL:     "https://superrare.com/artwork/ethereum/" + contract + "/7?foo=bar",
		},
		{
			name:        "OpenSea asset wrapped in angle brackets",
			input:       "<https://opensea.io/assets/ethereum/" + contract + "/1>",
			platform:    model.PlatformOpenSea,
			kind:        model.KindToken,
			canonicalID: "OPENSEA:eth:" + contract + ":1",
			viewURL:     "https://opensea.io/assets/ethereum/" + contract + "/1",
		},
		{
			name:        "OpenSea item without scheme",
			input:       "opensea.io/item/mainnet/" + contract + "/5",
			platform:    model.PlatformOpenSea,
			kind:        model.KindToken,
			canonicalID: "OPENSEA:eth:" + contract + ":5",
			viewURL:     "https://opensea.io/item/mainnet/" + contract + "/5",
		},
		{
			name:        "OpenSea legacy asset keeps token zero",
			input:       `"https://opensea.io/assets/` + contract + `/000"`,
			platform:    model.PlatformOpenSea,
			kind:        model.KindToken,
			canonicalID: "OPENSEA:eth:" + contract + ":0",
			viewURL:     "https://opensea.io/assets/" + contract + "/000",
		},
		{
			name:        "Foundation contract level mint",
			input:       "https://foundation.app/mint/eth/" + contract,
			platform:    model.PlatformFoundation,
			kind:        model.KindContractOnly,
			canonicalID: "FOUNDATION:eth:" + contract,
			viewURL:     "https://foundation.app/mint/eth/" + contract,
		},
		{
			name:        "Foundation token",
			input:       "https://foundation.app/mint/eth/" + contract + "/12",
			platform:    model.PlatformFoundation,
			kind:        model.KindToken,
			canonicalID: "FOUNDATION:eth:" + contract + ":12",
			viewURL:     "https://foundation.app/mint/eth/" + contract + "/12",
		},
		{
			name:        "Transient token",
			input:       "https://transient.xyz/nfts/ethereum/" + contract + "/3",
			platform:    model.PlatformTransient,
			kind:        model.KindToken,
			canonicalID: "TRANSIENT:eth:" + contract + ":3",
			viewURL:     "https://transient.xyz/nfts/ethereum/" + contract + "/3",
		},
		{
			name:        "Transient mint page is identified by url",
			input:       "https://transient.xyz/mint/my-drop/",
			platform:    model.PlatformTransient,
			kind:        model.KindURLOnly,
			canonicalID: "TRANSIENT:url:" + base64.RawURLEncoding.EncodeToString([]byte("https://transient.xyz/mint/my-drop")),
			viewURL:     "https://transient.xyz/mint/my-drop",
		},
		{
			name:        "Manifold claim slug is lowercased in the id",
			input:       "https://app.manifold.xyz/c/My-Claim",
			platform:    model.PlatformManifold,
			kind:        model.KindManifoldClaim,
			canonicalID: "MANIFOLD:slug:my-claim",
			viewURL:     "https://app.manifold.xyz/c/My-Claim",
		},
		{
			name:        "Manifold user id path",
			input:       "https://manifold.xyz/@carity/id/4120783088",
			platform:    model.PlatformManifold,
			kind:        model.KindManifoldClaim,
			canonicalID: "MANIFOLD:claim:4120783088",
			viewURL:     "https://manifold.xyz/@carity/id/4120783088",
		},
		{
			name:        "Manifold subdomain with instance query param",
			input:       "https://gallery.manifold.xyz/drop?ref=tw&id=abc123",
			platform:    model.PlatformManifold,
			kind:        model.KindManifoldClaim,
			canonicalID: "MANIFOLD:claim:abc123",
			viewURL:     "https://gallery.manifold.xyz/drop?id=abc123",
		},
		{
			name:        "SPA hash route",
			input:       "https://superrare.com/#/artwork/eth/" + contract + "/3",
			platform:    model.PlatformSuperRare,
			kind:        model.KindToken,
			canonicalID: "SUPERRARE:eth:" + contract + ":3",
			viewURL:     "https://superrare.com/#/artwork/eth/" + contract + "/3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, err := c.Canonicalize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.platform, link.Platform)
			assert.Equal(t, tt.kind, link.Identifiers.Kind)
			assert.Equal(t, tt.canonicalID, link.CanonicalID)
			assert.Equal(t, tt.viewURL, link.ViewURL)
			assert.Equal(t, tt.input, link.OriginalURL)
		})
	}
}

func TestCanonicalize_SameResourceSameID(t *testing.T) {
	c := New(0)

	a, err := c.Canonicalize("https://superrare.com/artwork/eth/" + contract + "/42")
	require.NoError(t, err)
	b, err := c.Canonicalize("https://www.SuperRare.com/artwork/eth/" + strings.ToUpper(contract[2:]) + "/042/?utm_campaign=x")
	require.Error(t, err, "contract without 0x prefix is not a valid address")
	assert.Empty(t, b.CanonicalID)

	b, err = c.Canonicalize("https://www.SuperRare.com/artwork/ethereum/0x" + strings.ToUpper(contract[2:]) + "/042/?utm_campaign=x")
	require.NoError(t, err)
	assert.Equal(t, a.CanonicalID, b.CanonicalID)
}

func TestCanonicalize_Invalid(t *testing.T) {
	c := New(0)

	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: "   "},
		{name: "plain http", input: "http://superrare.com/artwork/eth/" + contract + "/1"},
		{name: "other scheme", input: "javascript:alert(1)"},
		{name: "unsupported host", input: "https://example.com/artwork/eth/" + contract + "/1"},
		{name: "SuperRare wrong shape", input: "https://superrare.com/collection/foo"},
		{name: "SuperRare other chain", input: "https://superrare.com/artwork/base/" + contract + "/1"},
		{name: "OpenSea polygon", input: "https://opensea.io/assets/matic/" + contract + "/1"},
		{name: "short contract", input: "https://opensea.io/assets/ethereum/0x1234/1"},
		{name: "Transient unknown path", input: "https://transient.xyz/profile/someone"},
		{name: "Manifold without claim", input: "https://manifold.xyz/"},
		{name: "Manifold short id", input: "https://app.manifold.xyz/drop?id=ab"},
		{name: "too long", input: "https://superrare.com/artwork/eth/" + contract + "/1?x=" + strings.Repeat("a", 2048)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Canonicalize(tt.input)
			require.Error(t, err)
			assert.True(t, apierror.HasCode(err, apierror.ErrInvalidInput))
		})
	}
}

func TestCanonicalize_MaxLength(t *testing.T) {
	input := "https://superrare.com/artwork/eth/" + contract + "/1"

	_, err := New(len(input) - 1).Canonicalize(input)
	assert.Error(t, err)

	_, err = New(len(input)).Canonicalize(input)
	assert.NoError(t, err)
}

func TestIsSupportedHost(t *testing.T) {
	assert.True(t, IsSupportedHost("www.opensea.io"))
	assert.True(t, IsSupportedHost("studio.manifold.xyz"))
	assert.True(t, IsSupportedHost("drops.manifold.xyz"))
	assert.False(t, IsSupportedHost("example.com"))
	assert.False(t, IsSupportedHost("manifold.xyz.evil.com"))
}

func TestNormalizeTokenID(t *testing.T) {
	tests := map[string]string{"0": "0", "000": "0", "0010": "10", "42": "42"}
	for in, want := range tests {
		got, ok := normalizeTokenID(in)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := normalizeTokenID("12a")
	assert.False(t, ok)
}
