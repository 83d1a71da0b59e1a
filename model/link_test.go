package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wacul/ptr"
)

func TestLinkRecord_IsStale(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	interval := 2 * time.Minute

	tests := []struct {
		name      string
		lastTried int64
		want      bool
	}{
		{name: "never tried", lastTried: 0, want: true},
		{name: "just tried", lastTried: now.UnixMilli(), want: false},
		{name: "exactly at interval", lastTried: now.UnixMilli() - interval.Milliseconds(), want: false},
		{name: "past interval", lastTried: now.UnixMilli() - interval.Milliseconds() - 1, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &LinkRecord{LastTriedToUpdate: tt.lastTried}
			assert.Equal(t, tt.want, r.IsStale(now, interval))
		})
	}
}

func TestLinkRecord_IsLocked(t *testing.T) {
	now := time.UnixMilli(10_000_000)
	ttl := 2 * time.Minute

	assert.False(t, (&LinkRecord{}).IsLocked(now, ttl))
	assert.True(t, (&LinkRecord{IsLockedSince: ptr.Int64(now.UnixMilli() - 1000)}).IsLocked(now, ttl))
	assert.True(t, (&LinkRecord{IsLockedSince: ptr.Int64(now.UnixMilli() - ttl.Milliseconds())}).IsLocked(now, ttl))
	assert.False(t, (&LinkRecord{IsLockedSince: ptr.Int64(now.UnixMilli() - ttl.Milliseconds() - 1)}).IsLocked(now, ttl))
}

func TestNewPendingLink(t *testing.T) {
	token := NewPendingLink(CanonicalLink{
		Platform:    PlatformSuperRare,
		ViewURL:     "https://superrare.com/artwork/eth/0xabc/1",
		CanonicalID: "SUPERRARE:eth:0xabc:1",
		Identifiers: CanonicalIdentifiers{Kind: KindToken, Chain: "eth", Contract: "0xabc", TokenID: "1"},
	})
	assert.Equal(t, "SUPERRARE", token.Platform)
	assert.Equal(t, "eth", *token.Chain)
	assert.Equal(t, "0xabc", *token.Contract)
	assert.Equal(t, "1", *token.Token)
	assert.Nil(t, token.CustomID)

	claim := NewPendingLink(CanonicalLink{
		Platform:    PlatformManifold,
		CanonicalID: "MANIFOLD:claim:my-claim",
		Identifiers: CanonicalIdentifiers{Kind: KindManifoldClaim, InstanceSlug: "my-claim", InstanceID: "42"},
	})
	assert.Nil(t, claim.Chain)
	assert.Nil(t, claim.Token)
	require.NotNil(t, claim.CustomID)
	assert.Equal(t, "my-claim", *claim.CustomID)
}

func TestNormalizedCard_MediaURI(t *testing.T) {
	assert.Nil(t, (&NormalizedCard{}).MediaURI())

	card := &NormalizedCard{Asset: Asset{Media: &Media{Kind: "video", AnimationURL: "https://cdn.example.com/a.mp4"}}}
	assert.Equal(t, "https://cdn.example.com/a.mp4", *card.MediaURI())

	card.Asset.Media.ImageURL = "https://cdn.example.com/a.png"
	assert.Equal(t, "https://cdn.example.com/a.png", *card.MediaURI())

	assert.Nil(t, (&NormalizedCard{Asset: Asset{Media: &Media{Kind: "image"}}}).MediaURI())
}

func TestNormalizedCard_PriceAmount(t *testing.T) {
	assert.False(t, (&NormalizedCard{}).PriceAmount().Valid)
	assert.False(t, (&NormalizedCard{Market: Market{Price: &Price{Amount: "lots", Currency: "ETH"}}}).PriceAmount().Valid)

	price := (&NormalizedCard{Market: Market{Price: &Price{Amount: "0.25", Currency: "ETH"}}}).PriceAmount()
	require.True(t, price.Valid)
	assert.True(t, decimal.RequireFromString("0.25").Equal(price.Decimal))
}

func TestLinkRecord_ToView(t *testing.T) {
	record := &LinkRecord{
		CanonicalID:             "OPENSEA:ethereum:0xabc:5",
		Platform:                "OPENSEA",
		Contract:                ptr.String("0xabc"),
		Token:                   ptr.String("5"),
		FullData:                &NormalizedCard{Asset: Asset{Title: "Piece", Description: ""}},
		Price:                   decimal.NewNullDecimal(decimal.RequireFromString("1.50")),
		LastSuccessfullyUpdated: ptr.Int64(42),
	}

	view := record.ToView()
	assert.Equal(t, record.CanonicalID, view.CanonicalID)
	require.NotNil(t, view.Name)
	assert.Equal(t, "Piece", *view.Name)
	assert.Nil(t, view.Description)
	require.NotNil(t, view.Price)
	assert.Equal(t, "1.5", *view.Price)
	assert.Equal(t, int64(42), *view.LastSuccessfullyUpdated)

	empty := (&LinkRecord{CanonicalID: "x"}).ToView()
	assert.Nil(t, empty.Name)
	assert.Nil(t, empty.Price)
}
