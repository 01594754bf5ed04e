package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/risk-thresholds/internal/domain"
	"github.com/ayo6706/risk-thresholds/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEffectiveResolution(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cfg, err := env.thresholds.GetEffective(ctx, testTenant, domain.CategoryCryptoSell, "ETH")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceDefault, cfg.Source)
	assert.Equal(t, domain.AmountFromUnits(5000), cfg.Amount)

	env.seed(t, domain.CategoryCryptoSell, domain.AnyAsset, 7000)
	cfg, err = env.thresholds.GetEffective(ctx, testTenant, domain.CategoryCryptoSell, "eth")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceCategory, cfg.Source)
	assert.Equal(t, domain.AmountFromUnits(7000), cfg.Amount)

	env.seed(t, domain.CategoryCryptoSell, "ETH", 8000)
	cfg, err = env.thresholds.GetEffective(ctx, testTenant, domain.CategoryCryptoSell, "ETH")
	require.NoError(t, err)
	assert.Equal(t, domain.SourcePair, cfg.Source)
	assert.Equal(t, domain.AmountFromUnits(8000), cfg.Amount)

	other, err := env.thresholds.GetEffective(ctx, "another-tenant", domain.CategoryCryptoSell, "ETH")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceDefault, other.Source)

	_, err = env.thresholds.GetEffective(ctx, testTenant, "WIRE", "USD")
	require.ErrorIs(t, err, domain.ErrInvalidCategory)
}

func TestReplaceRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.seed(t, domain.CategoryFXConversion, "USD", 10000)

	next := models.ThresholdConfig{
		TenantID:        testTenant,
		Category:        domain.CategoryFXConversion,
		CurrencyOrAsset: "USD",
		Amount:          domain.AmountFromUnits(11000),
		EffectiveFrom:   t0,
		SetBy:           "bob",
		SetAt:           t0,
	}
	applied, err := env.thresholds.Replace(ctx, next)
	require.NoError(t, err)

	got, err := env.thresholds.GetEffective(ctx, testTenant, domain.CategoryFXConversion, "USD")
	require.NoError(t, err)
	assert.Equal(t, applied, got)
	assert.True(t, got.IsActive)
	assert.Equal(t, next.Amount, got.Amount)
	assert.Equal(t, next.SetBy, got.SetBy)
	assert.True(t, got.EffectiveFrom.Equal(next.EffectiveFrom))

	history, err := env.thresholds.History(ctx, testTenant, domain.CategoryFXConversion, "USD", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, first.Amount, history[0].Config.Amount)
	assert.True(t, history[0].SupersededAt.Equal(next.EffectiveFrom))
	assert.Equal(t, "bob", history[0].SupersededBy)
}

func TestReplaceRejectsNonPositiveAmount(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.thresholds.Replace(context.Background(), models.ThresholdConfig{
		TenantID:        testTenant,
		Category:        domain.CategoryFXConversion,
		CurrencyOrAsset: "USD",
	})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestListThresholdsSynthesizesDefaults(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, domain.CategoryFXConversion, domain.AnyAsset, 9000)
	env.seed(t, domain.CategoryCryptoBuy, "BTC", 6000)
	env.clock.Advance(time.Minute)

	list, err := env.thresholds.ListThresholds(context.Background(), testTenant)
	require.NoError(t, err)

	bySource := map[domain.ThresholdSource]int{}
	for _, cfg := range list {
		bySource[cfg.Source]++
	}
	assert.Equal(t, 1, bySource[domain.SourcePair])
	assert.Equal(t, 1, bySource[domain.SourceCategory])
	// FX has a category-wide config, the other three fall back to the floor.
	assert.Equal(t, 3, bySource[domain.SourceDefault])
}
