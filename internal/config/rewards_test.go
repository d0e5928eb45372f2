package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRewardConfig(t *testing.T) {
	cfg := DefaultRewardConfig()

	require.NoError(t, validateRewardConfig(cfg))
	assert.Equal(t, int64(100), cfg.FreeTierCredits)
	assert.NotEmpty(t, cfg.Offers)
	assert.NotEmpty(t, cfg.Tiers)
}

func TestValidateRewardConfig(t *testing.T) {
	base := DefaultRewardConfig()

	t.Run("negative free tier", func(t *testing.T) {
		cfg := base
		cfg.FreeTierCredits = -1
		assert.Error(t, validateRewardConfig(cfg))
	})

	t.Run("duplicate offer keys", func(t *testing.T) {
		cfg := base
		cfg.Offers = []RewardOfferConfig{
			{Key: "promo", Credits: 10},
			{Key: "promo", Credits: 20},
		}
		assert.Error(t, validateRewardConfig(cfg))
	})

	t.Run("non positive offer credits", func(t *testing.T) {
		cfg := base
		cfg.Offers = []RewardOfferConfig{{Key: "promo", Credits: 0}}
		assert.Error(t, validateRewardConfig(cfg))
	})

	t.Run("tier without monthly credits", func(t *testing.T) {
		cfg := base
		cfg.Tiers = []TierConfig{{Name: "pro", CreditsPerMonth: 0}}
		assert.Error(t, validateRewardConfig(cfg))
	})
}

func TestRewardConfigHolderLookups(t *testing.T) {
	holder, err := NewRewardConfigHolder()
	require.NoError(t, err)

	offer, ok := holder.Offer("referral")
	require.True(t, ok)
	assert.Equal(t, int64(50), offer.Credits)

	_, ok = holder.Offer("does_not_exist")
	assert.False(t, ok)

	tier, ok := holder.Tier("PRO")
	require.True(t, ok, "tier lookup is case insensitive")
	assert.Equal(t, int64(500), tier.CreditsPerMonth)
}
