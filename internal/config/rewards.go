package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RewardOfferConfig describes a claimable reward offer.
type RewardOfferConfig struct {
	Key       string `mapstructure:"key"`
	Title     string `mapstructure:"title"`
	Credits   int64  `mapstructure:"credits"`
	MaxClaims int64  `mapstructure:"maxClaims"`
	Source    string `mapstructure:"source"`
}

// TierConfig describes a subscription tier and its monthly credit grant.
type TierConfig struct {
	Name            string `mapstructure:"name"`
	CreditsPerMonth int64  `mapstructure:"creditsPerMonth"`
}

// RewardConfig is the hot-reloadable reward and tier catalogue.
type RewardConfig struct {
	FreeTierCredits int64               `mapstructure:"freeTierCredits"`
	Offers          []RewardOfferConfig `mapstructure:"offers"`
	Tiers           []TierConfig        `mapstructure:"tiers"`
}

func DefaultRewardConfig() RewardConfig {
	return RewardConfig{
		FreeTierCredits: 100,
		Offers: []RewardOfferConfig{
			{Key: "referral", Title: "Referral bonus", Credits: 50, Source: "referral"},
			{Key: "launch_promo", Title: "Launch promotion", Credits: 25, MaxClaims: 500, Source: "promotion"},
		},
		Tiers: []TierConfig{
			{Name: "starter", CreditsPerMonth: 100},
			{Name: "pro", CreditsPerMonth: 500},
			{Name: "enterprise", CreditsPerMonth: 2000},
		},
	}
}

// RewardConfigHolder serves the current reward catalogue to services.
type RewardConfigHolder struct {
	current atomic.Value // holds RewardConfig
}

func NewRewardConfigHolder() (*RewardConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("rewards")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/credora/config")
	v.AddConfigPath("/etc/credora")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CREDORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultRewardConfig()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	} else {
		if err := v.UnmarshalKey("rewards", &cfg); err != nil {
			return nil, err
		}
		if err := validateRewardConfig(cfg); err != nil {
			return nil, err
		}
	}

	holder := &RewardConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated RewardConfig
		if err := v.UnmarshalKey("rewards", &updated); err != nil {
			log.Printf("[reward-config] reload failed: %v", err)
			return
		}
		if err := validateRewardConfig(updated); err != nil {
			log.Printf("[reward-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[reward-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *RewardConfigHolder) Get() RewardConfig {
	return h.current.Load().(RewardConfig)
}

// Offer returns the configured offer for key, if any.
func (h *RewardConfigHolder) Offer(key string) (RewardOfferConfig, bool) {
	key = strings.TrimSpace(key)
	for _, offer := range h.Get().Offers {
		if offer.Key == key {
			return offer, true
		}
	}
	return RewardOfferConfig{}, false
}

// Tier returns the configured tier by name, if any.
func (h *RewardConfigHolder) Tier(name string) (TierConfig, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, tier := range h.Get().Tiers {
		if strings.ToLower(tier.Name) == name {
			return tier, true
		}
	}
	return TierConfig{}, false
}

func validateRewardConfig(cfg RewardConfig) error {
	if cfg.FreeTierCredits < 0 {
		return errors.New("rewards.freeTierCredits cannot be negative")
	}
	seen := make(map[string]struct{}, len(cfg.Offers))
	for _, offer := range cfg.Offers {
		key := strings.TrimSpace(offer.Key)
		if key == "" {
			return errors.New("rewards.offers entries require a key")
		}
		if _, dup := seen[key]; dup {
			return errors.New("rewards.offers keys must be unique")
		}
		seen[key] = struct{}{}
		if offer.Credits <= 0 {
			return errors.New("rewards.offers credits must be positive")
		}
		if offer.MaxClaims < 0 {
			return errors.New("rewards.offers maxClaims cannot be negative")
		}
	}
	for _, tier := range cfg.Tiers {
		if strings.TrimSpace(tier.Name) == "" {
			return errors.New("rewards.tiers entries require a name")
		}
		if tier.CreditsPerMonth <= 0 {
			return errors.New("rewards.tiers creditsPerMonth must be positive")
		}
	}
	return nil
}
