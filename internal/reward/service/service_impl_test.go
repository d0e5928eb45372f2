package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/credora/internal/clock"
	"github.com/smallbiznis/credora/internal/config"
	ledgerdomain "github.com/smallbiznis/credora/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/credora/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/credora/internal/ledger/service"
	"github.com/smallbiznis/credora/internal/reward/domain"
	rewardrepo "github.com/smallbiznis/credora/internal/reward/repository"
	rewardservice "github.com/smallbiznis/credora/internal/reward/service"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_reward_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	schema := []string{
		`CREATE TABLE credit_transactions (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			type TEXT NOT NULL,
			amount BIGINT NOT NULL,
			balance_after BIGINT NOT NULL,
			source TEXT NOT NULL,
			description TEXT,
			dedup_key TEXT,
			related_payment_id BIGINT,
			related_subscription_id BIGINT,
			related_project_id BIGINT,
			metadata TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_credit_transactions_dedup_key ON credit_transactions(dedup_key) WHERE dedup_key IS NOT NULL`,
		`CREATE TABLE reward_offers (
			id BIGINT PRIMARY KEY,
			reward_key TEXT NOT NULL,
			title TEXT NOT NULL,
			credits BIGINT NOT NULL,
			max_claims BIGINT NOT NULL DEFAULT 0,
			current_claims BIGINT NOT NULL DEFAULT 0,
			source TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_reward_offers_reward_key ON reward_offers(reward_key)`,
		`CREATE TABLE reward_claims (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			reward_key TEXT NOT NULL,
			status TEXT NOT NULL,
			credits_awarded BIGINT NOT NULL,
			offer_title TEXT,
			claimed_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_reward_claims_user_key ON reward_claims(user_id, reward_key)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

type fixture struct {
	db     *gorm.DB
	node   *snowflake.Node
	ledger ledgerdomain.Service
	svc    domain.Service
}

func newFixture(t *testing.T, nodeID int64) fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	holder, err := config.NewRewardConfigHolder()
	if err != nil {
		t.Fatalf("reward config: %v", err)
	}

	clk := clock.NewSystemClock()
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  ledgerrepo.Provide(),
	})
	rewardSvc := rewardservice.NewService(rewardservice.Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Repo:    rewardrepo.Provide(),
		Ledger:  ledgerSvc,
		Rewards: holder,
	})
	return fixture{db: db, node: node, ledger: ledgerSvc, svc: rewardSvc}
}

func TestGiveFreeCreditsOncePerUser(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 20)
	userID := fx.node.Generate()

	res, err := fx.svc.GiveFreeCredits(ctx, userID, 0, "")
	if err != nil {
		t.Fatalf("first grant: %v", err)
	}
	if res.Transaction.Amount != 100 {
		t.Fatalf("expected configured free tier 100, got %d", res.Transaction.Amount)
	}
	if res.Transaction.Type != ledgerdomain.TransactionTypeEarned {
		t.Fatalf("free credits must post as earned, got %s", res.Transaction.Type)
	}

	if _, err := fx.svc.GiveFreeCredits(ctx, userID, 0, ""); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("second grant must be rejected, got %v", err)
	}

	balance, err := fx.ledger.GetBalance(ctx, userID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != 100 {
		t.Fatalf("expected balance 100, got %d", balance)
	}
}

func TestClaimCappedOffer(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 21)

	const maxClaims = 5
	seed := fmt.Sprintf(
		`INSERT INTO reward_offers (id, reward_key, title, credits, max_claims, current_claims, source, active, created_at, updated_at)
		 VALUES (%d, 'beta_bonus', 'Beta bonus', 25, %d, 0, 'promotion', TRUE, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		fx.node.Generate(), maxClaims,
	)
	if err := fx.db.Exec(seed).Error; err != nil {
		t.Fatalf("seed offer: %v", err)
	}

	const claimers = 10
	var wg sync.WaitGroup
	results := make(chan error, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.svc.Claim(ctx, domain.ClaimRequest{
				UserID:    fx.node.Generate(),
				RewardKey: "beta_bonus",
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var granted, capped int
	for err := range results {
		switch {
		case err == nil:
			granted++
		case errors.Is(err, domain.ErrMaxClaimsReached):
			capped++
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if granted != maxClaims {
		t.Fatalf("expected exactly %d grants, got %d", maxClaims, granted)
	}
	if capped != claimers-maxClaims {
		t.Fatalf("expected %d capped claims, got %d", claimers-maxClaims, capped)
	}

	var current int64
	if err := fx.db.Raw(`SELECT current_claims FROM reward_offers WHERE reward_key = 'beta_bonus'`).Scan(&current).Error; err != nil {
		t.Fatalf("read counter: %v", err)
	}
	if current != int64(maxClaims) {
		t.Fatalf("expected counter %d, got %d", maxClaims, current)
	}

	var claims int64
	if err := fx.db.Raw(`SELECT COUNT(*) FROM reward_claims WHERE reward_key = 'beta_bonus'`).Scan(&claims).Error; err != nil {
		t.Fatalf("count claims: %v", err)
	}
	if claims != int64(maxClaims) {
		t.Fatalf("expected %d claim rows, got %d", maxClaims, claims)
	}
}

func TestClaimConfiguredOfferSeedsRow(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 22)
	userID := fx.node.Generate()

	res, err := fx.svc.Claim(ctx, domain.ClaimRequest{UserID: userID, RewardKey: "referral"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if res.Transaction.Amount != 50 {
		t.Fatalf("expected configured referral credits 50, got %d", res.Transaction.Amount)
	}
	if res.Transaction.Source != ledgerdomain.SourceReferral {
		t.Fatalf("expected referral source, got %s", res.Transaction.Source)
	}

	var seeded int64
	if err := fx.db.Raw(`SELECT COUNT(*) FROM reward_offers WHERE reward_key = 'referral'`).Scan(&seeded).Error; err != nil {
		t.Fatalf("count offers: %v", err)
	}
	if seeded != 1 {
		t.Fatalf("expected seeded offer row, got %d", seeded)
	}
}

func TestClaimUnknownRewardRejected(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 23)

	_, err := fx.svc.Claim(ctx, domain.ClaimRequest{
		UserID:    fx.node.Generate(),
		RewardKey: "no_such_reward",
	})
	if !errors.Is(err, domain.ErrOfferNotFound) {
		t.Fatalf("expected unknown offer error, got %v", err)
	}
}

func TestClaimInactiveOfferRejected(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 24)

	seed := fmt.Sprintf(
		`INSERT INTO reward_offers (id, reward_key, title, credits, max_claims, current_claims, source, active, created_at, updated_at)
		 VALUES (%d, 'retired', 'Retired offer', 10, 0, 0, 'promotion', FALSE, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		fx.node.Generate(),
	)
	if err := fx.db.Exec(seed).Error; err != nil {
		t.Fatalf("seed offer: %v", err)
	}

	_, err := fx.svc.Claim(ctx, domain.ClaimRequest{
		UserID:    fx.node.Generate(),
		RewardKey: "retired",
	})
	if !errors.Is(err, domain.ErrOfferInactive) {
		t.Fatalf("expected inactive offer error, got %v", err)
	}
}

func TestClaimReplaysMissingGrant(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 25)
	userID := fx.node.Generate()

	// A crash between the claim commit and the ledger grant leaves a
	// claim row with no matching transaction.
	seedOffer := fmt.Sprintf(
		`INSERT INTO reward_offers (id, reward_key, title, credits, max_claims, current_claims, source, active, created_at, updated_at)
		 VALUES (%d, 'welcome', 'Welcome bonus', 40, 0, 1, 'promotion', TRUE, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		fx.node.Generate(),
	)
	if err := fx.db.Exec(seedOffer).Error; err != nil {
		t.Fatalf("seed offer: %v", err)
	}
	seedClaim := fmt.Sprintf(
		`INSERT INTO reward_claims (id, user_id, reward_key, status, credits_awarded, offer_title, claimed_at)
		 VALUES (%d, %d, 'welcome', 'claimed', 40, 'Welcome bonus', CURRENT_TIMESTAMP)`,
		fx.node.Generate(), userID,
	)
	if err := fx.db.Exec(seedClaim).Error; err != nil {
		t.Fatalf("seed claim: %v", err)
	}

	res, err := fx.svc.Claim(ctx, domain.ClaimRequest{UserID: userID, RewardKey: "welcome"})
	if err != nil {
		t.Fatalf("resumed claim: %v", err)
	}
	if res.Transaction.Amount != 40 {
		t.Fatalf("expected replayed grant of 40, got %d", res.Transaction.Amount)
	}

	// The counter must not be consumed twice.
	var current int64
	if err := fx.db.Raw(`SELECT current_claims FROM reward_offers WHERE reward_key = 'welcome'`).Scan(&current).Error; err != nil {
		t.Fatalf("read counter: %v", err)
	}
	if current != 1 {
		t.Fatalf("expected counter 1, got %d", current)
	}

	if _, err := fx.svc.Claim(ctx, domain.ClaimRequest{UserID: userID, RewardKey: "welcome"}); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("settled claim must be rejected, got %v", err)
	}
}

func TestGiveFreeCreditsStoredOfferAmountWins(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 26)

	if err := fx.svc.SyncOffers(ctx); err != nil {
		t.Fatalf("sync offers: %v", err)
	}

	// Once the offer row exists a caller-supplied amount is ignored so
	// every signup receives the same allowance.
	userID := fx.node.Generate()
	res, err := fx.svc.GiveFreeCredits(ctx, userID, 9999, "")
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if res.Transaction.Amount != 100 {
		t.Fatalf("expected stored offer amount 100, got %d", res.Transaction.Amount)
	}

	balance, err := fx.ledger.GetBalance(ctx, userID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != 100 {
		t.Fatalf("expected balance 100, got %d", balance)
	}
}
