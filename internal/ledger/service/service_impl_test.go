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
	"github.com/smallbiznis/credora/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/credora/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/credora/internal/ledger/service"
	"github.com/smallbiznis/credora/internal/notifier"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
		`CREATE INDEX ix_credit_transactions_user_id ON credit_transactions(user_id)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func newLedgerService(t *testing.T, db *gorm.DB, nodeID int64) domain.Service {
	t.Helper()

	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewSystemClock(),
		Repo:  ledgerrepo.Provide(),
	})
}

func TestAddAndUseCredits(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newLedgerService(t, db, 1)

	node, _ := snowflake.NewNode(100)
	userID := node.Generate()

	balance, err := svc.GetBalance(ctx, userID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected empty ledger balance 0, got %d", balance)
	}

	added, err := svc.AddCredits(ctx, domain.AddCreditsRequest{
		UserID: userID,
		Type:   domain.TransactionTypeEarned,
		Amount: 100,
		Source: domain.SourceFreeTier,
	})
	if err != nil {
		t.Fatalf("add credits: %v", err)
	}
	if added.BalanceAfter != 100 {
		t.Fatalf("expected balance_after 100, got %d", added.BalanceAfter)
	}

	used, err := svc.UseCredits(ctx, domain.UseCreditsRequest{
		UserID: userID,
		Amount: 30,
		Source: domain.SourceService,
	})
	if err != nil {
		t.Fatalf("use credits: %v", err)
	}
	if used.Amount != -30 {
		t.Fatalf("expected spend amount -30, got %d", used.Amount)
	}
	if used.BalanceAfter != 70 {
		t.Fatalf("expected balance_after 70, got %d", used.BalanceAfter)
	}

	balance, err = svc.GetBalance(ctx, userID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != 70 {
		t.Fatalf("expected balance 70, got %d", balance)
	}
}

func TestUseCreditsInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newLedgerService(t, db, 2)

	node, _ := snowflake.NewNode(101)
	userID := node.Generate()

	if _, err := svc.AddCredits(ctx, domain.AddCreditsRequest{
		UserID: userID,
		Type:   domain.TransactionTypeEarned,
		Amount: 10,
		Source: domain.SourceFreeTier,
	}); err != nil {
		t.Fatalf("add credits: %v", err)
	}

	_, err := svc.UseCredits(ctx, domain.UseCreditsRequest{
		UserID: userID,
		Amount: 11,
		Source: domain.SourceService,
	})
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM credit_transactions WHERE user_id = ?`, userID).Scan(&count).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("rejected spend must not write a row, got %d rows", count)
	}
}

func TestAddCreditsValidation(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newLedgerService(t, db, 3)

	node, _ := snowflake.NewNode(102)
	userID := node.Generate()

	cases := []struct {
		name string
		req  domain.AddCreditsRequest
		want error
	}{
		{"zero user", domain.AddCreditsRequest{Amount: 10, Type: domain.TransactionTypeEarned, Source: domain.SourceFreeTier}, domain.ErrInvalidUser},
		{"zero amount", domain.AddCreditsRequest{UserID: userID, Type: domain.TransactionTypeEarned, Source: domain.SourceFreeTier}, domain.ErrInvalidAmount},
		{"negative amount", domain.AddCreditsRequest{UserID: userID, Amount: -5, Type: domain.TransactionTypeEarned, Source: domain.SourceFreeTier}, domain.ErrInvalidAmount},
		{"used type", domain.AddCreditsRequest{UserID: userID, Amount: 5, Type: domain.TransactionTypeUsed, Source: domain.SourceFreeTier}, domain.ErrInvalidType},
		{"unknown type", domain.AddCreditsRequest{UserID: userID, Amount: 5, Type: "gifted", Source: domain.SourceFreeTier}, domain.ErrInvalidType},
		{"unknown source", domain.AddCreditsRequest{UserID: userID, Amount: 5, Type: domain.TransactionTypeEarned, Source: "lottery"}, domain.ErrInvalidSource},
	}
	for _, tc := range cases {
		if _, err := svc.AddCredits(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestAddCreditsDedupKey(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newLedgerService(t, db, 4)

	node, _ := snowflake.NewNode(103)
	userID := node.Generate()

	req := domain.AddCreditsRequest{
		UserID:   userID,
		Type:     domain.TransactionTypePurchased,
		Amount:   50,
		Source:   domain.SourcePurchase,
		DedupKey: "payment:evt_42",
	}

	first, err := svc.AddCredits(ctx, req)
	if err != nil {
		t.Fatalf("first add: %v", err)
	}
	second, err := svc.AddCredits(ctx, req)
	if err != nil {
		t.Fatalf("replayed add: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("replay must return the original row, got %s and %s", first.ID, second.ID)
	}

	balance, err := svc.GetBalance(ctx, userID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != 50 {
		t.Fatalf("replay must not change the balance, got %d", balance)
	}
}

func TestConcurrentAppendsKeepBalanceConsistent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newLedgerService(t, db, 5)

	node, _ := snowflake.NewNode(104)
	userID := node.Generate()

	const writers = 10
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddCredits(ctx, domain.AddCreditsRequest{
				UserID: userID,
				Type:   domain.TransactionTypeBonus,
				Amount: 10,
				Source: domain.SourcePromotion,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent add: %v", err)
		}
	}

	balance, err := svc.GetBalance(ctx, userID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != writers*10 {
		t.Fatalf("expected balance %d, got %d", writers*10, balance)
	}

	// Every row's balance_after must equal the prior row's plus its amount.
	var rows []domain.CreditTransaction
	if err := db.Where("user_id = ?", userID).Order("id ASC").Find(&rows).Error; err != nil {
		t.Fatalf("load rows: %v", err)
	}
	var running int64
	for _, row := range rows {
		running += row.Amount
		if row.BalanceAfter != running {
			t.Fatalf("row %s has balance_after %d, expected %d", row.ID, row.BalanceAfter, running)
		}
	}
}

func TestListTransactionsPagination(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newLedgerService(t, db, 6)

	node, _ := snowflake.NewNode(105)
	userID := node.Generate()

	for i := 0; i < 5; i++ {
		if _, err := svc.AddCredits(ctx, domain.AddCreditsRequest{
			UserID: userID,
			Type:   domain.TransactionTypeEarned,
			Amount: int64(i + 1),
			Source: domain.SourceFreeTier,
		}); err != nil {
			t.Fatalf("seed row %d: %v", i, err)
		}
	}

	first, err := svc.ListTransactions(ctx, domain.ListTransactionsRequest{UserID: userID, PageSize: 3})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first.Transactions) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(first.Transactions))
	}
	if !first.HasMore {
		t.Fatal("expected more pages")
	}

	second, err := svc.ListTransactions(ctx, domain.ListTransactionsRequest{
		UserID:    userID,
		PageSize:  3,
		PageToken: first.NextPageToken,
	})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second.Transactions) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(second.Transactions))
	}
	if second.HasMore {
		t.Fatal("expected no more pages")
	}

	// Newest first, no overlap between pages.
	seen := map[snowflake.ID]bool{}
	var prev snowflake.ID
	for _, tx := range append(first.Transactions, second.Transactions...) {
		if seen[tx.ID] {
			t.Fatalf("row %s returned twice", tx.ID)
		}
		seen[tx.ID] = true
		if prev != 0 && tx.ID >= prev {
			t.Fatalf("rows out of order: %s after %s", tx.ID, prev)
		}
		prev = tx.ID
	}
}

type flakyRepo struct {
	domain.Repository
	latestFailures int
	latestCalls    int
}

func (r *flakyRepo) Latest(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.CreditTransaction, error) {
	r.latestCalls++
	if r.latestCalls <= r.latestFailures {
		return nil, errors.New("connection reset by peer")
	}
	return r.Repository.Latest(ctx, db, userID)
}

func TestGetBalanceRetriesTransientReadError(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newLedgerService(t, db, 7)

	node, _ := snowflake.NewNode(107)
	userID := node.Generate()
	if _, err := svc.AddCredits(ctx, domain.AddCreditsRequest{
		UserID: userID,
		Type:   domain.TransactionTypeEarned,
		Amount: 100,
		Source: domain.SourceFreeTier,
	}); err != nil {
		t.Fatalf("add credits: %v", err)
	}

	repo := &flakyRepo{Repository: ledgerrepo.Provide(), latestFailures: 1}
	flaky := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewSystemClock(),
		Repo:  repo,
	})

	balance, err := flaky.GetBalance(ctx, userID)
	if err != nil {
		t.Fatalf("get balance after transient error: %v", err)
	}
	if balance != 100 {
		t.Fatalf("expected balance 100, got %d", balance)
	}
	if repo.latestCalls != 2 {
		t.Fatalf("expected 2 latest reads, got %d", repo.latestCalls)
	}
}

type captureNotifier struct {
	mu     sync.Mutex
	events []notifier.Event
}

func (n *captureNotifier) Notify(_ context.Context, ev notifier.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func TestAddCreditsNotifiesGrant(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	node, err := snowflake.NewNode(8)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	capture := &captureNotifier{}
	svc := ledgerservice.NewService(ledgerservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clock.NewSystemClock(),
		Repo:     ledgerrepo.Provide(),
		Notifier: capture,
	})

	userID := node.Generate()
	req := domain.AddCreditsRequest{
		UserID:   userID,
		Type:     domain.TransactionTypeEarned,
		Amount:   100,
		Source:   domain.SourceFreeTier,
		DedupKey: "reward:notify:free_tier",
	}
	if _, err := svc.AddCredits(ctx, req); err != nil {
		t.Fatalf("add credits: %v", err)
	}
	if len(capture.events) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(capture.events))
	}
	if capture.events[0].Kind != notifier.KindCreditsGranted {
		t.Fatalf("expected kind %q, got %q", notifier.KindCreditsGranted, capture.events[0].Kind)
	}
	if capture.events[0].UserID != userID {
		t.Fatalf("notification addressed to wrong user")
	}

	// Dedup replays and spends stay silent.
	if _, err := svc.AddCredits(ctx, req); err != nil {
		t.Fatalf("replay add credits: %v", err)
	}
	if _, err := svc.UseCredits(ctx, domain.UseCreditsRequest{
		UserID: userID,
		Amount: 30,
		Source: domain.SourceService,
	}); err != nil {
		t.Fatalf("use credits: %v", err)
	}
	if len(capture.events) != 1 {
		t.Fatalf("expected notifications to stay at 1, got %d", len(capture.events))
	}
}

func TestListTransactionsRejectsMalformedPageToken(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newLedgerService(t, db, 9)

	node, _ := snowflake.NewNode(109)
	_, err := svc.ListTransactions(ctx, domain.ListTransactionsRequest{
		UserID:    node.Generate(),
		PageToken: "not-a-cursor",
	})
	if !errors.Is(err, domain.ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}
