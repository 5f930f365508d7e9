package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"gorm.io/gorm"

	"github.com/amirhdaghestani/openai-api/internal/apierror"
	"github.com/amirhdaghestani/openai-api/internal/db"
	"github.com/amirhdaghestani/openai-api/internal/models"
)

func openLedgerDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, errOpen := db.Open(fmt.Sprintf("file:ledger_%s?mode=memory&cache=shared", t.Name()))
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return conn
}

func seedUser(t *testing.T, conn *gorm.DB, userID string, requestLimit, fineTuneLimit int64) {
	t.Helper()
	user := models.User{
		UserID:        userID,
		Name:          "Test User",
		Role:          models.RoleUser,
		APIKeyHash:    "hash-" + userID,
		RequestLimit:  requestLimit,
		FineTuneLimit: fineTuneLimit,
	}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("seed user: %v", errCreate)
	}
}

func TestDebitDecrementsAndStopsAtZero(t *testing.T) {
	conn := openLedgerDB(t)
	seedUser(t, conn, "u1", 2, 0)
	ledger := NewLedger(conn)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if errDebit := ledger.Debit(ctx, "u1", KindRequest, 1); errDebit != nil {
			t.Fatalf("debit %d: %v", i, errDebit)
		}
	}

	errDebit := ledger.Debit(ctx, "u1", KindRequest, 1)
	if !apierror.IsKind(errDebit, apierror.KindQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", errDebit)
	}

	remaining, errRemaining := ledger.Remaining(ctx, "u1", KindRequest)
	if errRemaining != nil {
		t.Fatalf("remaining: %v", errRemaining)
	}
	if remaining != 0 {
		t.Fatalf("expected remaining 0, got %d", remaining)
	}
}

func TestDebitConcurrentNeverOversells(t *testing.T) {
	conn := openLedgerDB(t)
	seedUser(t, conn, "u1", 5, 0)
	ledger := NewLedger(conn)
	ctx := context.Background()

	const attempts = 20
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- ledger.Debit(ctx, "u1", KindRequest, 1)
		}()
	}
	wg.Wait()
	close(results)

	var succeeded int
	for errDebit := range results {
		if errDebit == nil {
			succeeded++
			continue
		}
		if !apierror.IsKind(errDebit, apierror.KindQuotaExceeded) {
			t.Fatalf("unexpected debit error: %v", errDebit)
		}
	}
	if succeeded != 5 {
		t.Fatalf("expected exactly 5 successful debits, got %d", succeeded)
	}

	remaining, errRemaining := ledger.Remaining(ctx, "u1", KindRequest)
	if errRemaining != nil {
		t.Fatalf("remaining: %v", errRemaining)
	}
	if remaining != 0 {
		t.Fatalf("expected remaining 0, got %d", remaining)
	}
}

func TestDebitMissingUserReportsNotFound(t *testing.T) {
	conn := openLedgerDB(t)
	ledger := NewLedger(conn)

	errDebit := ledger.Debit(context.Background(), "ghost", KindRequest, 1)
	if !apierror.IsKind(errDebit, apierror.KindNotFound) {
		t.Fatalf("expected not found, got %v", errDebit)
	}
}

func TestCreditRestoresAllowance(t *testing.T) {
	conn := openLedgerDB(t)
	seedUser(t, conn, "u1", 0, 1)
	ledger := NewLedger(conn)
	ctx := context.Background()

	if errDebit := ledger.Debit(ctx, "u1", KindFineTune, 1); errDebit != nil {
		t.Fatalf("debit: %v", errDebit)
	}
	if errCredit := ledger.Credit(ctx, "u1", KindFineTune, 1); errCredit != nil {
		t.Fatalf("credit: %v", errCredit)
	}

	remaining, errRemaining := ledger.Remaining(ctx, "u1", KindFineTune)
	if errRemaining != nil {
		t.Fatalf("remaining: %v", errRemaining)
	}
	if remaining != 1 {
		t.Fatalf("expected remaining 1, got %d", remaining)
	}
}

func TestSetLimitsSkipsNegativeValues(t *testing.T) {
	conn := openLedgerDB(t)
	seedUser(t, conn, "u1", 10, 3)
	ledger := NewLedger(conn)
	ctx := context.Background()

	if errSet := ledger.SetLimits(ctx, "u1", 100, -1); errSet != nil {
		t.Fatalf("set limits: %v", errSet)
	}

	requests, errRequests := ledger.Remaining(ctx, "u1", KindRequest)
	if errRequests != nil {
		t.Fatalf("remaining requests: %v", errRequests)
	}
	if requests != 100 {
		t.Fatalf("expected request limit 100, got %d", requests)
	}

	fineTunes, errFineTunes := ledger.Remaining(ctx, "u1", KindFineTune)
	if errFineTunes != nil {
		t.Fatalf("remaining fine tunes: %v", errFineTunes)
	}
	if fineTunes != 3 {
		t.Fatalf("expected fine tune limit untouched at 3, got %d", fineTunes)
	}
}

func TestDebitRejectsNonPositiveAmount(t *testing.T) {
	conn := openLedgerDB(t)
	seedUser(t, conn, "u1", 1, 0)
	ledger := NewLedger(conn)

	if errDebit := ledger.Debit(context.Background(), "u1", KindRequest, 0); errDebit == nil {
		t.Fatal("expected error for zero amount")
	}
	var apiErr *apierror.Error
	if errors.As(ledger.Debit(context.Background(), "u1", "bogus", 1), &apiErr) {
		t.Fatal("unknown kind should not map to an api error")
	}
}
