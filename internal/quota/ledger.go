// Package quota maintains per-user request allowances. Each user
// carries two countdown counters, one for ordinary completion traffic
// and one for fine-tune jobs; a counter below zero never occurs because
// every debit is a single conditional UPDATE.
package quota

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/amirhdaghestani/openai-api/internal/apierror"
	"github.com/amirhdaghestani/openai-api/internal/models"
)

// Kind selects which allowance counter an operation applies to.
type Kind string

const (
	// KindRequest covers completions, chat completions, and embeddings.
	KindRequest Kind = "request"
	// KindFineTune covers fine-tune job creation.
	KindFineTune Kind = "fine_tune"
)

// column returns the users table column backing the counter.
func (k Kind) column() (string, error) {
	switch k {
	case KindRequest:
		return "request_limit", nil
	case KindFineTune:
		return "fine_tune_limit", nil
	default:
		return "", fmt.Errorf("quota: unknown kind: %s", k)
	}
}

// ErrExceeded returns the rejection signalled when an allowance of the
// given kind is exhausted.
func ErrExceeded(kind Kind) error {
	return apierror.QuotaExceeded(fmt.Sprintf("%s quota exhausted", kind))
}

// Ledger performs allowance reads and atomic adjustments against the
// users table. It is safe for concurrent use; all mutations are single
// SQL statements, so two racing debits can never both succeed on the
// last unit.
type Ledger struct {
	db *gorm.DB
}

// NewLedger creates a ledger over the given connection.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Remaining returns the current allowance for the user.
func (l *Ledger) Remaining(ctx context.Context, userID string, kind Kind) (int64, error) {
	column, errColumn := kind.column()
	if errColumn != nil {
		return 0, errColumn
	}
	var remaining int64
	errFind := l.db.WithContext(ctx).
		Model(&models.User{}).
		Select(column).
		Where("user_id = ?", userID).
		Take(&remaining).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return 0, apierror.NotFound(fmt.Sprintf("user %s not found", userID))
	}
	if errFind != nil {
		return 0, fmt.Errorf("quota: read %s for %s: %w", column, userID, errFind)
	}
	return remaining, nil
}

// Debit atomically subtracts amount from the user's allowance, failing
// with a quota-exceeded error when the counter holds less than amount.
// The subtraction and the balance check happen in one statement, so the
// counter can never go below zero regardless of concurrent callers.
func (l *Ledger) Debit(ctx context.Context, userID string, kind Kind, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("quota: debit amount must be positive, got %d", amount)
	}
	column, errColumn := kind.column()
	if errColumn != nil {
		return errColumn
	}

	result := l.db.WithContext(ctx).
		Model(&models.User{}).
		Where("user_id = ? AND "+column+" >= ?", userID, amount).
		UpdateColumn(column, gorm.Expr(column+" - ?", amount))
	if result.Error != nil {
		return fmt.Errorf("quota: debit %s for %s: %w", column, userID, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// No row matched: either the user does not exist or the allowance
	// is short. Distinguish the two for the caller.
	var exists int64
	if errCount := l.db.WithContext(ctx).
		Model(&models.User{}).
		Where("user_id = ?", userID).
		Count(&exists).Error; errCount != nil {
		return fmt.Errorf("quota: debit %s for %s: %w", column, userID, errCount)
	}
	if exists == 0 {
		return apierror.NotFound(fmt.Sprintf("user %s not found", userID))
	}
	return ErrExceeded(kind)
}

// Credit atomically adds amount back to the user's allowance. It is
// used to restore a unit when an admitted request is reversed, for
// example when a fine-tune job is cancelled.
func (l *Ledger) Credit(ctx context.Context, userID string, kind Kind, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("quota: credit amount must be positive, got %d", amount)
	}
	column, errColumn := kind.column()
	if errColumn != nil {
		return errColumn
	}

	result := l.db.WithContext(ctx).
		Model(&models.User{}).
		Where("user_id = ?", userID).
		UpdateColumn(column, gorm.Expr(column+" + ?", amount))
	if result.Error != nil {
		return fmt.Errorf("quota: credit %s for %s: %w", column, userID, result.Error)
	}
	if result.RowsAffected == 0 {
		return apierror.NotFound(fmt.Sprintf("user %s not found", userID))
	}
	return nil
}

// SetLimits overwrites both counters for the user. A negative value
// leaves the corresponding counter untouched.
func (l *Ledger) SetLimits(ctx context.Context, userID string, requestLimit, fineTuneLimit int64) error {
	updates := map[string]any{}
	if requestLimit >= 0 {
		updates["request_limit"] = requestLimit
	}
	if fineTuneLimit >= 0 {
		updates["fine_tune_limit"] = fineTuneLimit
	}
	if len(updates) == 0 {
		return nil
	}
	result := l.db.WithContext(ctx).
		Model(&models.User{}).
		Where("user_id = ?", userID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("quota: set limits for %s: %w", userID, result.Error)
	}
	if result.RowsAffected == 0 {
		return apierror.NotFound(fmt.Sprintf("user %s not found", userID))
	}
	return nil
}
