package usage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/amirhdaghestani/openai-api/internal/models"
)

// Recorder appends usage events to the ledger.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder creates a recorder over the given connection.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Record appends a usage event for the user. A zero requestedAt is
// stamped with the current time. Cost defaults to one unit when zero.
func (r *Recorder) Record(ctx context.Context, userID, endpoint string, cost int64, requestedAt time.Time) error {
	if userID == "" {
		return fmt.Errorf("usage: empty user id")
	}
	if endpoint == "" {
		return fmt.Errorf("usage: empty endpoint")
	}
	if cost == 0 {
		cost = 1
	}
	if requestedAt.IsZero() {
		requestedAt = time.Now()
	}

	event := models.UsageEvent{
		UserID:      userID,
		Endpoint:    endpoint,
		Cost:        cost,
		RequestedAt: requestedAt,
	}
	if errCreate := r.db.WithContext(ctx).Create(&event).Error; errCreate != nil {
		return fmt.Errorf("usage: record %s for %s: %w", endpoint, userID, errCreate)
	}
	return nil
}

// RecordReversal appends a compensating event with negated cost, used
// when an admitted request is rolled back (for example a cancelled
// fine-tune job). The original event stays in the ledger; aggregation
// sums both so the pair nets to zero.
func (r *Recorder) RecordReversal(ctx context.Context, userID, endpoint string, cost int64, requestedAt time.Time) error {
	if cost == 0 {
		cost = 1
	}
	return r.Record(ctx, userID, endpoint, -cost, requestedAt)
}
