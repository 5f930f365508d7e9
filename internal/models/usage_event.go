package models

import "time"

// Accounted endpoint names recorded in the usage ledger.
const (
	// EndpointCompletions marks text completion requests.
	EndpointCompletions = "completions"
	// EndpointChatCompletions marks chat completion requests.
	EndpointChatCompletions = "chat_completions"
	// EndpointEmbeddings marks embedding requests.
	EndpointEmbeddings = "embeddings"
	// EndpointFineTunes marks fine-tune job submissions and reversals.
	EndpointFineTunes = "fine_tunes"
)

// UsageEvent records one accounted request as an immutable fact.
// Rows are only ever inserted, bulk-deleted when their owning user is
// deleted, or purged past the retention horizon.
type UsageEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID   string `gorm:"type:text;not null;index:idx_usage_events_user_endpoint"` // Owning user identifier.
	Endpoint string `gorm:"type:text;not null;index:idx_usage_events_user_endpoint"` // Accounted endpoint name.

	Cost int64 `gorm:"not null;default:1"` // Debited cost; negative for reversals.

	RequestedAt time.Time `gorm:"not null;index"`          // Request timestamp.
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"` // Row creation timestamp.
}
