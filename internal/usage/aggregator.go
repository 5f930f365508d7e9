package usage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/amirhdaghestani/openai-api/internal/db"
)

// Point is one bucket of an aggregated usage series.
type Point struct {
	Bucket string `json:"bucket"` // canonical label, e.g. "2026-08-31 14"
	Count  int64  `json:"count"`
}

// Series is a dense, chronologically ordered usage series: one point
// per calendar bucket in the requested window, zeros included.
type Series struct {
	UserID      string      `json:"user_id"`
	Endpoint    string      `json:"endpoint,omitempty"`
	Granularity Granularity `json:"granularity"`
	From        time.Time   `json:"from"`
	To          time.Time   `json:"to"`
	Points      []Point     `json:"points"`
	Total       int64       `json:"total"`
}

// Aggregator builds usage series from the event ledger.
type Aggregator struct {
	db *gorm.DB
}

// NewAggregator creates an aggregator over the given connection.
func NewAggregator(db *gorm.DB) *Aggregator {
	return &Aggregator{db: db}
}

// Query selects the events to aggregate. An empty Endpoint covers all
// endpoints. A zero Granularity is picked automatically from the window
// span.
type Query struct {
	UserID      string
	Endpoint    string
	From        time.Time
	To          time.Time
	Granularity Granularity
}

// Aggregate sums event costs per calendar bucket over the inclusive
// window [From, To] and returns a dense series. Buckets with no events
// carry a zero count, so the series length depends only on the window
// and granularity, never on the data. Reading the ledger twice without
// intervening writes yields identical series.
func (a *Aggregator) Aggregate(ctx context.Context, q Query) (*Series, error) {
	if q.UserID == "" {
		return nil, fmt.Errorf("usage: empty user id")
	}
	granularity := q.Granularity
	if granularity == "" {
		picked, errPick := PickGranularity(q.From, q.To)
		if errPick != nil {
			return nil, errPick
		}
		granularity = picked
	}

	bucketExpr, errExpr := db.BucketExpr(a.db, "requested_at", granularity.Unit())
	if errExpr != nil {
		return nil, errExpr
	}

	query := a.db.WithContext(ctx).
		Table("usage_events").
		Select(bucketExpr+" AS bucket, COALESCE(SUM(cost), 0) AS count").
		Where("user_id = ?", q.UserID).
		Where("requested_at >= ? AND requested_at <= ?", q.From, q.To).
		Group("bucket")
	if q.Endpoint != "" {
		query = query.Where("endpoint = ?", q.Endpoint)
	}

	var rows []Point
	if errScan := query.Scan(&rows).Error; errScan != nil {
		return nil, fmt.Errorf("usage: aggregate for %s: %w", q.UserID, errScan)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Bucket] = row.Count
	}

	series := &Series{
		UserID:      q.UserID,
		Endpoint:    q.Endpoint,
		Granularity: granularity,
		From:        q.From,
		To:          q.To,
	}
	var total int64
	for _, label := range enumerateBuckets(granularity, q.From, q.To) {
		count := counts[label]
		total += count
		series.Points = append(series.Points, Point{Bucket: label, Count: count})
	}
	series.Total = total
	return series, nil
}

// enumerateBuckets lists the labels of every calendar bucket touching
// the inclusive window [from, to]. The bucket containing to is always
// covered, so an event timestamped exactly at the window end lands in
// an enumerated bucket. A from == to window yields exactly one label.
func enumerateBuckets(g Granularity, from, to time.Time) []string {
	if from.After(to) {
		return nil
	}
	end := g.Truncate(to)
	var labels []string
	for cursor := g.Truncate(from); !cursor.After(end); cursor = g.Next(cursor) {
		labels = append(labels, cursor.Format(g.Layout()))
	}
	return labels
}
