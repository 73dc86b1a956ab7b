package repository

import (
	"context"
	"errors"
	"time"

	"trafficcounter/internal/model"
)

// ErrPersistence marks a write that was rolled back. The event it carried is
// dropped.
var ErrPersistence = errors.New("persistence failure")

// DetectionRepository stores counted crossings and keeps the daily summaries
// in step with them.
type DetectionRepository interface {
	// Insert writes the event and bumps its daily summary atomically.
	Insert(ctx context.Context, event *model.DetectionEvent) (int64, error)

	ListUnsynced(ctx context.Context, limit int) ([]model.DetectionEvent, error)
	MarkSynced(ctx context.Context, ids []int64) error
	DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Count(ctx context.Context) (int64, error)
	CountUnsynced(ctx context.Context) (int64, error)
	HourlyStats(ctx context.Context, date string, cameras []string) ([]model.HourlyCount, error)
	ListByDate(ctx context.Context, date string, cameras []string) ([]model.DetectionEvent, error)
}

// SummaryRepository reads the per-day aggregates.
type SummaryRepository interface {
	Get(ctx context.Context, cameraID, date string) (*model.DailySummary, error)
	ListByDate(ctx context.Context, date string, cameras []string) ([]model.DailySummary, error)
	ListRange(ctx context.Context, start, end string, cameras []string) ([]model.DailySummary, error)
	Combined(ctx context.Context, date string, cameras []string) (model.Counts, error)
}

// PlateRepository stores deduplicated plate reads.
type PlateRepository interface {
	Insert(ctx context.Context, event *model.PlateEvent) (int64, error)

	ListUnsynced(ctx context.Context, limit int) ([]model.PlateEvent, error)
	MarkSynced(ctx context.Context, ids []int64) error
	DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountUnsynced(ctx context.Context) (int64, error)

	History(ctx context.Context, cameraID string, limit int) ([]model.PlateEvent, error)
	Search(ctx context.Context, plate string, exact bool, limit int) ([]model.PlateEvent, error)
	CountDistinctSince(ctx context.Context, since time.Time, cameraID string) (int64, error)
}

// SourceRepository persists source registrations across restarts.
type SourceRepository interface {
	Save(ctx context.Context, setting *model.CameraSetting) error
	Delete(ctx context.Context, cameraID string) error
	List(ctx context.Context, activeOnly bool) ([]model.CameraSetting, error)
}
