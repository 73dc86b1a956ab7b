package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"trafficcounter/internal/model"
)

// SummaryRepository implements repository.SummaryRepository for SQLite.
type SummaryRepository struct {
	db *DB
}

// NewSummaryRepository creates a new SQLite summary repository.
func NewSummaryRepository(db *DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

const summaryColumns = `camera_id, date, cars, motorcycles, buses, trucks, updated_at`

// Get returns the summary of one camera and date. A missing row yields an
// all-zero summary.
func (r *SummaryRepository) Get(ctx context.Context, cameraID, date string) (*model.DailySummary, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	row := r.db.Conn().QueryRowContext(ctx,
		`SELECT `+summaryColumns+` FROM daily_summaries WHERE camera_id = ? AND date = ?`, cameraID, date)

	s, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.DailySummary{CameraID: cameraID, Date: date}, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListByDate returns every camera's summary for date.
func (r *SummaryRepository) ListByDate(ctx context.Context, date string, cameras []string) ([]model.DailySummary, error) {
	return r.ListRange(ctx, date, date, cameras)
}

// ListRange returns summaries with start <= date <= end.
func (r *SummaryRepository) ListRange(ctx context.Context, start, end string, cameras []string) ([]model.DailySummary, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	filter, filterArgs := inFilter("camera_id", cameras)
	args := append([]interface{}{start, end}, filterArgs...)

	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT `+summaryColumns+`
		FROM daily_summaries WHERE date >= ? AND date <= ?`+filter+`
		ORDER BY date ASC, camera_id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var summaries []model.DailySummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, *s)
	}
	return summaries, rows.Err()
}

// Combined sums the summaries of the given cameras (all when empty) on date.
func (r *SummaryRepository) Combined(ctx context.Context, date string, cameras []string) (model.Counts, error) {
	summaries, err := r.ListByDate(ctx, date, cameras)
	if err != nil {
		return model.Counts{}, err
	}

	var total model.Counts
	for _, s := range summaries {
		total.Merge(s.Counts)
	}
	return total, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSummary(row rowScanner) (*model.DailySummary, error) {
	var (
		s       model.DailySummary
		updated string
	)
	err := row.Scan(&s.CameraID, &s.Date, &s.Counts.Cars, &s.Counts.Motorcycles,
		&s.Counts.Buses, &s.Counts.Trucks, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan summary: %w", err)
	}
	if s.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &s, nil
}
