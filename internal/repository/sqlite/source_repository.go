package sqlite

import (
	"context"
	"fmt"
	"time"

	"trafficcounter/internal/model"
)

// SourceRepository implements repository.SourceRepository for SQLite.
type SourceRepository struct {
	db  *DB
	now func() time.Time
}

// NewSourceRepository creates a new SQLite source repository.
func NewSourceRepository(db *DB) *SourceRepository {
	return &SourceRepository{db: db, now: time.Now}
}

// Save inserts or updates a camera registration.
func (r *SourceRepository) Save(ctx context.Context, setting *model.CameraSetting) error {
	r.db.Lock()
	defer r.db.Unlock()

	now := formatTime(r.now())
	_, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO camera_settings (camera_id, source, line_position, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(camera_id) DO UPDATE SET
			source = excluded.source,
			line_position = excluded.line_position,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`, setting.CameraID, setting.Source, setting.LinePosition, setting.Active, now, now)
	if err != nil {
		return fmt.Errorf("failed to save camera %s: %w", setting.CameraID, err)
	}
	return nil
}

// Delete removes a camera registration. Unknown ids are not an error.
func (r *SourceRepository) Delete(ctx context.Context, cameraID string) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().ExecContext(ctx, `DELETE FROM camera_settings WHERE camera_id = ?`, cameraID); err != nil {
		return fmt.Errorf("failed to delete camera %s: %w", cameraID, err)
	}
	return nil
}

// List returns registrations ordered by creation.
func (r *SourceRepository) List(ctx context.Context, activeOnly bool) ([]model.CameraSetting, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	query := `SELECT camera_id, source, line_position, is_active, created_at, updated_at FROM camera_settings`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id ASC`

	rows, err := r.db.Conn().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query cameras: %w", err)
	}
	defer rows.Close()

	var settings []model.CameraSetting
	for rows.Next() {
		var (
			s                model.CameraSetting
			created, updated string
		)
		if err := rows.Scan(&s.CameraID, &s.Source, &s.LinePosition, &s.Active, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		if s.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if s.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		settings = append(settings, s)
	}
	return settings, rows.Err()
}
