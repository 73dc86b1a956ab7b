package dto

import "time"

// SnapshotInfo describes one stored crossing snapshot.
type SnapshotInfo struct {
	Name      string    `json:"name"`
	Camera    string    `json:"camera"`
	Class     string    `json:"class"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// SnapshotPage is the paged listing returned by GET /api/snapshots.
type SnapshotPage struct {
	Snapshots   []SnapshotInfo `json:"snapshots"`
	Dir         string         `json:"dir"`
	TotalSize   int64          `json:"total_size"`
	Length      int            `json:"length"`
	TotalPages  int            `json:"total_pages"`
	CurrentPage int            `json:"current_page"`
	Limit       int            `json:"limit"`
}
