package dto

import "trafficcounter/internal/model"

// Statistics is the presentation-facing pipeline summary.
type Statistics struct {
	TotalDetections   int64 `json:"totalDetections"`
	Running           bool  `json:"running"`
	PendingQueueDepth int   `json:"pendingQueueDepth"`
	UnsyncedCount     int64 `json:"unsyncedCount"`
	ActiveSources     int   `json:"activeSources"`
}

// SourceCounts is the live line-crossing tally of one source.
type SourceCounts struct {
	SourceID string       `json:"source_id"`
	LineY    int          `json:"line_y"`
	Counts   model.Counts `json:"counts"`
	Total    int          `json:"total"`
}

// StatsMessage is pushed to websocket viewers.
type StatsMessage struct {
	Type    string               `json:"type"`
	Stats   Statistics           `json:"stats"`
	Counts  []SourceCounts       `json:"counts"`
	Sources []model.SourceStatus `json:"sources"`
}
