package dto

import "time"

// SyncResult describes one sync pass.
type SyncResult struct {
	PassID             string        `json:"pass_id"`
	DetectionsUploaded int           `json:"detections_uploaded"`
	PlatesUploaded     int           `json:"plates_uploaded"`
	SummariesUploaded  int           `json:"summaries_uploaded"`
	Duration           time.Duration `json:"duration"`
	Error              string        `json:"error,omitempty"`
}

// Uploaded is the number of records written remotely in the pass.
func (r SyncResult) Uploaded() int {
	return r.DetectionsUploaded + r.PlatesUploaded
}

// SyncStatus is the sync engine state exposed to operators.
type SyncStatus struct {
	Enabled         bool      `json:"enabled"`
	Backend         string    `json:"backend"`
	InProgress      bool      `json:"in_progress"`
	LastPass        time.Time `json:"last_pass,omitempty"`
	LastSuccess     time.Time `json:"last_success,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	TotalDetections int64     `json:"total_detections"`
	Unsynced        int64     `json:"unsynced"`
	UnsyncedPlates  int64     `json:"unsynced_plates"`
	SyncedPercent   float64   `json:"synced_percent"`
}

// RetentionResult reports a cleanup run.
type RetentionResult struct {
	DetectionsDeleted int64 `json:"detections_deleted"`
	PlatesDeleted     int64 `json:"plates_deleted"`
	RemotePruned      bool  `json:"remote_pruned"`
}
