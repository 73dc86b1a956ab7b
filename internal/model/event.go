package model

import "time"

// DateLayout is the calendar date format used for daily summaries.
const DateLayout = "2006-01-02"

// DetectionEvent is one counted line crossing.
type DetectionEvent struct {
	ID          int64        `json:"id"`
	CameraID    string       `json:"camera_id"`
	VehicleType VehicleClass `json:"vehicle_type"`
	Confidence  float64      `json:"confidence"`
	Timestamp   time.Time    `json:"timestamp"`
	Synced      bool         `json:"synced"`
}

// Date returns the calendar date of the event in its own location.
func (e *DetectionEvent) Date() string {
	return e.Timestamp.Format(DateLayout)
}

// DailySummary aggregates the crossings of one camera on one date.
type DailySummary struct {
	CameraID  string    `json:"camera_id"`
	Date      string    `json:"date"`
	Counts    Counts    `json:"counts"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Total is the sum of all classes.
func (s DailySummary) Total() int {
	return s.Counts.Total()
}

// PlateEvent is a recognized licence plate.
type PlateEvent struct {
	ID          int64        `json:"id"`
	CameraID    string       `json:"camera_id"`
	Plate       string       `json:"plate"`
	VehicleType VehicleClass `json:"vehicle_type"`
	Confidence  float64      `json:"confidence"`
	Timestamp   time.Time    `json:"timestamp"`
	Synced      bool         `json:"synced"`
}

// HourlyCount is the per-class total for one hour of a day.
type HourlyCount struct {
	Hour   int    `json:"hour"`
	Counts Counts `json:"counts"`
}
