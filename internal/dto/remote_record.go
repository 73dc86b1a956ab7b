package dto

import (
	"fmt"
	"time"

	"trafficcounter/internal/model"
)

// TimestampLayout is the fixed-width UTC layout of remote timestamps. Its
// strings sort in time order, which range queries on the remote rely on.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// DetectionRecord is the wire form of a detection event in the remote store.
// Keyed by "{camera_id}_{local_id}"; re-uploading overwrites.
type DetectionRecord struct {
	LocalID     int64   `json:"local_id"`
	CameraID    string  `json:"camera_id"`
	VehicleType string  `json:"vehicle_type"`
	Confidence  float64 `json:"confidence"`
	Timestamp   string  `json:"timestamp"`
	Date        string  `json:"date"`
	Hour        int     `json:"hour"`
	SyncTime    string  `json:"sync_time"`
}

// Key is the idempotency key of the record.
func (r DetectionRecord) Key() string {
	return fmt.Sprintf("%s_%d", r.CameraID, r.LocalID)
}

// NewDetectionRecord maps a local event to its wire form.
func NewDetectionRecord(e *model.DetectionEvent, syncTime time.Time) DetectionRecord {
	return DetectionRecord{
		LocalID:     e.ID,
		CameraID:    e.CameraID,
		VehicleType: string(e.VehicleType),
		Confidence:  e.Confidence,
		Timestamp:   FormatTimestamp(e.Timestamp),
		Date:        e.Date(),
		Hour:        e.Timestamp.Hour(),
		SyncTime:    FormatTimestamp(syncTime),
	}
}

// PlateRecord is the wire form of a plate event.
type PlateRecord struct {
	LocalID     int64   `json:"local_id"`
	CameraID    string  `json:"camera_id"`
	Plate       string  `json:"plate"`
	VehicleType string  `json:"vehicle_type"`
	Confidence  float64 `json:"confidence"`
	Timestamp   string  `json:"timestamp"`
	Date        string  `json:"date"`
	SyncTime    string  `json:"sync_time"`
}

func (r PlateRecord) Key() string {
	return fmt.Sprintf("%s_%d", r.CameraID, r.LocalID)
}

func NewPlateRecord(e *model.PlateEvent, syncTime time.Time) PlateRecord {
	return PlateRecord{
		LocalID:     e.ID,
		CameraID:    e.CameraID,
		Plate:       e.Plate,
		VehicleType: string(e.VehicleType),
		Confidence:  e.Confidence,
		Timestamp:   FormatTimestamp(e.Timestamp),
		Date:        e.Timestamp.Format(model.DateLayout),
		SyncTime:    FormatTimestamp(syncTime),
	}
}

// SummaryRecord is the wire form of a daily summary, keyed by
// "{camera_id}_{yyyymmdd}".
type SummaryRecord struct {
	CameraID    string `json:"camera_id"`
	Date        string `json:"date"`
	Cars        int    `json:"cars"`
	Motorcycles int    `json:"motorcycles"`
	Buses       int    `json:"buses"`
	Trucks      int    `json:"trucks"`
	Total       int    `json:"total"`
	LastUpdated string `json:"last_updated"`
}

func (r SummaryRecord) Key() string {
	compact := make([]byte, 0, len(r.Date))
	for i := 0; i < len(r.Date); i++ {
		if r.Date[i] != '-' {
			compact = append(compact, r.Date[i])
		}
	}
	return r.CameraID + "_" + string(compact)
}

func NewSummaryRecord(s *model.DailySummary, now time.Time) SummaryRecord {
	return SummaryRecord{
		CameraID:    s.CameraID,
		Date:        s.Date,
		Cars:        s.Counts.Cars,
		Motorcycles: s.Counts.Motorcycles,
		Buses:       s.Counts.Buses,
		Trucks:      s.Counts.Trucks,
		Total:       s.Counts.Total(),
		LastUpdated: FormatTimestamp(now),
	}
}
