package model

import (
	"image"
	"time"
)

// Frame is one captured image in packed BGR24 layout. Frames are never
// mutated after publication.
type Frame struct {
	SourceID   string
	Seq        uint64
	CapturedAt time.Time
	Width      int
	Height     int
	Data       []byte
}

// Empty reports whether the frame carries no pixels.
func (f *Frame) Empty() bool {
	return f == nil || len(f.Data) == 0 || f.Width <= 0 || f.Height <= 0
}

// BoundingBox is an axis-aligned box in pixel coordinates.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the box midpoint.
func (b BoundingBox) Center() image.Point {
	return image.Pt(b.X+b.Width/2, b.Y+b.Height/2)
}

// Rect converts the box into an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Detection is a single detector hit on a frame.
type Detection struct {
	Class      VehicleClass `json:"class"`
	Confidence float64      `json:"confidence"`
	Box        BoundingBox  `json:"box"`
}

// TrackedObject is a detection associated with a stable track id.
type TrackedObject struct {
	TrackID    string       `json:"track_id"`
	Class      VehicleClass `json:"class"`
	Box        BoundingBox  `json:"box"`
	Center     image.Point  `json:"center"`
	Confidence float64      `json:"confidence"`
}
