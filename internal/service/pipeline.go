package service

import (
	"context"

	"trafficcounter/internal/model"
)

// Detector finds vehicles on a frame.
type Detector interface {
	Detect(frame *model.Frame) ([]model.Detection, error)
}

// Tracker associates detections across frames of one source.
type Tracker interface {
	Update(detections []model.Detection, frame *model.Frame) []model.TrackedObject
}

// TrackerFactory creates the tracker of a newly registered source.
type TrackerFactory func() Tracker

// Annotator renders a frame with its tracked objects and counting line as
// JPEG.
type Annotator interface {
	Annotate(frame *model.Frame, objects []model.TrackedObject, lineY int) ([]byte, error)
}

// AnnotatorFunc adapts a function to Annotator.
type AnnotatorFunc func(frame *model.Frame, objects []model.TrackedObject, lineY int) ([]byte, error)

func (f AnnotatorFunc) Annotate(frame *model.Frame, objects []model.TrackedObject, lineY int) ([]byte, error) {
	return f(frame, objects, lineY)
}

// FrameSource is the acquisition side consumed by the pipeline.
type FrameSource interface {
	Register(ctx context.Context, id string, origin model.Origin) error
	Unregister(ctx context.Context, id string) error
	Shutdown(ctx context.Context) error

	TakeFrame(id string) (*model.Frame, bool)
	LatestFrame(id string) (*model.Frame, bool)
	Ready() <-chan struct{}

	Sources() []string
	Status(id string) (model.SourceStatus, bool)
	Statuses() []model.SourceStatus
	PendingFrames() int
	Running() bool
}
