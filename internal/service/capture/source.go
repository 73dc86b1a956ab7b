package capture

import (
	"errors"
	"time"

	"trafficcounter/internal/config"
	"trafficcounter/internal/model"
)

var (
	// ErrSourceUnavailable means no backend could open the origin and yield a
	// frame. Fatal for that source only.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrAcquisitionStalled is a transient read failure.
	ErrAcquisitionStalled = errors.New("acquisition stalled")

	ErrSourceExists   = errors.New("source already registered")
	ErrSourceNotFound = errors.New("source not found")
	// ErrStopTimeout means a capture loop outlived the stop timeout.
	ErrStopTimeout = errors.New("capture loop did not stop in time")
)

// OpenCV property ids that only take effect when passed at open time.
const (
	PropOpenTimeoutMsec = 53
	PropReadTimeoutMsec = 54
)

// Tuning carries the capture properties of a handle. The timeouts are
// passed to the open call, the rest is applied right after it succeeds.
// Zero values mean "leave the backend default".
type Tuning struct {
	BufferSize  int
	Width       int
	Height      int
	FPS         int
	OpenTimeout time.Duration
	ReadTimeout time.Duration
}

// TuningFor derives the tuning of an origin class.
func TuningFor(origin model.Origin, cfg config.CaptureConfig) Tuning {
	t := Tuning{BufferSize: 1}
	switch origin.Kind {
	case model.OriginDevice:
		t.Width = cfg.FrameWidth
		t.Height = cfg.FrameHeight
		t.FPS = cfg.TargetFPS
	case model.OriginNetworkStream:
		t.OpenTimeout = cfg.OpenTimeout
		t.ReadTimeout = cfg.ReadTimeout
	}
	return t
}

// OpenParams flattens the open-time properties into (id, value) pairs.
func (t Tuning) OpenParams() []int {
	var params []int
	if t.OpenTimeout > 0 {
		params = append(params, PropOpenTimeoutMsec, int(t.OpenTimeout.Milliseconds()))
	}
	if t.ReadTimeout > 0 {
		params = append(params, PropReadTimeoutMsec, int(t.ReadTimeout.Milliseconds()))
	}
	return params
}

// Handle is an open capture session.
type Handle interface {
	// Read returns the next frame. Only Width, Height and Data are expected
	// to be set. An error or an empty frame counts as a stalled read.
	Read() (*model.Frame, error)
	Close() error
}

// Opener opens origins on named capture backends.
type Opener interface {
	// Backends lists the backends to try for origin, in order.
	Backends(origin model.Origin) []string
	Open(origin model.Origin, backend string, tuning Tuning) (Handle, error)
}

// Resizer scales a frame to the target size.
type Resizer interface {
	Resize(f *model.Frame, width, height int) (*model.Frame, error)
}
