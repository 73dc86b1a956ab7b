package model

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// OriginKind selects how a source is opened.
type OriginKind int

const (
	OriginDevice OriginKind = iota
	OriginNetworkStream
	OriginFile
)

func (k OriginKind) String() string {
	switch k {
	case OriginDevice:
		return "device"
	case OriginNetworkStream:
		return "stream"
	case OriginFile:
		return "file"
	default:
		return "unknown"
	}
}

// Origin is where a source's frames come from. Exactly one of Device or
// Location is meaningful, depending on Kind.
type Origin struct {
	Kind     OriginKind
	Device   int
	Location string
}

var streamSchemes = map[string]bool{
	"rtsp":  true,
	"rtsps": true,
	"rtmp":  true,
	"http":  true,
	"https": true,
	"udp":   true,
	"tcp":   true,
}

// DeviceOrigin returns an origin for a local capture device index.
func DeviceOrigin(index int) Origin {
	return Origin{Kind: OriginDevice, Device: index}
}

// StreamOrigin returns an origin for a network stream URL.
func StreamOrigin(rawURL string) Origin {
	return Origin{Kind: OriginNetworkStream, Location: rawURL}
}

// FileOrigin returns an origin for a video file path.
func FileOrigin(path string) Origin {
	return Origin{Kind: OriginFile, Location: path}
}

// ParseOrigin classifies a raw source string. Integers are device indexes,
// strings with a known streaming scheme are network streams and everything
// else is treated as a file path.
func ParseOrigin(raw string) (Origin, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Origin{}, fmt.Errorf("empty source origin")
	}

	if index, err := strconv.Atoi(raw); err == nil {
		if index < 0 {
			return Origin{}, fmt.Errorf("invalid device index %d", index)
		}
		return DeviceOrigin(index), nil
	}

	if u, err := url.Parse(raw); err == nil && streamSchemes[strings.ToLower(u.Scheme)] {
		return StreamOrigin(raw), nil
	}

	return FileOrigin(raw), nil
}

// String renders the origin back into the form accepted by ParseOrigin.
func (o Origin) String() string {
	if o.Kind == OriginDevice {
		return strconv.Itoa(o.Device)
	}
	return o.Location
}

// SourceState is the capture loop state of a single source.
type SourceState string

const (
	StateOpening     SourceState = "opening"
	StateReading     SourceState = "reading"
	StateBackoff     SourceState = "backoff"
	StateStopped     SourceState = "stopped"
	StateUnavailable SourceState = "unavailable"
)

// SourceStatus is a point-in-time snapshot of a registered source.
type SourceStatus struct {
	ID            string      `json:"id"`
	Origin        string      `json:"origin"`
	Kind          string      `json:"kind"`
	State         SourceState `json:"state"`
	Backend       string      `json:"backend,omitempty"`
	FPS           float64     `json:"fps"`
	FramesRead    uint64      `json:"frames_read"`
	FramesDropped uint64      `json:"frames_dropped"`
	Reconnects    int         `json:"reconnects"`
	LastError     string      `json:"last_error,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// CameraSetting is a persisted source registration.
type CameraSetting struct {
	CameraID     string    `json:"camera_id"`
	Source       string    `json:"source"`
	LinePosition float64   `json:"line_position"`
	Active       bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
