// Package gocvsource implements the capture interfaces on top of OpenCV.
package gocvsource

import (
	"fmt"

	"gocv.io/x/gocv"

	"trafficcounter/internal/logger"
	"trafficcounter/internal/model"
	"trafficcounter/internal/service/capture"
)

// Backend names accepted by Opener.Open.
const (
	BackendAny          = "ANY"
	BackendV4L2         = "V4L2"
	BackendAVFoundation = "AVFOUNDATION"
	BackendDShow        = "DSHOW"
	BackendMSMF         = "MSMF"
	BackendFFmpeg       = "FFMPEG"
)

var backendAPIs = map[string]gocv.VideoCaptureAPI{
	BackendAny:          gocv.VideoCaptureAny,
	BackendV4L2:         gocv.VideoCaptureV4L2,
	BackendAVFoundation: gocv.VideoCaptureAVFoundation,
	BackendDShow:        gocv.VideoCaptureDshow,
	BackendMSMF:         gocv.VideoCaptureMSMF,
	BackendFFmpeg:       gocv.VideoCaptureFFmpeg,
}

// Opener opens capture sessions through gocv.VideoCapture.
type Opener struct {
	logger *logger.Logger
}

func NewOpener(log *logger.Logger) *Opener {
	return &Opener{logger: log}
}

// Backends returns the platform device backends for devices, and FFmpeg
// followed by the universal backend for streams and files.
func (o *Opener) Backends(origin model.Origin) []string {
	if origin.Kind == model.OriginDevice {
		return append([]string(nil), deviceBackends...)
	}
	return []string{BackendFFmpeg, BackendAny}
}

// Open opens origin on backend with the open-time timeouts, then applies the
// remaining tuning.
func (o *Opener) Open(origin model.Origin, backend string, tuning capture.Tuning) (capture.Handle, error) {
	api, ok := backendAPIs[backend]
	if !ok {
		return nil, fmt.Errorf("unknown capture backend %q", backend)
	}

	var target interface{} = origin.Location
	if origin.Kind == model.OriginDevice {
		target = origin.Device
	}

	var (
		vc  *gocv.VideoCapture
		err error
	)
	if params := openParams(tuning); len(params) > 0 {
		vc, err = gocv.OpenVideoCaptureWithAPIParams(target, api, params)
	} else {
		vc, err = gocv.OpenVideoCaptureWithAPI(target, api)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", origin, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("capture %s not opened", origin)
	}

	applyTuning(vc, tuning)
	o.logger.Debug("Opened %s on %s", origin, backend)

	return &handle{vc: vc, mat: gocv.NewMat()}, nil
}

func applyTuning(vc *gocv.VideoCapture, t capture.Tuning) {
	if t.BufferSize > 0 {
		vc.Set(gocv.VideoCaptureBufferSize, float64(t.BufferSize))
	}
	if t.Width > 0 && t.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(t.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(t.Height))
	}
	if t.FPS > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(t.FPS))
	}
}

// openParams converts the open-time tuning; the backend ignores these
// properties once the capture is open.
func openParams(t capture.Tuning) []gocv.VideoCaptureProperties {
	raw := t.OpenParams()
	if len(raw) == 0 {
		return nil
	}
	params := make([]gocv.VideoCaptureProperties, len(raw))
	for i, v := range raw {
		params[i] = gocv.VideoCaptureProperties(v)
	}
	return params
}

// handle is not safe for concurrent use; the capture loop owns it.
type handle struct {
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

func (h *handle) Read() (*model.Frame, error) {
	if ok := h.vc.Read(&h.mat); !ok || h.mat.Empty() {
		return nil, capture.ErrAcquisitionStalled
	}
	return FrameFromMat(h.mat)
}

func (h *handle) Close() error {
	h.mat.Close()
	return h.vc.Close()
}

var (
	_ capture.Opener  = (*Opener)(nil)
	_ capture.Resizer = Resizer{}
)
