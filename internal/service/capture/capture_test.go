package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"trafficcounter/internal/config"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/model"
)

// ========================================
// Fakes
// ========================================

type fakeHandle struct {
	read   func() (*model.Frame, error)
	closed atomic.Bool
}

func (h *fakeHandle) Read() (*model.Frame, error) { return h.read() }

func (h *fakeHandle) Close() error {
	h.closed.Store(true)
	return nil
}

type fakeOpener struct {
	backends []string
	open     func(backend string, n int) (Handle, error)

	mu    sync.Mutex
	opens []string
}

func (o *fakeOpener) Backends(model.Origin) []string { return o.backends }

func (o *fakeOpener) Open(_ model.Origin, backend string, _ Tuning) (Handle, error) {
	o.mu.Lock()
	o.opens = append(o.opens, backend)
	n := len(o.opens)
	o.mu.Unlock()
	return o.open(backend, n)
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opens)
}

type failingResizer struct{ calls atomic.Int32 }

func (r *failingResizer) Resize(*model.Frame, int, int) (*model.Frame, error) {
	r.calls.Add(1)
	return nil, errors.New("resize unsupported")
}

func testFrame(w, h int) *model.Frame {
	return &model.Frame{Width: w, Height: h, Data: make([]byte, w*h*3)}
}

// steadyHandle yields a frame every millisecond.
func steadyHandle() *fakeHandle {
	return &fakeHandle{read: func() (*model.Frame, error) {
		time.Sleep(time.Millisecond)
		return testFrame(4, 2), nil
	}}
}

func testConfig() config.CaptureConfig {
	return config.CaptureConfig{
		FrameWidth:      4,
		FrameHeight:     2,
		TargetFPS:       200,
		ProbeAttempts:   3,
		ProbeFrames:     2,
		MaxOpenRetries:  3,
		MaxReadFailures: 2,
		OpenBackoff:     time.Millisecond,
		ReadBackoff:     time.Millisecond,
		StopTimeout:     200 * time.Millisecond,
	}
}

func newTestManager(opener Opener, resizer Resizer) *Manager {
	return NewManager(testConfig(), opener, resizer, logger.NewNop(), nil)
}

// ========================================
// Frame buffer
// ========================================

func TestFrameBuffer_LatestWins(t *testing.T) {
	buf := NewFrameBuffer()

	_, ok := buf.Take()
	assert.False(t, ok)

	f1, f2 := &model.Frame{Seq: 1}, &model.Frame{Seq: 2}
	assert.False(t, buf.Publish(f1))
	assert.True(t, buf.Publish(f2))

	got, ok := buf.Take()
	require.True(t, ok)
	assert.Same(t, f2, got)

	_, ok = buf.Take()
	assert.False(t, ok)

	latest, ok := buf.Latest()
	require.True(t, ok)
	assert.Same(t, f2, latest)

	published, dropped := buf.Stats()
	assert.EqualValues(t, 2, published)
	assert.EqualValues(t, 1, dropped)
}

// ========================================
// Registration
// ========================================

func TestRegister_DeviceUnavailableOnAllBackends(t *testing.T) {
	defer goleak.VerifyNone(t)

	opener := &fakeOpener{
		backends: []string{"V4L2", "ANY"},
		open: func(string, int) (Handle, error) {
			return nil, errors.New("no such device")
		},
	}
	mgr := newTestManager(opener, nil)

	err := mgr.Register(context.Background(), "gate", model.DeviceOrigin(0))
	require.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Equal(t, 3*2, opener.openCount())
	assert.Empty(t, mgr.Sources())
}

func TestRegister_ProbeFallsBackToSecondBackend(t *testing.T) {
	defer goleak.VerifyNone(t)

	opener := &fakeOpener{
		backends: []string{"V4L2", "ANY"},
		open: func(backend string, _ int) (Handle, error) {
			if backend == "V4L2" {
				return &fakeHandle{read: func() (*model.Frame, error) { return &model.Frame{}, nil }}, nil
			}
			return steadyHandle(), nil
		},
	}
	mgr := newTestManager(opener, nil)

	require.NoError(t, mgr.Register(context.Background(), "gate", model.DeviceOrigin(0)))
	require.Eventually(t, func() bool {
		st, _ := mgr.Status("gate")
		return st.State == model.StateReading && st.Backend == "ANY"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, mgr.Shutdown(context.Background()))
}

func TestRegister_Duplicate(t *testing.T) {
	defer goleak.VerifyNone(t)

	opener := &fakeOpener{
		backends: []string{"FFMPEG"},
		open:     func(string, int) (Handle, error) { return steadyHandle(), nil },
	}
	mgr := newTestManager(opener, nil)
	ctx := context.Background()

	require.NoError(t, mgr.Register(ctx, "cam", model.StreamOrigin("rtsp://h/s")))
	assert.ErrorIs(t, mgr.Register(ctx, "cam", model.StreamOrigin("rtsp://h/s")), ErrSourceExists)
	assert.ErrorIs(t, mgr.Unregister(ctx, "other"), ErrSourceNotFound)

	require.NoError(t, mgr.Shutdown(ctx))
}

// ========================================
// Capture loop
// ========================================

func TestLoop_PublishesFramesAndSignalsReady(t *testing.T) {
	defer goleak.VerifyNone(t)

	opener := &fakeOpener{
		backends: []string{"FFMPEG", "ANY"},
		open:     func(string, int) (Handle, error) { return steadyHandle(), nil },
	}
	mgr := newTestManager(opener, nil)
	ctx := context.Background()

	require.NoError(t, mgr.Register(ctx, "cam", model.StreamOrigin("rtsp://h/s")))

	select {
	case <-mgr.Ready():
	case <-time.After(time.Second):
		t.Fatal("expected a ready signal")
	}

	frame, ok := mgr.TakeFrame("cam")
	require.True(t, ok)
	assert.Equal(t, "cam", frame.SourceID)
	assert.NotZero(t, frame.Seq)
	assert.False(t, frame.CapturedAt.IsZero())

	require.Eventually(t, func() bool {
		latest, ok := mgr.LatestFrame("cam")
		return ok && latest.Seq > frame.Seq
	}, time.Second, time.Millisecond)

	assert.True(t, mgr.Running())
	require.NoError(t, mgr.Unregister(ctx, "cam"))

	_, ok = mgr.LatestFrame("cam")
	assert.False(t, ok)
	assert.Empty(t, mgr.Statuses())
}

func TestLoop_ReadFailuresTriggerReopen(t *testing.T) {
	defer goleak.VerifyNone(t)

	opener := &fakeOpener{
		backends: []string{"FFMPEG"},
		open: func(_ string, n int) (Handle, error) {
			if n > 1 {
				return steadyHandle(), nil
			}
			reads := 0
			return &fakeHandle{read: func() (*model.Frame, error) {
				reads++
				if reads == 1 {
					return testFrame(4, 2), nil
				}
				return nil, errors.New("connection reset")
			}}, nil
		},
	}
	mgr := newTestManager(opener, nil)

	require.NoError(t, mgr.Register(context.Background(), "cam", model.StreamOrigin("rtsp://h/s")))

	require.Eventually(t, func() bool {
		st, _ := mgr.Status("cam")
		return st.Reconnects == 1 && st.State == model.StateReading
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, 2, opener.openCount())

	require.NoError(t, mgr.Shutdown(context.Background()))
}

func TestLoop_OpenRetriesExhaustedMarksUnavailable(t *testing.T) {
	defer goleak.VerifyNone(t)

	opener := &fakeOpener{
		backends: []string{"FFMPEG", "ANY"},
		open: func(string, int) (Handle, error) {
			return nil, errors.New("connection refused")
		},
	}
	mgr := newTestManager(opener, nil)

	require.NoError(t, mgr.Register(context.Background(), "cam", model.StreamOrigin("rtsp://h/s")))

	require.Eventually(t, func() bool {
		st, ok := mgr.Status("cam")
		return ok && st.State == model.StateUnavailable
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, 3*2, opener.openCount())
	assert.Equal(t, []string{"cam"}, mgr.Sources())

	require.NoError(t, mgr.Unregister(context.Background(), "cam"))
}

func TestLoop_ResizeFailureForwardsOriginal(t *testing.T) {
	defer goleak.VerifyNone(t)

	resizer := &failingResizer{}
	opener := &fakeOpener{
		backends: []string{"FFMPEG"},
		open: func(string, int) (Handle, error) {
			return &fakeHandle{read: func() (*model.Frame, error) {
				time.Sleep(time.Millisecond)
				return testFrame(8, 4), nil
			}}, nil
		},
	}
	mgr := newTestManager(opener, resizer)

	require.NoError(t, mgr.Register(context.Background(), "cam", model.StreamOrigin("rtsp://h/s")))
	require.Eventually(t, func() bool {
		_, ok := mgr.LatestFrame("cam")
		return ok
	}, time.Second, time.Millisecond)

	frame, _ := mgr.LatestFrame("cam")
	assert.Equal(t, 8, frame.Width)
	assert.Positive(t, resizer.calls.Load())

	require.NoError(t, mgr.Shutdown(context.Background()))
}

func TestUnregister_HungReadReportsLeak(t *testing.T) {
	release := make(chan struct{})
	var reads atomic.Int32
	opener := &fakeOpener{
		backends: []string{"FFMPEG"},
		open: func(string, int) (Handle, error) {
			return &fakeHandle{read: func() (*model.Frame, error) {
				if reads.Add(1) > 1 {
					<-release
				}
				return testFrame(4, 2), nil
			}}, nil
		},
	}
	mgr := newTestManager(opener, nil)
	ctx := context.Background()

	require.NoError(t, mgr.Register(ctx, "cam", model.StreamOrigin("rtsp://h/s")))
	require.Eventually(t, func() bool { return reads.Load() > 1 }, time.Second, time.Millisecond)

	src, ok := mgr.lookup("cam")
	require.True(t, ok)

	start := time.Now()
	err := mgr.Unregister(ctx, "cam")
	require.ErrorIs(t, err, ErrStopTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, mgr.Sources())

	close(release)
	select {
	case <-src.done:
	case <-time.After(time.Second):
		t.Fatal("capture loop did not exit after the read returned")
	}
	goleak.VerifyNone(t)
}

func TestTuningFor(t *testing.T) {
	cfg := config.CaptureConfig{
		FrameWidth: 1280, FrameHeight: 720, TargetFPS: 30,
		OpenTimeout: 5 * time.Second, ReadTimeout: 5 * time.Second,
	}

	dev := TuningFor(model.DeviceOrigin(0), cfg)
	assert.Equal(t, Tuning{BufferSize: 1, Width: 1280, Height: 720, FPS: 30}, dev)

	stream := TuningFor(model.StreamOrigin("rtsp://h"), cfg)
	assert.Equal(t, Tuning{BufferSize: 1, OpenTimeout: 5 * time.Second, ReadTimeout: 5 * time.Second}, stream)

	file := TuningFor(model.FileOrigin("a.mp4"), cfg)
	assert.Equal(t, Tuning{BufferSize: 1}, file)
}

func TestTuning_TimeoutsArePassedAtOpen(t *testing.T) {
	cfg := config.CaptureConfig{
		FrameWidth: 1280, FrameHeight: 720, TargetFPS: 30,
		OpenTimeout: 5 * time.Second, ReadTimeout: 2500 * time.Millisecond,
	}

	stream := TuningFor(model.StreamOrigin("rtsp://h"), cfg)
	assert.Equal(t, []int{PropOpenTimeoutMsec, 5000, PropReadTimeoutMsec, 2500}, stream.OpenParams())

	assert.Empty(t, TuningFor(model.DeviceOrigin(0), cfg).OpenParams())
	assert.Empty(t, TuningFor(model.FileOrigin("a.mp4"), cfg).OpenParams())
	assert.Equal(t, []int{PropReadTimeoutMsec, 1000}, Tuning{ReadTimeout: time.Second}.OpenParams())
}
