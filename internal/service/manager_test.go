package service

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"trafficcounter/internal/config"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/model"
	"trafficcounter/internal/repository/sqlite"
	"trafficcounter/internal/service/capture"
	"trafficcounter/internal/service/storage"
)

// ========================================
// Fakes
// ========================================

type fakeFrames struct {
	mu          sync.Mutex
	registered  map[string]model.Origin
	pending     map[string]*model.Frame
	latest      map[string]*model.Frame
	ready       chan struct{}
	registerErr error
}

func newFakeFrames() *fakeFrames {
	return &fakeFrames{
		registered: make(map[string]model.Origin),
		pending:    make(map[string]*model.Frame),
		latest:     make(map[string]*model.Frame),
		ready:      make(chan struct{}, 1),
	}
}

func (f *fakeFrames) Register(ctx context.Context, id string, origin model.Origin) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return f.registerErr
	}
	if _, ok := f.registered[id]; ok {
		return capture.ErrSourceExists
	}
	f.registered[id] = origin
	return nil
}

func (f *fakeFrames) Unregister(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.registered[id]; !ok {
		return capture.ErrSourceNotFound
	}
	delete(f.registered, id)
	return nil
}

func (f *fakeFrames) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = make(map[string]model.Origin)
	return nil
}

func (f *fakeFrames) push(frame *model.Frame) {
	f.mu.Lock()
	f.pending[frame.SourceID] = frame
	f.latest[frame.SourceID] = frame
	f.mu.Unlock()
	select {
	case f.ready <- struct{}{}:
	default:
	}
}

func (f *fakeFrames) TakeFrame(id string) (*model.Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fr, ok := f.pending[id]
	delete(f.pending, id)
	return fr, ok
}

func (f *fakeFrames) LatestFrame(id string) (*model.Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fr, ok := f.latest[id]
	return fr, ok
}

func (f *fakeFrames) Ready() <-chan struct{} { return f.ready }

func (f *fakeFrames) Sources() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.registered))
	for id := range f.registered {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (f *fakeFrames) Status(id string) (model.SourceStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.registered[id]
	return model.SourceStatus{ID: id, State: model.StateReading}, ok
}

func (f *fakeFrames) Statuses() []model.SourceStatus {
	var out []model.SourceStatus
	for _, id := range f.Sources() {
		out = append(out, model.SourceStatus{ID: id, State: model.StateReading})
	}
	return out
}

func (f *fakeFrames) PendingFrames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *fakeFrames) Running() bool { return len(f.Sources()) > 0 }

type fakeDetector struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (d *fakeDetector) Detect(frame *model.Frame) ([]model.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return nil, d.err
}

func (d *fakeDetector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// scriptedTracker replays one object set per update.
type scriptedTracker struct {
	steps [][]model.TrackedObject
	i     int
}

func (t *scriptedTracker) Update(_ []model.Detection, _ *model.Frame) []model.TrackedObject {
	if t.i >= len(t.steps) {
		return nil
	}
	out := t.steps[t.i]
	t.i++
	return out
}

type fakePlateReader struct {
	text string
}

func (r fakePlateReader) ReadPlate(*model.Frame, model.BoundingBox) (string, float64, bool) {
	return r.text, 0.9, r.text != ""
}

// ========================================
// Helpers
// ========================================

type fixture struct {
	frames   *fakeFrames
	detector *fakeDetector
	tracker  *scriptedTracker
	db       *sqlite.DB
	manager  *Manager
}

func testConfig() *config.Config {
	return &config.Config{
		Counter:   config.CounterConfig{LinePosition: 0.5},
		Detection: config.DetectionConfig{MaxFPS: 0},
		Plates: config.PlatesConfig{
			Enabled:      true,
			DedupWindow:  30 * time.Second,
			CacheHorizon: 5 * time.Minute,
		},
	}
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		frames:   newFakeFrames(),
		detector: &fakeDetector{},
		tracker:  &scriptedTracker{},
		db:       db,
	}
	deps := Deps{
		Frames:     f.frames,
		Detector:   f.detector,
		NewTracker: func() Tracker { return f.tracker },
		Detections: sqlite.NewDetectionRepository(db),
		Plates:     sqlite.NewPlateRepository(db),
		Settings:   sqlite.NewSourceRepository(db),
		Logger:     logger.NewNop(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	f.manager = NewManager(testConfig(), deps)
	return f
}

func car(id string, y int) model.TrackedObject {
	box := model.BoundingBox{X: 100, Y: y - 20, Width: 60, Height: 40}
	return model.TrackedObject{TrackID: id, Class: model.Car, Box: box, Center: image.Pt(130, y), Confidence: 0.8}
}

func frameAt(seq uint64, ts time.Time) *model.Frame {
	return &model.Frame{SourceID: "cam1", Seq: seq, CapturedAt: ts, Width: 640, Height: 360, Data: []byte{1}}
}

func (f *fixture) feed(t *testing.T, start time.Time, steps ...[]model.TrackedObject) {
	t.Helper()
	f.tracker.steps = append(f.tracker.steps, steps...)
	f.manager.mu.RLock()
	p := f.manager.pipelines["cam1"]
	f.manager.mu.RUnlock()
	require.NotNil(t, p)
	for i := range steps {
		f.manager.processFrame(context.Background(), p, frameAt(uint64(i+1), start.Add(time.Duration(i)*time.Second)))
	}
}

// ========================================
// Counting
// ========================================

func TestManager_CountsCrossingOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.manager.AddSource(ctx, "cam1", "traffic.mp4", 0))

	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)
	f.feed(t, start,
		[]model.TrackedObject{car("T1", 120)},
		[]model.TrackedObject{car("T1", 205)},
		[]model.TrackedObject{car("T1", 120)},
	)

	counts, ok := f.manager.Counts("cam1")
	require.True(t, ok)
	assert.Equal(t, 180, counts.LineY)
	assert.Equal(t, 1, counts.Counts.Cars)
	assert.Equal(t, 1, counts.Total)

	events, err := sqlite.NewDetectionRepository(f.db).ListByDate(ctx, "2024-05-01", nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.Car, events[0].VehicleType)
	assert.True(t, start.Add(time.Second).Equal(events[0].Timestamp))

	summary, err := sqlite.NewSummaryRepository(f.db).Get(ctx, "cam1", "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts.Cars)

	stats, err := f.manager.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalDetections)
	assert.Equal(t, int64(1), stats.UnsyncedCount)
	assert.True(t, stats.Running)
	assert.Equal(t, 1, stats.ActiveSources)
}

func TestManager_DetectorFailureIsSkipped(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.manager.AddSource(context.Background(), "cam1", "traffic.mp4", 0))
	f.detector.err = errors.New("net not ready")

	f.feed(t, time.Now(), []model.TrackedObject{car("T1", 120)}, []model.TrackedObject{car("T1", 205)})

	counts, _ := f.manager.Counts("cam1")
	assert.Zero(t, counts.Total)
	assert.Equal(t, 2, f.detector.Calls())
}

func TestManager_PlatesDeduplicated(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.PlateReader = fakePlateReader{text: "b1234 xyz"} })
	ctx := context.Background()
	require.NoError(t, f.manager.AddSource(ctx, "cam1", "traffic.mp4", 0))

	f.feed(t, time.Now(),
		[]model.TrackedObject{car("T1", 120), car("T2", 100)},
		[]model.TrackedObject{car("T1", 205), car("T2", 110)},
		[]model.TrackedObject{car("T2", 200)},
	)

	counts, _ := f.manager.Counts("cam1")
	assert.Equal(t, 2, counts.Counts.Cars)

	history, err := sqlite.NewPlateRepository(f.db).History(ctx, "cam1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "B1234XYZ", history[0].Plate)
}

func TestManager_SnapshotsOnCrossing(t *testing.T) {
	snaps := storage.NewSnapshotService(config.SnapshotConfig{
		Dir:            t.TempDir(),
		PerCameraLimit: 5,
		FlushInterval:  time.Hour,
	}, logger.NewNop())

	var gotLine int
	annotate := AnnotatorFunc(func(_ *model.Frame, objects []model.TrackedObject, lineY int) ([]byte, error) {
		gotLine = lineY
		return []byte{0xff, 0xd8}, nil
	})
	f := newFixture(t, func(d *Deps) {
		d.Snapshots = snaps
		d.Annotator = annotate
	})
	require.NoError(t, f.manager.AddSource(context.Background(), "cam1", "traffic.mp4", 0))

	f.feed(t, time.Now(), []model.TrackedObject{car("T1", 120)}, []model.TrackedObject{car("T1", 205)})

	assert.Equal(t, 1, snaps.Pending())
	assert.Equal(t, 180, gotLine)

	jpeg, err := f.manager.FrameJPEG("cam1")
	assert.ErrorIs(t, err, ErrNoFrame)
	assert.Nil(t, jpeg)
}

// ========================================
// Source lifecycle
// ========================================

func TestManager_AddSourceValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	assert.ErrorIs(t, f.manager.AddSource(ctx, "", "0", 0), ErrInvalidRequest)
	assert.ErrorIs(t, f.manager.AddSource(ctx, "cam1", "", 0), ErrInvalidRequest)
	assert.ErrorIs(t, f.manager.AddSource(ctx, "cam1", "0", 1.5), ErrInvalidRequest)

	f.frames.registerErr = capture.ErrSourceUnavailable
	err := f.manager.AddSource(ctx, "cam1", "0", 0)
	assert.ErrorIs(t, err, capture.ErrSourceUnavailable)

	_, ok := f.manager.Counts("cam1")
	assert.False(t, ok)
	settings, err := sqlite.NewSourceRepository(f.db).List(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, settings)
}

func TestManager_AddRemovePersists(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	repo := sqlite.NewSourceRepository(f.db)

	require.NoError(t, f.manager.AddSource(ctx, "gate", "rtsp://10.0.0.5/stream", 0.7))
	assert.ErrorIs(t, f.manager.AddSource(ctx, "gate", "rtsp://10.0.0.5/stream", 0.7), capture.ErrSourceExists)

	settings, err := repo.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, settings, 1)
	assert.Equal(t, "rtsp://10.0.0.5/stream", settings[0].Source)
	assert.InDelta(t, 0.7, settings[0].LinePosition, 1e-9)

	require.NoError(t, f.manager.RemoveSource(ctx, "gate"))
	_, ok := f.manager.Counts("gate")
	assert.False(t, ok)

	settings, err = repo.List(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, settings)

	assert.ErrorIs(t, f.manager.RemoveSource(ctx, "gate"), capture.ErrSourceNotFound)
}

func TestManager_RestoreSources(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, sqlite.NewSourceRepository(f.db).Save(ctx, &model.CameraSetting{
		CameraID: "persisted", Source: "clip.mp4", LinePosition: 0.4, Active: true,
	}))
	f.manager.cfg.Sources = []config.SourceConfig{
		{ID: "configured", Origin: "rtsp://cam/stream", LinePosition: 0.6},
		{ID: "broken", Origin: "", LinePosition: 0.6},
	}

	started := f.manager.RestoreSources(ctx)
	assert.Equal(t, 2, started)
	assert.Equal(t, []string{"configured", "persisted"}, f.frames.Sources())

	all := f.manager.AllCounts()
	require.Len(t, all, 2)
	assert.Equal(t, "configured", all[0].SourceID)
	assert.Equal(t, -1, all[0].LineY)
}

func TestManager_ConfiguredSourcesAreNotPersisted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	repo := sqlite.NewSourceRepository(f.db)

	f.manager.cfg.Sources = []config.SourceConfig{{ID: "configured", Origin: "rtsp://cam/stream", LinePosition: 0.6}}
	require.Equal(t, 1, f.manager.RestoreSources(ctx))
	require.NoError(t, f.manager.AddSource(ctx, "runtime", "clip.mp4", 0.4))

	settings, err := repo.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, settings, 1)
	assert.Equal(t, "runtime", settings[0].CameraID)

	// next start with the configured source removed from the file
	next := newFixture(t, func(d *Deps) { d.Settings = repo })
	assert.Equal(t, 1, next.manager.RestoreSources(ctx))
	assert.Equal(t, []string{"runtime"}, next.frames.Sources())
}

// ========================================
// Consumer loop
// ========================================

func TestManager_RunConsumesFrames(t *testing.T) {
	f := newFixture(t, nil)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	require.NoError(t, f.manager.AddSource(context.Background(), "cam1", "traffic.mp4", 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.manager.Run(ctx) }()

	f.frames.push(frameAt(1, time.Now()))
	require.Eventually(t, func() bool { return f.detector.Calls() == 1 }, time.Second, 5*time.Millisecond)

	f.frames.push(frameAt(2, time.Now()))
	require.Eventually(t, func() bool { return f.detector.Calls() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}

	require.NoError(t, f.manager.Shutdown(context.Background()))
	assert.Empty(t, f.manager.AllCounts())
}

func TestManager_FrameJPEG(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Annotator = AnnotatorFunc(func(fr *model.Frame, _ []model.TrackedObject, lineY int) ([]byte, error) {
			return []byte{byte(lineY)}, nil
		})
	})
	require.NoError(t, f.manager.AddSource(context.Background(), "cam1", "traffic.mp4", 0))

	_, err := f.manager.FrameJPEG("nope")
	assert.ErrorIs(t, err, ErrUnknownSource)

	f.frames.push(&model.Frame{SourceID: "cam1", Width: 10, Height: 200, Data: []byte{1}})
	jpeg, err := f.manager.FrameJPEG("cam1")
	require.NoError(t, err)
	assert.Equal(t, []byte{100}, jpeg)
}
