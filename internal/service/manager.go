package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"trafficcounter/internal/config"
	"trafficcounter/internal/dto"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/metrics"
	"trafficcounter/internal/model"
	"trafficcounter/internal/repository"
	"trafficcounter/internal/service/counter"
	"trafficcounter/internal/service/plates"
	"trafficcounter/internal/service/storage"
)

// idlePoll bounds how long the consumer sleeps when no ready signal arrives.
const idlePoll = 100 * time.Millisecond

var (
	ErrUnknownSource  = errors.New("unknown source")
	ErrNoAnnotator    = errors.New("frame annotation not available")
	ErrNoFrame        = errors.New("no frame available")
	ErrInvalidRequest = errors.New("invalid source request")
)

// Deps groups the collaborators of a Manager. PlateReader, Annotator and
// Snapshots are optional.
type Deps struct {
	Frames      FrameSource
	Detector    Detector
	NewTracker  TrackerFactory
	PlateReader plates.Reader
	Annotator   Annotator
	Snapshots   *storage.SnapshotService

	Detections repository.DetectionRepository
	Plates     repository.PlateRepository
	Settings   repository.SourceRepository

	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// pipeline is the per-source consumer state.
type pipeline struct {
	id      string
	counter *counter.LineCounter
	tracker Tracker
	limiter *rate.Limiter

	mu          sync.Mutex
	lastObjects []model.TrackedObject
}

func (p *pipeline) setObjects(objects []model.TrackedObject) {
	p.mu.Lock()
	p.lastObjects = objects
	p.mu.Unlock()
}

func (p *pipeline) objects() []model.TrackedObject {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.TrackedObject, len(p.lastObjects))
	copy(out, p.lastObjects)
	return out
}

// Manager runs the consumer side: detector, tracker and counter per source,
// persisting every counted crossing.
type Manager struct {
	cfg  *config.Config
	deps Deps
	log  *logger.Logger
	now  func() time.Time

	dedup *plates.Deduplicator

	mu        sync.RWMutex
	pipelines map[string]*pipeline
}

// NewManager creates a Manager. Nothing runs until Run is called.
func NewManager(cfg *config.Config, deps Deps) *Manager {
	return &Manager{
		cfg:       cfg,
		deps:      deps,
		log:       deps.Logger.Component("pipeline"),
		now:       time.Now,
		dedup:     plates.NewDeduplicator(cfg.Plates.DedupWindow, cfg.Plates.CacheHorizon),
		pipelines: make(map[string]*pipeline),
	}
}

// AddSource registers a source with acquisition, creates its counter and
// persists the registration. linePosition 0 selects the default.
func (m *Manager) AddSource(ctx context.Context, id, rawOrigin string, linePosition float64) error {
	return m.addSource(ctx, id, rawOrigin, linePosition, true)
}

// addSource registers a source; only sources added at runtime are
// persisted, configured ones live in the configuration file.
func (m *Manager) addSource(ctx context.Context, id, rawOrigin string, linePosition float64, persist bool) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRequest)
	}
	origin, err := model.ParseOrigin(rawOrigin)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if linePosition == 0 {
		linePosition = m.cfg.Counter.LinePosition
	}
	if linePosition <= 0 || linePosition >= 1 {
		return fmt.Errorf("%w: line_position must be within (0,1)", ErrInvalidRequest)
	}

	if err := m.deps.Frames.Register(ctx, id, origin); err != nil {
		return err
	}

	m.mu.Lock()
	m.pipelines[id] = m.newPipeline(id, linePosition)
	m.mu.Unlock()

	if persist && m.deps.Settings != nil {
		setting := &model.CameraSetting{
			CameraID:     id,
			Source:       rawOrigin,
			LinePosition: linePosition,
			Active:       true,
		}
		if err := m.deps.Settings.Save(ctx, setting); err != nil {
			m.log.Warning("⚠️ Source %s registered but not persisted: %v", id, err)
		}
	}
	return nil
}

func (m *Manager) newPipeline(id string, linePosition float64) *pipeline {
	limit := rate.Inf
	if m.cfg.Detection.MaxFPS > 0 {
		limit = rate.Limit(m.cfg.Detection.MaxFPS)
	}
	return &pipeline{
		id:      id,
		counter: counter.New(linePosition),
		tracker: m.deps.NewTracker(),
		limiter: rate.NewLimiter(limit, 1),
	}
}

// RemoveSource stops acquisition for id and drops its consumer state and
// persisted registration. A leaked capture loop is still reported through
// the returned error after the state is dropped.
func (m *Manager) RemoveSource(ctx context.Context, id string) error {
	err := m.deps.Frames.Unregister(ctx, id)

	m.mu.Lock()
	_, known := m.pipelines[id]
	delete(m.pipelines, id)
	m.mu.Unlock()

	if !known && err != nil {
		return err
	}

	m.dedup.Forget(id)
	if f, ok := m.deps.Detector.(interface{ Forget(string) }); ok {
		f.Forget(id)
	}
	if m.deps.Settings != nil {
		if derr := m.deps.Settings.Delete(ctx, id); derr != nil {
			m.log.Warning("⚠️ Failed to delete persisted source %s: %v", id, derr)
		}
	}
	return err
}

// RestoreSources registers the configured sources and every persisted
// active source not overridden by configuration. Configured sources are not
// persisted, so dropping one from the configuration stops it for good.
// Sources that fail to register are logged and skipped.
func (m *Manager) RestoreSources(ctx context.Context) int {
	wanted := make(map[string]config.SourceConfig)
	configured := make(map[string]bool)
	var order []string

	if m.deps.Settings != nil {
		persisted, err := m.deps.Settings.List(ctx, true)
		if err != nil {
			m.log.Error("❌ Failed to load persisted sources: %v", err)
		}
		for _, s := range persisted {
			wanted[s.CameraID] = config.SourceConfig{ID: s.CameraID, Origin: s.Source, LinePosition: s.LinePosition}
			order = append(order, s.CameraID)
		}
	}
	for _, s := range m.cfg.Sources {
		if _, ok := wanted[s.ID]; !ok {
			order = append(order, s.ID)
		}
		wanted[s.ID] = s
		configured[s.ID] = true
	}

	started := 0
	for _, id := range order {
		s := wanted[id]
		if err := m.addSource(ctx, s.ID, s.Origin, s.LinePosition, !configured[id]); err != nil {
			m.log.Error("❌ Failed to start source %s: %v", s.ID, err)
			continue
		}
		started++
	}
	m.log.Info("🎬 %d of %d sources started", started, len(order))
	return started
}

// Run consumes frames until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	m.log.Info("🎬 Consumer started (max %.1f detections/s per source)", m.cfg.Detection.MaxFPS)

	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()

	for {
		if m.processPending(ctx) > 0 {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			m.log.Info("🛑 Consumer stopped")
			return nil
		case <-m.deps.Frames.Ready():
		case <-ticker.C:
		}
	}
}

// processPending handles at most one pending frame per source and returns
// how many frames were processed.
func (m *Manager) processPending(ctx context.Context) int {
	processed := 0
	for _, p := range m.snapshotPipelines() {
		if ctx.Err() != nil {
			return processed
		}
		frame, ok := m.deps.Frames.TakeFrame(p.id)
		if !ok {
			continue
		}
		if !p.limiter.Allow() {
			continue
		}
		m.processFrame(ctx, p, frame)
		processed++
	}
	return processed
}

func (m *Manager) snapshotPipelines() []*pipeline {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*pipeline, 0, len(m.pipelines))
	for _, p := range m.pipelines {
		out = append(out, p)
	}
	return out
}

func (m *Manager) processFrame(ctx context.Context, p *pipeline, frame *model.Frame) {
	start := m.now()
	defer func() { m.deps.Metrics.FrameProcessed(m.now().Sub(start)) }()

	detections, err := m.deps.Detector.Detect(frame)
	if err != nil {
		m.deps.Metrics.DetectorFailed()
		m.log.Debug("Detection failed on %s: %v", p.id, err)
		return
	}

	objects := p.tracker.Update(detections, frame)
	p.setObjects(objects)

	crossings := p.counter.Update(objects, frame.Height)
	if len(crossings) == 0 {
		return
	}

	ts := frame.CapturedAt
	if ts.IsZero() {
		ts = m.now()
	}
	lineY, _ := p.counter.LineY()

	for _, c := range crossings {
		m.deps.Metrics.Crossing(p.id, string(c.Class), string(c.Direction))
		m.log.Info("🚗 %s: %s #%s crossed line (%s)", p.id, c.Class, c.TrackID, c.Direction)

		event := &model.DetectionEvent{
			CameraID:    p.id,
			VehicleType: c.Class,
			Confidence:  c.Confidence,
			Timestamp:   ts,
		}
		if _, err := m.deps.Detections.Insert(ctx, event); err != nil {
			m.deps.Metrics.PersistFailed()
			m.log.Error("❌ Dropped %s crossing on %s: %v", c.Class, p.id, err)
			continue
		}

		box, ok := findBox(objects, c.TrackID)
		if ok {
			m.readPlate(ctx, p.id, frame, box, c, ts)
		}
		m.snapshot(p.id, frame, objects, lineY, c, ts)
	}
}

func findBox(objects []model.TrackedObject, trackID string) (model.BoundingBox, bool) {
	for _, o := range objects {
		if o.TrackID == trackID {
			return o.Box, true
		}
	}
	return model.BoundingBox{}, false
}

func (m *Manager) readPlate(ctx context.Context, cameraID string, frame *model.Frame, box model.BoundingBox, c counter.Crossing, ts time.Time) {
	if m.deps.PlateReader == nil || m.deps.Plates == nil || !m.cfg.Plates.Enabled {
		return
	}

	text, confidence, ok := m.deps.PlateReader.ReadPlate(frame, box)
	if !ok {
		return
	}
	plate, ok := plates.NormalizePlate(text)
	if !ok {
		m.log.Debug("Rejected plate read %q on %s", text, cameraID)
		return
	}
	if !m.dedup.Allow(cameraID, plate) {
		m.deps.Metrics.PlateDeduplicated()
		return
	}

	event := &model.PlateEvent{
		CameraID:    cameraID,
		Plate:       plate,
		VehicleType: c.Class,
		Confidence:  confidence,
		Timestamp:   ts,
	}
	if _, err := m.deps.Plates.Insert(ctx, event); err != nil {
		m.deps.Metrics.PersistFailed()
		m.log.Error("❌ Dropped plate %s on %s: %v", plate, cameraID, err)
		return
	}
	m.deps.Metrics.PlatePersisted(cameraID)
	m.log.Info("🔖 %s: plate %s (%s)", cameraID, plate, c.Class)
}

func (m *Manager) snapshot(cameraID string, frame *model.Frame, objects []model.TrackedObject, lineY int, c counter.Crossing, ts time.Time) {
	if m.deps.Snapshots == nil || m.deps.Annotator == nil {
		return
	}
	data, err := m.deps.Annotator.Annotate(frame, objects, lineY)
	if err != nil {
		m.log.Warning("⚠️ Failed to annotate snapshot for %s: %v", cameraID, err)
		return
	}
	m.deps.Snapshots.Add(storage.Snapshot{Timestamp: ts, Camera: cameraID, Class: c.Class, Data: data})
}

// Statistics summarizes the pipeline for presentation.
func (m *Manager) Statistics(ctx context.Context) (dto.Statistics, error) {
	stats := dto.Statistics{
		Running:           m.deps.Frames.Running(),
		PendingQueueDepth: m.deps.Frames.PendingFrames(),
		ActiveSources:     len(m.deps.Frames.Sources()),
	}

	var err error
	if stats.TotalDetections, err = m.deps.Detections.Count(ctx); err != nil {
		return stats, err
	}
	if stats.UnsyncedCount, err = m.deps.Detections.CountUnsynced(ctx); err != nil {
		return stats, err
	}
	return stats, nil
}

// Counts returns the live totals of one source.
func (m *Manager) Counts(id string) (dto.SourceCounts, bool) {
	m.mu.RLock()
	p, ok := m.pipelines[id]
	m.mu.RUnlock()
	if !ok {
		return dto.SourceCounts{}, false
	}
	return sourceCounts(p), true
}

// AllCounts returns the live totals of every source ordered by id.
func (m *Manager) AllCounts() []dto.SourceCounts {
	pipelines := m.snapshotPipelines()
	out := make([]dto.SourceCounts, 0, len(pipelines))
	for _, p := range pipelines {
		out = append(out, sourceCounts(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

func sourceCounts(p *pipeline) dto.SourceCounts {
	counts := p.counter.Counts()
	lineY, ok := p.counter.LineY()
	if !ok {
		lineY = -1
	}
	return dto.SourceCounts{SourceID: p.id, LineY: lineY, Counts: counts, Total: counts.Total()}
}

// LatestFrame returns the newest frame of id.
func (m *Manager) LatestFrame(id string) (*model.Frame, bool) {
	return m.deps.Frames.LatestFrame(id)
}

// FrameJPEG renders the newest frame of id with its last tracked objects.
func (m *Manager) FrameJPEG(id string) ([]byte, error) {
	m.mu.RLock()
	p, ok := m.pipelines[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	if m.deps.Annotator == nil {
		return nil, ErrNoAnnotator
	}

	frame, ok := m.deps.Frames.LatestFrame(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoFrame, id)
	}
	lineY, ok := p.counter.LineY()
	if !ok {
		lineY = int(float64(frame.Height) * p.counter.Position())
	}
	return m.deps.Annotator.Annotate(frame, p.objects(), lineY)
}

// Statuses returns acquisition state for every source.
func (m *Manager) Statuses() []model.SourceStatus {
	return m.deps.Frames.Statuses()
}

// Shutdown stops every capture loop.
func (m *Manager) Shutdown(ctx context.Context) error {
	err := m.deps.Frames.Shutdown(ctx)

	m.mu.Lock()
	m.pipelines = make(map[string]*pipeline)
	m.mu.Unlock()
	return err
}
