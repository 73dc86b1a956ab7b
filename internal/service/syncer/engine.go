// Package syncer replicates unsynced local records to the remote store in
// bounded batches and enforces local retention.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"trafficcounter/internal/config"
	"trafficcounter/internal/dto"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/metrics"
	"trafficcounter/internal/repository"
	"trafficcounter/internal/service/remote"
)

var (
	// ErrSyncFailure aborts a pass at the first failed upload. The records
	// before it are marked synced; the rest are retried on the next pass.
	ErrSyncFailure = errors.New("sync failure")

	ErrSyncInProgress = errors.New("sync already in progress")
)

type summaryKey struct {
	camera string
	date   string
}

// Engine runs sync passes. A nil store disables uploads but keeps status and
// retention working.
type Engine struct {
	cfg        config.SyncConfig
	detections repository.DetectionRepository
	plates     repository.PlateRepository
	summaries  repository.SummaryRepository
	store      remote.Store
	log        *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	passMu     sync.Mutex
	inProgress atomic.Bool
	// summaries whose remote copy is stale; guarded by passMu
	pendingSummaries map[summaryKey]struct{}

	statusMu    sync.RWMutex
	lastPass    time.Time
	lastSuccess time.Time
	lastError   string
	failures    int
}

// NewEngine wires an engine. store may be nil.
func NewEngine(
	cfg config.SyncConfig,
	detections repository.DetectionRepository,
	plates repository.PlateRepository,
	summaries repository.SummaryRepository,
	store remote.Store,
	log *logger.Logger,
	m *metrics.Metrics,
) *Engine {
	return &Engine{
		cfg:              cfg,
		detections:       detections,
		plates:           plates,
		summaries:        summaries,
		store:            store,
		log:              log.Component("sync"),
		metrics:          m,
		now:              time.Now,
		pendingSummaries: make(map[summaryKey]struct{}),
	}
}

// Enabled reports whether a remote store is attached.
func (e *Engine) Enabled() bool {
	return e.store != nil
}

// SyncOnce runs a single pass. It never blocks on a concurrent pass.
func (e *Engine) SyncOnce(ctx context.Context) (dto.SyncResult, error) {
	if e.store == nil {
		return dto.SyncResult{}, remote.ErrNotConfigured
	}
	if !e.passMu.TryLock() {
		return dto.SyncResult{}, ErrSyncInProgress
	}
	defer e.passMu.Unlock()

	e.inProgress.Store(true)
	defer e.inProgress.Store(false)

	start := e.now()
	res := dto.SyncResult{PassID: uuid.NewString()}
	err := e.pass(ctx, &res)
	res.Duration = e.now().Sub(start)
	if err != nil {
		res.Error = err.Error()
	}

	e.record(res, err)
	return res, err
}

func (e *Engine) pass(ctx context.Context, res *dto.SyncResult) error {
	events, err := e.detections.ListUnsynced(ctx, e.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("%w: failed to list unsynced detections: %w", ErrSyncFailure, err)
	}

	syncTime := e.now()
	uploaded := make([]int64, 0, len(events))
	var uploadErr error
	for i := range events {
		ev := &events[i]
		if err := e.store.PutDetection(ctx, dto.NewDetectionRecord(ev, syncTime)); err != nil {
			uploadErr = fmt.Errorf("%w: detection %d: %w", ErrSyncFailure, ev.ID, err)
			break
		}
		uploaded = append(uploaded, ev.ID)
		e.pendingSummaries[summaryKey{camera: ev.CameraID, date: ev.Date()}] = struct{}{}
	}

	if len(uploaded) > 0 {
		if err := e.detections.MarkSynced(ctx, uploaded); err != nil {
			return fmt.Errorf("%w: failed to mark detections synced: %w", ErrSyncFailure, err)
		}
		res.DetectionsUploaded = len(uploaded)
	}

	n, summaryErr := e.pushSummaries(ctx)
	res.SummariesUploaded = n

	if uploadErr != nil {
		return uploadErr
	}
	if summaryErr != nil {
		return summaryErr
	}

	return e.syncPlates(ctx, res, syncTime)
}

func (e *Engine) syncPlates(ctx context.Context, res *dto.SyncResult, syncTime time.Time) error {
	if e.plates == nil {
		return nil
	}

	events, err := e.plates.ListUnsynced(ctx, e.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("%w: failed to list unsynced plates: %w", ErrSyncFailure, err)
	}

	uploaded := make([]int64, 0, len(events))
	var uploadErr error
	for i := range events {
		ev := &events[i]
		if err := e.store.PutPlate(ctx, dto.NewPlateRecord(ev, syncTime)); err != nil {
			uploadErr = fmt.Errorf("%w: plate %d: %w", ErrSyncFailure, ev.ID, err)
			break
		}
		uploaded = append(uploaded, ev.ID)
	}

	if len(uploaded) > 0 {
		if err := e.plates.MarkSynced(ctx, uploaded); err != nil {
			return fmt.Errorf("%w: failed to mark plates synced: %w", ErrSyncFailure, err)
		}
		res.PlatesUploaded = len(uploaded)
	}
	return uploadErr
}

// pushSummaries overwrites the remote copy of every pending summary. Failed
// keys stay pending for the next pass.
func (e *Engine) pushSummaries(ctx context.Context) (int, error) {
	if e.summaries == nil || len(e.pendingSummaries) == 0 {
		return 0, nil
	}

	now := e.now()
	pushed := 0
	for key := range e.pendingSummaries {
		summary, err := e.summaries.Get(ctx, key.camera, key.date)
		if err != nil {
			return pushed, fmt.Errorf("%w: failed to read summary %s/%s: %w", ErrSyncFailure, key.camera, key.date, err)
		}
		if err := e.store.PutSummary(ctx, dto.NewSummaryRecord(summary, now)); err != nil {
			return pushed, fmt.Errorf("%w: summary %s/%s: %w", ErrSyncFailure, key.camera, key.date, err)
		}
		delete(e.pendingSummaries, key)
		pushed++
	}
	return pushed, nil
}

func (e *Engine) record(res dto.SyncResult, err error) {
	e.statusMu.Lock()
	e.lastPass = e.now()
	if err != nil {
		e.lastError = err.Error()
		e.failures++
	} else {
		e.lastError = ""
		e.lastSuccess = e.lastPass
		e.failures = 0
	}
	failures := e.failures
	e.statusMu.Unlock()

	e.metrics.SyncPass(err == nil, res.DetectionsUploaded, res.PlatesUploaded, res.SummariesUploaded, res.Duration)
	e.metrics.SyncConsecutiveFailures(failures)

	if err != nil {
		e.log.Warning("⚠️ Sync pass %s failed after %d detections, %d plates: %v",
			res.PassID, res.DetectionsUploaded, res.PlatesUploaded, err)
	} else if res.Uploaded() > 0 {
		e.log.Info("☁️ Synced %d detections, %d plates, %d summaries to %s",
			res.DetectionsUploaded, res.PlatesUploaded, res.SummariesUploaded, e.store.Name())
	}
}

// SyncAll repeats passes until one uploads nothing or fails.
func (e *Engine) SyncAll(ctx context.Context) (dto.SyncResult, error) {
	total := dto.SyncResult{PassID: uuid.NewString()}
	for {
		res, err := e.SyncOnce(ctx)
		total.DetectionsUploaded += res.DetectionsUploaded
		total.PlatesUploaded += res.PlatesUploaded
		total.SummariesUploaded += res.SummariesUploaded
		total.Duration += res.Duration
		if err != nil {
			total.Error = err.Error()
			return total, err
		}
		if res.Uploaded() == 0 {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// Run syncs until ctx is done: every Interval after a clean pass and every
// ErrorInterval after a failed one.
func (e *Engine) Run(ctx context.Context) error {
	if e.store == nil {
		e.log.Info("Remote sync disabled")
		return nil
	}
	e.log.Info("🔄 Sync loop started (backend %s, batch %d, every %s)", e.store.Name(), e.cfg.BatchSize, e.cfg.Interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("Sync loop stopped")
			return nil
		case <-timer.C:
		}

		_, err := e.SyncOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		e.refreshBacklog(ctx)
		timer.Reset(e.nextInterval(err))
	}
}

func (e *Engine) nextInterval(err error) time.Duration {
	if err != nil && !errors.Is(err, ErrSyncInProgress) {
		return e.cfg.ErrorInterval
	}
	return e.cfg.Interval
}

func (e *Engine) refreshBacklog(ctx context.Context) {
	n, err := e.detections.CountUnsynced(ctx)
	if err != nil {
		return
	}
	e.metrics.Unsynced(n)
}

// Status reports pass history and backlog.
func (e *Engine) Status(ctx context.Context) (dto.SyncStatus, error) {
	e.statusMu.RLock()
	status := dto.SyncStatus{
		Enabled:     e.store != nil,
		Backend:     config.BackendNone,
		InProgress:  e.inProgress.Load(),
		LastPass:    e.lastPass,
		LastSuccess: e.lastSuccess,
		LastError:   e.lastError,
	}
	e.statusMu.RUnlock()

	if e.store != nil {
		status.Backend = e.store.Name()
	}

	var err error
	if status.TotalDetections, err = e.detections.Count(ctx); err != nil {
		return status, err
	}
	if status.Unsynced, err = e.detections.CountUnsynced(ctx); err != nil {
		return status, err
	}
	if e.plates != nil {
		if status.UnsyncedPlates, err = e.plates.CountUnsynced(ctx); err != nil {
			return status, err
		}
	}
	if status.TotalDetections > 0 {
		synced := status.TotalDetections - status.Unsynced
		status.SyncedPercent = float64(synced) / float64(status.TotalDetections) * 100
	}
	return status, nil
}
