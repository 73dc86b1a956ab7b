package capture

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"trafficcounter/internal/config"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/metrics"
	"trafficcounter/internal/model"
)

// Manager owns one capture loop per registered source.
type Manager struct {
	cfg     config.CaptureConfig
	opener  Opener
	resizer Resizer
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	sources map[string]*source

	ready chan struct{}
	now   func() time.Time
}

// source is the registry entry of one capture loop.
type source struct {
	id     string
	origin model.Origin
	buffer *FrameBuffer
	cancel context.CancelFunc
	done   chan struct{}

	statusMu sync.Mutex
	status   model.SourceStatus
}

// NewManager creates a Manager. resizer may be nil, in which case frames are
// published at their native size.
func NewManager(cfg config.CaptureConfig, opener Opener, resizer Resizer, log *logger.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		cfg:     cfg,
		opener:  opener,
		resizer: resizer,
		logger:  log,
		metrics: m,
		sources: make(map[string]*source),
		ready:   make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Register starts a capture loop for id. Device origins are probed first and
// rejected with ErrSourceUnavailable when no backend yields a frame.
func (m *Manager) Register(ctx context.Context, id string, origin model.Origin) error {
	if id == "" {
		return fmt.Errorf("source id must not be empty")
	}

	m.mu.RLock()
	_, exists := m.sources[id]
	m.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: %s", ErrSourceExists, id)
	}

	if origin.Kind == model.OriginDevice {
		if err := m.Probe(ctx, origin); err != nil {
			m.logger.Error("❌ Source %s (%s) unavailable: %v", id, origin, err)
			return err
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	src := &source{
		id:     id,
		origin: origin,
		buffer: NewFrameBuffer(),
		cancel: cancel,
		done:   make(chan struct{}),
		status: model.SourceStatus{
			ID:        id,
			Origin:    origin.String(),
			Kind:      origin.Kind.String(),
			State:     model.StateOpening,
			UpdatedAt: m.now(),
		},
	}

	m.mu.Lock()
	if _, exists := m.sources[id]; exists {
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: %s", ErrSourceExists, id)
	}
	m.sources[id] = src
	m.mu.Unlock()

	go m.run(loopCtx, src)

	m.logger.Info("📹 Source %s registered (%s %s)", id, origin.Kind, origin)
	return nil
}

// Unregister stops the loop of id and waits up to the stop timeout for it to
// exit. The entry is removed either way; a loop that outlives the timeout is
// reported through ErrStopTimeout.
func (m *Manager) Unregister(ctx context.Context, id string) error {
	m.mu.RLock()
	src, ok := m.sources[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}

	src.cancel()

	timer := time.NewTimer(m.cfg.StopTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-src.done:
	case <-timer.C:
		err = fmt.Errorf("%w: %s after %s", ErrStopTimeout, id, m.cfg.StopTimeout)
	case <-ctx.Done():
		err = fmt.Errorf("%w: %s: %w", ErrStopTimeout, id, ctx.Err())
	}

	m.mu.Lock()
	if m.sources[id] == src {
		delete(m.sources, id)
	}
	m.mu.Unlock()
	m.metrics.ForgetSource(id)

	if err != nil {
		m.metrics.LoopLeaked()
		m.logger.Error("❌ Capture loop of %s leaked: %v", id, err)
		return err
	}

	m.logger.Info("🛑 Source %s unregistered", id)
	return nil
}

// Shutdown unregisters every source concurrently.
func (m *Manager) Shutdown(ctx context.Context) error {
	ids := m.Sources()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := m.Unregister(ctx, id); err != nil && !errors.Is(err, ErrSourceNotFound) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// LatestFrame returns the most recent frame of id without blocking.
func (m *Manager) LatestFrame(id string) (*model.Frame, bool) {
	src, ok := m.lookup(id)
	if !ok {
		return nil, false
	}
	return src.buffer.Latest()
}

// TakeFrame consumes the pending frame of id, if any.
func (m *Manager) TakeFrame(id string) (*model.Frame, bool) {
	src, ok := m.lookup(id)
	if !ok {
		return nil, false
	}
	return src.buffer.Take()
}

// PendingFrames counts sources holding an unconsumed frame.
func (m *Manager) PendingFrames() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, src := range m.sources {
		if src.buffer.Pending() {
			n++
		}
	}
	return n
}

// Ready is signalled whenever any source publishes a frame. Signals coalesce.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// Sources returns the registered ids in sorted order.
func (m *Manager) Sources() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sources))
	for id := range m.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Status returns a snapshot of one source.
func (m *Manager) Status(id string) (model.SourceStatus, bool) {
	src, ok := m.lookup(id)
	if !ok {
		return model.SourceStatus{}, false
	}
	return src.snapshot(), true
}

// Statuses returns snapshots of every source, sorted by id.
func (m *Manager) Statuses() []model.SourceStatus {
	ids := m.Sources()
	out := make([]model.SourceStatus, 0, len(ids))
	for _, id := range ids {
		if st, ok := m.Status(id); ok {
			out = append(out, st)
		}
	}
	return out
}

// Running reports whether at least one source is reading frames.
func (m *Manager) Running() bool {
	for _, st := range m.Statuses() {
		if st.State == model.StateReading || st.State == model.StateBackoff {
			return true
		}
	}
	return false
}

func (m *Manager) lookup(id string) (*source, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.sources[id]
	return src, ok
}

func (m *Manager) signalReady() {
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (s *source) snapshot() model.SourceStatus {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	st := s.status
	st.FramesRead, st.FramesDropped = s.buffer.Stats()
	return st
}

func (s *source) update(fn func(st *model.SourceStatus)) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	fn(&s.status)
}
