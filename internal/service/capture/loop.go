package capture

import (
	"context"
	"fmt"
	"time"

	"trafficcounter/internal/model"
)

// run is the capture state machine of one source:
// Opening -> Reading <-> Backoff, with Reading falling back to Opening after
// too many failed reads, Opening ending in Unavailable after too many failed
// opens, and any state ending in Stopped on cancellation.
func (m *Manager) run(ctx context.Context, src *source) {
	defer close(src.done)

	final := model.StateStopped
	defer func() {
		src.update(func(st *model.SourceStatus) {
			st.State = final
			st.FPS = 0
			st.UpdatedAt = m.now()
		})
		m.metrics.SourceUp(src.id, false)
	}()

	tuning := TuningFor(src.origin, m.cfg)
	openFailures := 0

	for ctx.Err() == nil {
		m.setState(src, model.StateOpening, "")

		handle, backend, first, err := m.openAny(ctx, src.origin, tuning)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			openFailures++
			m.logger.Warning("⚠️  Source %s: open attempt %d/%d failed: %v",
				src.id, openFailures, m.cfg.MaxOpenRetries, err)

			if openFailures >= m.cfg.MaxOpenRetries {
				final = model.StateUnavailable
				src.update(func(st *model.SourceStatus) { st.LastError = err.Error() })
				m.logger.Error("❌ Source %s marked unavailable after %d open attempts", src.id, openFailures)
				return
			}

			m.setState(src, model.StateBackoff, err.Error())
			if !sleepCtx(ctx, m.cfg.OpenBackoff) {
				return
			}
			continue
		}

		openFailures = 0
		src.update(func(st *model.SourceStatus) { st.Backend = backend })
		m.logger.Info("✅ Source %s opened on backend %s", src.id, backend)

		reopen := m.readLoop(ctx, src, handle, first)
		if err := handle.Close(); err != nil {
			m.logger.Warning("⚠️  Source %s: close failed: %v", src.id, err)
		}
		if !reopen {
			return
		}

		src.update(func(st *model.SourceStatus) { st.Reconnects++ })
		m.metrics.Reconnected(src.id)
		m.logger.Warning("🔄 Source %s: reconnecting after %d failed reads", src.id, m.cfg.MaxReadFailures)
	}
}

// openAny tries every backend in order and keeps the first one that opens
// and returns a non-empty frame.
func (m *Manager) openAny(ctx context.Context, origin model.Origin, tuning Tuning) (Handle, string, *model.Frame, error) {
	backends := m.opener.Backends(origin)
	var lastErr error

	for _, backend := range backends {
		if ctx.Err() != nil {
			return nil, "", nil, ctx.Err()
		}

		handle, err := m.opener.Open(origin, backend, tuning)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", backend, err)
			continue
		}

		frame, err := handle.Read()
		if err != nil || frame.Empty() {
			handle.Close()
			if err == nil {
				err = ErrAcquisitionStalled
			}
			lastErr = fmt.Errorf("%s: first read: %w", backend, err)
			continue
		}
		return handle, backend, frame, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no capture backend for %s origin", origin.Kind)
	}
	return nil, "", nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, lastErr)
}

// readLoop publishes frames until cancellation (returns false) or until
// MaxReadFailures consecutive reads fail (returns true).
func (m *Manager) readLoop(ctx context.Context, src *source, handle Handle, first *model.Frame) bool {
	m.setState(src, model.StateReading, "")
	m.metrics.SourceUp(src.id, true)

	var pace <-chan time.Time
	if src.origin.Kind == model.OriginFile && m.cfg.TargetFPS > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(m.cfg.TargetFPS))
		defer ticker.Stop()
		pace = ticker.C
	}

	fps := newRateMeter(m.now())
	m.publish(src, first, fps)

	failures := 0
	for {
		if pace != nil {
			select {
			case <-ctx.Done():
				return false
			case <-pace:
			}
		} else if ctx.Err() != nil {
			return false
		}

		frame, err := handle.Read()
		if ctx.Err() != nil {
			return false
		}

		if err != nil || frame.Empty() {
			if err == nil {
				err = ErrAcquisitionStalled
			}
			failures++
			m.metrics.ReadFailed(src.id)
			m.logger.Debug("Source %s: read failure %d/%d: %v", src.id, failures, m.cfg.MaxReadFailures, err)

			if failures >= m.cfg.MaxReadFailures {
				m.metrics.SourceUp(src.id, false)
				src.update(func(st *model.SourceStatus) { st.LastError = err.Error() })
				return true
			}

			m.setState(src, model.StateBackoff, err.Error())
			if !sleepCtx(ctx, m.cfg.ReadBackoff) {
				return false
			}
			m.setState(src, model.StateReading, "")
			continue
		}

		failures = 0
		m.publish(src, frame, fps)
	}
}

// publish stamps, resizes and stores a frame, then wakes the consumer.
func (m *Manager) publish(src *source, frame *model.Frame, fps *rateMeter) {
	if m.resizer != nil && (frame.Width != m.cfg.FrameWidth || frame.Height != m.cfg.FrameHeight) {
		resized, err := m.resizer.Resize(frame, m.cfg.FrameWidth, m.cfg.FrameHeight)
		if err != nil || resized.Empty() {
			m.logger.Debug("Source %s: resize failed, forwarding original frame: %v", src.id, err)
		} else {
			frame = resized
		}
	}

	now := m.now()
	var seq uint64
	src.update(func(st *model.SourceStatus) {
		st.FramesRead++
		seq = st.FramesRead
		if rate, ok := fps.tick(now); ok {
			st.FPS = rate
			m.metrics.SourceFPS(src.id, rate)
		}
		st.UpdatedAt = now
	})

	frame.SourceID = src.id
	frame.Seq = seq
	frame.CapturedAt = now

	dropped := src.buffer.Publish(frame)
	m.metrics.FrameCaptured(src.id, dropped)
	m.signalReady()
}

func (m *Manager) setState(src *source, state model.SourceState, lastErr string) {
	src.update(func(st *model.SourceStatus) {
		st.State = state
		if lastErr != "" {
			st.LastError = lastErr
		}
		st.UpdatedAt = m.now()
	})
}

// Probe checks that a device origin can deliver frames. Each attempt tries
// every backend and reads up to ProbeFrames frames; one non-empty frame is
// enough.
func (m *Manager) Probe(ctx context.Context, origin model.Origin) error {
	tuning := TuningFor(origin, m.cfg)
	backends := m.opener.Backends(origin)
	var lastErr error

	for attempt := 1; attempt <= m.cfg.ProbeAttempts; attempt++ {
		for _, backend := range backends {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ok, err := m.probeBackend(origin, backend, tuning)
			if ok {
				m.logger.Info("🔍 %s origin %s answered on backend %s (attempt %d)", origin.Kind, origin, backend, attempt)
				return nil
			}
			lastErr = err
		}

		if attempt < m.cfg.ProbeAttempts && !sleepCtx(ctx, m.cfg.ReadBackoff) {
			return ctx.Err()
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no capture backend")
	}
	return fmt.Errorf("%w: %s origin %s after %d attempts: %w",
		ErrSourceUnavailable, origin.Kind, origin, m.cfg.ProbeAttempts, lastErr)
}

func (m *Manager) probeBackend(origin model.Origin, backend string, tuning Tuning) (bool, error) {
	handle, err := m.opener.Open(origin, backend, tuning)
	if err != nil {
		return false, fmt.Errorf("%s: %w", backend, err)
	}
	defer handle.Close()

	for i := 0; i < m.cfg.ProbeFrames; i++ {
		frame, err := handle.Read()
		if err == nil && !frame.Empty() {
			return true, nil
		}
	}
	return false, fmt.Errorf("%s: %w", backend, ErrAcquisitionStalled)
}

// sleepCtx waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// rateMeter measures frames per second over windows of at least one second.
type rateMeter struct {
	start  time.Time
	frames int
}

func newRateMeter(now time.Time) *rateMeter {
	return &rateMeter{start: now}
}

func (r *rateMeter) tick(now time.Time) (float64, bool) {
	r.frames++
	elapsed := now.Sub(r.start)
	if elapsed < time.Second {
		return 0, false
	}
	rate := float64(r.frames) / elapsed.Seconds()
	r.start = now
	r.frames = 0
	return rate, true
}
