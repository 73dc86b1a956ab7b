package syncer

import (
	"context"
	"time"

	"trafficcounter/internal/dto"
	"trafficcounter/internal/service/remote"
)

// Cleanup deletes synced local rows older than LocalRetention and, when the
// store supports it, remote rows older than RemoteRetention. Unsynced rows
// are never deleted.
func (e *Engine) Cleanup(ctx context.Context) (dto.RetentionResult, error) {
	var res dto.RetentionResult
	now := e.now()

	if e.cfg.LocalRetention > 0 {
		cutoff := now.Add(-e.cfg.LocalRetention)

		n, err := e.detections.DeleteSyncedBefore(ctx, cutoff)
		if err != nil {
			return res, err
		}
		res.DetectionsDeleted = n
		e.metrics.RetentionDeleted("detections", n)

		if e.plates != nil {
			n, err := e.plates.DeleteSyncedBefore(ctx, cutoff)
			if err != nil {
				return res, err
			}
			res.PlatesDeleted = n
			e.metrics.RetentionDeleted("plates", n)
		}
	}

	if pruner, ok := e.store.(remote.Pruner); ok && e.cfg.RemoteRetention > 0 {
		n, err := pruner.Prune(ctx, now.Add(-e.cfg.RemoteRetention))
		if err != nil {
			e.log.Warning("⚠️ Remote prune failed: %v", err)
		} else {
			res.RemotePruned = true
			e.metrics.RetentionDeleted("remote", n)
		}
	}

	if res.DetectionsDeleted > 0 || res.PlatesDeleted > 0 {
		e.log.Info("🧹 Retention removed %d detections and %d plates", res.DetectionsDeleted, res.PlatesDeleted)
	}
	return res, nil
}

// RunRetention calls Cleanup every RetentionInterval until ctx is done.
func (e *Engine) RunRetention(ctx context.Context) error {
	if e.cfg.RetentionInterval <= 0 {
		return nil
	}

	ticker := time.NewTicker(e.cfg.RetentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := e.Cleanup(ctx); err != nil && ctx.Err() == nil {
				e.log.Error("❌ Retention failed: %v", err)
			}
		}
	}
}
