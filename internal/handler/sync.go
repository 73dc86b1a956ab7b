package handler

import (
	"errors"
	"net/http"

	"trafficcounter/internal/logger"
	"trafficcounter/internal/service/remote"
	"trafficcounter/internal/service/syncer"
)

// SyncHandler runs a sync pass on POST /api/sync; ?all=true drains the
// whole backlog.
func SyncHandler(s Syncer, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodPost) {
			return
		}

		run := s.SyncOnce
		if all := r.URL.Query().Get("all"); all == "true" || all == "1" {
			run = s.SyncAll
		}

		res, err := run(r.Context())
		switch {
		case err == nil:
			writeJSON(w, log, http.StatusOK, res)
		case errors.Is(err, remote.ErrNotConfigured):
			writeError(w, log, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, syncer.ErrSyncInProgress):
			writeError(w, log, http.StatusConflict, err.Error())
		default:
			writeJSON(w, log, http.StatusBadGateway, res)
		}
	}
}

// SyncStatusHandler serves GET /api/sync/status.
func SyncStatusHandler(s Syncer, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		status, err := s.Status(r.Context())
		if err != nil {
			log.Error("Error reading sync status: %v", err)
			writeError(w, log, http.StatusInternalServerError, "failed to read sync status")
			return
		}
		writeJSON(w, log, http.StatusOK, status)
	}
}
