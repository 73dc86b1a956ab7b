package handler

import (
	"context"
	"errors"
	"net/http"

	"trafficcounter/internal/dto"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/service"
)

// StatsHandler serves GET /api/stats.
func StatsHandler(p Pipeline, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		stats, err := p.Statistics(r.Context())
		if err != nil {
			log.Error("Error reading statistics: %v", err)
			writeError(w, log, http.StatusInternalServerError, "failed to read statistics")
			return
		}
		writeJSON(w, log, http.StatusOK, stats)
	}
}

// CountsHandler serves GET /api/counts, for one source or all of them.
func CountsHandler(p Pipeline, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		id := r.URL.Query().Get("source")
		if id == "" {
			writeJSON(w, log, http.StatusOK, p.AllCounts())
			return
		}
		counts, ok := p.Counts(id)
		if !ok {
			writeError(w, log, http.StatusNotFound, "unknown source "+id)
			return
		}
		writeJSON(w, log, http.StatusOK, counts)
	}
}

// FrameHandler serves the latest annotated frame of a source as JPEG.
func FrameHandler(p Pipeline, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		id := r.URL.Query().Get("source")
		if id == "" {
			writeError(w, log, http.StatusBadRequest, "source parameter is required")
			return
		}

		data, err := p.FrameJPEG(id)
		switch {
		case errors.Is(err, service.ErrUnknownSource):
			writeError(w, log, http.StatusNotFound, err.Error())
			return
		case errors.Is(err, service.ErrNoFrame):
			w.WriteHeader(http.StatusNoContent)
			return
		case errors.Is(err, service.ErrNoAnnotator):
			writeError(w, log, http.StatusNotImplemented, err.Error())
			return
		case err != nil:
			log.Error("Error rendering frame of %s: %v", id, err)
			writeError(w, log, http.StatusInternalServerError, "failed to render frame")
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	}
}

// StatsMessage builds the payload pushed to websocket viewers.
func StatsMessage(p Pipeline) func(context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		stats, err := p.Statistics(ctx)
		if err != nil {
			return nil, err
		}
		return dto.StatsMessage{
			Type:    "stats",
			Stats:   stats,
			Counts:  p.AllCounts(),
			Sources: p.Statuses(),
		}, nil
	}
}
