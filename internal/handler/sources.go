package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"trafficcounter/internal/dto"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/service"
	"trafficcounter/internal/service/capture"
)

// SourcesHandler lists (GET), registers (POST) and removes (DELETE ?id=)
// sources.
func SourcesHandler(p Pipeline, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, log, http.StatusOK, p.Statuses())

		case http.MethodPost:
			var req dto.SourceRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, log, http.StatusBadRequest, "invalid JSON body")
				return
			}
			err := p.AddSource(r.Context(), req.ID, req.Origin, req.LinePosition)
			switch {
			case err == nil:
				log.Info("➕ Source %s added via API (%s)", req.ID, req.Origin)
				writeJSON(w, log, http.StatusCreated, map[string]string{"status": "added", "id": req.ID})
			case errors.Is(err, service.ErrInvalidRequest):
				writeError(w, log, http.StatusBadRequest, err.Error())
			case errors.Is(err, capture.ErrSourceExists):
				writeError(w, log, http.StatusConflict, err.Error())
			case errors.Is(err, capture.ErrSourceUnavailable):
				writeError(w, log, http.StatusUnprocessableEntity, err.Error())
			default:
				log.Error("Error adding source %s: %v", req.ID, err)
				writeError(w, log, http.StatusInternalServerError, err.Error())
			}

		case http.MethodDelete:
			id := r.URL.Query().Get("id")
			if id == "" {
				writeError(w, log, http.StatusBadRequest, "id parameter is required")
				return
			}
			err := p.RemoveSource(r.Context(), id)
			switch {
			case err == nil:
				writeJSON(w, log, http.StatusOK, map[string]string{"status": "removed", "id": id})
			case errors.Is(err, capture.ErrSourceNotFound):
				writeError(w, log, http.StatusNotFound, err.Error())
			case errors.Is(err, capture.ErrStopTimeout):
				writeJSON(w, log, http.StatusAccepted, map[string]string{"status": "removed", "id": id, "warning": err.Error()})
			default:
				log.Error("Error removing source %s: %v", id, err)
				writeError(w, log, http.StatusInternalServerError, err.Error())
			}

		default:
			allowMethods(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
		}
	}
}
