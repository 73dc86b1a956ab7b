package handler

import (
	"net/http"
	"strings"
	"time"

	"trafficcounter/internal/logger"
	"trafficcounter/internal/model"
	"trafficcounter/internal/repository"
)

type plateHistory struct {
	Plates        []model.PlateEvent `json:"plates"`
	DistinctToday int64              `json:"distinct_today"`
}

// PlatesHandler serves GET /api/plates: recent plates, optionally for one
// camera.
func PlatesHandler(plates repository.PlateRepository, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		q := r.URL.Query()
		camera := q.Get("camera")
		limit := atoiDefault(q.Get("limit"), 50)

		events, err := plates.History(r.Context(), camera, limit)
		if err != nil {
			log.Error("Error reading plate history: %v", err)
			writeError(w, log, http.StatusInternalServerError, "failed to read plates")
			return
		}

		now := time.Now()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		distinct, err := plates.CountDistinctSince(r.Context(), midnight, camera)
		if err != nil {
			log.Error("Error counting plates: %v", err)
			writeError(w, log, http.StatusInternalServerError, "failed to read plates")
			return
		}

		if events == nil {
			events = []model.PlateEvent{}
		}
		writeJSON(w, log, http.StatusOK, plateHistory{Plates: events, DistinctToday: distinct})
	}
}

// PlateSearchHandler serves GET /api/plates/search?q=&exact=.
func PlateSearchHandler(plates repository.PlateRepository, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		q := r.URL.Query()
		plate := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(q.Get("q")), " ", ""))
		if plate == "" {
			writeError(w, log, http.StatusBadRequest, "q parameter is required")
			return
		}
		exact := q.Get("exact") == "true" || q.Get("exact") == "1"

		events, err := plates.Search(r.Context(), plate, exact, atoiDefault(q.Get("limit"), 100))
		if err != nil {
			log.Error("Error searching plates: %v", err)
			writeError(w, log, http.StatusInternalServerError, "failed to search plates")
			return
		}
		if events == nil {
			events = []model.PlateEvent{}
		}
		writeJSON(w, log, http.StatusOK, events)
	}
}
