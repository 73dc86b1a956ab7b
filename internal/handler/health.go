package handler

import (
	"net/http"

	"trafficcounter/internal/logger"
)

// HealthHandler answers liveness probes.
func HealthHandler(log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, log, http.StatusOK, map[string]string{"status": "ok"})
	}
}
