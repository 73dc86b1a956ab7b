package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trafficcounter/internal/dto"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/model"
)

// Pipeline is the consumer side the handlers read from and manage sources
// through.
type Pipeline interface {
	Statistics(ctx context.Context) (dto.Statistics, error)
	Statuses() []model.SourceStatus
	AddSource(ctx context.Context, id, origin string, linePosition float64) error
	RemoveSource(ctx context.Context, id string) error
	Counts(id string) (dto.SourceCounts, bool)
	AllCounts() []dto.SourceCounts
	FrameJPEG(id string) ([]byte, error)
}

// Syncer triggers and reports replication.
type Syncer interface {
	SyncOnce(ctx context.Context) (dto.SyncResult, error)
	SyncAll(ctx context.Context) (dto.SyncResult, error)
	Status(ctx context.Context) (dto.SyncStatus, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, log *logger.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Error encoding JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, log *logger.Logger, status int, msg string) {
	writeJSON(w, log, status, errorResponse{Error: msg})
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// dateParam reads a yyyy-mm-dd query parameter, defaulting to today.
func dateParam(r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Now().Format(model.DateLayout), true
	}
	if _, err := time.Parse(model.DateLayout, v); err != nil {
		return "", false
	}
	return v, true
}

// cameraParam splits a comma separated camera list; empty means all.
func cameraParam(r *http.Request) []string {
	raw := r.URL.Query().Get("camera")
	if raw == "" {
		return nil
	}
	var cameras []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cameras = append(cameras, c)
		}
	}
	return cameras
}
