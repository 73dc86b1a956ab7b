package handler

import (
	"net/http"

	"trafficcounter/internal/dto"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/service/storage"
)

// SnapshotsHandler lists stored crossing snapshots (GET) or deletes one
// (DELETE ?name=).
func SnapshotsHandler(snaps *storage.SnapshotService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			listSnapshots(w, r, snaps, log)
		case http.MethodDelete:
			name := r.URL.Query().Get("name")
			if name == "" {
				writeError(w, log, http.StatusBadRequest, "name parameter is required")
				return
			}
			if err := snaps.Delete(name); err != nil {
				writeError(w, log, http.StatusBadRequest, err.Error())
				return
			}
			log.Info("Deleted snapshot: %s", name)
			writeJSON(w, log, http.StatusOK, map[string]string{"status": "deleted", "name": name})
		default:
			allowMethods(w, r, http.MethodGet, http.MethodDelete)
		}
	}
}

func listSnapshots(w http.ResponseWriter, r *http.Request, snaps *storage.SnapshotService, log *logger.Logger) {
	q := r.URL.Query()
	page := atoiDefault(q.Get("page"), 1)
	limit := atoiDefault(q.Get("limit"), 24)

	infos, totalSize, err := snaps.List(q.Get("camera"))
	if err != nil {
		log.Error("Error listing snapshots: %v", err)
		writeError(w, log, http.StatusInternalServerError, "failed to list snapshots")
		return
	}

	total := len(infos)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	pageItems := infos[start:end]
	if pageItems == nil {
		pageItems = []dto.SnapshotInfo{}
	}

	writeJSON(w, log, http.StatusOK, dto.SnapshotPage{
		Snapshots:   pageItems,
		Dir:         snaps.Dir(),
		TotalSize:   totalSize,
		Length:      total,
		TotalPages:  (total + limit - 1) / limit,
		CurrentPage: page,
		Limit:       limit,
	})
}

// SnapshotFileHandler serves one snapshot named by the "name" parameter.
func SnapshotFileHandler(snaps *storage.SnapshotService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		path, err := snaps.Path(r.URL.Query().Get("name"))
		if err != nil {
			writeError(w, log, http.StatusBadRequest, err.Error())
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		http.ServeFile(w, r, path)
	}
}

// ClearSnapshotsHandler deletes every stored snapshot.
func ClearSnapshotsHandler(snaps *storage.SnapshotService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodDelete, http.MethodPost) {
			return
		}
		n, err := snaps.Clear()
		if err != nil {
			log.Error("Error clearing snapshots: %v", err)
			writeError(w, log, http.StatusInternalServerError, "failed to clear snapshots")
			return
		}
		log.Info("🧹 %d snapshots cleared from %s", n, snaps.Dir())
		w.WriteHeader(http.StatusNoContent)
	}
}
