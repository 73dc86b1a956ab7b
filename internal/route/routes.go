package route

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trafficcounter/internal/config"
	"trafficcounter/internal/handler"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/middleware"
	"trafficcounter/internal/repository"
	"trafficcounter/internal/service/storage"
	"trafficcounter/internal/service/websocket"
)

// Deps carries everything the HTTP surface reads from. Snapshots and Hub
// are optional.
type Deps struct {
	Pipeline   handler.Pipeline
	Syncer     handler.Syncer
	Detections repository.DetectionRepository
	Summaries  repository.SummaryRepository
	Plates     repository.PlateRepository
	Snapshots  *storage.SnapshotService
	Hub        *websocket.HubService
	Gatherer   prometheus.Gatherer
	StaticDir  string
}

// dynamicHTMLHandler serves /path as {static}/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(staticDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if path == "/" {
			path = "/index"
		}

		filePath := filepath.Join(staticDir, filepath.Clean("/"+path)+".html")

		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}

		http.ServeFile(w, r, filePath)
	}
}

// SetupRoutes registers HTTP routes, static file serving, API endpoints,
// and wraps the mux with the authentication middleware.
func SetupRoutes(cfg *config.Config, log *logger.Logger, deps Deps) http.Handler {
	mux := http.NewServeMux()
	log = log.Component("http")

	staticDir := deps.StaticDir
	if staticDir == "" {
		staticDir = "static"
	}

	// Static files
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))

	mux.HandleFunc("/healthz", handler.HealthHandler(log))
	if deps.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// Pipeline
	mux.HandleFunc("/api/stats", handler.StatsHandler(deps.Pipeline, log))
	mux.HandleFunc("/api/sources", handler.SourcesHandler(deps.Pipeline, log))
	mux.HandleFunc("/api/counts", handler.CountsHandler(deps.Pipeline, log))
	mux.HandleFunc("/api/frame", handler.FrameHandler(deps.Pipeline, log))
	if deps.Hub != nil {
		mux.HandleFunc("/api/view", handler.ViewWebsocketHandler(deps.Hub, log))
	}

	// Reports
	mux.HandleFunc("/api/summary", handler.SummaryHandler(deps.Summaries, log))
	mux.HandleFunc("/api/summary/range", handler.SummaryRangeHandler(deps.Summaries, log))
	mux.HandleFunc("/api/hourly", handler.HourlyHandler(deps.Detections, log))
	mux.HandleFunc("/api/export", handler.ExportHandler(deps.Detections, log))
	mux.HandleFunc("/api/plates", handler.PlatesHandler(deps.Plates, log))
	mux.HandleFunc("/api/plates/search", handler.PlateSearchHandler(deps.Plates, log))

	// Sync
	mux.HandleFunc("/api/sync", handler.SyncHandler(deps.Syncer, log))
	mux.HandleFunc("/api/sync/status", handler.SyncStatusHandler(deps.Syncer, log))

	// Snapshots
	if deps.Snapshots != nil {
		mux.HandleFunc("/api/snapshots", handler.SnapshotsHandler(deps.Snapshots, log))
		mux.HandleFunc("/api/snapshots/file", handler.SnapshotFileHandler(deps.Snapshots, log))
		mux.HandleFunc("/api/snapshots/all", handler.ClearSnapshotsHandler(deps.Snapshots, log))
	}

	// Log endpoints
	mux.HandleFunc("/logs/info", handler.ShowLogsHandler(log, logger.InfoFile))
	mux.HandleFunc("/logs/warning", handler.ShowLogsHandler(log, logger.WarningFile))
	mux.HandleFunc("/logs/error", handler.ShowLogsHandler(log, logger.ErrorFile))

	mux.HandleFunc("/logs/info/clear", handler.ClearLogsHandler(log, logger.InfoFile))
	mux.HandleFunc("/logs/warning/clear", handler.ClearLogsHandler(log, logger.WarningFile))
	mux.HandleFunc("/logs/error/clear", handler.ClearLogsHandler(log, logger.ErrorFile))

	// Auth endpoints
	mux.HandleFunc("/auth/login", handler.LoginHandler(cfg, log))
	mux.HandleFunc("/auth/logout", handler.LogoutHandler)

	// Automatic HTML handler mapping for example: /settings -> /static/settings.html
	mux.HandleFunc("/", dynamicHTMLHandler(staticDir))

	// Apply middleware
	return middleware.AuthMiddleware(cfg.Password, mux)
}
