package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"trafficcounter/internal/config"
	"trafficcounter/internal/handler"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/metrics"
	"trafficcounter/internal/model"
	"trafficcounter/internal/repository/sqlite"
	"trafficcounter/internal/route"
	"trafficcounter/internal/service"
	"trafficcounter/internal/service/ai"
	"trafficcounter/internal/service/capture"
	"trafficcounter/internal/service/capture/gocvsource"
	"trafficcounter/internal/service/remote"
	"trafficcounter/internal/service/storage"
	"trafficcounter/internal/service/syncer"
	"trafficcounter/internal/service/tracker"
	"trafficcounter/internal/service/websocket"
)

const (
	statsPushInterval = time.Second
	shutdownTimeout   = 10 * time.Second
)

// App owns the storage and sync side, shared by every command, and builds
// the capture pipeline on Serve.
type App struct {
	config   *config.Config
	logger   *logger.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	db         *sqlite.DB
	detections *sqlite.DetectionRepository
	summaries  *sqlite.SummaryRepository
	plates     *sqlite.PlateRepository
	settings   *sqlite.SourceRepository

	store  remote.Store
	engine *syncer.Engine
}

// New opens the database and the remote store. A disabled or unconfigured
// remote leaves the engine without a store.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	db, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &App{
		config:     cfg,
		logger:     log,
		registry:   registry,
		metrics:    m,
		db:         db,
		detections: sqlite.NewDetectionRepository(db),
		summaries:  sqlite.NewSummaryRepository(db),
		plates:     sqlite.NewPlateRepository(db),
		settings:   sqlite.NewSourceRepository(db),
	}

	store, err := remote.New(ctx, cfg, log.Component("remote"))
	switch {
	case errors.Is(err, remote.ErrNotConfigured):
		log.Warning("⚠️ Remote sync disabled, records stay local")
	case err != nil:
		db.Close()
		return nil, err
	default:
		a.store = store
	}

	a.engine = syncer.NewEngine(cfg.Sync, a.detections, a.plates, a.summaries, a.store, log, m)
	return a, nil
}

// Engine returns the sync engine.
func (a *App) Engine() *syncer.Engine {
	return a.engine
}

// Close releases the remote store and the database.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.db.Close())
	return errors.Join(errs...)
}

// Serve runs acquisition, the consumer, sync, retention and the HTTP
// server until ctx is done or one of them fails.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.config
	log := a.logger

	detector, closeDetector := a.newDetector()
	defer closeDetector()

	var snapshots *storage.SnapshotService
	if cfg.Snapshots.Enabled {
		snapshots = storage.NewSnapshotService(cfg.Snapshots, log.Component("snapshots"))
	}

	frames := capture.NewManager(cfg.Capture, gocvsource.NewOpener(log.Component("capture")), gocvsource.Resizer{}, log.Component("capture"), a.metrics)
	pipeline := service.NewManager(cfg, service.Deps{
		Frames:   frames,
		Detector: detector,
		NewTracker: func() service.Tracker {
			return tracker.NewCentroidTracker(cfg.Tracker.MaxAge, cfg.Tracker.MaxDistance)
		},
		Annotator:  service.AnnotatorFunc(ai.Annotate),
		Snapshots:  snapshots,
		Detections: a.detections,
		Plates:     a.plates,
		Settings:   a.settings,
		Logger:     log,
		Metrics:    a.metrics,
	})

	hub := websocket.NewHubService(log.Component("hub"), a.metrics)

	router := route.SetupRoutes(cfg, log, route.Deps{
		Pipeline:   pipeline,
		Syncer:     a.engine,
		Detections: a.detections,
		Summaries:  a.summaries,
		Plates:     a.plates,
		Snapshots:  snapshots,
		Hub:        hub,
		Gatherer:   a.registry,
	})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	pipeline.RestoreSources(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return pipeline.Run(gctx) })
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return hub.Publish(gctx, statsPushInterval, handler.StatsMessage(pipeline)) })
	g.Go(func() error { return a.engine.Run(gctx) })
	g.Go(func() error { return a.engine.RunRetention(gctx) })
	if snapshots != nil {
		g.Go(func() error { return snapshots.Run(gctx) })
	}

	g.Go(func() error {
		log.Info("🚀 Traffic counter listening on http://localhost:%d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := pipeline.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("capture shutdown: %w", err))
		}
		log.Info("🛑 Traffic counter stopped")
		return errors.Join(errs...)
	})

	return g.Wait()
}

// newDetector loads the DNN model. Without a model the pipeline still runs
// and counts nothing.
func (a *App) newDetector() (service.Detector, func()) {
	ds, err := ai.NewDetectorService(a.config.Detection, a.logger.Component("detector"))
	if err != nil {
		a.logger.Warning("⚠️ Detector unavailable, vehicles will not be counted: %v", err)
		return noDetector{}, func() {}
	}
	return ds, func() {
		if err := ds.Close(); err != nil {
			a.logger.Error("Error closing detector: %v", err)
		}
	}
}

type noDetector struct{}

func (noDetector) Detect(*model.Frame) ([]model.Detection, error) { return nil, nil }

// Probe tries origin on every backend without registering it.
func Probe(ctx context.Context, cfg *config.Config, log *logger.Logger, rawOrigin string) error {
	origin, err := model.ParseOrigin(rawOrigin)
	if err != nil {
		return err
	}
	frames := capture.NewManager(cfg.Capture, gocvsource.NewOpener(log), gocvsource.Resizer{}, log, nil)
	return frames.Probe(ctx, origin)
}
