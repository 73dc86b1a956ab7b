package route

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficcounter/internal/config"
	"trafficcounter/internal/dto"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/metrics"
	"trafficcounter/internal/middleware"
	"trafficcounter/internal/model"
	"trafficcounter/internal/repository/sqlite"
)

type stubPipeline struct{}

func (stubPipeline) Statistics(context.Context) (dto.Statistics, error) {
	return dto.Statistics{TotalDetections: 1}, nil
}
func (stubPipeline) Statuses() []model.SourceStatus { return nil }
func (stubPipeline) AddSource(context.Context, string, string, float64) error { return nil }
func (stubPipeline) RemoveSource(context.Context, string) error { return nil }
func (stubPipeline) Counts(string) (dto.SourceCounts, bool) { return dto.SourceCounts{}, false }
func (stubPipeline) AllCounts() []dto.SourceCounts { return nil }
func (stubPipeline) FrameJPEG(string) ([]byte, error) { return nil, nil }

func newRouter(t *testing.T, password string) http.Handler {
	t.Helper()

	db, err := sqlite.New(filepath.Join(t.TempDir(), "routes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<h1>traffic</h1>"), 0o644))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Crossing("north", "car", "down")

	return SetupRoutes(&config.Config{Password: password}, logger.NewNop(), Deps{
		Pipeline:   stubPipeline{},
		Detections: sqlite.NewDetectionRepository(db),
		Summaries:  sqlite.NewSummaryRepository(db),
		Plates:     sqlite.NewPlateRepository(db),
		Gatherer:   reg,
		StaticDir:  static,
	})
}

func get(h http.Handler, path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes_Open(t *testing.T) {
	h := newRouter(t, "")

	assert.Equal(t, http.StatusOK, get(h, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, get(h, "/api/stats", nil).Code)
	assert.Equal(t, http.StatusOK, get(h, "/api/summary/range?start=2024-05-01&end=2024-05-02", nil).Code)

	rec := get(h, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "traffic_line_crossings_total")

	rec = get(h, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "traffic")
	assert.Equal(t, http.StatusNotFound, get(h, "/settings", nil).Code)
}

func TestRoutes_SnapshotsDisabled(t *testing.T) {
	h := newRouter(t, "")
	assert.Equal(t, http.StatusNotFound, get(h, "/api/snapshots", nil).Code)
}

func TestRoutes_Protected(t *testing.T) {
	h := newRouter(t, "secret")

	assert.Equal(t, http.StatusUnauthorized, get(h, "/api/stats", nil).Code)
	assert.Equal(t, http.StatusOK, get(h, "/healthz", nil).Code)

	session := &http.Cookie{Name: middleware.CookieName, Value: middleware.SessionToken("secret")}
	assert.Equal(t, http.StatusOK, get(h, "/api/stats", session).Code)
}
