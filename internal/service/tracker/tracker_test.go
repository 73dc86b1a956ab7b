package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficcounter/internal/model"
)

func det(class model.VehicleClass, x, y int) model.Detection {
	return model.Detection{Class: class, Confidence: 0.8, Box: model.BoundingBox{X: x, Y: y, Width: 40, Height: 20}}
}

func TestTrackIDsStayStable(t *testing.T) {
	tr := NewCentroidTracker(30*time.Second, 50)

	first := tr.Update([]model.Detection{det(model.Car, 100, 100), det(model.Car, 400, 100)}, nil)
	require.Len(t, first, 2)
	assert.NotEqual(t, first[0].TrackID, first[1].TrackID)

	second := tr.Update([]model.Detection{det(model.Car, 410, 120), det(model.Car, 105, 130)}, nil)
	require.Len(t, second, 2)
	assert.Equal(t, first[1].TrackID, second[0].TrackID)
	assert.Equal(t, first[0].TrackID, second[1].TrackID)
	assert.Equal(t, 140, second[1].Center.Y)
}

func TestDifferentClassOrFarDetectionStartsNewTrack(t *testing.T) {
	tr := NewCentroidTracker(30*time.Second, 50)

	a := tr.Update([]model.Detection{det(model.Car, 100, 100)}, nil)
	b := tr.Update([]model.Detection{det(model.Truck, 100, 100)}, nil)
	c := tr.Update([]model.Detection{det(model.Car, 300, 300)}, nil)

	assert.NotEqual(t, a[0].TrackID, b[0].TrackID)
	assert.NotEqual(t, a[0].TrackID, c[0].TrackID)
	assert.Equal(t, 3, tr.Active())
}

func TestTracksExpire(t *testing.T) {
	tr := NewCentroidTracker(time.Second, 50)
	clock := time.Now()
	tr.now = func() time.Time { return clock }

	a := tr.Update([]model.Detection{det(model.Bus, 100, 100)}, nil)
	clock = clock.Add(2 * time.Second)
	b := tr.Update([]model.Detection{det(model.Bus, 100, 100)}, nil)

	assert.NotEqual(t, a[0].TrackID, b[0].TrackID)
	assert.Equal(t, 1, tr.Active())
}
