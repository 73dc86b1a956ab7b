package counter

import (
	"fmt"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficcounter/internal/model"
)

func obj(id string, class model.VehicleClass, y int) model.TrackedObject {
	return model.TrackedObject{TrackID: id, Class: class, Center: image.Pt(100, y), Confidence: 0.9}
}

func TestLineResolvedFromFirstFrame(t *testing.T) {
	c := New(0.6)
	_, ok := c.LineY()
	assert.False(t, ok)

	c.Update(nil, 300)
	y, ok := c.LineY()
	require.True(t, ok)
	assert.Equal(t, 180, y)

	c.Update(nil, 720)
	y, _ = c.LineY()
	assert.Equal(t, 180, y)
}

func TestDownCrossingCountsOnce(t *testing.T) {
	c := New(0.6) // line at 180 for a 300px frame

	assert.Empty(t, c.Update([]model.TrackedObject{obj("T", model.Car, 120)}, 300))

	crossings := c.Update([]model.TrackedObject{obj("T", model.Car, 205)}, 300)
	require.Len(t, crossings, 1)
	assert.Equal(t, Down, crossings[0].Direction)
	assert.Equal(t, "T", crossings[0].TrackID)
	assert.Equal(t, 1, c.Counts().Cars)

	assert.Empty(t, c.Update([]model.TrackedObject{obj("T", model.Car, 120)}, 300))
	assert.Empty(t, c.Update([]model.TrackedObject{obj("T", model.Car, 205)}, 300))
	assert.Equal(t, 1, c.Counts().Cars)
}

func TestUpCrossingAndBoundary(t *testing.T) {
	c := New(0.5) // line at 100 for a 200px frame

	c.Update([]model.TrackedObject{obj("A", model.Bus, 150), obj("B", model.Truck, 99)}, 200)
	crossings := c.Update([]model.TrackedObject{obj("A", model.Bus, 100), obj("B", model.Truck, 100)}, 200)

	require.Len(t, crossings, 2)
	assert.Equal(t, Up, crossings[0].Direction)
	assert.Equal(t, Down, crossings[1].Direction)
	assert.Equal(t, model.Counts{Buses: 1, Trucks: 1}, c.Counts())
}

func TestStartingOnLineDoesNotCount(t *testing.T) {
	c := New(0.5)
	c.Update([]model.TrackedObject{obj("A", model.Car, 100)}, 200)
	assert.Empty(t, c.Update([]model.TrackedObject{obj("A", model.Car, 140)}, 200))
	assert.Empty(t, c.Update([]model.TrackedObject{obj("A", model.Car, 160)}, 200))
	assert.Equal(t, 0, c.Counts().Total())
}

func TestFirstAppearanceBelowLineNeverCounts(t *testing.T) {
	c := New(0.5)
	assert.Empty(t, c.Update([]model.TrackedObject{obj("late", model.Motorcycle, 190)}, 200))
	assert.Equal(t, 0, c.Counts().Total())
}

func TestIgnoresNonVehiclesAndMissingIDs(t *testing.T) {
	c := New(0.5)
	person := model.TrackedObject{TrackID: "p", Class: "person", Center: image.Pt(0, 50)}
	anon := obj("", model.Car, 50)

	c.Update([]model.TrackedObject{person, anon}, 200)
	person.Center.Y, anon.Center.Y = 150, 150
	assert.Empty(t, c.Update([]model.TrackedObject{person, anon}, 200))
}

func TestCountsAreACopy(t *testing.T) {
	c := New(0.5)
	counts := c.Counts()
	counts.Cars = 42
	assert.Equal(t, 0, c.Counts().Cars)
}

func TestStaleTracksArePruned(t *testing.T) {
	c := New(0.5)
	c.staleAfter = 10

	c.Update([]model.TrackedObject{obj("old", model.Car, 10)}, 200)
	for i := 0; i < 128; i++ {
		c.Update([]model.TrackedObject{obj(fmt.Sprintf("n%d", i), model.Car, 10)}, 200)
	}

	c.mu.Lock()
	_, kept := c.tracks["old"]
	size := len(c.tracks)
	c.mu.Unlock()
	assert.False(t, kept)
	assert.Less(t, size, 128)
}

func TestCountedTrackStaysCountedAfterGoingStale(t *testing.T) {
	c := New(0.6) // line at 180 for a 300px frame
	c.staleAfter = 10

	c.Update([]model.TrackedObject{obj("7", model.Car, 120)}, 300)
	require.Len(t, c.Update([]model.TrackedObject{obj("7", model.Car, 205)}, 300), 1)

	for i := 0; i < 200; i++ {
		c.Update(nil, 300)
	}

	assert.Empty(t, c.Update([]model.TrackedObject{obj("7", model.Car, 120)}, 300))
	assert.Empty(t, c.Update([]model.TrackedObject{obj("7", model.Car, 205)}, 300))
	assert.Equal(t, 1, c.Counts().Cars)

	c.mu.Lock()
	_, counted := c.counted["7"]
	_, tracked := c.tracks["7"]
	c.mu.Unlock()
	assert.True(t, counted)
	assert.False(t, tracked)
}
