// Package tracker assigns stable ids to detections across frames by
// nearest-centroid matching.
package tracker

import (
	"image"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"trafficcounter/internal/model"
)

type track struct {
	id       string
	class    model.VehicleClass
	box      model.BoundingBox
	center   image.Point
	lastSeen time.Time
}

// CentroidTracker matches each detection to the closest live track of the
// same class within MaxDistance pixels. Tracks unseen for MaxAge expire.
// Ids are never reused.
type CentroidTracker struct {
	mu          sync.Mutex
	maxAge      time.Duration
	maxDistance float64
	nextID      uint64
	tracks      map[string]*track
	now         func() time.Time
}

func NewCentroidTracker(maxAge time.Duration, maxDistance float64) *CentroidTracker {
	return &CentroidTracker{
		maxAge:      maxAge,
		maxDistance: maxDistance,
		tracks:      make(map[string]*track),
		now:         time.Now,
	}
}

type candidate struct {
	trackID string
	det     int
	dist    float64
}

// Update associates detections with tracks and returns the objects seen on
// this frame.
func (t *CentroidTracker) Update(detections []model.Detection, _ *model.Frame) []model.TrackedObject {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.expire(now)

	var candidates []candidate
	for i, d := range detections {
		c := d.Box.Center()
		for id, tr := range t.tracks {
			if tr.class != d.Class {
				continue
			}
			dist := distance(tr.center, c)
			if dist <= t.maxDistance {
				candidates = append(candidates, candidate{trackID: id, det: i, dist: dist})
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].trackID < candidates[j].trackID
	})

	assigned := make([]string, len(detections))
	usedTracks := make(map[string]bool)
	for _, c := range candidates {
		if assigned[c.det] != "" || usedTracks[c.trackID] {
			continue
		}
		assigned[c.det] = c.trackID
		usedTracks[c.trackID] = true
	}

	objects := make([]model.TrackedObject, 0, len(detections))
	for i, d := range detections {
		if d.Box.Width <= 0 || d.Box.Height <= 0 {
			continue
		}

		id := assigned[i]
		if id == "" {
			t.nextID++
			id = strconv.FormatUint(t.nextID, 10)
			t.tracks[id] = &track{id: id, class: d.Class}
		}

		tr := t.tracks[id]
		tr.box = d.Box
		tr.center = d.Box.Center()
		tr.lastSeen = now

		objects = append(objects, model.TrackedObject{
			TrackID:    id,
			Class:      d.Class,
			Box:        d.Box,
			Center:     tr.center,
			Confidence: d.Confidence,
		})
	}
	return objects
}

func (t *CentroidTracker) expire(now time.Time) {
	for id, tr := range t.tracks {
		if now.Sub(tr.lastSeen) > t.maxAge {
			delete(t.tracks, id)
		}
	}
}

// Active returns the number of live tracks.
func (t *CentroidTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}

func distance(a, b image.Point) float64 {
	return math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y))
}
