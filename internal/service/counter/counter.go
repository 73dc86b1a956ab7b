// Package counter counts tracked vehicles crossing a horizontal line.
//
// A crossing is detected between two consecutive samples of the same track,
// so an object that jumps over the line between samples while changing
// sides still counts, but one whose only samples lie on the same side does
// not. Each track id counts at most once for the lifetime of the counter,
// even if the tracker later reuses it.
package counter

import (
	"sync"

	"trafficcounter/internal/model"
)

// Direction of a crossing in image coordinates.
type Direction string

const (
	Down Direction = "down"
	Up   Direction = "up"
)

// DefaultStaleAfter is the number of updates after which an unseen track is
// forgotten.
const DefaultStaleAfter = 900

// Crossing is one counted line crossing.
type Crossing struct {
	TrackID    string
	Class      model.VehicleClass
	Direction  Direction
	Confidence float64
}

type trackState struct {
	lastY    int
	lastSeen uint64
}

// LineCounter holds the counting state of one source.
type LineCounter struct {
	mu         sync.Mutex
	position   float64
	lineY      int
	resolved   bool
	tracks     map[string]*trackState
	counted    map[string]struct{}
	totals     model.Counts
	updates    uint64
	staleAfter uint64
}

// New creates a counter whose line sits at position (0..1) of the frame
// height. The pixel row is fixed on the first update.
func New(position float64) *LineCounter {
	return &LineCounter{
		position:   position,
		tracks:     make(map[string]*trackState),
		counted:    make(map[string]struct{}),
		staleAfter: DefaultStaleAfter,
	}
}

// Update feeds the tracked objects of one frame and returns the crossings
// counted on it.
func (c *LineCounter) Update(objects []model.TrackedObject, frameHeight int) []Crossing {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.resolved && frameHeight > 0 {
		c.lineY = int(float64(frameHeight) * c.position)
		c.resolved = true
	}
	c.updates++

	var crossings []Crossing
	for _, obj := range objects {
		if obj.TrackID == "" || !obj.Class.IsVehicle() {
			continue
		}

		if _, done := c.counted[obj.TrackID]; done {
			continue
		}

		st, seen := c.tracks[obj.TrackID]
		if !seen {
			c.tracks[obj.TrackID] = &trackState{lastY: obj.Center.Y, lastSeen: c.updates}
			continue
		}
		st.lastSeen = c.updates

		prevY, curY := st.lastY, obj.Center.Y
		st.lastY = curY
		if !c.resolved {
			continue
		}

		var dir Direction
		switch {
		case prevY < c.lineY && curY >= c.lineY:
			dir = Down
		case prevY > c.lineY && curY <= c.lineY:
			dir = Up
		default:
			continue
		}

		c.counted[obj.TrackID] = struct{}{}
		delete(c.tracks, obj.TrackID)
		c.totals.Add(obj.Class, 1)
		crossings = append(crossings, Crossing{
			TrackID:    obj.TrackID,
			Class:      obj.Class,
			Direction:  dir,
			Confidence: obj.Confidence,
		})
	}

	c.prune()
	return crossings
}

// prune forgets the positions of uncounted tracks unseen for staleAfter
// updates. Counted ids are never forgotten.
func (c *LineCounter) prune() {
	if c.updates%64 != 0 {
		return
	}
	for id, st := range c.tracks {
		if c.updates-st.lastSeen > c.staleAfter {
			delete(c.tracks, id)
		}
	}
}

// Counts returns a copy of the per-class totals.
func (c *LineCounter) Counts() model.Counts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals
}

// LineY returns the line row and whether it has been resolved yet.
func (c *LineCounter) LineY() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lineY, c.resolved
}

// Position returns the normalized line position.
func (c *LineCounter) Position() float64 {
	return c.position
}
