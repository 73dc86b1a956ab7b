// Package plates normalizes licence plate reads and suppresses repeats.
package plates

import (
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/patrickmn/go-cache"

	"trafficcounter/internal/model"
)

// Reader reads a plate inside a vehicle box. ok is false when nothing
// legible was found.
type Reader interface {
	ReadPlate(frame *model.Frame, box model.BoundingBox) (text string, confidence float64, ok bool)
}

// NormalizePlate cleans raw OCR text. It keeps letters, digits and single
// spaces, requires 3 to 12 characters, a leading letter and at least one
// digit, and returns the result uppercased without spaces.
func NormalizePlate(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(unicode.ToUpper(r))
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}

	cleaned := strings.Join(strings.Fields(b.String()), " ")
	if len(cleaned) < 3 || len(cleaned) > 12 {
		return "", false
	}
	if !unicode.IsLetter(rune(cleaned[0])) || !strings.ContainsAny(cleaned, "0123456789") {
		return "", false
	}
	return strings.ReplaceAll(cleaned, " ", ""), true
}

// Deduplicator lets a (camera, plate) pair through at most once per window.
// Entries are evicted after the horizon so memory stays bounded.
type Deduplicator struct {
	mu     sync.Mutex
	window time.Duration
	seen   *cache.Cache
	now    func() time.Time
}

func NewDeduplicator(window, horizon time.Duration) *Deduplicator {
	if horizon < window {
		horizon = window
	}
	return &Deduplicator{
		window: window,
		seen:   cache.New(horizon, horizon),
		now:    time.Now,
	}
}

// Allow reports whether the plate should be persisted and, if so, records
// the sighting. Suppressed sightings do not extend the window.
func (d *Deduplicator) Allow(cameraID, plate string) bool {
	key := cameraID + "|" + plate
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if v, found := d.seen.Get(key); found {
		if last, ok := v.(time.Time); ok && now.Sub(last) < d.window {
			return false
		}
	}
	d.seen.Set(key, now, cache.DefaultExpiration)
	return true
}

// Forget drops every entry of a camera.
func (d *Deduplicator) Forget(cameraID string) {
	prefix := cameraID + "|"

	d.mu.Lock()
	defer d.mu.Unlock()
	for key := range d.seen.Items() {
		if strings.HasPrefix(key, prefix) {
			d.seen.Delete(key)
		}
	}
}

// Len returns the number of tracked pairs.
func (d *Deduplicator) Len() int {
	return d.seen.ItemCount()
}
