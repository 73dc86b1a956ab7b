package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"trafficcounter/internal/config"
	"trafficcounter/internal/dto"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/model"
)

// TimestampLayout prefixes every snapshot file name.
const TimestampLayout = "2006-01-02_15-04-05.000"

const snapshotExt = ".jpg"

// Snapshot is an annotated frame of a counted crossing.
type Snapshot struct {
	Timestamp time.Time
	Camera    string
	Class     model.VehicleClass
	Data      []byte
}

// FileName is "{timestamp}_{camera}_{class}.jpg".
func (s Snapshot) FileName() string {
	return fmt.Sprintf("%s_%s_%s%s", s.Timestamp.Format(TimestampLayout), sanitize(s.Camera), s.Class, snapshotExt)
}

// SnapshotService buffers snapshots in memory and periodically flushes them
// to disk.
type SnapshotService struct {
	dir         string
	limit       int
	interval    time.Duration
	snapshots   []Snapshot
	bufferCount map[string]int
	mu          sync.Mutex
	logger      *logger.Logger
}

// NewSnapshotService creates a SnapshotService writing to cfg.Dir.
func NewSnapshotService(cfg config.SnapshotConfig, log *logger.Logger) *SnapshotService {
	return &SnapshotService{
		dir:         cfg.Dir,
		limit:       cfg.PerCameraLimit,
		interval:    cfg.FlushInterval,
		bufferCount: make(map[string]int),
		logger:      log,
	}
}

// Dir returns the snapshot directory.
func (s *SnapshotService) Dir() string {
	return s.dir
}

// Run flushes every interval until ctx is done, then flushes once more.
func (s *SnapshotService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Flush()
			return nil
		case <-ticker.C:
			s.Flush()
		}
	}
}

// Add buffers a snapshot. It returns false once the camera reached its
// limit for the current flush period.
func (s *SnapshotService) Add(snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bufferCount[snap.Camera] >= s.limit {
		return false
	}
	s.snapshots = append(s.snapshots, snap)
	s.bufferCount[snap.Camera]++
	return true
}

// Pending returns the number of buffered snapshots.
func (s *SnapshotService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

// Flush writes buffered snapshots to disk and resets the per-camera counters.
func (s *SnapshotService) Flush() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.snapshots) == 0 {
		return 0
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.logger.Error("Error creating directory: %v", err)
		return 0
	}

	saved := 0
	for _, snap := range s.snapshots {
		name := snap.FileName()
		if err := os.WriteFile(filepath.Join(s.dir, name), snap.Data, 0o644); err != nil {
			s.logger.Error("Error saving snapshot %s: %v", name, err)
			continue
		}
		saved++
	}

	s.logger.Info("📸 Flushed %d snapshots to disk", saved)
	s.snapshots = s.snapshots[:0]
	s.bufferCount = make(map[string]int)
	return saved
}

// List returns stored snapshots newest first, optionally filtered by
// camera, plus the total size of the directory.
func (s *SnapshotService) List(camera string) ([]dto.SnapshotInfo, int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	var (
		infos []dto.SnapshotInfo
		total int64
	)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, ok := ParseFileName(entry.Name())
		if !ok {
			continue
		}
		if fi, err := entry.Info(); err == nil {
			info.Size = fi.Size()
		}
		total += info.Size
		if camera != "" && info.Camera != sanitize(camera) {
			continue
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name > infos[j].Name })
	return infos, total, nil
}

// Path resolves a snapshot name inside the directory.
func (s *SnapshotService) Path(name string) (string, error) {
	if _, ok := ParseFileName(name); !ok || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid snapshot name %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

// Delete removes one snapshot file.
func (s *SnapshotService) Delete(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}

// Clear removes every stored snapshot and returns how many were deleted.
func (s *SnapshotService) Clear() (int, error) {
	infos, _, err := s.List("")
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, info := range infos {
		if err := os.Remove(filepath.Join(s.dir, info.Name)); err != nil {
			s.logger.Error("Error deleting file %s: %v", info.Name, err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// ParseFileName reverses Snapshot.FileName.
func ParseFileName(name string) (dto.SnapshotInfo, bool) {
	base, ok := strings.CutSuffix(name, snapshotExt)
	if !ok || len(base) < len(TimestampLayout)+4 || base[len(TimestampLayout)] != '_' {
		return dto.SnapshotInfo{}, false
	}

	ts, err := time.ParseInLocation(TimestampLayout, base[:len(TimestampLayout)], time.Local)
	if err != nil {
		return dto.SnapshotInfo{}, false
	}

	rest := base[len(TimestampLayout)+1:]
	i := strings.LastIndexByte(rest, '_')
	if i <= 0 || i == len(rest)-1 {
		return dto.SnapshotInfo{}, false
	}

	return dto.SnapshotInfo{
		Name:      name,
		Camera:    rest[:i],
		Class:     rest[i+1:],
		Timestamp: ts,
	}, true
}

func sanitize(camera string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ', '.':
			return '-'
		}
		return r
	}, camera)
}
