package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLog(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(data)
}

func TestLevelRouting(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	log, err := newLogger(dir, "debug", &console)
	require.NoError(t, err)
	defer log.Close()

	log.Info("camera %s ready", "gate")
	log.Warning("queue %d full", 3)
	log.Component("sync").Error("upload failed: %v", assert.AnError)

	info := readLog(t, dir, InfoFile)
	warn := readLog(t, dir, WarningFile)
	errs := readLog(t, dir, ErrorFile)

	assert.Contains(t, info, "camera gate ready")
	assert.NotContains(t, info, "queue 3 full")
	assert.Contains(t, warn, "queue 3 full")
	assert.Contains(t, errs, "upload failed")
	assert.Contains(t, errs, `"component":"sync"`)
	assert.Contains(t, console.String(), "camera gate ready")
}

func TestLevelFilter(t *testing.T) {
	dir := t.TempDir()
	log, err := newLogger(dir, "warn", &bytes.Buffer{})
	require.NoError(t, err)
	defer log.Close()

	log.Info("hidden")
	log.Debug("hidden too")
	assert.Empty(t, readLog(t, dir, InfoFile))
}

func TestCleanLogs(t *testing.T) {
	dir := t.TempDir()
	log, err := newLogger(dir, "info", &bytes.Buffer{})
	require.NoError(t, err)
	defer log.Close()

	log.Warning("something odd")
	require.NotEmpty(t, readLog(t, dir, WarningFile))

	require.NoError(t, log.CleanLogs(WarningFile))
	assert.Empty(t, readLog(t, dir, WarningFile))
	assert.Error(t, log.CleanLogs("../passwd"))
}

func TestNopLogger(t *testing.T) {
	log := NewNop()
	log.Info("nothing %d", 1)
	assert.NoError(t, log.CleanLogs(InfoFile))
	assert.NoError(t, log.Close())
	assert.Empty(t, log.Dir())
}
