package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trafficcounter/internal/config"
)

// Log file names, one per level.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Logger provides leveled logging (debug/info/warning/error) to per-level
// files and the console.
type Logger struct {
	zl    zerolog.Logger
	files *fileSet
}

// fileSet is shared between a logger and its component children.
type fileSet struct {
	dir   string
	mu    sync.Mutex
	byLvl map[string]*os.File
}

// NewLogger creates a Logger and ensures the log directory exists.
func NewLogger(cfg *config.Config) (*Logger, error) {
	return newLogger(cfg.Log.Dir, cfg.Log.Level, os.Stdout)
}

func newLogger(dir, level string, console io.Writer) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	files := &fileSet{dir: dir, byLvl: make(map[string]*os.File, 3)}
	for _, name := range []string{InfoFile, WarningFile, ErrorFile} {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			files.close()
			return nil, fmt.Errorf("failed to open log file %s: %w", name, err)
		}
		files.byLvl[name] = f
	}

	out := zerolog.ConsoleWriter{Out: console, TimeFormat: time.DateTime}
	zl := zerolog.New(zerolog.MultiLevelWriter(out, files)).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	return &Logger{zl: zl, files: files}, nil
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Write satisfies io.Writer; entries without a level go to the info file.
func (fs *fileSet) Write(p []byte) (int, error) {
	return fs.WriteLevel(zerolog.InfoLevel, p)
}

// WriteLevel routes an entry to the file of its level.
func (fs *fileSet) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	name := InfoFile
	switch {
	case level >= zerolog.ErrorLevel:
		name = ErrorFile
	case level == zerolog.WarnLevel:
		name = WarningFile
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.byLvl[name]
	if !ok {
		return len(p), nil
	}
	return f.Write(p)
}

func (fs *fileSet) close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var firstErr error
	for name, f := range fs.byLvl {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(fs.byLvl, name)
	}
	return firstErr
}

// Component returns a child logger tagging every entry with name.
func (l *Logger) Component(name string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", name).Logger(), files: l.files}
}

// Zerolog exposes the underlying logger for structured fields.
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.zl
}

// Debug writes a formatted debug-level log entry.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.zl.Debug().Caller(1).Msgf(format, v...)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.zl.Info().Caller(1).Msgf(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.zl.Warn().Caller(1).Msgf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.zl.Error().Caller(1).Msgf(format, v...)
}

// Dir returns the directory holding the level files.
func (l *Logger) Dir() string {
	if l.files == nil {
		return ""
	}
	return l.files.dir
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) error {
	if l.files == nil {
		return nil
	}
	switch fileName {
	case InfoFile, WarningFile, ErrorFile:
	default:
		return fmt.Errorf("unknown log file %q", fileName)
	}

	l.files.mu.Lock()
	err := os.Truncate(filepath.Join(l.files.dir, fileName), 0)
	l.files.mu.Unlock()
	if err != nil {
		l.Error("Error clearing %s: %v", fileName, err)
		return err
	}

	l.Info("🧹 %s has been cleared", fileName)
	return nil
}

// Close releases the log files.
func (l *Logger) Close() error {
	if l.files == nil {
		return nil
	}
	return l.files.close()
}
