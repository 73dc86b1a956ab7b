package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every tunable of the counter. Values come from defaults,
// an optional YAML file and environment variables, in increasing priority.
type Config struct {
	Port      int             `mapstructure:"port" yaml:"port"`
	Password  string          `mapstructure:"password" yaml:"password"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Sources   []SourceConfig  `mapstructure:"sources" yaml:"sources"`
	Capture   CaptureConfig   `mapstructure:"capture" yaml:"capture"`
	Detection DetectionConfig `mapstructure:"detection" yaml:"detection"`
	Counter   CounterConfig   `mapstructure:"counter" yaml:"counter"`
	Tracker   TrackerConfig   `mapstructure:"tracker" yaml:"tracker"`
	Plates    PlatesConfig    `mapstructure:"plates" yaml:"plates"`
	Snapshots SnapshotConfig  `mapstructure:"snapshots" yaml:"snapshots"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync"`
	Remote    RemoteConfig    `mapstructure:"remote" yaml:"remote"`
}

type LogConfig struct {
	Dir   string `mapstructure:"dir" yaml:"dir"`
	Level string `mapstructure:"level" yaml:"level"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// SourceConfig is a source registered at startup.
type SourceConfig struct {
	ID           string  `mapstructure:"id" yaml:"id"`
	Origin       string  `mapstructure:"origin" yaml:"origin"`
	LinePosition float64 `mapstructure:"line_position" yaml:"line_position,omitempty"`
}

// CaptureConfig tunes the per-source acquisition loops.
type CaptureConfig struct {
	FrameWidth      int           `mapstructure:"frame_width" yaml:"frame_width"`
	FrameHeight     int           `mapstructure:"frame_height" yaml:"frame_height"`
	TargetFPS       int           `mapstructure:"target_fps" yaml:"target_fps"`
	ProbeAttempts   int           `mapstructure:"probe_attempts" yaml:"probe_attempts"`
	ProbeFrames     int           `mapstructure:"probe_frames" yaml:"probe_frames"`
	MaxOpenRetries  int           `mapstructure:"max_open_retries" yaml:"max_open_retries"`
	MaxReadFailures int           `mapstructure:"max_read_failures" yaml:"max_read_failures"`
	OpenBackoff     time.Duration `mapstructure:"open_backoff" yaml:"open_backoff"`
	ReadBackoff     time.Duration `mapstructure:"read_backoff" yaml:"read_backoff"`
	OpenTimeout     time.Duration `mapstructure:"open_timeout" yaml:"open_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	StopTimeout     time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
}

type DetectionConfig struct {
	ModelPath           string  `mapstructure:"model_path" yaml:"model_path"`
	ConfigPath          string  `mapstructure:"config_path" yaml:"config_path"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
	MaxFPS              float64 `mapstructure:"max_fps" yaml:"max_fps"`
	MotionThreshold     int     `mapstructure:"motion_threshold" yaml:"motion_threshold"`
}

type CounterConfig struct {
	LinePosition float64 `mapstructure:"line_position" yaml:"line_position"`
}

type TrackerConfig struct {
	MaxAge      time.Duration `mapstructure:"max_age" yaml:"max_age"`
	MaxDistance float64       `mapstructure:"max_distance" yaml:"max_distance"`
}

type PlatesConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	DedupWindow  time.Duration `mapstructure:"dedup_window" yaml:"dedup_window"`
	CacheHorizon time.Duration `mapstructure:"cache_horizon" yaml:"cache_horizon"`
}

// SnapshotConfig controls the annotated JPEGs kept for counted crossings.
type SnapshotConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Dir            string        `mapstructure:"dir" yaml:"dir"`
	PerCameraLimit int           `mapstructure:"per_camera_limit" yaml:"per_camera_limit"`
	FlushInterval  time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
}

// SyncConfig controls replication to the remote store and local retention.
type SyncConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	Backend           string        `mapstructure:"backend" yaml:"backend"`
	BatchSize         int           `mapstructure:"batch_size" yaml:"batch_size"`
	Interval          time.Duration `mapstructure:"interval" yaml:"interval"`
	ErrorInterval     time.Duration `mapstructure:"error_interval" yaml:"error_interval"`
	RetentionInterval time.Duration `mapstructure:"retention_interval" yaml:"retention_interval"`
	LocalRetention    time.Duration `mapstructure:"local_retention" yaml:"local_retention"`
	RemoteRetention   time.Duration `mapstructure:"remote_retention" yaml:"remote_retention"`
}

type RemoteConfig struct {
	RTDB     RTDBConfig     `mapstructure:"rtdb" yaml:"rtdb"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
	NATS     NATSConfig     `mapstructure:"nats" yaml:"nats"`
	MQTT     MQTTConfig     `mapstructure:"mqtt" yaml:"mqtt"`
}

// RTDBConfig points at a Firebase Realtime Database.
type RTDBConfig struct {
	URL             string        `mapstructure:"url" yaml:"url"`
	CredentialsFile string        `mapstructure:"credentials_file" yaml:"credentials_file"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type PostgresConfig struct {
	DSN         string `mapstructure:"dsn" yaml:"dsn"`
	TablePrefix string `mapstructure:"table_prefix" yaml:"table_prefix"`
}

type NATSConfig struct {
	URL       string `mapstructure:"url" yaml:"url"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	CredsFile string `mapstructure:"creds_file" yaml:"creds_file"`
}

type MQTTConfig struct {
	Broker      string        `mapstructure:"broker" yaml:"broker"`
	ClientID    string        `mapstructure:"client_id" yaml:"client_id"`
	Username    string        `mapstructure:"username" yaml:"username"`
	Password    string        `mapstructure:"password" yaml:"password"`
	TopicPrefix string        `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	QoS         byte          `mapstructure:"qos" yaml:"qos"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Supported remote backends.
const (
	BackendNone     = "none"
	BackendRTDB     = "rtdb"
	BackendPostgres = "postgres"
	BackendNATS     = "nats"
	BackendMQTT     = "mqtt"
)

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load builds a Config from defaults, the optional YAML file at configFile
// and the environment.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	envSources, err := ParseSources(os.Getenv("SOURCE_LIST"))
	if err != nil {
		return nil, err
	}
	cfg.Sources = mergeSources(cfg.Sources, envSources)

	for i := range cfg.Sources {
		if cfg.Sources[i].LinePosition == 0 {
			cfg.Sources[i].LinePosition = cfg.Counter.LinePosition
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("password", "")
	v.SetDefault("log.dir", filepath.Join(".", "logs"))
	v.SetDefault("log.level", "info")
	v.SetDefault("database.path", filepath.Join(".", "data", "traffic_data.db"))

	v.SetDefault("capture.frame_width", 1280)
	v.SetDefault("capture.frame_height", 720)
	v.SetDefault("capture.target_fps", 30)
	v.SetDefault("capture.probe_attempts", 3)
	v.SetDefault("capture.probe_frames", 3)
	v.SetDefault("capture.max_open_retries", 3)
	v.SetDefault("capture.max_read_failures", 3)
	v.SetDefault("capture.open_backoff", 2*time.Second)
	v.SetDefault("capture.read_backoff", 500*time.Millisecond)
	v.SetDefault("capture.open_timeout", 5*time.Second)
	v.SetDefault("capture.read_timeout", 5*time.Second)
	v.SetDefault("capture.stop_timeout", 2*time.Second)

	v.SetDefault("detection.model_path", filepath.Join(".", "models", "frozen_inference_graph.pb"))
	v.SetDefault("detection.config_path", filepath.Join(".", "models", "ssd_mobilenet_v1_coco_2017_11_17.pbtxt"))
	v.SetDefault("detection.confidence_threshold", 0.3)
	v.SetDefault("detection.max_fps", 15.0)
	v.SetDefault("detection.motion_threshold", 0)

	v.SetDefault("counter.line_position", 0.6)

	v.SetDefault("tracker.max_age", 30*time.Second)
	v.SetDefault("tracker.max_distance", 80.0)

	v.SetDefault("plates.enabled", false)
	v.SetDefault("plates.dedup_window", 30*time.Second)
	v.SetDefault("plates.cache_horizon", 5*time.Minute)

	v.SetDefault("snapshots.enabled", false)
	v.SetDefault("snapshots.dir", filepath.Join(".", "data", "snapshots"))
	v.SetDefault("snapshots.per_camera_limit", 10)
	v.SetDefault("snapshots.flush_interval", 30*time.Second)

	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.backend", BackendNone)
	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.interval", 30*time.Second)
	v.SetDefault("sync.error_interval", 60*time.Second)
	v.SetDefault("sync.retention_interval", time.Hour)
	v.SetDefault("sync.local_retention", 7*24*time.Hour)
	v.SetDefault("sync.remote_retention", 365*24*time.Hour)

	v.SetDefault("remote.rtdb.url", "")
	v.SetDefault("remote.rtdb.credentials_file", "")
	v.SetDefault("remote.rtdb.timeout", 10*time.Second)
	v.SetDefault("remote.postgres.dsn", "")
	v.SetDefault("remote.postgres.table_prefix", "traffic_")
	v.SetDefault("remote.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("remote.nats.bucket", "traffic")
	v.SetDefault("remote.nats.creds_file", "")
	v.SetDefault("remote.mqtt.broker", "tcp://127.0.0.1:1883")
	v.SetDefault("remote.mqtt.client_id", "")
	v.SetDefault("remote.mqtt.username", "")
	v.SetDefault("remote.mqtt.password", "")
	v.SetDefault("remote.mqtt.topic_prefix", "traffic")
	v.SetDefault("remote.mqtt.qos", 1)
	v.SetDefault("remote.mqtt.timeout", 10*time.Second)
}

// ParseSources parses the compact "id=origin,id2=origin2" form.
func ParseSources(raw string) ([]SourceConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var sources []SourceConfig
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, origin, ok := strings.Cut(part, "=")
		id, origin = strings.TrimSpace(id), strings.TrimSpace(origin)
		if !ok || id == "" || origin == "" {
			return nil, fmt.Errorf("invalid source entry %q, expected id=origin", part)
		}
		sources = append(sources, SourceConfig{ID: id, Origin: origin})
	}
	return sources, nil
}

// mergeSources appends extra to base, letting extra win on duplicate ids.
func mergeSources(base, extra []SourceConfig) []SourceConfig {
	if len(extra) == 0 {
		return base
	}
	index := make(map[string]int, len(base))
	merged := make([]SourceConfig, 0, len(base)+len(extra))
	for _, s := range base {
		index[s.ID] = len(merged)
		merged = append(merged, s)
	}
	for _, s := range extra {
		if i, ok := index[s.ID]; ok {
			merged[i] = s
			continue
		}
		index[s.ID] = len(merged)
		merged = append(merged, s)
	}
	return merged
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Capture.FrameWidth <= 0 || c.Capture.FrameHeight <= 0 {
		errs = append(errs, fmt.Errorf("frame size must be positive"))
	}
	if c.Capture.ProbeAttempts < 1 || c.Capture.ProbeFrames < 1 {
		errs = append(errs, fmt.Errorf("probe attempts and frames must be at least 1"))
	}
	if c.Capture.MaxOpenRetries < 1 || c.Capture.MaxReadFailures < 1 {
		errs = append(errs, fmt.Errorf("retry caps must be at least 1"))
	}
	if c.Capture.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("capture.stop_timeout must be positive"))
	}
	if c.Detection.ConfidenceThreshold < 0 || c.Detection.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("detection.confidence_threshold must be within [0,1]"))
	}
	if !validLinePosition(c.Counter.LinePosition) {
		errs = append(errs, fmt.Errorf("counter.line_position must be within (0,1)"))
	}
	if c.Sync.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("sync.batch_size must be at least 1"))
	}
	if c.Sync.Interval <= 0 || c.Sync.ErrorInterval <= 0 {
		errs = append(errs, fmt.Errorf("sync intervals must be positive"))
	}
	if c.Plates.DedupWindow <= 0 || c.Plates.CacheHorizon < c.Plates.DedupWindow {
		errs = append(errs, fmt.Errorf("plates.cache_horizon must be at least plates.dedup_window"))
	}

	if c.Snapshots.Enabled && (c.Snapshots.PerCameraLimit < 1 || c.Snapshots.FlushInterval <= 0) {
		errs = append(errs, fmt.Errorf("snapshots need a positive per_camera_limit and flush_interval"))
	}

	switch c.Sync.Backend {
	case BackendNone, BackendRTDB, BackendPostgres, BackendNATS, BackendMQTT:
	default:
		errs = append(errs, fmt.Errorf("unknown sync.backend %q", c.Sync.Backend))
	}

	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.ID == "" || s.Origin == "" {
			errs = append(errs, fmt.Errorf("source entries need both id and origin"))
			continue
		}
		if seen[s.ID] {
			errs = append(errs, fmt.Errorf("duplicate source id %q", s.ID))
		}
		seen[s.ID] = true
		if !validLinePosition(s.LinePosition) {
			errs = append(errs, fmt.Errorf("source %q line_position must be within (0,1)", s.ID))
		}
	}

	return errors.Join(errs...)
}

func validLinePosition(p float64) bool {
	return p > 0 && p < 1
}
