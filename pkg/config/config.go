// Package config provides configuration management for facecheckin.
// It loads configuration from YAML files with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile names shipped with the default configuration.
const (
	ProfileAttendance = "attendance"
	ProfileSelf       = "profile"
)

// MinAcceptedSamples is the fewest accepted captures an enrollment may
// succeed with.
const MinAcceptedSamples = 3

// Config holds all facecheckin configuration.
type Config struct {
	Camera     CameraConfig     `yaml:"camera"`
	Detection  DetectionConfig  `yaml:"detection"`
	Profiles   ProfilesConfig   `yaml:"profiles"`
	Matching   MatchingConfig   `yaml:"matching"`
	Liveness   LivenessConfig   `yaml:"liveness"`
	Storage    StorageConfig    `yaml:"storage"`
	Attendance AttendanceConfig `yaml:"attendance"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// CameraConfig holds frame source settings.
type CameraConfig struct {
	Source    string `yaml:"source"` // "device" or "replay"
	Device    string `yaml:"device"`
	ReplayDir string `yaml:"replay_dir"`
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	FPS       int    `yaml:"fps"`
}

// DetectionConfig holds detection engine settings.
type DetectionConfig struct {
	ModelPath     string  `yaml:"model_path"`
	MinConfidence float64 `yaml:"min_confidence"` // engine pre-filter
	TimeoutMS     int     `yaml:"timeout_ms"`
	UseCNN        bool    `yaml:"use_cnn"`
}

// ProfileConfig holds the quality gate and capture parameters of one capture flow.
type ProfileConfig struct {
	MinConfidence    float64 `yaml:"min_confidence"`
	MinLuminance     float64 `yaml:"min_luminance"`
	MaxLuminance     float64 `yaml:"max_luminance"`
	MinFaceRatio     float64 `yaml:"min_face_ratio"`
	MaxFaceRatio     float64 `yaml:"max_face_ratio"`
	CenterTolerance  float64 `yaml:"center_tolerance"`
	RequiredQuality  float64 `yaml:"required_quality"`
	AcceptConfidence float64 `yaml:"accept_confidence"`
	SampleCount      int     `yaml:"sample_count"`
	MinAccepted      int     `yaml:"min_accepted"`
	SampleDelayMS    int     `yaml:"sample_delay_ms"`
}

// ProfilesConfig holds the capture profiles. Attendance drives check-in and
// re-enrollment at the kiosk, Profile drives self-enrollment from the member page.
type ProfilesConfig struct {
	Attendance ProfileConfig `yaml:"attendance"`
	Profile    ProfileConfig `yaml:"profile"`
}

// MatchingConfig holds descriptor matcher settings.
type MatchingConfig struct {
	Threshold  float64 `yaml:"threshold"`
	Index      string  `yaml:"index"` // "linear" or "hnsw"
	Candidates int     `yaml:"candidates"`
}

// LivenessConfig holds the best-effort liveness heuristics.
type LivenessConfig struct {
	ConsistencyCheck bool    `yaml:"consistency_check"`
	MinVariance      float64 `yaml:"min_variance"`
	MaxDeviation     float64 `yaml:"max_deviation"`
}

// StorageConfig holds template storage settings.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// AttendanceConfig holds the check-in recorder settings.
type AttendanceConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabaseFile string `yaml:"database_file"`
}

// MQTTConfig holds the event publisher settings.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Port        int    `yaml:"port"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/facecheckin")
	return &Config{
		Camera: CameraConfig{
			Source: "device",
			Device: "/dev/video0",
			Width:  640,
			Height: 480,
			FPS:    15,
		},
		Detection: DetectionConfig{
			ModelPath:     filepath.Join(dataDir, "models"),
			MinConfidence: 0.5,
			TimeoutMS:     2000,
		},
		Profiles: ProfilesConfig{
			Attendance: ProfileConfig{
				MinConfidence:    0.7,
				MinLuminance:     80,
				MaxLuminance:     200,
				MinFaceRatio:     0.15,
				MaxFaceRatio:     0.55,
				CenterTolerance:  0.15,
				RequiredQuality:  0.7,
				AcceptConfidence: 0.7,
				SampleCount:      3,
				MinAccepted:      3,
				SampleDelayMS:    500,
			},
			Profile: ProfileConfig{
				MinConfidence:    0.7,
				MinLuminance:     70,
				MaxLuminance:     210,
				MinFaceRatio:     0.15,
				MaxFaceRatio:     0.65,
				CenterTolerance:  0.15,
				RequiredQuality:  0.7,
				AcceptConfidence: 0.7,
				SampleCount:      5,
				MinAccepted:      3,
				SampleDelayMS:    400,
			},
		},
		Matching: MatchingConfig{
			Threshold:  0.5,
			Index:      "linear",
			Candidates: 8,
		},
		Liveness: LivenessConfig{
			ConsistencyCheck: false,
			MinVariance:      1e-6,
			MaxDeviation:     0.6,
		},
		Storage: StorageConfig{
			DataDir:           dataDir,
			EncryptionEnabled: true,
		},
		Attendance: AttendanceConfig{
			Enabled:      true,
			DatabaseFile: filepath.Join(dataDir, "attendance.db"),
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Broker:      "localhost",
			Port:        1883,
			ClientID:    "facecheckin",
			TopicPrefix: "facecheckin",
			QoS:         1,
		},
		Server: ServerConfig{
			Listen: ":8080",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "facecheckin.log"),
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/facecheckin/facecheckin.yaml"); err == nil {
		return Load("/etc/facecheckin/facecheckin.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/facecheckin/facecheckin.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Profile returns the named capture profile.
func (c *Config) Profile(name string) (ProfileConfig, error) {
	switch name {
	case ProfileAttendance, "":
		return c.Profiles.Attendance, nil
	case ProfileSelf:
		return c.Profiles.Profile, nil
	}
	return ProfileConfig{}, fmt.Errorf("unknown capture profile: %s (must be %s or %s)", name, ProfileAttendance, ProfileSelf)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Camera.Source {
	case "device":
		if c.Camera.Device == "" {
			return fmt.Errorf("camera device must be set for source 'device'")
		}
	case "replay":
		if c.Camera.ReplayDir == "" {
			return fmt.Errorf("camera replay_dir must be set for source 'replay'")
		}
	default:
		return fmt.Errorf("invalid camera source: %s (must be device or replay)", c.Camera.Source)
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("invalid camera FPS: %d", c.Camera.FPS)
	}

	if c.Detection.MinConfidence < 0 || c.Detection.MinConfidence > 1 {
		return fmt.Errorf("detection min_confidence must be between 0 and 1, got %f", c.Detection.MinConfidence)
	}
	if c.Detection.TimeoutMS <= 0 {
		return fmt.Errorf("detection timeout_ms must be positive, got %d", c.Detection.TimeoutMS)
	}

	for name, p := range map[string]ProfileConfig{ProfileAttendance: c.Profiles.Attendance, ProfileSelf: c.Profiles.Profile} {
		if err := p.validate(); err != nil {
			return fmt.Errorf("profile %s: %w", name, err)
		}
	}

	if c.Matching.Threshold <= 0 || c.Matching.Threshold > 2 {
		return fmt.Errorf("matching threshold must be in (0, 2], got %f", c.Matching.Threshold)
	}
	if c.Matching.Index != "linear" && c.Matching.Index != "hnsw" {
		return fmt.Errorf("invalid matching index: %s (must be linear or hnsw)", c.Matching.Index)
	}

	if c.Liveness.ConsistencyCheck && (c.Liveness.MinVariance < 0 || c.Liveness.MaxDeviation < 0) {
		return fmt.Errorf("liveness min_variance and max_deviation must not be negative")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" || c.MQTT.Port <= 0 {
			return fmt.Errorf("mqtt broker and port must be set when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

func (p ProfileConfig) validate() error {
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be between 0 and 1, got %f", p.MinConfidence)
	}
	if p.MinLuminance < 0 || p.MaxLuminance > 255 || p.MinLuminance > p.MaxLuminance {
		return fmt.Errorf("invalid luminance band: %.0f-%.0f", p.MinLuminance, p.MaxLuminance)
	}
	if p.MinFaceRatio <= 0 || p.MaxFaceRatio > 1 || p.MinFaceRatio >= p.MaxFaceRatio {
		return fmt.Errorf("invalid face ratio band: %.2f-%.2f", p.MinFaceRatio, p.MaxFaceRatio)
	}
	if p.CenterTolerance <= 0 || p.CenterTolerance >= 0.5 {
		return fmt.Errorf("center_tolerance must be in (0, 0.5), got %f", p.CenterTolerance)
	}
	if p.RequiredQuality < 0 || p.RequiredQuality > 1 {
		return fmt.Errorf("required_quality must be between 0 and 1, got %f", p.RequiredQuality)
	}
	if p.SampleCount <= 0 {
		return fmt.Errorf("sample_count must be positive, got %d", p.SampleCount)
	}
	if p.MinAccepted < MinAcceptedSamples || p.MinAccepted > p.SampleCount {
		return fmt.Errorf("min_accepted must be in [%d, sample_count], got %d", MinAcceptedSamples, p.MinAccepted)
	}
	if p.SampleDelayMS < 0 {
		return fmt.Errorf("sample_delay_ms must not be negative, got %d", p.SampleDelayMS)
	}
	return nil
}

// ExpandPaths expands all paths and secrets in the configuration.
func (c *Config) ExpandPaths() {
	c.Camera.Device = ExpandPath(c.Camera.Device)
	c.Camera.ReplayDir = ExpandPath(c.Camera.ReplayDir)
	c.Detection.ModelPath = ExpandPath(c.Detection.ModelPath)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Attendance.DatabaseFile = ExpandPath(c.Attendance.DatabaseFile)
	c.Logging.File = ExpandPath(c.Logging.File)
	c.MQTT.Username = os.ExpandEnv(c.MQTT.Username)
	c.MQTT.Password = os.ExpandEnv(c.MQTT.Password)
}

// EnsureDirectories creates necessary directories for storage and logging.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(filepath.Join(c.Storage.DataDir, "members"), 0700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	if err := os.MkdirAll(c.Detection.ModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	if c.Attendance.Enabled && c.Attendance.DatabaseFile != "" {
		if err := os.MkdirAll(filepath.Dir(c.Attendance.DatabaseFile), 0750); err != nil {
			return fmt.Errorf("failed to create attendance directory: %w", err)
		}
	}

	if c.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Logging.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}
