// Package config loads and validates the daemon's YAML configuration and
// maps it onto the capture engine's parameter record.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	picam "github.com/aDifferentJT/rpi-cam-control"
)

// Config represents the complete daemon configuration
type Config struct {
	InstanceID       string        `yaml:"instance_id"`
	Backend          string        `yaml:"backend"` // auto, gstreamer, sim
	ShutdownTimeoutS int           `yaml:"shutdown_timeout_s"`
	Camera           CameraConfig  `yaml:"camera"`
	Encoder          EncoderConfig `yaml:"encoder"`
	Output           OutputConfig  `yaml:"output"`
	MQTT             MQTTConfig    `yaml:"mqtt"`
}

// CameraConfig contains capture settings
type CameraConfig struct {
	Width          int `yaml:"width"`
	Height         int `yaml:"height"`
	Framerate      int `yaml:"framerate"`
	Index          int `yaml:"index"`
	SensorMode     int `yaml:"sensor_mode"`
	ShutterSpeedUS int `yaml:"shutter_speed_us"` // 0 = auto exposure
}

// EncoderConfig contains encode settings
type EncoderConfig struct {
	Codec         string `yaml:"codec"`   // h264, mjpeg
	Bitrate       int    `yaml:"bitrate"` // bits per second
	Profile       string `yaml:"profile"` // baseline, main, high
	Level         string `yaml:"level"`   // 4, 4.1, 4.2
	IntraPeriod   int    `yaml:"intra_period"`
	QP            int    `yaml:"qp"` // nonzero selects fixed-QP rate control
	InlineHeaders bool   `yaml:"inline_headers"`
	SPSTiming     bool   `yaml:"sps_timing"`
	IntraRefresh  string `yaml:"intra_refresh"` // none, cyclic, adaptive, both, cyclicrows
}

// OutputConfig contains bitstream output settings
type OutputConfig struct {
	Path          string `yaml:"path"` // file path, or "-" for stdout
	QueueCapacity int    `yaml:"queue_capacity"`
	QueuePolicy   string `yaml:"queue_policy"` // drop-oldest, drop-newest, unbounded
}

// MQTTConfig contains optional telemetry settings. An empty broker
// disables telemetry.
type MQTTConfig struct {
	Broker         string `yaml:"broker"`
	TopicPrefix    string `yaml:"topic_prefix"`
	StatsIntervalS int    `yaml:"stats_interval_s"`
	QoS            byte   `yaml:"qos"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// StatsInterval returns the telemetry publish period.
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.MQTT.StatsIntervalS) * time.Second
}

// ToCameraConfig maps the file configuration onto the capture engine's
// parameter record. Enum spellings were checked in Validate, so parse
// failures here only happen on a hand-built Config.
func (c *Config) ToCameraConfig() (picam.Config, error) {
	codec, err := picam.ParseCodec(c.Encoder.Codec)
	if err != nil {
		return picam.Config{}, err
	}
	profile, err := picam.ParseProfile(c.Encoder.Profile)
	if err != nil {
		return picam.Config{}, err
	}
	level, err := picam.ParseLevel(c.Encoder.Level)
	if err != nil {
		return picam.Config{}, err
	}
	refresh, err := picam.ParseIntraRefresh(c.Encoder.IntraRefresh)
	if err != nil {
		return picam.Config{}, err
	}
	policy, err := picam.ParseQueuePolicy(c.Output.QueuePolicy)
	if err != nil {
		return picam.Config{}, err
	}

	return picam.Config{
		Width:     c.Camera.Width,
		Height:    c.Camera.Height,
		Framerate: c.Camera.Framerate,
		Bitrate:   c.Encoder.Bitrate,

		Codec:   codec,
		Profile: profile,
		Level:   level,

		IntraPeriod:   c.Encoder.IntraPeriod,
		QP:            c.Encoder.QP,
		InlineHeaders: c.Encoder.InlineHeaders,
		SPSTiming:     c.Encoder.SPSTiming,
		IntraRefresh:  refresh,

		CameraIndex:  c.Camera.Index,
		SensorMode:   c.Camera.SensorMode,
		ShutterSpeed: time.Duration(c.Camera.ShutterSpeedUS) * time.Microsecond,

		QueueCapacity: c.Output.QueueCapacity,
		QueuePolicy:   policy,
	}, nil
}
