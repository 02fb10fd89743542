package config

import (
	"fmt"
	"regexp"

	picam "github.com/aDifferentJT/rpi-cam-control"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills defaults for optional
// fields. Hardware limits (resolution bounds, bitrate ceilings,
// macroblock throughput) are enforced by the capture engine; this layer
// only rejects what it can see locally.
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		cfg.InstanceID = "picam0"
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	// Validate backend selection
	if _, err := picam.ParseBackend(cfg.Backend); err != nil {
		return err
	}
	if cfg.Backend == "" {
		cfg.Backend = "auto"
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5 // default
	}

	// Validate camera config
	if cfg.Camera.Width < 0 || cfg.Camera.Height < 0 {
		return fmt.Errorf("camera resolution must not be negative")
	}
	if cfg.Camera.Framerate < 0 {
		return fmt.Errorf("camera.framerate must not be negative")
	}
	if cfg.Camera.ShutterSpeedUS < 0 {
		return fmt.Errorf("camera.shutter_speed_us must not be negative")
	}

	// Validate encoder config; empty spellings take the engine defaults
	if cfg.Encoder.Codec == "" {
		cfg.Encoder.Codec = "h264"
	}
	if _, err := picam.ParseCodec(cfg.Encoder.Codec); err != nil {
		return err
	}
	if cfg.Encoder.Profile == "" {
		cfg.Encoder.Profile = "high"
	}
	if _, err := picam.ParseProfile(cfg.Encoder.Profile); err != nil {
		return err
	}
	if cfg.Encoder.Level == "" {
		cfg.Encoder.Level = "4"
	}
	if _, err := picam.ParseLevel(cfg.Encoder.Level); err != nil {
		return err
	}
	if _, err := picam.ParseIntraRefresh(cfg.Encoder.IntraRefresh); err != nil {
		return err
	}

	// Validate output config
	if cfg.Output.Path == "" {
		cfg.Output.Path = "-"
	}
	if cfg.Output.QueueCapacity < 0 {
		return fmt.Errorf("output.queue_capacity must not be negative")
	}
	if _, err := picam.ParseQueuePolicy(cfg.Output.QueuePolicy); err != nil {
		return err
	}

	// Telemetry is optional; defaults only matter with a broker set
	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.TopicPrefix == "" {
			cfg.MQTT.TopicPrefix = "picam"
		}
		if cfg.MQTT.StatsIntervalS <= 0 {
			cfg.MQTT.StatsIntervalS = 10 // default
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	return nil
}
