// Package config loads the engine configuration: built-in defaults, then
// an optional YAML file, then command-line flags.
package config

import (
	"bytes"
	"flag"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/tiiuae/coverageengine/internal/gateway"
	"github.com/tiiuae/coverageengine/internal/log"
	"github.com/tiiuae/coverageengine/internal/mission"
	"github.com/tiiuae/coverageengine/internal/mqttclient"
	"github.com/tiiuae/coverageengine/internal/operator"
	"github.com/tiiuae/coverageengine/internal/planner"
	"github.com/tiiuae/coverageengine/internal/store"
	"gopkg.in/yaml.v3"
)

const (
	GatewaySimulator = "simulator"
	GatewayROS2      = "ros2"
)

type Config struct {
	Device   DeviceConfig      `yaml:"device"`
	MQTT     mqttclient.Config `yaml:"mqtt"`
	Redis    store.RedisConfig `yaml:"redis"`
	Log      log.Config        `yaml:"log"`
	Gateway  GatewayConfig     `yaml:"gateway"`
	Operator operator.Config   `yaml:"operator"`
	Planner  PlannerConfig     `yaml:"planner"`
	Mission  MissionConfig     `yaml:"mission"`
	Upload   UploadConfig      `yaml:"upload"`
}

type DeviceConfig struct {
	ID string `yaml:"id"`
}

type GatewayConfig struct {
	Kind      string                  `yaml:"kind"`
	Simulator gateway.SimulatorConfig `yaml:"simulator"`
	// Namespace prefixes the flight stack topics and services.
	Namespace string `yaml:"namespace"`
}

type PlannerConfig struct {
	// SpacingFeet is used when a survey request carries no spacing.
	SpacingFeet float64 `yaml:"spacing_feet"`
}

type MissionConfig struct {
	planner.MissionParams `yaml:",inline"`
	Finish                string `yaml:"finished_action"`
	Heading               string `yaml:"heading_mode"`
}

// Params resolves the named enums. Call after Validate.
func (m MissionConfig) Params() planner.MissionParams {
	p := m.MissionParams
	p.FinishedAction, _ = mission.ParseFinishedAction(m.Finish)
	p.HeadingMode, _ = mission.ParseHeadingMode(m.Heading)
	return p
}

// UploadConfig is the retry policy applied when the aircraft rejects a
// mission upload.
type UploadConfig struct {
	Retries int           `yaml:"retries"`
	Delay   time.Duration `yaml:"delay"`
}

// Load parses args, reads the YAML file named by -config (if any) over the
// defaults and applies the flags that were set on top.
func Load(name string, args []string) (*Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	deviceID := fs.String("device_id", "", "The provisioned device id")
	mqttBroker := fs.String("mqtt_broker", "", "MQTT broker protocol, address and port")
	privateKey := fs.String("private_key", "", "The private key for the MQTT authentication")
	logLevel := fs.String("log_level", "", "debug, info, warn or error")
	logDir := fs.String("log_dir", "", "Directory for the rotated log file")
	gatewayKind := fs.String("gateway", "", "simulator or ros2")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	if *configPath != "" {
		b, err := os.ReadFile(*configPath)
		if err != nil {
			return nil, errors.WithMessage(err, "Could not read config")
		}
		if err := Parse(b, &cfg); err != nil {
			return nil, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device_id":
			cfg.Device.ID = *deviceID
		case "mqtt_broker":
			cfg.MQTT.Broker = *mqttBroker
		case "private_key":
			cfg.MQTT.PrivateKey = *privateKey
		case "log_level":
			cfg.Log.Level = *logLevel
		case "log_dir":
			cfg.Log.Dir = *logDir
		case "gateway":
			cfg.Gateway.Kind = *gatewayKind
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes YAML over cfg. Keys that match no setting are an error.
func Parse(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return errors.WithMessage(err, "Could not parse config")
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Device.ID == "" {
		return errors.New("device id is required")
	}
	switch c.Gateway.Kind {
	case GatewaySimulator, GatewayROS2:
	default:
		return errors.Errorf("unknown gateway kind %q", c.Gateway.Kind)
	}
	if c.Gateway.Kind == GatewaySimulator && c.Gateway.Simulator.Step <= 0 {
		return errors.New("gateway.simulator.step must be positive")
	}
	if err := c.Operator.Validate(); err != nil {
		return errors.WithMessage(err, "operator")
	}
	if !(c.Planner.SpacingFeet > 0) {
		return errors.Errorf("planner.spacing_feet must be positive, got %v", c.Planner.SpacingFeet)
	}
	if _, err := mission.ParseFinishedAction(c.Mission.Finish); err != nil {
		return errors.WithMessage(err, "mission")
	}
	if _, err := mission.ParseHeadingMode(c.Mission.Heading); err != nil {
		return errors.WithMessage(err, "mission")
	}
	if c.Upload.Retries < 0 || c.Upload.Delay < 0 {
		return errors.New("upload.retries and upload.delay must not be negative")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.MQTT.Enabled && (c.MQTT.Broker == "" || c.MQTT.PrivateKey == "") {
		return errors.New("mqtt.broker and mqtt.private_key are required when mqtt is enabled")
	}
	return nil
}
