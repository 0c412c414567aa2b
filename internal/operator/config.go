package operator

import (
	"time"

	"github.com/pkg/errors"
)

type Config struct {
	// DefaultAutoFlightSpeed is used when the loaded mission has no auto
	// flight speed (m/s).
	DefaultAutoFlightSpeed float32 `yaml:"default_auto_flight_speed"`
	// MinimumSpeed is the floor for the commanded speed on an axis that
	// has not arrived yet (m/s).
	MinimumSpeed float32 `yaml:"minimum_speed"`
	// ArrivalEpsilon is the per-axis arrival threshold in degrees.
	ArrivalEpsilon  float64       `yaml:"arrival_epsilon"`
	CommandInterval time.Duration `yaml:"command_interval"`
	UploadTimeout   time.Duration `yaml:"upload_timeout"`
	LandTimeout     time.Duration `yaml:"land_timeout"`
}

func DefaultConfig() Config {
	return Config{
		DefaultAutoFlightSpeed: 5,
		MinimumSpeed:           0.3,
		ArrivalEpsilon:         2e-6,
		CommandInterval:        200 * time.Millisecond,
		UploadTimeout:          30 * time.Second,
		LandTimeout:            60 * time.Second,
	}
}

func (c Config) Validate() error {
	if !(c.DefaultAutoFlightSpeed > 0) {
		return errors.Errorf("default_auto_flight_speed must be positive, got %v", c.DefaultAutoFlightSpeed)
	}
	if c.MinimumSpeed < 0 || c.MinimumSpeed > c.DefaultAutoFlightSpeed {
		return errors.Errorf("minimum_speed must be in [0, %v], got %v", c.DefaultAutoFlightSpeed, c.MinimumSpeed)
	}
	if !(c.ArrivalEpsilon > 0) {
		return errors.Errorf("arrival_epsilon must be positive, got %v", c.ArrivalEpsilon)
	}
	if c.CommandInterval <= 0 {
		return errors.Errorf("command_interval must be positive, got %v", c.CommandInterval)
	}
	if c.UploadTimeout <= 0 || c.LandTimeout <= 0 {
		return errors.New("upload_timeout and land_timeout must be positive")
	}
	return nil
}
