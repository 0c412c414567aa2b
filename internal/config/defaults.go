package config

import (
	"time"

	"github.com/tiiuae/coverageengine/internal/gateway"
	"github.com/tiiuae/coverageengine/internal/log"
	"github.com/tiiuae/coverageengine/internal/mqttclient"
	"github.com/tiiuae/coverageengine/internal/operator"
	"github.com/tiiuae/coverageengine/internal/planner"
	"github.com/tiiuae/coverageengine/internal/store"
)

func Default() Config {
	params := planner.DefaultMissionParams()
	return Config{
		MQTT: mqttclient.DefaultConfig(),
		Redis: store.RedisConfig{
			Enabled: false,
			Host:    "localhost",
			Port:    6379,
			Prefix:  "coverageengine",
			TTL:     7 * 24 * time.Hour,
		},
		Log: log.Config{
			Level:      "info",
			Dir:        "coverageengine-logs",
			MaxSizeMB:  64,
			MaxAgeDays: 14,
			MaxBackups: 5,
			Compress:   true,
			Stderr:     true,
		},
		Gateway: GatewayConfig{
			Kind:      GatewaySimulator,
			Simulator: gateway.DefaultSimulatorConfig(),
		},
		Operator: operator.DefaultConfig(),
		Planner: PlannerConfig{
			SpacingFeet: 65,
		},
		Mission: MissionConfig{
			MissionParams: params,
			Finish:        params.FinishedAction.String(),
			Heading:       params.HeadingMode.String(),
		},
		Upload: UploadConfig{
			Retries: 3,
			Delay:   2 * time.Second,
		},
	}
}
