package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/tiiuae/coverageengine/internal/cloudlink"
	"github.com/tiiuae/coverageengine/internal/commands"
	"github.com/tiiuae/coverageengine/internal/config"
	"github.com/tiiuae/coverageengine/internal/flyf4f"
	"github.com/tiiuae/coverageengine/internal/gateway"
	"github.com/tiiuae/coverageengine/internal/log"
	"github.com/tiiuae/coverageengine/internal/missioncontrol"
	"github.com/tiiuae/coverageengine/internal/mqttclient"
	"github.com/tiiuae/coverageengine/internal/operator"
	"github.com/tiiuae/coverageengine/internal/store"
	"github.com/tiiuae/coverageengine/internal/telemetry"
	"github.com/tiiuae/coverageengine/internal/types"
)

func main() {
	cfg, err := config.Load(os.Args[0], os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := log.New(cfg.Log)
	defer logger.Close()
	fatal := func(msg string, err error) {
		logger.Error(msg, "error", err)
		logger.Close()
		os.Exit(1)
	}

	// attach sigint & sigterm listeners
	terminationSignals := make(chan os.Signal, 1)
	signal.Notify(terminationSignals, syscall.SIGINT, syscall.SIGTERM)

	// quitFunc will be called when process is terminated
	ctx, quitFunc := context.WithCancel(context.Background())

	// wait group will make sure all goroutines have time to clean up
	var wg sync.WaitGroup

	var gw interface {
		gateway.ActuatorGateway
		telemetry.PositionSource
	}
	switch cfg.Gateway.Kind {
	case config.GatewaySimulator:
		sim := gateway.NewSimulator(cfg.Gateway.Simulator)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sim.Run(ctx)
		}()
		gw = sim
		logger.Info("Using simulated aircraft", "home", cfg.Gateway.Simulator.Home)
	case config.GatewayROS2:
		namespace := cfg.Gateway.Namespace
		if namespace == "" {
			namespace = cfg.Device.ID
		}
		rclContext, node, err := flyf4f.NewNode(&wg, "coverageengine", namespace)
		if err != nil {
			fatal("ROS 2 setup failed", err)
		}
		defer rclContext.Close()
		f4f, err := flyf4f.New(ctx, &wg, rclContext, node, logger)
		if err != nil {
			fatal("F4F gateway setup failed", err)
		}
		defer f4f.Close()
		gw = f4f
	}

	var plans store.PlanStore = store.NewMemoryStore()
	if cfg.Redis.Enabled {
		rs := store.NewRedisStore(cfg.Redis, logger)
		if err := rs.Connect(ctx); err != nil {
			logger.Warn("Redis unavailable, plans are kept in memory", "error", err)
		} else {
			defer rs.Close()
			plans = rs
		}
	}

	op := operator.New(gw, cfg.Operator, logger)

	handlers := []types.MessageHandler{
		types.NewLogger(logger),
		telemetry.New(gw, cfg.Device.ID, telemetry.DefaultInterval),
		missioncontrol.New(op, plans, missioncontrol.Options{
			DeviceID:      cfg.Device.ID,
			SpacingFeet:   cfg.Planner.SpacingFeet,
			Params:        cfg.Mission.Params(),
			UploadRetries: cfg.Upload.Retries,
			UploadDelay:   cfg.Upload.Delay,
		}, logger),
	}

	if cfg.MQTT.Enabled {
		mqttClient, err := mqttclient.New(ctx, cfg.MQTT, cfg.Device.ID, logger)
		if err != nil {
			fatal("MQTT setup failed", err)
		}
		defer mqttClient.Disconnect(1000)
		handlers = append(handlers,
			commands.New(mqttClient, cfg.Device.ID, logger),
			cloudlink.New(mqttClient, cfg.Device.ID, logger),
		)
	}

	messagebus := make(chan types.Message, 100)
	bus := types.NewMessageBus(messagebus, logger, handlers...)
	go bus.Run(ctx, &wg)

	// wait for termination and close quit to signal all
	<-terminationSignals
	logger.Info("Shutting down..")
	// land before the gateway goes away with the context
	op.Close()
	quitFunc()

	// wait until goroutines have done their cleanup
	logger.Info("Waiting for routines to finish...")
	wg.Wait()
	logger.Info("Signing off - BYE")
}
