// Package commands receives control commands from the cloud over MQTT and
// posts them to the message bus.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/tiiuae/coverageengine/internal/log"
	"github.com/tiiuae/coverageengine/internal/types"
)

var ErrUnknownCommand = errors.New("unknown command")

type Subscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

type controlCommand struct {
	Command   string    `json:"command"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

type commands struct {
	client   Subscriber
	deviceID string
	logger   *log.Logger
	control  chan []byte
}

func New(client Subscriber, deviceID string, logger *log.Logger) types.MessageHandler {
	return &commands{client, deviceID, logger.With("component", "commands"), make(chan []byte, 10)}
}

func (c *commands) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	wg.Add(1)
	defer wg.Done()

	commandTopic := fmt.Sprintf("/devices/%s/commands/", c.deviceID)
	c.logger.Info("Subscribing to MQTT commands", "topic", commandTopic+"#")
	token := c.client.Subscribe(commandTopic+"#", 0, func(client mqtt.Client, msg mqtt.Message) {
		c.route(ctx, strings.TrimPrefix(msg.Topic(), commandTopic), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		c.logger.Error("Error on subscribe", "error", token.Error())
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-c.control:
			post(c.handleControlCommand(payload))
		}
	}
}

func (c *commands) Receive(message types.Message) {
}

func (c *commands) route(ctx context.Context, subfolder string, payload []byte) {
	switch subfolder {
	case "control":
		c.logger.Info("Got control command", "payload", string(payload))
		select {
		case c.control <- payload:
		case <-ctx.Done():
		}
	default:
		c.logger.Warn("Unknown command subfolder", "subfolder", subfolder)
	}
}

func (c *commands) handleControlCommand(payload []byte) types.Message {
	messageType, msg, err := parseControlCommand(payload)
	if err != nil {
		c.logger.Warn("Could not handle command", "error", err)
		return types.CreateMessage(types.MessageCommandFailed, c.deviceID, "*", types.CommandFailed{
			Command: messageType,
			Error:   err.Error(),
		})
	}
	return types.CreateMessage(messageType, "cloud", c.deviceID, msg)
}

// parseControlCommand returns the bus message type and payload for a
// control command. The message type is returned even on error when the
// command itself was readable.
func parseControlCommand(b []byte) (string, interface{}, error) {
	var cmd controlCommand
	if err := json.Unmarshal(b, &cmd); err != nil {
		return "", nil, errors.WithMessage(err, "Could not unmarshal command")
	}

	switch cmd.Command {
	case types.MessagePlanSurvey:
		var m types.PlanSurvey
		err := unmarshalPayload(cmd, &m)
		return cmd.Command, m, err
	case types.MessageLoadPlan:
		var m types.LoadPlan
		err := unmarshalPayload(cmd, &m)
		return cmd.Command, m, err
	case types.MessageUploadMission:
		return cmd.Command, types.UploadMission{}, nil
	case types.MessageStartMission:
		return cmd.Command, types.StartMission{}, nil
	case types.MessageStopMission:
		return cmd.Command, types.StopMission{}, nil
	case types.MessagePauseMission:
		return cmd.Command, types.PauseMission{}, nil
	case types.MessageResumeMission:
		return cmd.Command, types.ResumeMission{}, nil
	default:
		return cmd.Command, nil, errors.WithMessagef(ErrUnknownCommand, "%q", cmd.Command)
	}
}

func unmarshalPayload(cmd controlCommand, v interface{}) error {
	if cmd.Payload == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(cmd.Payload), v); err != nil {
		return errors.WithMessagef(err, "Could not unmarshal %s payload", cmd.Command)
	}
	return nil
}
