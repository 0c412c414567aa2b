// Package cloudlink forwards mission events and telemetry from the message
// bus to the cloud over MQTT.
package cloudlink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/tiiuae/coverageengine/internal/log"
	"github.com/tiiuae/coverageengine/internal/types"
)

const (
	qos    = 1
	retain = false

	// TelemetryInterval sends at most 10 telemetry records per second.
	TelemetryInterval = 100 * time.Millisecond
)

type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type telemetry struct {
	Timestamp     int64   `json:"timestamp"`
	MessageID     string  `json:"message_id"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	Alt           float64 `json:"alt"`
	State         string  `json:"state"`
	PlanID        string  `json:"plan_id"`
	WaypointIndex int     `json:"waypoint_index"`
	WaypointCount int     `json:"waypoint_count"`
}

type cloudLink struct {
	client   Publisher
	deviceID string
	logger   *log.Logger
	inbox    chan types.Message

	mu      sync.Mutex
	current telemetry
	sent    bool
}

func New(client Publisher, deviceID string, logger *log.Logger) types.MessageHandler {
	return &cloudLink{
		client:   client,
		deviceID: deviceID,
		logger:   logger.With("component", "cloudlink"),
		inbox:    make(chan types.Message, 30),
		current:  telemetry{State: "NOT_READY"},
		sent:     true,
	}
}

func (c *cloudLink) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	wg.Add(1)
	defer wg.Done()

	telemetryTopic := fmt.Sprintf("/devices/%s/events/telemetry", c.deviceID)
	missionTopic := fmt.Sprintf("/devices/%s/events/mission", c.deviceID)
	ticker := time.NewTicker(TelemetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.inbox:
			if b := c.handleMessage(msg); b != nil {
				c.client.Publish(missionTopic, qos, retain, b)
			}
		case <-ticker.C:
			if b := c.nextTelemetry(); b != nil {
				c.client.Publish(telemetryTopic, qos, retain, b)
			}
		}
	}
}

func (c *cloudLink) Receive(message types.Message) {
	switch message.MessageType {
	case types.MessageGlobalPosition, types.MessageMissionState, types.MessageSurveyPlanned,
		types.MessageExecutionStarted, types.MessageExecutionFinished, types.MessageCommandFailed:
		c.inbox <- message
	}
}

// handleMessage folds msg into the telemetry record and returns the
// serialized mission event, or nil for position updates.
func (c *cloudLink) handleMessage(msg types.Message) []byte {
	c.mu.Lock()
	switch m := msg.Message.(type) {
	case types.GlobalPosition:
		c.current.Lat, c.current.Lon, c.current.Alt = m.Lat, m.Lon, m.Alt
		c.sent = false
		c.mu.Unlock()
		return nil
	case types.MissionState:
		c.current.State = m.State
		c.current.PlanID = m.PlanID
		c.current.WaypointIndex = m.WaypointIndex
		c.current.WaypointCount = m.WaypointCount
		c.sent = false
	}
	c.mu.Unlock()

	s, err := msg.ToStringMessage()
	if err != nil {
		c.logger.Warn("Could not serialize event", "type", msg.MessageType, "error", err)
		return nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		c.logger.Warn("Could not serialize event", "type", msg.MessageType, "error", err)
		return nil
	}
	return b
}

// nextTelemetry returns the telemetry record when something changed since
// the last one.
func (c *cloudLink) nextTelemetry() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sent {
		return nil
	}
	c.current.Timestamp = time.Now().UnixNano() / 1000
	c.current.MessageID = uuid.New().String()
	b, _ := json.Marshal(c.current)
	c.sent = true
	return b
}
