// Package gateway defines the boundary between the mission operator and the
// aircraft, plus an in-process simulated aircraft.
package gateway

import (
	"context"

	"github.com/tiiuae/coverageengine/internal/geo"
	"github.com/tiiuae/coverageengine/internal/mission"
)

type Position struct {
	geo.Point
	Altitude float64 `json:"alt"`
}

// DirectionCommand is a body velocity command. Pitch moves the aircraft
// along longitude and roll along latitude, both in m/s. Yaw is a heading in
// degrees and Throttle the target altitude in meters.
type DirectionCommand struct {
	Pitch    float32 `json:"pitch"`
	Roll     float32 `json:"roll"`
	Yaw      float32 `json:"yaw"`
	Throttle float32 `json:"throttle"`
}

// ActuatorGateway is the flight stack. SendVelocityCommand is fire and
// forget; the aircraft drops a command that is not refreshed.
type ActuatorGateway interface {
	// SubscribePosition registers fn for every position sample until the
	// returned function is called.
	SubscribePosition(fn func(Position)) (unsubscribe func())
	Takeoff(ctx context.Context) error
	Land(ctx context.Context) error
	SetControlMode(enabled bool) error
	SendVelocityCommand(cmd DirectionCommand)
}

// Uploader is implemented by gateways that want the waypoint list before
// the flight starts.
type Uploader interface {
	UploadWaypoints(ctx context.Context, waypoints []mission.Waypoint) error
}

// ActionPerformer is implemented by gateways that can run waypoint actions
// such as gimbal pitch or photo capture.
type ActionPerformer interface {
	PerformAction(ctx context.Context, action mission.Action) error
}
