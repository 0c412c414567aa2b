// Package mission contains the waypoint mission model. Missions are
// assembled with a Builder and are read-only once built.
package mission

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/tiiuae/coverageengine/internal/geo"
)

type ActionType int

const (
	GimbalPitch ActionType = iota
	TakePhoto
	StartTakePhoto
	StopTakePhoto
)

func (a ActionType) String() string {
	switch a {
	case GimbalPitch:
		return "GIMBAL_PITCH"
	case TakePhoto:
		return "TAKE_PHOTO"
	case StartTakePhoto:
		return "START_TAKE_PHOTO"
	case StopTakePhoto:
		return "STOP_TAKE_PHOTO"
	default:
		return "UNKNOWN"
	}
}

func (a ActionType) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *ActionType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for _, t := range []ActionType{GimbalPitch, TakePhoto, StartTakePhoto, StopTakePhoto} {
		if t.String() == s {
			*a = t
			return nil
		}
	}
	return errors.Errorf("unknown action type %q", s)
}

type Action struct {
	Type  ActionType `json:"type"`
	Value float32    `json:"value"`
}

type Waypoint struct {
	Coordinate            geo.Point `json:"coordinate"`
	Altitude              float32   `json:"altitude"`
	Heading               int       `json:"heading"`
	GimbalPitch           float32   `json:"gimbal_pitch"`
	Actions               []Action  `json:"actions,omitempty"`
	PhotoDistanceInterval float32   `json:"photo_distance_interval"`
}

func (w Waypoint) clone() Waypoint {
	w.Actions = append([]Action(nil), w.Actions...)
	return w
}

type FinishedAction int

const (
	FinishNone FinishedAction = iota
	FinishGoHome
	FinishAutoLand
	FinishGoFirstWaypoint
)

func (f FinishedAction) String() string {
	switch f {
	case FinishNone:
		return "NONE"
	case FinishGoHome:
		return "GO_HOME"
	case FinishAutoLand:
		return "AUTO_LAND"
	case FinishGoFirstWaypoint:
		return "GO_FIRST_WAYPOINT"
	default:
		return "UNKNOWN"
	}
}

// ParseFinishedAction accepts the names printed by String.
func ParseFinishedAction(s string) (FinishedAction, error) {
	for _, f := range []FinishedAction{FinishNone, FinishGoHome, FinishAutoLand, FinishGoFirstWaypoint} {
		if f.String() == s {
			return f, nil
		}
	}
	return FinishNone, errors.Errorf("unknown finished action %q", s)
}

type HeadingMode int

const (
	HeadingAuto HeadingMode = iota
	HeadingUsingInitialDirection
	HeadingControlByRemote
	HeadingUsingWaypointHeading
	HeadingTowardPointOfInterest
)

func (h HeadingMode) String() string {
	switch h {
	case HeadingAuto:
		return "AUTO"
	case HeadingUsingInitialDirection:
		return "USING_INITIAL_DIRECTION"
	case HeadingControlByRemote:
		return "CONTROL_BY_REMOTE_CONTROLLER"
	case HeadingUsingWaypointHeading:
		return "USING_WAYPOINT_HEADING"
	case HeadingTowardPointOfInterest:
		return "TOWARD_POINT_OF_INTEREST"
	default:
		return "UNKNOWN"
	}
}

func ParseHeadingMode(s string) (HeadingMode, error) {
	for _, h := range []HeadingMode{HeadingAuto, HeadingUsingInitialDirection, HeadingControlByRemote, HeadingUsingWaypointHeading, HeadingTowardPointOfInterest} {
		if h.String() == s {
			return h, nil
		}
	}
	return HeadingAuto, errors.Errorf("unknown heading mode %q", s)
}

// Params are the mission level flight settings.
type Params struct {
	AutoFlightSpeed float32
	MaxFlightSpeed  float32
	FinishedAction  FinishedAction
	HeadingMode     HeadingMode
}

// Mission is an ordered, immutable list of waypoints plus flight
// parameters. The zero value is an empty mission.
type Mission struct {
	waypoints []Waypoint
	params    Params
}

// NewMission builds a mission without validating coordinates. Planner
// output goes through here; anything user supplied should use Builder.
func NewMission(waypoints []Waypoint, params Params) *Mission {
	m := &Mission{params: params, waypoints: make([]Waypoint, len(waypoints))}
	for i, w := range waypoints {
		m.waypoints[i] = w.clone()
	}
	return m
}

func (m *Mission) Len() int {
	return len(m.waypoints)
}

// Waypoint returns the i'th waypoint. It panics if i is out of range.
func (m *Mission) Waypoint(i int) Waypoint {
	return m.waypoints[i].clone()
}

// Waypoints returns a copy of the waypoint list.
func (m *Mission) Waypoints() []Waypoint {
	out := make([]Waypoint, len(m.waypoints))
	for i, w := range m.waypoints {
		out[i] = w.clone()
	}
	return out
}

func (m *Mission) Coordinates() []geo.Point {
	out := make([]geo.Point, len(m.waypoints))
	for i, w := range m.waypoints {
		out[i] = w.Coordinate
	}
	return out
}

func (m *Mission) AutoFlightSpeed() float32       { return m.params.AutoFlightSpeed }
func (m *Mission) MaxFlightSpeed() float32        { return m.params.MaxFlightSpeed }
func (m *Mission) FinishedAction() FinishedAction { return m.params.FinishedAction }
func (m *Mission) HeadingMode() HeadingMode       { return m.params.HeadingMode }
func (m *Mission) Params() Params                 { return m.params }

// Validate checks that every coordinate is a usable fix.
func (m *Mission) Validate() error {
	for i, w := range m.waypoints {
		if !w.Coordinate.Valid() {
			return errors.WithMessagef(ErrInvalidMission, "waypoint %d has invalid coordinate %v,%v",
				i, w.Coordinate.Latitude, w.Coordinate.Longitude)
		}
	}
	return nil
}

type missionJSON struct {
	Waypoints       []Waypoint `json:"waypoints"`
	AutoFlightSpeed float32    `json:"auto_flight_speed"`
	MaxFlightSpeed  float32    `json:"max_flight_speed"`
	FinishedAction  string     `json:"finished_action"`
	HeadingMode     string     `json:"heading_mode"`
}

func (m *Mission) MarshalJSON() ([]byte, error) {
	return json.Marshal(missionJSON{
		Waypoints:       m.waypoints,
		AutoFlightSpeed: m.params.AutoFlightSpeed,
		MaxFlightSpeed:  m.params.MaxFlightSpeed,
		FinishedAction:  m.params.FinishedAction.String(),
		HeadingMode:     m.params.HeadingMode.String(),
	})
}
