package types

import (
	"github.com/tiiuae/coverageengine/internal/geo"
)

// Bus message types.
const (
	MessagePlanSurvey        = "plan-survey"
	MessageSurveyPlanned     = "survey-planned"
	MessageLoadPlan          = "load-plan"
	MessageUploadMission     = "upload-mission"
	MessageStartMission      = "start-mission"
	MessageStopMission       = "stop-mission"
	MessagePauseMission      = "pause-mission"
	MessageResumeMission     = "resume-mission"
	MessageMissionState      = "mission-state"
	MessageExecutionStarted  = "execution-started"
	MessageExecutionFinished = "execution-finished"
	MessageCommandFailed     = "command-failed"
	MessageGlobalPosition    = "global-position"
)

type PlanSurvey struct {
	Polygon        []geo.Point `json:"polygon"`
	SpacingFeet    float64     `json:"spacing_feet"`
	SpacingMeters  float64     `json:"spacing_meters,omitempty"`
	BoundingPoints []geo.Point `json:"bounding_points,omitempty"`
	// Start takes off as soon as the upload succeeds.
	Start bool `json:"start,omitempty"`
}

type SurveyPlanned struct {
	PlanID    string      `json:"plan_id"`
	Waypoints []geo.Point `json:"waypoints"`
}

type LoadPlan struct {
	PlanID string `json:"plan_id"`
}

type UploadMission struct{}

type StartMission struct{}

type StopMission struct{}

type PauseMission struct{}

type ResumeMission struct{}

type MissionState struct {
	State         string `json:"state"`
	PlanID        string `json:"plan_id"`
	WaypointIndex int    `json:"waypoint_index"`
	WaypointCount int    `json:"waypoint_count"`
}

type ExecutionStarted struct {
	PlanID string `json:"plan_id"`
}

type ExecutionFinished struct {
	PlanID    string `json:"plan_id"`
	Cancelled bool   `json:"cancelled"`
	Error     string `json:"error,omitempty"`
}

type CommandFailed struct {
	Command string `json:"command"`
	Error   string `json:"error"`
}

type GlobalPosition struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
}
