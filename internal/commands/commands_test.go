package commands

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/tiiuae/coverageengine/internal/geo"
	"github.com/tiiuae/coverageengine/internal/types"
)

func TestParseControlCommand(t *testing.T) {
	tests := []struct {
		input       string
		messageType string
		payload     interface{}
	}{
		{`{"command": "start-mission"}`, types.MessageStartMission, types.StartMission{}},
		{`{"command": "stop-mission", "timestamp": "2026-10-19T08:00:00Z"}`, types.MessageStopMission, types.StopMission{}},
		{`{"command": "pause-mission"}`, types.MessagePauseMission, types.PauseMission{}},
		{`{"command": "resume-mission"}`, types.MessageResumeMission, types.ResumeMission{}},
		{`{"command": "upload-mission"}`, types.MessageUploadMission, types.UploadMission{}},
		{`{"command": "load-plan", "payload": "{\"plan_id\": \"p1\"}"}`, types.MessageLoadPlan, types.LoadPlan{PlanID: "p1"}},
		{`{"command": "load-plan"}`, types.MessageLoadPlan, types.LoadPlan{}},
	}

	for _, test := range tests {
		messageType, payload, err := parseControlCommand([]byte(test.input))
		if err != nil {
			t.Errorf("%s: %v", test.input, err)
			continue
		}
		if messageType != test.messageType || payload != test.payload {
			t.Errorf("%s: got %s %+v, expected %s %+v", test.input, messageType, payload, test.messageType, test.payload)
		}
	}
}

func TestParsePlanSurvey(t *testing.T) {
	input := `{"command": "plan-survey", "payload": "{\"polygon\": [{\"lat\": 24.4, \"lon\": 54.6}, {\"lat\": 24.41, \"lon\": 54.6}, {\"lat\": 24.41, \"lon\": 54.61}], \"spacing_feet\": 50, \"start\": true}"}`
	messageType, payload, err := parseControlCommand([]byte(input))
	if err != nil {
		t.Fatal(err)
	}
	survey, ok := payload.(types.PlanSurvey)
	if messageType != types.MessagePlanSurvey || !ok {
		t.Fatalf("got %s %T", messageType, payload)
	}
	if len(survey.Polygon) != 3 || survey.Polygon[2] != (geo.Point{Latitude: 24.41, Longitude: 54.61}) {
		t.Errorf("got polygon %v", survey.Polygon)
	}
	if survey.SpacingFeet != 50 || !survey.Start {
		t.Errorf("got %+v", survey)
	}
}

func TestParseErrors(t *testing.T) {
	if _, _, err := parseControlCommand([]byte(`not json`)); err == nil {
		t.Errorf("expected error for invalid json")
	}
	if messageType, _, err := parseControlCommand([]byte(`{"command": "plan-survey", "payload": "[1,"}`)); err == nil || messageType != types.MessagePlanSurvey {
		t.Errorf("got %s, %v, expected payload error", messageType, err)
	}
	if _, _, err := parseControlCommand([]byte(`{"command": "self-destruct"}`)); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("got %v, expected ErrUnknownCommand", err)
	}
}

func TestRouteControlCommand(t *testing.T) {
	c := New(nil, "drone-1", nil).(*commands)
	ctx := context.Background()

	c.route(ctx, "videostream", []byte(`{"command": "start"}`))
	c.route(ctx, "control", []byte(`{"command": "start-mission"}`))
	c.route(ctx, "control", []byte(`{"command": "warp"}`))

	select {
	case payload := <-c.control:
		m := c.handleControlCommand(payload)
		if m.MessageType != types.MessageStartMission || m.To != "drone-1" {
			t.Errorf("got %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("control command not queued")
	}

	m := c.handleControlCommand(<-c.control)
	failed, ok := m.Message.(types.CommandFailed)
	if m.MessageType != types.MessageCommandFailed || !ok || failed.Command != "warp" {
		t.Errorf("got %+v", m)
	}
}
