// Package missioncontrol connects the message bus to the mission
// operator: survey requests are planned, stored, loaded and uploaded, and
// operator progress is posted back to the bus.
package missioncontrol

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tiiuae/coverageengine/internal/log"
	"github.com/tiiuae/coverageengine/internal/mission"
	"github.com/tiiuae/coverageengine/internal/operator"
	"github.com/tiiuae/coverageengine/internal/planner"
	"github.com/tiiuae/coverageengine/internal/store"
	"github.com/tiiuae/coverageengine/internal/types"
)

var ErrEmptySurvey = errors.New("survey area produced no waypoints")

type Options struct {
	DeviceID string
	// SpacingFeet is used when a survey request has no spacing.
	SpacingFeet float64
	Params      planner.MissionParams
	// UploadRetries is how many times a rejected upload is retried after
	// reloading the mission, waiting UploadDelay before each attempt.
	UploadRetries int
	UploadDelay   time.Duration
}

type missionControl struct {
	me     string
	opts   Options
	op     *operator.Operator
	plans  store.PlanStore
	logger *log.Logger
	inbox  chan types.Message

	// Operator callbacks run on operator goroutines; they queue events
	// here and the Run loop handles them in order.
	mu      sync.Mutex
	pending []event
	wake    chan struct{}

	planID       string
	mission      *mission.Mission
	startOnReady bool
	retry        *time.Timer
}

type event interface{}

type stateChanged struct {
	state operator.State
}

type uploadDone struct {
	planID  string
	attempt int
	err     error
}

type retryUpload struct {
	planID  string
	attempt int
}

type commandDone struct {
	command string
	err     error
}

type executionStarted struct{}

type executionFinished struct {
	err error
}

func New(op *operator.Operator, plans store.PlanStore, opts Options, logger *log.Logger) types.MessageHandler {
	mc := &missionControl{
		me:     opts.DeviceID,
		opts:   opts,
		op:     op,
		plans:  plans,
		logger: logger.With("component", "missioncontrol"),
		inbox:  make(chan types.Message, 10),
		wake:   make(chan struct{}, 1),
	}
	op.OnStateChange(func(s operator.State) { mc.enqueue(stateChanged{s}) })
	op.AddExecutionListener(mc)
	return mc
}

func (mc *missionControl) enqueue(ev event) {
	mc.mu.Lock()
	mc.pending = append(mc.pending, ev)
	mc.mu.Unlock()
	select {
	case mc.wake <- struct{}{}:
	default:
	}
}

func (mc *missionControl) drain() []event {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	evs := mc.pending
	mc.pending = nil
	return evs
}

func (mc *missionControl) OnExecutionStart() {
	mc.enqueue(executionStarted{})
}

func (mc *missionControl) OnExecutionFinish(err error) {
	mc.enqueue(executionFinished{err})
}

func (mc *missionControl) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	wg.Add(1)
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			if mc.retry != nil {
				mc.retry.Stop()
			}
			mc.logger.Info("MissionControl shutting down")
			return
		case msg := <-mc.inbox:
			for _, x := range mc.handleMessage(ctx, msg) {
				post(x)
			}
		case <-mc.wake:
			for _, ev := range mc.drain() {
				for _, x := range mc.handleEvent(ev) {
					post(x)
				}
			}
		}
	}
}

func (mc *missionControl) Receive(message types.Message) {
	mc.inbox <- message
}

func (mc *missionControl) handleMessage(ctx context.Context, msg types.Message) []types.Message {
	switch m := msg.Message.(type) {
	case types.PlanSurvey:
		return mc.handlePlanSurvey(ctx, m)
	case types.LoadPlan:
		return mc.handleLoadPlan(ctx, m)
	case types.UploadMission:
		mc.startOnReady = false
		mc.op.UploadMission(mc.uploadCallback(mc.planID, 0))
	case types.StartMission:
		mc.op.StartMission(mc.commandCallback(types.MessageStartMission))
	case types.StopMission:
		mc.startOnReady = false
		mc.op.StopMission(mc.commandCallback(types.MessageStopMission))
	case types.PauseMission:
		mc.op.PauseMission(mc.commandCallback(types.MessagePauseMission))
	case types.ResumeMission:
		mc.op.ResumeMission(mc.commandCallback(types.MessageResumeMission))
	}
	return nil
}

func (mc *missionControl) handlePlanSurvey(ctx context.Context, m types.PlanSurvey) []types.Message {
	spacing := m.SpacingFeet
	if spacing == 0 && m.SpacingMeters > 0 {
		spacing = planner.SpacingFeetFromMeters(m.SpacingMeters)
	}
	if spacing == 0 {
		spacing = mc.opts.SpacingFeet
	}

	points, err := planner.CreateFlightPlan(m.Polygon, spacing, m.BoundingPoints)
	if err != nil {
		return mc.failed(types.MessagePlanSurvey, err)
	}
	if len(points) == 0 {
		return mc.failed(types.MessagePlanSurvey, ErrEmptySurvey)
	}

	plan := store.Plan{
		ID:          uuid.New().String(),
		CreatedAt:   time.Now().UTC(),
		Polygon:     m.Polygon,
		SpacingFeet: spacing,
		Waypoints:   points,
	}
	if err := mc.plans.Save(ctx, plan); err != nil {
		mc.logger.Warn("plan not stored", "plan", plan.ID, "error", err)
	}
	mc.logger.Info("survey planned", "plan", plan.ID, "waypoints", len(points), "spacing_ft", spacing)
	return mc.load(plan, m.Start, types.MessagePlanSurvey)
}

func (mc *missionControl) handleLoadPlan(ctx context.Context, m types.LoadPlan) []types.Message {
	var plan store.Plan
	var err error
	if m.PlanID == "" {
		plan, err = mc.plans.Latest(ctx)
	} else {
		plan, err = mc.plans.Load(ctx, m.PlanID)
	}
	if err != nil {
		return mc.failed(types.MessageLoadPlan, err)
	}
	return mc.load(plan, false, types.MessageLoadPlan)
}

func (mc *missionControl) load(plan store.Plan, start bool, command string) []types.Message {
	m := planner.CreateFlightMissionFromCoordinates(plan.Waypoints, mc.opts.Params)
	if err := m.Validate(); err != nil {
		return mc.failed(command, err)
	}
	if err := mc.op.LoadMission(m); err != nil {
		return mc.failed(command, err)
	}
	mc.planID = plan.ID
	mc.mission = m
	mc.startOnReady = start
	mc.op.UploadMission(mc.uploadCallback(plan.ID, 0))
	return nil
}

func (mc *missionControl) uploadCallback(planID string, attempt int) operator.Callback {
	return func(err error) { mc.enqueue(uploadDone{planID, attempt, err}) }
}

func (mc *missionControl) commandCallback(command string) operator.Callback {
	return func(err error) { mc.enqueue(commandDone{command, err}) }
}

func (mc *missionControl) handleEvent(ev event) []types.Message {
	switch e := ev.(type) {
	case stateChanged:
		p := mc.op.Progress()
		return []types.Message{types.CreateMessage(types.MessageMissionState, mc.me, "*", types.MissionState{
			State:         e.state.String(),
			PlanID:        mc.planID,
			WaypointIndex: p.WaypointIndex,
			WaypointCount: p.WaypointCount,
		})}
	case uploadDone:
		return mc.handleUploadDone(e)
	case retryUpload:
		if e.planID != mc.planID {
			return nil
		}
		if err := mc.op.LoadMission(mc.mission); err != nil {
			return mc.failed(types.MessageUploadMission, err)
		}
		mc.op.RetryUploadMission(mc.uploadCallback(e.planID, e.attempt))
	case commandDone:
		if e.err != nil {
			return mc.failed(e.command, e.err)
		}
	case executionStarted:
		return []types.Message{types.CreateMessage(types.MessageExecutionStarted, mc.me, "*", types.ExecutionStarted{PlanID: mc.planID})}
	case executionFinished:
		finished := types.ExecutionFinished{PlanID: mc.planID, Cancelled: errors.Is(e.err, mission.ErrExecutionCancelled)}
		if e.err != nil {
			finished.Error = e.err.Error()
		}
		return []types.Message{types.CreateMessage(types.MessageExecutionFinished, mc.me, "*", finished)}
	}
	return nil
}

func (mc *missionControl) handleUploadDone(e uploadDone) []types.Message {
	if e.planID != mc.planID {
		return nil
	}
	if e.err != nil {
		if e.attempt < mc.opts.UploadRetries && mc.mission != nil {
			mc.logger.Warn("upload failed, retrying", "plan", e.planID, "attempt", e.attempt+1, "error", e.err)
			next := retryUpload{e.planID, e.attempt + 1}
			mc.retry = time.AfterFunc(mc.opts.UploadDelay, func() { mc.enqueue(next) })
			return nil
		}
		mc.startOnReady = false
		return mc.failed(types.MessageUploadMission, e.err)
	}

	var out []types.Message
	if mc.mission != nil {
		out = append(out, types.CreateMessage(types.MessageSurveyPlanned, mc.me, "*", types.SurveyPlanned{
			PlanID:    mc.planID,
			Waypoints: mc.mission.Coordinates(),
		}))
	}
	if mc.startOnReady {
		mc.startOnReady = false
		mc.op.StartMission(mc.commandCallback(types.MessageStartMission))
	}
	return out
}

func (mc *missionControl) failed(command string, err error) []types.Message {
	mc.logger.Warn("command failed", "command", command, "error", err)
	return []types.Message{types.CreateMessage(types.MessageCommandFailed, mc.me, "*", types.CommandFailed{
		Command: command,
		Error:   err.Error(),
	})}
}
