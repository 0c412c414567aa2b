// Package operator flies a loaded mission by steering the aircraft with
// velocity commands. The aircraft has no waypoint following of its own, so
// the operator closes the loop: every position sample produces a new
// command, and the newest command is re-sent at a fixed cadence until the
// next sample replaces it.
//
// Axis convention: the longitude error drives the pitch axis and the
// latitude error drives the roll axis. Yaw carries the waypoint heading and
// throttle the waypoint altitude.
package operator

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tiiuae/coverageengine/internal/gateway"
	"github.com/tiiuae/coverageengine/internal/geo"
	"github.com/tiiuae/coverageengine/internal/log"
	"github.com/tiiuae/coverageengine/internal/mission"
)

type ExecutionListener interface {
	OnExecutionStart()
	OnExecutionFinish(err error)
}

// Callback receives the outcome of an asynchronous operation. It is never
// called with the operator lock held.
type Callback func(err error)

type Progress struct {
	State         State `json:"state"`
	WaypointIndex int   `json:"waypoint_index"`
	WaypointCount int   `json:"waypoint_count"`
}

// Operator owns the mission state machine. Blocking gateway calls
// (takeoff, landing, control mode, upload) are made without the operator
// lock. SubscribePosition and SendVelocityCommand are called with it held
// and must not call back into the operator synchronously.
type Operator struct {
	gw     gateway.ActuatorGateway
	cfg    Config
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         State
	mission       *mission.Mission
	waypoints     []mission.Waypoint
	loadSeq       int
	uploading     bool
	run           *run
	generation    uint64
	waypointIndex int
	listener      ExecutionListener
	observer      func(State)
	// after holds calls queued under the lock; unlock runs them once the
	// lock is released.
	after []func()
}

// run is one takeoff-to-landing execution of a mission.
type run struct {
	ctx        context.Context
	cancel     context.CancelFunc
	generation uint64
	autoSpeed  float32

	index      int
	leg        leg
	command    gateway.DirectionCommand
	hasCommand bool
	reset      chan struct{}

	unsubscribe func()
	tookOff     bool
	paused      bool
	stopped     bool

	done    chan struct{}
	landErr error
}

// leg is the per-waypoint tracking state. The origin distances are
// captured from the first position sample after the waypoint became the
// target and stay fixed for the rest of the leg.
type leg struct {
	started              bool
	originLon, originLat float64
	lonArrived           bool
	latArrived           bool
}

func New(gw gateway.ActuatorGateway, cfg Config, logger *log.Logger) *Operator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Operator{
		gw:     gw,
		cfg:    cfg,
		logger: logger.With("component", "operator"),
		ctx:    ctx,
		cancel: cancel,
		state:  NotReady,
	}
}

func (o *Operator) unlock() {
	after := o.after
	o.after = nil
	o.mu.Unlock()
	for _, fn := range after {
		fn()
	}
}

func (o *Operator) setState(s State) {
	if o.state == s {
		return
	}
	o.logger.Info("state change", "from", o.state.String(), "to", s.String())
	o.state = s
	if obs := o.observer; obs != nil {
		o.after = append(o.after, func() { obs(s) })
	}
}

func (o *Operator) report(cb Callback, err error) {
	if cb != nil {
		o.after = append(o.after, func() { cb(err) })
	}
}

func (o *Operator) CurrentState() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Operator) Progress() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Progress{State: o.state, WaypointIndex: o.waypointIndex, WaypointCount: len(o.waypoints)}
}

// Mission returns the loaded mission, or nil.
func (o *Operator) Mission() *mission.Mission {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mission
}

// AddExecutionListener sets the single execution listener, replacing any
// previous one.
func (o *Operator) AddExecutionListener(l ExecutionListener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listener = l
}

func (o *Operator) RemoveExecutionListener() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listener = nil
}

// OnStateChange registers fn to be called after every state transition.
func (o *Operator) OnStateChange(fn func(State)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observer = fn
}

func (o *Operator) LoadMission(m *mission.Mission) error {
	o.mu.Lock()
	defer o.unlock()

	if o.state == Idle {
		return errors.WithMessage(mission.ErrMissionFailed, "operator closed")
	}
	if o.run != nil {
		return errors.WithMessagef(mission.ErrMissionFailed, "cannot load a mission while %s", o.state)
	}
	o.loadSeq++
	o.uploading = false
	o.waypointIndex = 0
	if m == nil {
		o.mission, o.waypoints = nil, nil
		o.setState(NotReady)
		return mission.ErrNullMission
	}
	o.mission = m
	o.waypoints = m.Waypoints()
	o.setState(ReadyToUpload)
	return nil
}

// UploadMission hands the waypoints to the gateway when it implements
// gateway.Uploader. Any failure leaves the operator in NOT_READY; the
// mission has to be loaded again before a retry.
func (o *Operator) UploadMission(cb Callback) {
	o.mu.Lock()
	defer o.unlock()

	if o.state != ReadyToUpload || o.uploading {
		err := errors.WithMessagef(mission.ErrUploadingWaypoint, "cannot upload while %s", o.state)
		if o.run == nil && !o.uploading && o.state != Idle {
			o.setState(NotReady)
		}
		o.report(cb, err)
		return
	}
	if len(o.waypoints) == 0 {
		o.setState(NotReady)
		o.report(cb, errors.WithMessage(mission.ErrUploadingWaypoint, "mission has no waypoints"))
		return
	}

	up, ok := o.gw.(gateway.Uploader)
	if !ok {
		o.setState(ReadyToStart)
		o.report(cb, nil)
		return
	}

	o.uploading = true
	seq := o.loadSeq
	waypoints := o.waypoints
	go func() {
		ctx, cancel := context.WithTimeout(o.ctx, o.cfg.UploadTimeout)
		err := up.UploadWaypoints(ctx, waypoints)
		cancel()

		o.mu.Lock()
		defer o.unlock()
		if seq != o.loadSeq || o.state != ReadyToUpload {
			o.report(cb, errors.WithMessage(mission.ErrUploadingWaypoint, "mission replaced during upload"))
			return
		}
		o.uploading = false
		if err != nil {
			o.logger.Warn("upload rejected", "error", err)
			o.setState(NotReady)
			o.report(cb, errors.WithMessage(mission.ErrUploadingWaypoint, err.Error()))
			return
		}
		o.setState(ReadyToStart)
		o.report(cb, nil)
	}()
}

func (o *Operator) RetryUploadMission(cb Callback) {
	o.UploadMission(cb)
}

// StartMission takes off and begins executing the mission. A takeoff
// failure is reported as ErrTakeoffFailed wrapping the gateway error and
// leaves the operator in READY_TO_START.
func (o *Operator) StartMission(cb Callback) {
	o.mu.Lock()
	defer o.unlock()

	if o.state != ReadyToStart || o.run != nil {
		o.report(cb, errors.WithMessagef(mission.ErrMissionFailed, "cannot start while %s", o.state))
		return
	}

	o.generation++
	ctx, cancel := context.WithCancel(o.ctx)
	r := &run{
		ctx:        ctx,
		cancel:     cancel,
		generation: o.generation,
		autoSpeed:  o.mission.AutoFlightSpeed(),
		reset:      make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	if !(r.autoSpeed > 0) {
		r.autoSpeed = o.cfg.DefaultAutoFlightSpeed
	}
	o.run = r
	o.waypointIndex = 0
	o.logger.Info("taking off", "waypoints", len(o.waypoints), "speed", r.autoSpeed)

	go o.takeoff(r, cb)
}

func (o *Operator) takeoff(r *run, cb Callback) {
	err := o.gw.Takeoff(r.ctx)

	o.mu.Lock()
	if r.stopped {
		o.report(cb, mission.ErrExecutionCancelled)
		o.unlock()
		return
	}
	if err != nil {
		o.logger.Warn("takeoff failed", "error", err)
		o.run = nil
		r.cancel()
		o.report(cb, mission.Failed(mission.ErrTakeoffFailed, err))
		o.unlock()
		return
	}
	r.tookOff = true
	o.setState(ReadyToExecute)
	o.report(cb, nil)
	o.unlock()

	err = o.gw.SetControlMode(true)

	o.mu.Lock()
	if r.stopped || o.run != r {
		o.unlock()
		// the landing may have switched velocity control off before this
		// request went through
		if err == nil {
			if err := o.gw.SetControlMode(false); err != nil {
				o.logger.Warn("disabling velocity control failed", "error", err)
			}
		}
		return
	}
	defer o.unlock()
	if err != nil {
		o.logger.Error("enabling velocity control failed", "error", err)
		o.halt(r, errors.WithMessage(err, "enabling velocity control"))
		return
	}
	r.unsubscribe = o.gw.SubscribePosition(func(p gateway.Position) { o.onPosition(r, p) })
	o.setState(ExecutionStarting)
	go o.repeat(r)
}

func (o *Operator) onPosition(r *run, p gateway.Position) {
	o.mu.Lock()
	defer o.unlock()

	if o.run != r || r.stopped {
		return
	}
	if o.state == ExecutionStarting {
		o.setState(Executing)
		if l := o.listener; l != nil {
			o.after = append(o.after, l.OnExecutionStart)
		}
	}
	if r.paused {
		return
	}
	if o.advance(r, p.Point) {
		o.logger.Info("mission complete", "waypoints", len(o.waypoints))
		o.halt(r, nil)
	}
}

// advance runs one control step for position pos. It reports true once
// the last waypoint has been reached.
func (o *Operator) advance(r *run, pos geo.Point) bool {
	eps := o.cfg.ArrivalEpsilon
	for r.index < len(o.waypoints) {
		target := o.waypoints[r.index]
		dLon := target.Coordinate.Longitude - pos.Longitude
		dLat := target.Coordinate.Latitude - pos.Latitude

		if !r.leg.started {
			r.leg = leg{started: true, originLon: math.Abs(dLon), originLat: math.Abs(dLat)}
			east, north := geo.OffsetMeters(pos, target.Coordinate)
			o.logger.Debug("leg started", "waypoint", r.index,
				"distance_m", geo.GreatCircleDistance(pos, target.Coordinate),
				"east_m", east, "north_m", north)
		}
		if math.Abs(dLon) < eps {
			r.leg.lonArrived = true
		}
		if math.Abs(dLat) < eps {
			r.leg.latArrived = true
		}

		if !r.leg.lonArrived || !r.leg.latArrived {
			cmd := gateway.DirectionCommand{Yaw: float32(target.Heading), Throttle: target.Altitude}
			if !r.leg.lonArrived {
				cmd.Pitch = axisSpeed(dLon, r.leg.originLon, r.autoSpeed, o.cfg.MinimumSpeed)
			}
			if !r.leg.latArrived {
				cmd.Roll = axisSpeed(dLat, r.leg.originLat, r.autoSpeed, o.cfg.MinimumSpeed)
			}
			o.emit(r, cmd)
			return false
		}

		o.logger.Info("waypoint reached", "waypoint", r.index, "count", len(o.waypoints))
		o.performActions(r, target.Actions)
		r.index++
		r.leg = leg{}
		o.waypointIndex = r.index
	}
	return true
}

// axisSpeed scales auto speed by the remaining fraction of the leg on one
// axis, floored at minimum and capped at auto.
func axisSpeed(diff, origin float64, auto, minimum float32) float32 {
	speed := auto
	if origin > 0 {
		speed = auto * float32(math.Abs(diff)/origin)
	}
	speed = geo.Clamp(speed, min(minimum, auto), auto)
	return float32(math.Copysign(float64(speed), diff))
}

// emit sends cmd right away and restarts the repeat cadence.
func (o *Operator) emit(r *run, cmd gateway.DirectionCommand) {
	r.command = cmd
	r.hasCommand = true
	o.gw.SendVelocityCommand(cmd)
	select {
	case r.reset <- struct{}{}:
	default:
	}
}

// repeat re-sends the latest command every CommandInterval. It exits when
// the run is cancelled or superseded by a newer generation.
func (o *Operator) repeat(r *run) {
	ticker := time.NewTicker(o.cfg.CommandInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.reset:
			ticker.Reset(o.cfg.CommandInterval)
		case <-ticker.C:
			o.mu.Lock()
			if r.stopped || r.generation != o.generation {
				o.mu.Unlock()
				return
			}
			if r.hasCommand {
				o.gw.SendVelocityCommand(r.command)
			}
			o.mu.Unlock()
		}
	}
}

func (o *Operator) performActions(r *run, actions []mission.Action) {
	ap, ok := o.gw.(gateway.ActionPerformer)
	if !ok || len(actions) == 0 {
		return
	}
	ctx := r.ctx
	go func() {
		for _, a := range actions {
			if err := ap.PerformAction(ctx, a); err != nil {
				o.logger.Warn("waypoint action failed", "action", a.Type.String(), "error", err)
			}
		}
	}()
}

// hover holds the aircraft in place at the heading and altitude of the
// current waypoint, or of the last one once the mission is complete.
func (o *Operator) hover(r *run) gateway.DirectionCommand {
	if len(o.waypoints) == 0 {
		return gateway.DirectionCommand{}
	}
	w := o.waypoints[min(r.index, len(o.waypoints)-1)]
	return gateway.DirectionCommand{Yaw: float32(w.Heading), Throttle: w.Altitude}
}

// halt ends run r: a hover command is the last one sent, the listener is
// told the run finished with reason, and landing starts in the
// background. It does nothing if r was already halted. o.mu must be held.
func (o *Operator) halt(r *run, reason error) bool {
	if r.stopped {
		return false
	}
	r.stopped = true
	r.cancel()
	o.generation++
	if r.tookOff {
		o.gw.SendVelocityCommand(o.hover(r))
		if l := o.listener; l != nil {
			o.after = append(o.after, func() { l.OnExecutionFinish(reason) })
		}
	}
	o.setState(ExecutionStopping)
	go o.land(r)
	return true
}

func (o *Operator) land(r *run) {
	o.mu.Lock()
	unsubscribe := r.unsubscribe
	o.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	if err := o.gw.SetControlMode(false); err != nil {
		o.logger.Warn("disabling velocity control failed", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.LandTimeout)
	err := mission.Failed(mission.ErrLandingFailed, o.gw.Land(ctx))
	cancel()

	o.mu.Lock()
	defer o.unlock()
	if err != nil {
		o.logger.Error("landing failed", "error", err)
	} else {
		o.logger.Info("landed")
	}
	r.landErr = err
	if o.run == r {
		o.run = nil
	}
	if o.state != Idle {
		o.setState(NotReady)
	}
	close(r.done)
}

// StopMission cancels the running mission and lands. It is safe to call
// concurrently and repeatedly; the aircraft is told to land once and every
// caller receives the landing result.
func (o *Operator) StopMission(cb Callback) {
	o.mu.Lock()
	r := o.run
	if r == nil {
		o.report(cb, errors.WithMessagef(mission.ErrMissionFailed, "no mission running (%s)", o.state))
		o.unlock()
		return
	}
	if o.halt(r, mission.ErrExecutionCancelled) {
		o.logger.Info("mission stopped", "waypoint", r.index)
	}
	o.unlock()

	if cb != nil {
		go func() {
			<-r.done
			cb(r.landErr)
		}()
	}
}

// PauseMission holds the aircraft in place. Position samples are ignored
// while paused and a hover command keeps being repeated.
func (o *Operator) PauseMission(cb Callback) {
	o.mu.Lock()
	defer o.unlock()

	r := o.run
	if o.state != Executing || r == nil {
		o.report(cb, errors.WithMessagef(mission.ErrMissionFailed, "cannot pause while %s", o.state))
		return
	}
	r.paused = true
	o.emit(r, o.hover(r))
	o.setState(ExecutionPaused)
	o.report(cb, nil)
}

// ResumeMission continues towards the current waypoint. The leg is
// restarted from the position at the next sample.
func (o *Operator) ResumeMission(cb Callback) {
	o.mu.Lock()
	defer o.unlock()

	r := o.run
	if o.state != ExecutionPaused || r == nil {
		o.report(cb, errors.WithMessagef(mission.ErrMissionFailed, "cannot resume while %s", o.state))
		return
	}
	r.paused = false
	r.leg = leg{}
	o.setState(Executing)
	o.report(cb, nil)
}

// Close stops any running mission, waits for the landing to finish and
// leaves the operator in IDLE. Every later call fails.
func (o *Operator) Close() {
	o.mu.Lock()
	if o.state == Idle {
		o.unlock()
		return
	}
	r := o.run
	if r != nil {
		o.halt(r, mission.ErrExecutionCancelled)
	}
	o.setState(Idle)
	o.cancel()
	o.unlock()

	if r != nil {
		<-r.done
	}
}
