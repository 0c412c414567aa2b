package operator

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/tiiuae/coverageengine/internal/gateway"
	"github.com/tiiuae/coverageengine/internal/geo"
	"github.com/tiiuae/coverageengine/internal/mission"
	"github.com/tiiuae/coverageengine/internal/planner"
)

type fakeGateway struct {
	mu           sync.Mutex
	takeoffErr   error
	takeoffBlock chan struct{}
	controlErr   error
	controlBlock chan struct{}
	enabling     int
	landErr      error
	landBlock    chan struct{}
	takeoffs     int
	landings     int
	commands     []gateway.DirectionCommand
	controlMode  []bool
	subs         map[int]func(gateway.Position)
	next         int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{subs: make(map[int]func(gateway.Position))}
}

func (f *fakeGateway) SubscribePosition(fn func(gateway.Position)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *fakeGateway) Takeoff(ctx context.Context) error {
	f.mu.Lock()
	f.takeoffs++
	block, err := f.takeoffBlock, f.takeoffErr
	f.takeoffErr = nil
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeGateway) Land(ctx context.Context) error {
	f.mu.Lock()
	f.landings++
	block, err := f.landBlock, f.landErr
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return err
}

func (f *fakeGateway) SetControlMode(enabled bool) error {
	f.mu.Lock()
	block := f.controlBlock
	if enabled {
		f.enabling++
	}
	f.mu.Unlock()
	if enabled && block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if enabled && f.controlErr != nil {
		return f.controlErr
	}
	f.controlMode = append(f.controlMode, enabled)
	return nil
}

func (f *fakeGateway) SendVelocityCommand(cmd gateway.DirectionCommand) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
}

func (f *fakeGateway) publish(p geo.Point) {
	f.mu.Lock()
	subs := make([]func(gateway.Position), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(gateway.Position{Point: p, Altitude: 30})
	}
}

func (f *fakeGateway) counts() (takeoffs, landings, commands int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.takeoffs, f.landings, len(f.commands)
}

func (f *fakeGateway) lastCommand() gateway.DirectionCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commands[len(f.commands)-1]
}

func (f *fakeGateway) modes() (enabling int, modes []bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabling, append([]bool(nil), f.controlMode...)
}

func (f *fakeGateway) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeGateway) allCommands() []gateway.DirectionCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.DirectionCommand(nil), f.commands...)
}

type recorder struct {
	mu       sync.Mutex
	started  int
	finished []error
	done     chan error
}

func newRecorder() *recorder {
	return &recorder{done: make(chan error, 4)}
}

func (r *recorder) OnExecutionStart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *recorder) OnExecutionFinish(err error) {
	r.mu.Lock()
	r.finished = append(r.finished, err)
	r.mu.Unlock()
	r.done <- err
}

func (r *recorder) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func callback() (Callback, <-chan error) {
	ch := make(chan error, 1)
	return func(err error) { ch <- err }, ch
}

func wait(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CommandInterval = 10 * time.Millisecond
	return cfg
}

func testMission(points ...geo.Point) *mission.Mission {
	b := mission.NewBuilder().AutoFlightSpeed(5).MaxFlightSpeed(10)
	for _, p := range points {
		b.AddWaypoint(mission.Waypoint{Coordinate: p, Altitude: 30, Heading: 90})
	}
	m, err := b.Build()
	if err != nil {
		panic(err)
	}
	return m
}

var (
	home   = geo.Point{Latitude: 24.4000, Longitude: 54.6000}
	target = geo.Point{Latitude: 24.4005, Longitude: 54.6005}
)

func readyToStart(t *testing.T, o *Operator, m *mission.Mission) {
	t.Helper()
	if err := o.LoadMission(m); err != nil {
		t.Fatal(err)
	}
	cb, ch := callback()
	o.UploadMission(cb)
	if err := wait(t, ch); err != nil {
		t.Fatal(err)
	}
	if s := o.CurrentState(); s != ReadyToStart {
		t.Fatalf("got %v, expected READY_TO_START", s)
	}
}

func executing(t *testing.T, gw *fakeGateway, o *Operator) {
	t.Helper()
	cb, ch := callback()
	o.StartMission(cb)
	if err := wait(t, ch); err != nil {
		t.Fatal(err)
	}
	if s := o.CurrentState(); s != ExecutionStarting {
		t.Fatalf("got %v, expected EXECUTION_STARTING", s)
	}
	gw.publish(home)
	if s := o.CurrentState(); s != Executing {
		t.Fatalf("got %v, expected EXECUTING", s)
	}
}

func TestStateNames(t *testing.T) {
	for s, name := range map[State]string{
		NotReady: "NOT_READY", ReadyToUpload: "READY_TO_UPLOAD", ReadyToStart: "READY_TO_START",
		ReadyToExecute: "READY_TO_EXECUTE", ExecutionStarting: "EXECUTION_STARTING", Executing: "EXECUTING",
		ExecutionPaused: "EXECUTION_PAUSED", ExecutionStopping: "EXECUTION_STOPPING", Idle: "IDLE",
	} {
		if s.String() != name {
			t.Errorf("got %s, expected %s", s, name)
		}
	}
}

func TestLoadMission(t *testing.T) {
	o := New(newFakeGateway(), testConfig(), nil)
	if err := o.LoadMission(testMission(target)); err != nil {
		t.Fatal(err)
	}
	if s := o.CurrentState(); s != ReadyToUpload {
		t.Errorf("got %v, expected READY_TO_UPLOAD", s)
	}
	if err := o.LoadMission(nil); !errors.Is(err, mission.ErrNullMission) {
		t.Errorf("got %v, expected ErrNullMission", err)
	}
	if s := o.CurrentState(); s != NotReady {
		t.Errorf("got %v, expected NOT_READY", s)
	}
}

func TestUploadFromWrongState(t *testing.T) {
	gw := newFakeGateway()
	o := New(gw, testConfig(), nil)

	cb, ch := callback()
	o.UploadMission(cb)
	if err := wait(t, ch); !errors.Is(err, mission.ErrUploadingWaypoint) {
		t.Errorf("got %v, expected ErrUploadingWaypoint", err)
	}

	readyToStart(t, o, testMission(target))
	cb, ch = callback()
	o.RetryUploadMission(cb)
	if err := wait(t, ch); !errors.Is(err, mission.ErrUploadingWaypoint) {
		t.Errorf("got %v, expected ErrUploadingWaypoint", err)
	}
	if s := o.CurrentState(); s != NotReady {
		t.Errorf("got %v, expected NOT_READY", s)
	}
}

func TestUploadEmptyMission(t *testing.T) {
	o := New(newFakeGateway(), testConfig(), nil)
	if err := o.LoadMission(testMission()); err != nil {
		t.Fatal(err)
	}
	cb, ch := callback()
	o.UploadMission(cb)
	if err := wait(t, ch); !errors.Is(err, mission.ErrUploadingWaypoint) {
		t.Errorf("got %v, expected ErrUploadingWaypoint", err)
	}
	if s := o.CurrentState(); s != NotReady {
		t.Errorf("got %v, expected NOT_READY", s)
	}
}

func TestUploadRejectedThenRetried(t *testing.T) {
	sim := gateway.NewSimulator(gateway.DefaultSimulatorConfig())
	sim.UploadErr = errors.New("link lost")
	o := New(sim, testConfig(), nil)
	m := testMission(home, target)

	if err := o.LoadMission(m); err != nil {
		t.Fatal(err)
	}
	cb, ch := callback()
	o.UploadMission(cb)
	if err := wait(t, ch); !errors.Is(err, mission.ErrUploadingWaypoint) {
		t.Errorf("got %v, expected ErrUploadingWaypoint", err)
	}
	if s := o.CurrentState(); s != NotReady {
		t.Errorf("got %v, expected NOT_READY", s)
	}

	if err := o.LoadMission(m); err != nil {
		t.Fatal(err)
	}
	cb, ch = callback()
	o.RetryUploadMission(cb)
	if err := wait(t, ch); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if s := o.CurrentState(); s != ReadyToStart {
		t.Errorf("got %v, expected READY_TO_START", s)
	}
	if n := len(sim.Uploaded()); n != 2 {
		t.Errorf("got %d uploaded waypoints, expected 2", n)
	}
}

func TestStartFromWrongState(t *testing.T) {
	gw := newFakeGateway()
	o := New(gw, testConfig(), nil)

	for _, setup := range []func(){
		func() {},
		func() { o.LoadMission(testMission(target)) },
	} {
		setup()
		before := o.CurrentState()
		cb, ch := callback()
		o.StartMission(cb)
		if err := wait(t, ch); !errors.Is(err, mission.ErrMissionFailed) {
			t.Errorf("%v: got %v, expected ErrMissionFailed", before, err)
		}
		if s := o.CurrentState(); s != before {
			t.Errorf("state changed from %v to %v", before, s)
		}
	}
	if takeoffs, _, _ := gw.counts(); takeoffs != 0 {
		t.Errorf("got %d takeoffs, expected 0", takeoffs)
	}
}

func TestTakeoffFailure(t *testing.T) {
	gw := newFakeGateway()
	boom := errors.New("takeoff rejected: not armed")
	gw.takeoffErr = boom
	o := New(gw, testConfig(), nil)
	readyToStart(t, o, testMission(target))

	cb, ch := callback()
	o.StartMission(cb)
	if err := wait(t, ch); !errors.Is(err, mission.ErrTakeoffFailed) || !errors.Is(err, boom) {
		t.Errorf("got %v, expected ErrTakeoffFailed caused by the gateway error", err)
	}
	if s := o.CurrentState(); s != ReadyToStart {
		t.Errorf("got %v, expected READY_TO_START", s)
	}

	cb, ch = callback()
	o.StartMission(cb)
	if err := wait(t, ch); err != nil {
		t.Errorf("second start: %v", err)
	}
	if s := o.CurrentState(); s != ExecutionStarting {
		t.Errorf("got %v, expected EXECUTION_STARTING", s)
	}
	o.Close()
}

func TestControlModeFailureLands(t *testing.T) {
	gw := newFakeGateway()
	gw.controlErr = errors.New("offboard rejected")
	o := New(gw, testConfig(), nil)
	rec := newRecorder()
	o.AddExecutionListener(rec)
	readyToStart(t, o, testMission(target))

	cb, ch := callback()
	o.StartMission(cb)
	if err := wait(t, ch); err != nil {
		t.Fatalf("takeoff should succeed: %v", err)
	}
	if err := wait(t, rec.done); err == nil {
		t.Errorf("expected a finish error")
	}
	waitFor(t, "NOT_READY", func() bool { return o.CurrentState() == NotReady })
	if _, landings, _ := gw.counts(); landings != 1 {
		t.Errorf("got %d landings, expected 1", landings)
	}
}

func TestConvergence(t *testing.T) {
	gw := newFakeGateway()
	o := New(gw, testConfig(), nil)
	rec := newRecorder()
	o.AddExecutionListener(rec)
	readyToStart(t, o, testMission(target))
	executing(t, gw, o)

	const ticks = 50
	var finished bool
	for k := 1; k <= ticks && !finished; k++ {
		f := float64(k) / ticks
		gw.publish(geo.Point{
			Latitude:  home.Latitude + (target.Latitude-home.Latitude)*f,
			Longitude: home.Longitude + (target.Longitude-home.Longitude)*f,
		})
		select {
		case err := <-rec.done:
			if err != nil {
				t.Fatalf("got %v, expected successful finish", err)
			}
			finished = true
		default:
		}
	}
	if !finished {
		t.Fatalf("did not arrive within %d ticks", ticks)
	}
	if rec.startCount() != 1 {
		t.Errorf("got %d start events, expected 1", rec.startCount())
	}

	for i, cmd := range gw.allCommands() {
		if math.Abs(float64(cmd.Pitch)) > 5 || math.Abs(float64(cmd.Roll)) > 5 {
			t.Errorf("command %d exceeds auto speed: %+v", i, cmd)
		}
		if cmd.Pitch < 0 || cmd.Roll < 0 {
			t.Errorf("command %d points away from the target: %+v", i, cmd)
		}
	}
	first := gw.allCommands()[0]
	if first.Pitch != 5 || first.Roll != 5 || first.Yaw != 90 || first.Throttle != 30 {
		t.Errorf("got first command %+v, expected full speed on both axes", first)
	}

	waitFor(t, "NOT_READY", func() bool { return o.CurrentState() == NotReady })
	if _, landings, _ := gw.counts(); landings != 1 {
		t.Errorf("got %d landings, expected 1", landings)
	}
	if cmd := gw.lastCommand(); cmd != (gateway.DirectionCommand{Yaw: 90, Throttle: 30}) {
		t.Errorf("got %+v, expected hover at the last waypoint", cmd)
	}
	if p := o.Progress(); p.WaypointIndex != 1 || p.WaypointCount != 1 {
		t.Errorf("got progress %+v", p)
	}
}

func TestAdvanceWithinSample(t *testing.T) {
	gw := newFakeGateway()
	o := New(gw, testConfig(), nil)
	second := geo.Point{Latitude: 24.4000, Longitude: 54.6010}
	readyToStart(t, o, testMission(home, second))
	executing(t, gw, o)

	// the first sample is at the first waypoint, so the command already
	// heads for the second one
	cmd := gw.lastCommand()
	if cmd.Pitch != 5 || cmd.Roll != 0 {
		t.Errorf("got %+v, expected due east at full speed", cmd)
	}
	if p := o.Progress(); p.WaypointIndex != 1 {
		t.Errorf("got waypoint %d, expected 1", p.WaypointIndex)
	}
	o.Close()
}

func TestArrivedAxisStaysZero(t *testing.T) {
	gw := newFakeGateway()
	o := New(gw, testConfig(), nil)
	readyToStart(t, o, testMission(target))
	executing(t, gw, o)

	gw.publish(geo.Point{Latitude: target.Latitude, Longitude: 54.6002})
	if cmd := gw.lastCommand(); cmd.Roll != 0 || cmd.Pitch <= 0 {
		t.Errorf("got %+v, expected latitude settled", cmd)
	}
	// drifting off the settled axis does not re-enable it
	gw.publish(geo.Point{Latitude: target.Latitude - 0.0001, Longitude: 54.6003})
	if cmd := gw.lastCommand(); cmd.Roll != 0 {
		t.Errorf("got %+v, expected roll to stay zero", cmd)
	}
	o.Close()
}

func TestRepeaterResendsLatestCommand(t *testing.T) {
	gw := newFakeGateway()
	o := New(gw, testConfig(), nil)
	readyToStart(t, o, testMission(target))
	executing(t, gw, o)

	_, _, before := gw.counts()
	want := gw.lastCommand()
	waitFor(t, "repeated commands", func() bool {
		_, _, n := gw.counts()
		return n >= before+3
	})
	if got := gw.lastCommand(); got != want {
		t.Errorf("got %+v, expected %+v", got, want)
	}
	o.Close()
}

func TestStopIsIdempotent(t *testing.T) {
	gw := newFakeGateway()
	gw.landBlock = make(chan struct{})
	o := New(gw, testConfig(), nil)
	rec := newRecorder()
	o.AddExecutionListener(rec)
	readyToStart(t, o, testMission(target))
	executing(t, gw, o)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.StopMission(func(err error) { errs <- err })
		}()
	}
	wg.Wait()
	// both stops are in before the landing completes
	close(gw.landBlock)
	for i := 0; i < 2; i++ {
		if err := wait(t, errs); err != nil {
			t.Errorf("stop %d: %v", i, err)
		}
	}

	if _, landings, _ := gw.counts(); landings != 1 {
		t.Errorf("got %d landings, expected 1", landings)
	}
	if err := wait(t, rec.done); !errors.Is(err, mission.ErrExecutionCancelled) {
		t.Errorf("got %v, expected ErrExecutionCancelled", err)
	}
	if s := o.CurrentState(); s != NotReady {
		t.Errorf("got %v, expected NOT_READY", s)
	}
	if cmd := gw.lastCommand(); cmd != (gateway.DirectionCommand{Yaw: 90, Throttle: 30}) {
		t.Errorf("got %+v, expected hover at waypoint heading and altitude on stop", cmd)
	}
}

func TestLandingFailure(t *testing.T) {
	gw := newFakeGateway()
	boom := errors.New("land service timed out")
	gw.landErr = boom
	o := New(gw, testConfig(), nil)
	readyToStart(t, o, testMission(target))
	executing(t, gw, o)

	cb, ch := callback()
	o.StopMission(cb)
	if err := wait(t, ch); !errors.Is(err, mission.ErrLandingFailed) || !errors.Is(err, boom) {
		t.Errorf("got %v, expected ErrLandingFailed caused by the gateway error", err)
	}
	if s := o.CurrentState(); s != NotReady {
		t.Errorf("got %v, expected NOT_READY", s)
	}
}

func TestStopWhileEnablingControl(t *testing.T) {
	gw := newFakeGateway()
	gw.controlBlock = make(chan struct{})
	o := New(gw, testConfig(), nil)
	readyToStart(t, o, testMission(target))

	cb, ch := callback()
	o.StartMission(cb)
	if err := wait(t, ch); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "control mode request", func() bool {
		enabling, _ := gw.modes()
		return enabling == 1
	})
	if s := o.CurrentState(); s != ReadyToExecute {
		t.Errorf("got %v, expected READY_TO_EXECUTE", s)
	}

	// the landing completes while the control mode request is still pending
	cb, ch = callback()
	o.StopMission(cb)
	if err := wait(t, ch); err != nil {
		t.Fatal(err)
	}
	if s := o.CurrentState(); s != NotReady {
		t.Errorf("got %v, expected NOT_READY", s)
	}

	close(gw.controlBlock)
	waitFor(t, "velocity control off", func() bool {
		_, modes := gw.modes()
		return len(modes) == 3
	})
	if _, modes := gw.modes(); modes[len(modes)-1] {
		t.Errorf("got modes %v, expected velocity control to end disabled", modes)
	}
	if n := gw.subscribers(); n != 0 {
		t.Errorf("got %d position subscribers, expected none", n)
	}
	if _, landings, commands := gw.counts(); landings != 1 || commands != 1 {
		t.Errorf("got %d landings, %d commands, expected one landing after one hover", landings, commands)
	}
}

func TestNoCommandsAfterStop(t *testing.T) {
	gw := newFakeGateway()
	o := New(gw, testConfig(), nil)
	readyToStart(t, o, testMission(target))
	executing(t, gw, o)

	cb, ch := callback()
	o.StopMission(cb)
	if err := wait(t, ch); err != nil {
		t.Fatal(err)
	}
	_, _, n := gw.counts()
	gw.publish(home)
	time.Sleep(5 * testConfig().CommandInterval)
	if _, _, after := gw.counts(); after != n {
		t.Errorf("got %d commands after stop", after-n)
	}
}

func TestStopWithoutRun(t *testing.T) {
	o := New(newFakeGateway(), testConfig(), nil)
	cb, ch := callback()
	o.StopMission(cb)
	if err := wait(t, ch); !errors.Is(err, mission.ErrMissionFailed) {
		t.Errorf("got %v, expected ErrMissionFailed", err)
	}
}

func TestStopDuringTakeoff(t *testing.T) {
	gw := newFakeGateway()
	gw.takeoffBlock = make(chan struct{})
	o := New(gw, testConfig(), nil)
	readyToStart(t, o, testMission(target))

	startCb, startCh := callback()
	o.StartMission(startCb)
	waitFor(t, "takeoff call", func() bool {
		takeoffs, _, _ := gw.counts()
		return takeoffs == 1
	})

	cb, ch := callback()
	o.StopMission(cb)
	if err := wait(t, ch); err != nil {
		t.Fatal(err)
	}
	if err := wait(t, startCh); !errors.Is(err, mission.ErrExecutionCancelled) {
		t.Errorf("got %v, expected ErrExecutionCancelled", err)
	}
	if _, landings, commands := gw.counts(); landings != 1 || commands != 0 {
		t.Errorf("got %d landings, %d commands", landings, commands)
	}
	if s := o.CurrentState(); s != NotReady {
		t.Errorf("got %v, expected NOT_READY", s)
	}
}

func TestPauseResume(t *testing.T) {
	gw := newFakeGateway()
	o := New(gw, testConfig(), nil)
	readyToStart(t, o, testMission(target))

	cb, ch := callback()
	o.PauseMission(cb)
	if err := wait(t, ch); !errors.Is(err, mission.ErrMissionFailed) {
		t.Errorf("got %v, expected ErrMissionFailed", err)
	}

	executing(t, gw, o)
	cb, ch = callback()
	o.PauseMission(cb)
	if err := wait(t, ch); err != nil {
		t.Fatal(err)
	}
	if s := o.CurrentState(); s != ExecutionPaused {
		t.Errorf("got %v, expected EXECUTION_PAUSED", s)
	}
	hover := gateway.DirectionCommand{Yaw: 90, Throttle: 30}
	if cmd := gw.lastCommand(); cmd != hover {
		t.Errorf("got %+v, expected hover", cmd)
	}
	gw.publish(geo.Point{Latitude: 24.4001, Longitude: 54.6001})
	if cmd := gw.lastCommand(); cmd != hover {
		t.Errorf("got %+v, expected samples to be ignored while paused", cmd)
	}

	cb, ch = callback()
	o.ResumeMission(cb)
	if err := wait(t, ch); err != nil {
		t.Fatal(err)
	}
	// the leg restarts from here, so the first command is full speed again
	gw.publish(geo.Point{Latitude: 24.4004, Longitude: 54.6004})
	if cmd := gw.lastCommand(); cmd.Pitch != 5 || cmd.Roll != 5 {
		t.Errorf("got %+v, expected full speed after resume", cmd)
	}

	cb, ch = callback()
	o.ResumeMission(cb)
	if err := wait(t, ch); !errors.Is(err, mission.ErrMissionFailed) {
		t.Errorf("got %v, expected ErrMissionFailed", err)
	}
	o.Close()
}

func TestClose(t *testing.T) {
	gw := newFakeGateway()
	o := New(gw, testConfig(), nil)
	readyToStart(t, o, testMission(target))
	executing(t, gw, o)

	o.Close()
	if s := o.CurrentState(); s != Idle {
		t.Errorf("got %v, expected IDLE", s)
	}
	if _, landings, _ := gw.counts(); landings != 1 {
		t.Errorf("got %d landings, expected 1", landings)
	}
	if err := o.LoadMission(testMission(target)); !errors.Is(err, mission.ErrMissionFailed) {
		t.Errorf("got %v, expected ErrMissionFailed", err)
	}
	o.Close()
}

func TestStateObserver(t *testing.T) {
	gw := newFakeGateway()
	o := New(gw, testConfig(), nil)
	var mu sync.Mutex
	var seen []State
	o.OnStateChange(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	readyToStart(t, o, testMission(target))

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != ReadyToUpload || seen[1] != ReadyToStart {
		t.Errorf("got %v", seen)
	}
}

func TestAxisSpeed(t *testing.T) {
	for _, test := range []struct {
		diff, origin float64
		speed        float32
	}{
		{0.001, 0.001, 5},
		{0.0005, 0.001, 2.5},
		{-0.0005, 0.001, -2.5},
		{0.000001, 0.001, 0.3},
		{-0.000001, 0.001, -0.3},
		{0.002, 0.001, 5},
		{0.001, 0, 5},
	} {
		if got := axisSpeed(test.diff, test.origin, 5, 0.3); math.Abs(float64(got-test.speed)) > 1e-6 {
			t.Errorf("axisSpeed(%v, %v): got %v, expected %v", test.diff, test.origin, got, test.speed)
		}
	}
}

func TestSimulatedSurvey(t *testing.T) {
	polygon := []geo.Point{{Latitude: 24.4000, Longitude: 54.6000}, {Latitude: 24.4000, Longitude: 54.6006}, {Latitude: 24.4006, Longitude: 54.6006}, {Latitude: 24.4006, Longitude: 54.6000}}
	path, err := planner.CreateFlightPlan(polygon, planner.SpacingFeetFromMeters(22.2), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) < 4 {
		t.Fatalf("got %d waypoints", len(path))
	}
	m := planner.CreateFlightMissionFromCoordinates(path, planner.DefaultMissionParams())

	simCfg := gateway.DefaultSimulatorConfig()
	simCfg.Home = geo.Point{Latitude: 24.3999, Longitude: 54.5999}
	sim := gateway.NewSimulator(simCfg)
	o := New(sim, testConfig(), nil)
	rec := newRecorder()
	o.AddExecutionListener(rec)

	readyToStart(t, o, m)
	cb, ch := callback()
	o.StartMission(cb)
	if err := wait(t, ch); err != nil {
		t.Fatal(err)
	}

	var finished bool
	var steps int
	for steps = 0; steps < 50000 && !finished; steps++ {
		sim.Step(100 * time.Millisecond)
		select {
		case err := <-rec.done:
			if err != nil {
				t.Fatalf("got %v, expected success", err)
			}
			finished = true
		default:
		}
	}
	if !finished {
		t.Fatalf("survey not finished after %d steps at %+v", steps, o.Progress())
	}

	if s := sim.MaxAxisSpeed(); s > m.AutoFlightSpeed() {
		t.Errorf("max commanded speed %v exceeds %v", s, m.AutoFlightSpeed())
	}
	last := path[len(path)-1]
	if d := geo.Distance(sim.Position().Point, last); d > 3e-6 {
		t.Errorf("ended %v m from the last waypoint", geo.DegreesToMeters(d))
	}
	waitFor(t, "landing", func() bool { return !sim.Airborne() && o.CurrentState() == NotReady })
	waitFor(t, "waypoint actions", func() bool { return len(sim.Actions()) == 2*len(path) })
	if takeoffs, landings, _ := sim.Counts(); takeoffs != 1 || landings != 1 {
		t.Errorf("got %d takeoffs, %d landings", takeoffs, landings)
	}
}
