package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tiiuae/coverageengine/internal/geo"
	"github.com/tiiuae/coverageengine/internal/mission"
)

type SimulatorConfig struct {
	Home            geo.Point     `yaml:"home"`
	TakeoffAltitude float64       `yaml:"takeoff_altitude"`
	ClimbRate       float64       `yaml:"climb_rate"`
	CommandTimeout  time.Duration `yaml:"command_timeout"`
	Step            time.Duration `yaml:"step"`
}

func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Home:            geo.Point{Latitude: 24.4539, Longitude: 54.3773},
		TakeoffAltitude: 10,
		ClimbRate:       2,
		CommandTimeout:  500 * time.Millisecond,
		Step:            100 * time.Millisecond,
	}
}

var ErrNotAirborne = errors.New("aircraft is not airborne")

// Simulator is a point-mass aircraft driven by velocity commands. Time
// only advances in Step, so tests can fly it deterministically; Run steps
// it from a ticker.
type Simulator struct {
	cfg SimulatorConfig

	mu          sync.Mutex
	now         time.Duration
	position    Position
	command     DirectionCommand
	commandAt   time.Duration
	hasCommand  bool
	airborne    bool
	controlMode bool
	subscribers map[int]func(Position)
	nextID      int

	takeoffs, landings int
	commands           int
	maxAxisSpeed       float32
	uploaded           []mission.Waypoint
	actions            []mission.Action

	// Injected failures, consumed by the next matching call.
	TakeoffErr error
	LandErr    error
	UploadErr  error
}

func NewSimulator(cfg SimulatorConfig) *Simulator {
	return &Simulator{
		cfg:         cfg,
		position:    Position{Point: cfg.Home},
		subscribers: make(map[int]func(Position)),
	}
}

func (s *Simulator) SubscribePosition(fn func(Position)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

func (s *Simulator) Takeoff(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	s.takeoffs++
	if err := s.TakeoffErr; err != nil {
		s.TakeoffErr = nil
		return err
	}
	s.airborne = true
	s.position.Altitude = s.cfg.TakeoffAltitude
	return nil
}

func (s *Simulator) Land(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.landings++
	if err := s.LandErr; err != nil {
		s.LandErr = nil
		return err
	}
	s.airborne = false
	s.controlMode = false
	s.hasCommand = false
	s.position.Altitude = 0
	return nil
}

func (s *Simulator) SetControlMode(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled && !s.airborne {
		return ErrNotAirborne
	}
	s.controlMode = enabled
	return nil
}

func (s *Simulator) SendVelocityCommand(cmd DirectionCommand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.command = cmd
	s.commandAt = s.now
	s.hasCommand = true
	s.commands++
	s.maxAxisSpeed = max(s.maxAxisSpeed, geo.Abs(cmd.Pitch), geo.Abs(cmd.Roll))
}

func (s *Simulator) UploadWaypoints(ctx context.Context, waypoints []mission.Waypoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.UploadErr; err != nil {
		s.UploadErr = nil
		return err
	}
	s.uploaded = append([]mission.Waypoint(nil), waypoints...)
	return nil
}

func (s *Simulator) PerformAction(ctx context.Context, action mission.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
	return nil
}

// Step advances the simulation by dt and publishes the new position to
// every subscriber. A command older than CommandTimeout is ignored.
func (s *Simulator) Step(dt time.Duration) {
	s.mu.Lock()
	s.now += dt
	if s.airborne && s.controlMode && s.hasCommand && s.now-s.commandAt <= s.cfg.CommandTimeout {
		sec := dt.Seconds()
		s.position.Longitude += float64(s.command.Pitch) * sec / geo.MetersPerDegree
		s.position.Latitude += float64(s.command.Roll) * sec / geo.MetersPerDegree
		climb := s.cfg.ClimbRate * sec
		s.position.Altitude += geo.Clamp(float64(s.command.Throttle)-s.position.Altitude, -climb, climb)
	}
	pos := s.position
	subs := make([]func(Position), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(pos)
	}
}

func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Step)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Step(s.cfg.Step)
		}
	}
}

func (s *Simulator) Position() Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *Simulator) Airborne() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.airborne
}

func (s *Simulator) ControlMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controlMode
}

func (s *Simulator) LastCommand() DirectionCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.command
}

// Counts returns the number of takeoff, land and velocity command calls.
func (s *Simulator) Counts() (takeoffs, landings, commands int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.takeoffs, s.landings, s.commands
}

func (s *Simulator) MaxAxisSpeed() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxAxisSpeed
}

func (s *Simulator) Uploaded() []mission.Waypoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mission.Waypoint(nil), s.uploaded...)
}

func (s *Simulator) Actions() []mission.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mission.Action(nil), s.actions...)
}
