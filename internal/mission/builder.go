package mission

// Builder accumulates waypoints for a Mission. Waypoints are only ever
// appended; Build hands out an independent copy so the builder can keep
// going afterwards.
type Builder struct {
	waypoints []Waypoint
	params    Params
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) AddWaypoint(w Waypoint) *Builder {
	b.waypoints = append(b.waypoints, w.clone())
	return b
}

func (b *Builder) AutoFlightSpeed(speed float32) *Builder {
	b.params.AutoFlightSpeed = speed
	return b
}

func (b *Builder) MaxFlightSpeed(speed float32) *Builder {
	b.params.MaxFlightSpeed = speed
	return b
}

func (b *Builder) FinishedAction(a FinishedAction) *Builder {
	b.params.FinishedAction = a
	return b
}

func (b *Builder) HeadingMode(h HeadingMode) *Builder {
	b.params.HeadingMode = h
	return b
}

func (b *Builder) Params(p Params) *Builder {
	b.params = p
	return b
}

func (b *Builder) Len() int {
	return len(b.waypoints)
}

// Build returns nil and an ErrInvalidMission error if any waypoint has an
// unusable coordinate.
func (b *Builder) Build() (*Mission, error) {
	m := NewMission(b.waypoints, b.params)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
