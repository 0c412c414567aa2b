// Package planner turns a drawn survey polygon into a boustrophedon
// ("lawnmower") path and wraps that path into a photo mission.
package planner

import (
	"math"

	"github.com/pkg/errors"
	"github.com/tiiuae/coverageengine/internal/geo"
	"github.com/tiiuae/coverageengine/internal/mission"
)

var (
	ErrNotEnoughPoints = errors.New("polygon needs at least 3 points")
	ErrInvalidSpacing  = errors.New("sweep spacing must be positive")
	ErrPlanTooLarge    = errors.New("survey grid too large")
)

// MaxGridSamples bounds the number of candidate points a single plan may
// evaluate.
const MaxGridSamples = 4_000_000

const (
	feetPerKilometer    = 3280.4
	kilometersPerDegree = 10000.0 / 90.0
)

// SpacingDegrees converts a sweep spacing in feet to degrees. It uses one
// degree = 10000/90 km for both axes, so longitude spacing shrinks in
// meters away from the equator.
func SpacingDegrees(spacingFeet float64) float64 {
	return spacingFeet / feetPerKilometer / kilometersPerDegree
}

func SpacingFeetFromMeters(meters float64) float64 {
	return meters * feetPerKilometer / 1000
}

// CreateFlightPlan samples a grid with spacingFeet between points over the
// bounding box of boundingPoints (or of polygon when boundingPoints is
// empty), keeps the samples inside polygon, and orders them column by
// column. The first column runs south to north; each later column starts
// from whichever of its ends is nearer the end of the previous one, so
// columns alternate and a single-point column does not flip the next.
func CreateFlightPlan(polygon []geo.Point, spacingFeet float64, boundingPoints []geo.Point) ([]geo.Point, error) {
	if len(polygon) < 3 {
		return nil, errors.WithMessagef(ErrNotEnoughPoints, "got %d", len(polygon))
	}
	step := SpacingDegrees(spacingFeet)
	if !(step > 0) || math.IsInf(step, 0) {
		return nil, errors.WithMessagef(ErrInvalidSpacing, "got %v ft", spacingFeet)
	}
	if len(boundingPoints) == 0 {
		boundingPoints = polygon
	}
	box := geo.Bounds(boundingPoints)

	columns := int(math.Floor((box.Max.Longitude-box.Min.Longitude)/step+1e-9)) + 1
	rows := int(math.Floor((box.Max.Latitude-box.Min.Latitude)/step+1e-9)) + 1
	if float64(columns)*float64(rows) > MaxGridSamples {
		return nil, errors.WithMessagef(ErrPlanTooLarge, "%d x %d samples", columns, rows)
	}

	var path []geo.Point
	column := make([]geo.Point, 0, rows)
	for c := 0; c < columns; c++ {
		lon := box.Min.Longitude + float64(c)*step
		column = column[:0]
		for r := 0; r < rows; r++ {
			p := geo.Point{Latitude: box.Min.Latitude + float64(r)*step, Longitude: lon}
			if geo.PointInPolygon(p, polygon) {
				column = append(column, p)
			}
		}
		if len(column) == 0 {
			continue
		}
		if len(path) > 0 {
			prev := path[len(path)-1]
			if geo.SquaredDistance(prev, column[len(column)-1]) < geo.SquaredDistance(prev, column[0]) {
				for i, j := 0, len(column)-1; i < j; i, j = i+1, j-1 {
					column[i], column[j] = column[j], column[i]
				}
			}
		}
		path = append(path, column...)
	}

	return path, nil
}

// MissionParams are the fixed per-waypoint and mission settings applied by
// CreateFlightMissionFromCoordinates.
type MissionParams struct {
	Altitude              float32                `yaml:"altitude"`
	GimbalPitch           float32                `yaml:"gimbal_pitch"`
	PhotoDistanceInterval float32                `yaml:"photo_distance_interval"`
	AutoFlightSpeed       float32                `yaml:"auto_flight_speed"`
	MaxFlightSpeed        float32                `yaml:"max_flight_speed"`
	FinishedAction        mission.FinishedAction `yaml:"-"`
	HeadingMode           mission.HeadingMode    `yaml:"-"`
}

func DefaultMissionParams() MissionParams {
	return MissionParams{
		Altitude:              30,
		GimbalPitch:           -90,
		PhotoDistanceInterval: 10,
		AutoFlightSpeed:       5,
		MaxFlightSpeed:        10,
		FinishedAction:        mission.FinishGoHome,
		HeadingMode:           mission.HeadingUsingWaypointHeading,
	}
}

// CreateFlightMissionFromCoordinates wraps each point into a photo
// waypoint. The result is not validated; an empty points slice gives an
// empty mission.
func CreateFlightMissionFromCoordinates(points []geo.Point, params MissionParams) *mission.Mission {
	waypoints := make([]mission.Waypoint, len(points))
	for i, p := range points {
		waypoints[i] = mission.Waypoint{
			Coordinate:  p,
			Altitude:    params.Altitude,
			GimbalPitch: params.GimbalPitch,
			Actions: []mission.Action{
				{Type: mission.GimbalPitch, Value: params.GimbalPitch},
				{Type: mission.StartTakePhoto},
			},
			PhotoDistanceInterval: params.PhotoDistanceInterval,
		}
	}
	return mission.NewMission(waypoints, mission.Params{
		AutoFlightSpeed: params.AutoFlightSpeed,
		MaxFlightSpeed:  params.MaxFlightSpeed,
		FinishedAction:  params.FinishedAction,
		HeadingMode:     params.HeadingMode,
	})
}
