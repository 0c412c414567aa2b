// Package store keeps planned surveys so a mission can be reloaded after a
// restart or a failed upload.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tiiuae/coverageengine/internal/geo"
)

var ErrPlanNotFound = errors.New("plan not found")

type Plan struct {
	ID          string      `json:"id"`
	CreatedAt   time.Time   `json:"created_at"`
	Polygon     []geo.Point `json:"polygon"`
	SpacingFeet float64     `json:"spacing_feet"`
	Waypoints   []geo.Point `json:"waypoints"`
}

type PlanStore interface {
	Save(ctx context.Context, plan Plan) error
	Load(ctx context.Context, id string) (Plan, error)
	// Latest returns the most recently saved plan.
	Latest(ctx context.Context) (Plan, error)
}

type memoryStore struct {
	mu     sync.Mutex
	plans  map[string]Plan
	latest string
}

func NewMemoryStore() PlanStore {
	return &memoryStore{plans: make(map[string]Plan)}
}

func (s *memoryStore) Save(ctx context.Context, plan Plan) error {
	if plan.ID == "" {
		return errors.New("plan has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[plan.ID] = plan
	s.latest = plan.ID
	return nil
}

func (s *memoryStore) Load(ctx context.Context, id string) (Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return Plan{}, errors.WithMessagef(ErrPlanNotFound, "id %s", id)
	}
	return p, nil
}

func (s *memoryStore) Latest(ctx context.Context) (Plan, error) {
	s.mu.Lock()
	id := s.latest
	s.mu.Unlock()
	if id == "" {
		return Plan{}, ErrPlanNotFound
	}
	return s.Load(ctx, id)
}
