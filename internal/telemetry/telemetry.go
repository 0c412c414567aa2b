// Package telemetry posts the aircraft position to the message bus.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/tiiuae/coverageengine/internal/gateway"
	"github.com/tiiuae/coverageengine/internal/types"
)

// DefaultInterval limits position messages to 10 per second.
const DefaultInterval = 100 * time.Millisecond

type PositionSource interface {
	SubscribePosition(fn func(gateway.Position)) (unsubscribe func())
}

type telemetry struct {
	source   PositionSource
	deviceID string
	interval time.Duration

	mu      sync.Mutex
	latest  gateway.Position
	updated bool
}

func New(source PositionSource, deviceID string, interval time.Duration) types.MessageHandler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &telemetry{source: source, deviceID: deviceID, interval: interval}
}

func (t *telemetry) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	wg.Add(1)
	defer wg.Done()

	unsubscribe := t.source.SubscribePosition(func(p gateway.Position) {
		t.mu.Lock()
		t.latest = p
		t.updated = true
		t.mu.Unlock()
	})
	defer unsubscribe()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			if !t.updated {
				// no new sample since the last post
				t.mu.Unlock()
				continue
			}
			p := t.latest
			t.updated = false
			t.mu.Unlock()

			out := types.GlobalPosition{Lat: p.Latitude, Lon: p.Longitude, Alt: p.Altitude}
			post(types.CreateMessage(types.MessageGlobalPosition, t.deviceID, t.deviceID, out))
		}
	}
}

func (t *telemetry) Receive(message types.Message) {
}
