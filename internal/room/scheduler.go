package room

import (
	"context"
	"time"

	"lockstepd/internal/events"
	"lockstepd/internal/logging"
	"lockstepd/internal/metrics"
	"lockstepd/internal/transport"
)

// Scheduler ticks every registered room at a fixed frame interval,
// running the commit rule and the empty-room GC sweep. Many
// independent rooms, one shared clock.
type Scheduler struct {
	registry *Registry
	endpoint *transport.Endpoint
	bus      *events.Bus
	metrics  *metrics.Metrics

	frameInterval time.Duration
	emptyGrace    time.Duration
}

func NewScheduler(registry *Registry, endpoint *transport.Endpoint, frameInterval, emptyGrace time.Duration, bus *events.Bus, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		registry:      registry,
		endpoint:      endpoint,
		bus:           bus,
		metrics:       m,
		frameInterval: frameInterval,
		emptyGrace:    emptyGrace,
	}
}

// Run ticks every room once per frame interval until ctx is canceled.
// Ticks do not catch up after a stall: each fire of the ticker
// advances every room by exactly one frame, however late the fire
// itself was.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.tickAll(now)
		}
	}
}

func (s *Scheduler) tickAll(now time.Time) {
	rooms := s.registry.Snapshot()
	if s.metrics != nil {
		s.metrics.ActiveRooms.Set(float64(len(rooms)))
	}

	for _, r := range rooms {
		if r.CheckEmptyGC(now, s.emptyGrace) {
			s.registry.Destroy(r.ID)
			if s.bus != nil {
				s.bus.Publish(events.Event{Type: events.RoomDestroyed, RoomID: r.ID})
			}
			logging.WithFields(logging.Fields{"room_id": r.ID}).Info("room garbage collected after empty grace period")
			continue
		}

		for _, commit := range r.Tick() {
			if s.metrics != nil {
				s.metrics.FramesCommitted.Inc()
			}
			if s.bus != nil {
				s.bus.Publish(events.Event{Type: events.FrameCommitted, RoomID: r.ID, Data: commit.Frame})
			}
			s.broadcastCommit(r, commit)
		}
	}
}

func (s *Scheduler) broadcastCommit(r *Room, commit FrameCommit) {
	payload := transport.Payload{
		"type":   typeFrameInputs,
		"frame":  commit.Frame,
		"inputs": commit.Inputs,
	}
	for _, addr := range r.Addresses() {
		s.endpoint.SendReliable(addr, payload)
	}
}
