package room

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"lockstepd/internal/config"
)

// Registry owns every live Room, keyed by ID: the single map of
// "everything currently alive", guarded by its own lock, separate
// from any individual Room's lock.
type Registry struct {
	roomCfg config.RoomConfig

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry builds an empty registry; every room it creates is
// tuned by roomCfg.
func NewRegistry(roomCfg config.RoomConfig) *Registry {
	return &Registry{roomCfg: roomCfg, rooms: make(map[string]*Room)}
}

// Create allocates a fresh room id and registers an empty Room under
// it. A UUID rather than a timestamp, so two rooms created in the
// same process-clock tick can never collide.
func (reg *Registry) Create() *Room {
	id := fmt.Sprintf("room_%s", uuid.NewString())
	r := NewRoom(id, reg.roomCfg)

	reg.mu.Lock()
	reg.rooms[id] = r
	reg.mu.Unlock()
	return r
}

// Get returns the room for id, if it still exists.
func (reg *Registry) Get(id string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[id]
	return r, ok
}

// Destroy removes id from the registry. It is idempotent.
func (reg *Registry) Destroy(id string) {
	reg.mu.Lock()
	delete(reg.rooms, id)
	reg.mu.Unlock()
}

// List returns every non-started room's public summary, for
// get_room_list.
func (reg *Registry) List() []ListEntry {
	reg.mu.RLock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.RUnlock()

	out := make([]ListEntry, 0, len(rooms))
	for _, r := range rooms {
		if r.Started() {
			continue
		}
		out = append(out, r.listEntry())
	}
	return out
}

// Snapshot returns every currently registered room, started or not.
// The Scheduler uses it to tick and GC-sweep the whole registry
// without holding the registry lock while it does so.
func (reg *Registry) Snapshot() []*Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		out = append(out, r)
	}
	return out
}

// Count reports how many rooms are currently registered, for metrics.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}
