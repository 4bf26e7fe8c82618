// Package room implements lockstep frame synchronization: per-room
// membership, the fixed-tick commit rule, and the GC of rooms that
// have sat empty too long.
package room

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"lockstepd/internal/config"
)

// InputList is one player's opaque per-frame input record. The room
// never looks inside it; inputs are replayed to clients byte for byte.
type InputList = []interface{}

// FrameSet is a committed or pending mapping of player_id to its
// input for one frame.
type FrameSet = map[int]InputList

// colorPalette cycles by player_id, so spectators can tell players
// apart without the server assigning anything meaningful.
var colorPalette = []string{"blue", "red", "green", "yellow"}

func colorForPlayerID(id int) string {
	return colorPalette[(id-1)%len(colorPalette)]
}

// Player is one room member.
type Player struct {
	PlayerID       int
	Addr           net.Addr
	DisplayName    string
	Color          string
	LastInputFrame int
}

var (
	ErrRoomStarted   = errors.New("room: already started")
	ErrRoomFull      = errors.New("room: full")
	ErrAlreadyInRoom = errors.New("room: peer already joined")
	ErrNotHost       = errors.New("room: not host")
)

// FrameCommit is one frame the Tick call just sealed.
type FrameCommit struct {
	Frame  int
	Inputs FrameSet
}

// Room is its own serialization domain: every field below is read or
// written only while mu is held, so the scheduler tick and inbound
// packet handling never race on it.
type Room struct {
	ID string

	cfg config.RoomConfig

	mu              sync.Mutex
	players         map[int]*Player
	addrToPlayerID  map[string]int
	hostAddr        net.Addr
	started         bool
	currentFrame    int
	pendingInputs   map[int]FrameSet
	committedFrames map[int]FrameSet
	emptySince      *time.Time
	createdAt       time.Time
}

// NewRoom creates an empty room tuned by cfg. The acceptance window,
// the empty-substitution offset, and the pending-input retention
// horizon are all read from cfg rather than hardcoded, so an operator
// can retune them without a rebuild.
func NewRoom(id string, cfg config.RoomConfig) *Room {
	return &Room{
		ID:              id,
		cfg:             cfg,
		players:         make(map[int]*Player),
		addrToPlayerID:  make(map[string]int),
		pendingInputs:   make(map[int]FrameSet),
		committedFrames: make(map[int]FrameSet),
		createdAt:       time.Now(),
	}
}

// PlayerCount returns the current membership size.
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// Started reports whether game_start has already latched.
func (r *Room) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// Join admits addr under name. player_id = |players|+1 at the moment
// of joining, not a monotonic counter, so a departed player's slot
// number can be reused by a later joiner.
func (r *Room) Join(addr net.Addr, name string) (*Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil, ErrRoomStarted
	}
	if r.cfg.MaxPlayers > 0 && len(r.players) >= r.cfg.MaxPlayers {
		return nil, ErrRoomFull
	}
	if _, ok := r.addrToPlayerID[addr.String()]; ok {
		return nil, ErrAlreadyInRoom
	}

	id := len(r.players) + 1
	p := &Player{
		PlayerID:    id,
		Addr:        addr,
		DisplayName: name,
		Color:       colorForPlayerID(id),
	}
	r.players[id] = p
	r.addrToPlayerID[addr.String()] = id
	if r.hostAddr == nil {
		r.hostAddr = addr
	}
	r.emptySince = nil
	return p, nil
}

// IsHost reports whether addr is the current host.
func (r *Room) IsHost(addr net.Addr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostAddr != nil && r.hostAddr.String() == addr.String()
}

// PlayerIDFor returns the player_id bound to addr, if any.
func (r *Room) PlayerIDFor(addr net.Addr) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.addrToPlayerID[addr.String()]
	return id, ok
}

// Leave removes addr's player, reassigning host to the lowest
// remaining player_id, and returns the player_id removed plus whether
// the room is now empty.
func (r *Room) Leave(addr net.Addr) (playerID int, wasMember bool, nowEmpty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.addrToPlayerID[addr.String()]
	if !ok {
		return 0, false, len(r.players) == 0
	}
	delete(r.addrToPlayerID, addr.String())
	delete(r.players, id)

	if r.hostAddr != nil && r.hostAddr.String() == addr.String() {
		r.reassignHostLocked()
	}

	if len(r.players) == 0 {
		now := time.Now()
		r.emptySince = &now

		// Only a drain to zero resets game state. A departure that
		// leaves the room non-empty must never reset current_frame or
		// committed_frames, preserving commit monotonicity.
		r.started = false
		r.currentFrame = 0
		r.pendingInputs = make(map[int]FrameSet)
		r.committedFrames = make(map[int]FrameSet)
	}
	return id, true, len(r.players) == 0
}

func (r *Room) reassignHostLocked() {
	lowest := -1
	var lowestAddr net.Addr
	for id, p := range r.players {
		if lowest == -1 || id < lowest {
			lowest = id
			lowestAddr = p.Addr
		}
	}
	r.hostAddr = lowestAddr
}

// PlayerSnapshot is the public view of membership used for
// game_start's player roster and room_list's count.
type PlayerSnapshot struct {
	PlayerID    int
	DisplayName string
	Color       string
}

// Start latches started=true and resets current_frame to 0, returning
// the member roster to broadcast in game_start. Fails with ErrNotHost
// if addr is not the host, and ErrRoomStarted if already started.
func (r *Room) Start(addr net.Addr) ([]PlayerSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil, ErrRoomStarted
	}
	if r.hostAddr == nil || r.hostAddr.String() != addr.String() {
		return nil, ErrNotHost
	}

	r.started = true
	r.currentFrame = 0

	out := make([]PlayerSnapshot, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, PlayerSnapshot{PlayerID: p.PlayerID, DisplayName: p.DisplayName, Color: p.Color})
	}
	return out, nil
}

// AcceptInput applies the acceptance-window rule: frame must lie in
// [current_frame-window, current_frame+window] and must not already
// be committed. Returns the player_id and current_frame for the
// input_ack reply, and whether the input was actually buffered.
func (r *Room) AcceptInput(addr net.Addr, frame int, inputs InputList) (playerID int, serverFrame int, accepted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.addrToPlayerID[addr.String()]
	if !ok {
		return 0, r.currentFrame, false
	}

	if _, committed := r.committedFrames[frame]; committed {
		return id, r.currentFrame, false
	}
	window := r.cfg.AcceptanceWindow
	if frame < r.currentFrame-window || frame > r.currentFrame+window {
		return id, r.currentFrame, false
	}

	if r.pendingInputs[frame] == nil {
		r.pendingInputs[frame] = make(FrameSet)
	}
	r.pendingInputs[frame][id] = inputs
	return id, r.currentFrame, true
}

// CurrentFrame returns the room's current simulation frame.
func (r *Room) CurrentFrame() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentFrame
}

// CommittedSince returns every committed frame in [from, current_frame]
// for a sync_request reply, oldest first.
func (r *Room) CommittedSince(from int) []FrameCommit {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []FrameCommit
	for f := from; f <= r.currentFrame; f++ {
		if inputs, ok := r.committedFrames[f]; ok {
			out = append(out, FrameCommit{Frame: f, Inputs: inputs})
		}
	}
	return out
}

// Tick runs the commit rule once. It is a no-op returning nil if the
// room has not started. Offsets are
// processed in descending order from cfg.EmptySubstituteAfter down to
// 1, with empty-substitution applied only at the highest offset;
// processing stops at the first offset that cannot yet commit, since
// frames must commit in strictly ascending order.
func (r *Room) Tick() []FrameCommit {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return nil
	}

	currentIDs := make(map[int]struct{}, len(r.players))
	for id := range r.players {
		currentIDs[id] = struct{}{}
	}

	maxOffset := r.cfg.EmptySubstituteAfter

	var commits []FrameCommit
	for offset := maxOffset; offset >= 1; offset-- {
		target := r.currentFrame - offset
		if target < 0 {
			continue
		}
		if _, already := r.committedFrames[target]; already {
			continue
		}

		if offset == maxOffset {
			if r.pendingInputs[target] == nil {
				r.pendingInputs[target] = make(FrameSet)
			}
			for id := range currentIDs {
				if _, ok := r.pendingInputs[target][id]; !ok {
					r.pendingInputs[target][id] = InputList{}
				}
			}
		}

		// A departed player's earlier submission stays in
		// pendingInputs but no longer counts toward completeness:
		// only current members are required, and only current
		// members' entries are copied, so a committed frame's player
		// set always equals membership at commit time.
		submitted := r.pendingInputs[target]
		complete := FrameSet{}
		for id := range currentIDs {
			if v, ok := submitted[id]; ok {
				complete[id] = v
			}
		}
		if len(complete) != len(currentIDs) {
			break
		}

		r.committedFrames[target] = complete
		commits = append(commits, FrameCommit{Frame: target, Inputs: complete})
	}

	r.currentFrame++

	gcCutoff := r.currentFrame - r.cfg.HistoryRetainFrames
	for f := range r.pendingInputs {
		if f < gcCutoff {
			delete(r.pendingInputs, f)
		}
	}

	return commits
}

// CheckEmptyGC reports whether the room has now sat empty for at
// least grace and should be destroyed. It is evaluated on every
// scheduler tick, started or not.
func (r *Room) CheckEmptyGC(now time.Time, grace time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.emptySince == nil {
		return false
	}
	return now.Sub(*r.emptySince) >= grace
}

// Addresses returns every current member's network address, for
// broadcast fan-out.
func (r *Room) Addresses() []net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]net.Addr, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p.Addr)
	}
	return out
}

// ListEntry is the summary shown in get_room_list.
type ListEntry struct {
	RoomID      string
	PlayerCount int
}

func (r *Room) listEntry() ListEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ListEntry{RoomID: r.ID, PlayerCount: len(r.players)}
}
