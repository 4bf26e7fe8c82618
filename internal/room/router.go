package room

import (
	"net"
	"strconv"
	"sync"

	"lockstepd/internal/events"
	"lockstepd/internal/logging"
	"lockstepd/internal/transport"
)

// Router parses the top-level `type` of an inbound payload and
// dispatches to the room-admission or in-room handler for it.
// Admission failures reply with a typed failure message; other
// precondition violations are dropped silently. Neither mutates room
// state.
type Router struct {
	registry *Registry
	endpoint *transport.Endpoint
	bus      *events.Bus

	mu         sync.RWMutex
	addrToRoom map[string]*Room
}

func NewRouter(registry *Registry, endpoint *transport.Endpoint, bus *events.Bus) *Router {
	r := &Router{
		registry:   registry,
		endpoint:   endpoint,
		bus:        bus,
		addrToRoom: make(map[string]*Room),
	}
	endpoint.SetOnMessage(r.Dispatch)
	endpoint.SetOnDisconnect(r.HandleDisconnect)
	return r
}

func (rt *Router) publish(e events.Event) {
	if rt.bus != nil {
		rt.bus.Publish(e)
	}
}

// Dispatch is the Endpoint's message callback. Unknown types are
// silently dropped.
func (rt *Router) Dispatch(addr net.Addr, payload transport.Payload) {
	t, _ := payload["type"].(string)
	switch t {
	case typeCreateRoom:
		rt.handleCreateRoom(addr)
	case typeJoinRoom:
		rt.handleJoinRoom(addr, payload)
	case typeGetRoomList:
		rt.handleGetRoomList(addr)
	case typeConnect:
		rt.handleConnect(addr, payload)
	case typeGameStart:
		rt.handleGameStart(addr)
	case typePlayerInput:
		rt.handlePlayerInput(addr, payload)
	case typePing:
		rt.handlePing(addr, payload)
	case typeSyncRequest:
		rt.handleSyncRequest(addr, payload)
	default:
		logging.WithFields(logging.Fields{"type": t, "addr": addr.String()}).Debug("dropping unrecognized message type")
	}
}

func (rt *Router) roomFor(addr net.Addr) (*Room, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	r, ok := rt.addrToRoom[addr.String()]
	return r, ok
}

func (rt *Router) bindAddr(addr net.Addr, r *Room) {
	rt.mu.Lock()
	rt.addrToRoom[addr.String()] = r
	rt.mu.Unlock()
}

func (rt *Router) unbindAddr(addr net.Addr) {
	rt.mu.Lock()
	delete(rt.addrToRoom, addr.String())
	rt.mu.Unlock()
}

func (rt *Router) handleCreateRoom(addr net.Addr) {
	r := rt.registry.Create()
	rt.publish(events.Event{Type: events.RoomCreated, RoomID: r.ID})
	rt.endpoint.SendReliable(addr, transport.Payload{
		"type":    typeCreateRoomSuccess,
		"room_id": r.ID,
	})
}

func (rt *Router) handleGetRoomList(addr net.Addr) {
	entries := rt.registry.List()
	rooms := make([]transport.Payload, 0, len(entries))
	for _, e := range entries {
		rooms = append(rooms, transport.Payload{"room_id": e.RoomID, "player_count": e.PlayerCount})
	}
	rt.endpoint.SendReliable(addr, transport.Payload{
		"type":  typeRoomList,
		"rooms": rooms,
	})
}

func (rt *Router) handleJoinRoom(addr net.Addr, payload transport.Payload) {
	roomID, _ := payload["room_id"].(string)
	name, _ := payload["name"].(string)

	r, ok := rt.registry.Get(roomID)
	if !ok {
		rt.endpoint.SendReliable(addr, transport.Payload{"type": typeJoinRoomFailed, "reason": "room not found"})
		return
	}

	player, err := r.Join(addr, name)
	if err != nil {
		rt.endpoint.SendReliable(addr, transport.Payload{"type": typeJoinRoomFailed, "reason": joinFailureReason(err)})
		return
	}

	rt.bindAddr(addr, r)
	rt.publish(events.Event{Type: events.PlayerJoined, RoomID: r.ID, Data: player.PlayerID})
	rt.endpoint.SendReliable(addr, transport.Payload{
		"type":      typeJoinRoomSuccess,
		"player_id": player.PlayerID,
		"room_id":   r.ID,
	})
}

func (rt *Router) handleConnect(addr net.Addr, payload transport.Payload) {
	roomID, _ := payload["room_id"].(string)
	name, _ := payload["name"].(string)

	r, ok := rt.registry.Get(roomID)
	if !ok {
		rt.endpoint.SendReliable(addr, transport.Payload{"type": typeConnectFailed, "reason": "room not found"})
		return
	}

	player, err := r.Join(addr, name)
	if err != nil {
		rt.endpoint.SendReliable(addr, transport.Payload{"type": typeConnectFailed, "reason": joinFailureReason(err)})
		return
	}

	rt.bindAddr(addr, r)
	rt.publish(events.Event{Type: events.PlayerJoined, RoomID: r.ID, Data: player.PlayerID})
	rt.endpoint.SendReliable(addr, transport.Payload{
		"type":      typeConnectSuccess,
		"player_id": player.PlayerID,
		"room_id":   r.ID,
		"game_state": transport.Payload{
			"frame":        r.CurrentFrame(),
			"game_started": r.Started(),
		},
	})
}

func joinFailureReason(err error) string {
	switch err {
	case ErrRoomStarted:
		return "game already started"
	case ErrRoomFull:
		return "room full"
	case ErrAlreadyInRoom:
		return "already in room"
	default:
		return "join failed"
	}
}

func (rt *Router) handleGameStart(addr net.Addr) {
	r, ok := rt.roomFor(addr)
	if !ok {
		return
	}
	players, err := r.Start(addr)
	if err != nil {
		// NotHost and RoomStarted are both silently ignored:
		// game_start from a non-host is not an error reply, it's a
		// no-op.
		return
	}

	roster := make(transport.Payload, len(players))
	for _, p := range players {
		roster[playerKey(p.PlayerID)] = transport.Payload{
			"id":    p.PlayerID,
			"name":  p.DisplayName,
			"color": p.Color,
		}
	}

	rt.publish(events.Event{Type: events.GameStarted, RoomID: r.ID})

	payload := transport.Payload{
		"type":        typeGameStart,
		"start_frame": 0,
		"players":     roster,
	}
	for _, memberAddr := range r.Addresses() {
		rt.endpoint.SendReliable(memberAddr, payload)
	}
}

func (rt *Router) handlePlayerInput(addr net.Addr, payload transport.Payload) {
	r, ok := rt.roomFor(addr)
	if !ok {
		return
	}
	frame, ok := intField(payload, "frame")
	if !ok {
		return
	}
	inputs, _ := payload["inputs"].(InputList)

	playerID, serverFrame, _ := r.AcceptInput(addr, frame, inputs)
	rt.endpoint.SendReliable(addr, transport.Payload{
		"type":         typeInputAck,
		"frame":        frame,
		"server_frame": serverFrame,
		"player_id":    playerID,
	})
}

func (rt *Router) handlePing(addr net.Addr, payload transport.Payload) {
	r, ok := rt.roomFor(addr)
	if !ok {
		return
	}
	rt.endpoint.SendReliable(addr, transport.Payload{
		"type":         typePong,
		"timestamp":    payload["timestamp"],
		"server_frame": r.CurrentFrame(),
	})
}

func (rt *Router) handleSyncRequest(addr net.Addr, payload transport.Payload) {
	r, ok := rt.roomFor(addr)
	if !ok {
		return
	}
	frame, ok := intField(payload, "frame")
	if !ok {
		return
	}
	for _, commit := range r.CommittedSince(frame) {
		rt.endpoint.SendReliable(addr, transport.Payload{
			"type":   typeFrameInputs,
			"frame":  commit.Frame,
			"inputs": commit.Inputs,
		})
	}
}

// HandleDisconnect is the Endpoint's disconnect callback: remove the
// player, reassign host if needed, and tell the remaining members.
func (rt *Router) HandleDisconnect(addr net.Addr) {
	r, ok := rt.roomFor(addr)
	if !ok {
		return
	}
	rt.unbindAddr(addr)

	playerID, wasMember, _ := r.Leave(addr)
	if !wasMember {
		return
	}
	rt.publish(events.Event{Type: events.PlayerLeft, RoomID: r.ID, Data: playerID})

	payload := transport.Payload{
		"type":      typePlayerDisconnect,
		"player_id": playerID,
	}
	for _, memberAddr := range r.Addresses() {
		rt.endpoint.SendReliable(memberAddr, payload)
	}
}

func intField(payload transport.Payload, key string) (int, bool) {
	switch v := payload[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

func playerKey(id int) string {
	return strconv.Itoa(id)
}
