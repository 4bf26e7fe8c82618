package room

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lockstepd/internal/config"
)

var defaultRoomCfg = config.Default().Room

func addr(port int) net.Addr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}
}

func allTicks(r *Room, n int) []FrameCommit {
	var all []FrameCommit
	for i := 0; i < n; i++ {
		all = append(all, r.Tick()...)
	}
	return all
}

func findCommit(commits []FrameCommit, frame int) (FrameCommit, bool) {
	for _, c := range commits {
		if c.Frame == frame {
			return c, true
		}
	}
	return FrameCommit{}, false
}

// TestEmptyInputCommit: two players never submit for frame 7; once
// current_frame reaches 10, the empty-substitution rule seals frame 7
// with empty inputs for both.
func TestEmptyInputCommit(t *testing.T) {
	r := NewRoom("room_s1", defaultRoomCfg)
	pa, err := r.Join(addr(9001), "A")
	require.NoError(t, err)
	pb, err := r.Join(addr(9002), "B")
	require.NoError(t, err)

	_, err = r.Start(addr(9001))
	require.NoError(t, err)

	commits := allTicks(r, 12)

	commit, ok := findCommit(commits, 7)
	require.True(t, ok, "frame 7 should have committed via empty-substitution")
	require.Equal(t, FrameSet{pa.PlayerID: {}, pb.PlayerID: {}}, commit.Inputs)
}

// TestHostDeparture: host departs, host reassigns to the lowest
// remaining player_id, and only the new host may issue game_start.
func TestHostDeparture(t *testing.T) {
	r := NewRoom("room_s4", defaultRoomCfg)
	a, b, c := addr(9001), addr(9002), addr(9003)

	_, err := r.Join(a, "A")
	require.NoError(t, err)
	_, err = r.Join(b, "B")
	require.NoError(t, err)
	_, err = r.Join(c, "C")
	require.NoError(t, err)

	require.True(t, r.IsHost(a))

	_, _, _ = r.Leave(a)
	require.True(t, r.IsHost(b), "host should reassign to lowest remaining player_id")

	_, err = r.Start(b)
	require.NoError(t, err, "game_start from the new host must succeed")

	_, err = r.Start(c)
	require.Error(t, err, "game_start from a non-host/after start must be ignored")
}

// TestLateInputRejected checks the acceptance-window boundary:
// frame == current_frame-3 is accepted, current_frame-4 is rejected.
func TestLateInputRejected(t *testing.T) {
	r := NewRoom("room_s5", defaultRoomCfg)
	a := addr(9001)
	_, err := r.Join(a, "A")
	require.NoError(t, err)
	_, err = r.Start(a)
	require.NoError(t, err)
	r.currentFrame = 20

	_, _, accepted := r.AcceptInput(a, 17, InputList{"x"})
	require.True(t, accepted, "current_frame-3 is inside the acceptance window")

	_, _, accepted = r.AcceptInput(a, 16, InputList{"x"})
	require.False(t, accepted, "current_frame-4 is outside the acceptance window")
}

// TestRoomGCTimer: a join before the grace period resets empty_since;
// a second emptying past the grace period makes the room eligible for
// GC.
func TestRoomGCTimer(t *testing.T) {
	r := NewRoom("room_s6", defaultRoomCfg)
	a, b := addr(9001), addr(9002)

	_, err := r.Join(a, "A")
	require.NoError(t, err)
	_, err = r.Join(b, "B")
	require.NoError(t, err)

	_, _, nowEmpty := r.Leave(a)
	require.False(t, nowEmpty)
	_, _, nowEmpty = r.Leave(b)
	require.True(t, nowEmpty)

	require.False(t, r.CheckEmptyGC(time.Now().Add(30*time.Second), 60*time.Second))

	_, err = r.Join(a, "A2")
	require.NoError(t, err, "a join while empty must be admitted and reset empty_since")

	_, _, nowEmpty = r.Leave(a)
	require.True(t, nowEmpty)

	require.True(t, r.CheckEmptyGC(time.Now().Add(61*time.Second), 60*time.Second))
}

// TestCommitExcludesDepartedPlayer: a player who submitted input for
// a frame and then left must not appear in that frame once it
// commits, and their departure must not block the frame from ever
// sealing.
func TestCommitExcludesDepartedPlayer(t *testing.T) {
	r := NewRoom("room_inv4", defaultRoomCfg)
	a, b := addr(9001), addr(9002)

	_, err := r.Join(a, "A")
	require.NoError(t, err)
	pb, err := r.Join(b, "B")
	require.NoError(t, err)
	_, err = r.Start(a)
	require.NoError(t, err)

	_, _, accepted := r.AcceptInput(a, 0, InputList{"moveA"})
	require.True(t, accepted)

	r.Leave(a)

	commits := allTicks(r, 4)
	commit, ok := findCommit(commits, 0)
	require.True(t, ok)
	require.Equal(t, FrameSet{pb.PlayerID: {}}, commit.Inputs,
		"the departed player's stale submission must not appear in the committed set")
}

func TestJoinRejectsStartedRoom(t *testing.T) {
	r := NewRoom("room_join", defaultRoomCfg)
	a, b := addr(9001), addr(9002)
	_, err := r.Join(a, "A")
	require.NoError(t, err)
	_, err = r.Start(a)
	require.NoError(t, err)

	_, err = r.Join(b, "B")
	require.ErrorIs(t, err, ErrRoomStarted)
}

func TestJoinRejectsFullRoom(t *testing.T) {
	cfg := defaultRoomCfg
	cfg.MaxPlayers = 2

	r := NewRoom("room_full", cfg)
	_, err := r.Join(addr(9001), "A")
	require.NoError(t, err)
	_, err = r.Join(addr(9002), "B")
	require.NoError(t, err)

	_, err = r.Join(addr(9003), "C")
	require.ErrorIs(t, err, ErrRoomFull)
}

func TestJoinRejectsDuplicateAddr(t *testing.T) {
	r := NewRoom("room_dup", defaultRoomCfg)
	a := addr(9001)
	_, err := r.Join(a, "A")
	require.NoError(t, err)

	_, err = r.Join(a, "A-again")
	require.ErrorIs(t, err, ErrAlreadyInRoom)
}

// TestLeaveResetsGameStateOnceRoomDrainsEmpty: a departure that
// leaves the room non-empty must never reset current_frame, but
// draining to zero players resets started/current_frame/pending and
// committed frames so a later rejoin gets a clean game_start before
// the GC grace period elapses.
func TestLeaveResetsGameStateOnceRoomDrainsEmpty(t *testing.T) {
	r := NewRoom("room_reset", defaultRoomCfg)
	a, b := addr(9001), addr(9002)

	_, err := r.Join(a, "A")
	require.NoError(t, err)
	_, err = r.Join(b, "B")
	require.NoError(t, err)
	_, err = r.Start(a)
	require.NoError(t, err)

	allTicks(r, 5)
	require.Greater(t, r.CurrentFrame(), 0)

	_, _, nowEmpty := r.Leave(a)
	require.False(t, nowEmpty)
	require.Equal(t, 5, r.CurrentFrame(), "a departure that leaves the room non-empty must not reset current_frame")
	require.True(t, r.Started())

	_, _, nowEmpty = r.Leave(b)
	require.True(t, nowEmpty)
	require.Equal(t, 0, r.CurrentFrame(), "draining to zero players must reset current_frame")
	require.False(t, r.Started(), "draining to zero players must reset started")

	_, err = r.Join(a, "A2")
	require.NoError(t, err)
	_, err = r.Start(a)
	require.NoError(t, err, "a room that drained empty mid-game must accept a fresh game_start on rejoin")
}

// TestAcceptanceWindowHonorsConfig checks that Room.AcceptInput reads
// its window from RoomConfig rather than a hardcoded constant.
func TestAcceptanceWindowHonorsConfig(t *testing.T) {
	cfg := defaultRoomCfg
	cfg.AcceptanceWindow = 1

	r := NewRoom("room_window_cfg", cfg)
	a := addr(9001)
	_, err := r.Join(a, "A")
	require.NoError(t, err)
	_, err = r.Start(a)
	require.NoError(t, err)
	r.currentFrame = 10

	_, _, accepted := r.AcceptInput(a, 9, InputList{"x"})
	require.True(t, accepted, "current_frame-1 is inside a configured window of 1")

	_, _, accepted = r.AcceptInput(a, 8, InputList{"x"})
	require.False(t, accepted, "current_frame-2 is outside a configured window of 1")
}

// TestEmptySubstituteAfterHonorsConfig checks that Room.Tick's
// empty-substitution offset comes from RoomConfig: with
// EmptySubstituteAfter=1, frame 0 seals after two ticks instead of the
// four ticks the default of 3 needs.
func TestEmptySubstituteAfterHonorsConfig(t *testing.T) {
	cfg := defaultRoomCfg
	cfg.EmptySubstituteAfter = 1

	r := NewRoom("room_substitute_cfg", cfg)
	a := addr(9001)
	p, err := r.Join(a, "A")
	require.NoError(t, err)
	_, err = r.Start(a)
	require.NoError(t, err)

	commits := allTicks(r, 2)
	commit, ok := findCommit(commits, 0)
	require.True(t, ok, "frame 0 should have committed via empty-substitution after two ticks with EmptySubstituteAfter=1")
	require.Equal(t, FrameSet{p.PlayerID: {}}, commit.Inputs)
}

// TestHistoryRetainFramesHonorsConfig checks that Tick's pending-input
// GC cutoff comes from RoomConfig.HistoryRetainFrames rather than a
// hardcoded horizon.
func TestHistoryRetainFramesHonorsConfig(t *testing.T) {
	cfg := defaultRoomCfg
	cfg.HistoryRetainFrames = 5

	r := NewRoom("room_retain_cfg", cfg)
	a := addr(9001)
	_, err := r.Join(a, "A")
	require.NoError(t, err)
	_, err = r.Start(a)
	require.NoError(t, err)

	r.mu.Lock()
	r.pendingInputs[0] = FrameSet{1: InputList{"stale"}}
	r.mu.Unlock()

	allTicks(r, 6)

	r.mu.Lock()
	_, stillPresent := r.pendingInputs[0]
	r.mu.Unlock()
	require.False(t, stillPresent, "a pending-input entry older than HistoryRetainFrames must be garbage collected")
}
