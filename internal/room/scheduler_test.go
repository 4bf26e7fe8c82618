package room

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lockstepd/internal/config"
	"lockstepd/internal/events"
	"lockstepd/internal/transport"
)

// TestSchedulerTickAllSkipsUnstartedButRunsGC checks that tickAll
// leaves a lobby room's frame clock untouched (Tick is a no-op before
// game_start) while still evaluating it for empty-room GC.
func TestSchedulerTickAllSkipsUnstartedButRunsGC(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ep := transport.NewEndpoint(conn, config.Default().Transport)
	reg := NewRegistry(config.Default().Room)
	bus := events.NewBus()

	lobby := reg.Create()
	a := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9401}
	_, err = lobby.Join(a, "A")
	require.NoError(t, err)
	_, _, _ = lobby.Leave(a)
	lobby.emptySince = timePtr(time.Now().Add(-time.Hour))

	s := NewScheduler(reg, ep, 50*time.Millisecond, time.Minute, bus, nil)
	s.tickAll(time.Now())

	require.Equal(t, 0, lobby.CurrentFrame(), "an unstarted room must never advance its frame clock")
	_, ok := reg.Get(lobby.ID)
	require.False(t, ok, "a room empty past the grace period must be destroyed even though it never started")
}

// TestSchedulerBroadcastsCommitsToAllMembers drives a started room
// through enough ticks to seal frame 0 via empty-substitution and
// checks both members receive the frame_inputs broadcast.
func TestSchedulerBroadcastsCommitsToAllMembers(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { serverConn.Close() })

	aConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { aConn.Close() })
	bConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { bConn.Close() })

	ep := transport.NewEndpoint(serverConn, config.Default().Transport)
	reg := NewRegistry(config.Default().Room)
	bus := events.NewBus()
	s := NewScheduler(reg, ep, 50*time.Millisecond, time.Minute, bus, nil)

	r := reg.Create()
	_, err = r.Join(aConn.LocalAddr(), "A")
	require.NoError(t, err)
	_, err = r.Join(bConn.LocalAddr(), "B")
	require.NoError(t, err)
	_, err = r.Start(aConn.LocalAddr())
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		s.tickAll(time.Now())
	}

	frameInputs := readFrameInputs(t, aConn)
	require.Equal(t, typeFrameInputs, frameInputs["type"])
	require.EqualValues(t, 0, frameInputs["frame"])
	readFrameInputs(t, bConn)
}

func timePtr(t time.Time) *time.Time { return &t }

func readFrameInputs(t *testing.T, conn *net.UDPConn) transport.Payload {
	t.Helper()
	buf := make([]byte, 65536)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)

	codec := transport.NewCodec()
	pkt, err := codec.Decode(buf[:n])
	require.NoError(t, err)
	return pkt.Data
}
