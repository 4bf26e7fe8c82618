package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"lockstepd/internal/config"
	"lockstepd/internal/logging"
	"lockstepd/internal/metrics"
)

// OnMessage is called for every payload delivered in order, whether
// it arrived on the reliable or unreliable channel.
type OnMessage func(addr net.Addr, payload Payload)

// OnDisconnect is called once, when a peer's silence exceeds the
// inactivity timeout. The peer's state is already removed by the
// time this fires.
type OnDisconnect func(addr net.Addr)

// OnMessageFailed is called when a reliable send to addr exhausted
// its retries without being ACKed.
type OnMessageFailed func(addr net.Addr, seq uint16)

// Endpoint is a single UDP socket plus the reliability, ordering,
// heartbeat and timeout bookkeeping for every peer on it.
type Endpoint struct {
	conn *net.UDPConn
	cfg  config.TransportConfig
	cdc  *Codec

	mu    sync.RWMutex
	peers map[string]*PeerState

	onMessage       OnMessage
	onDisconnect    OnDisconnect
	onMessageFailed OnMessageFailed

	metrics       *metrics.Metrics
	lastHeartbeat time.Time

	clientMode bool
}

// NewEndpoint wraps an already-bound UDP socket in server mode: any
// address is accepted as a peer, tracked on first contact. The caller
// owns dialing/listening; Endpoint only reads and writes datagrams on
// it.
func NewEndpoint(conn *net.UDPConn, cfg config.TransportConfig) *Endpoint {
	return newEndpoint(conn, cfg, false)
}

// NewClientEndpoint wraps an already-bound UDP socket in client mode:
// SendReliable to an address not already registered via Connect fails
// with ErrPeerUnknown instead of silently adopting the address as a
// new peer.
func NewClientEndpoint(conn *net.UDPConn, cfg config.TransportConfig) *Endpoint {
	return newEndpoint(conn, cfg, true)
}

func newEndpoint(conn *net.UDPConn, cfg config.TransportConfig, clientMode bool) *Endpoint {
	return &Endpoint{
		conn:          conn,
		cfg:           cfg,
		cdc:           NewCodec(),
		peers:         make(map[string]*PeerState),
		lastHeartbeat: time.Now(),
		clientMode:    clientMode,
	}
}

func (e *Endpoint) SetOnMessage(f OnMessage)             { e.onMessage = f }
func (e *Endpoint) SetOnDisconnect(f OnDisconnect)       { e.onDisconnect = f }
func (e *Endpoint) SetOnMessageFailed(f OnMessageFailed) { e.onMessageFailed = f }
func (e *Endpoint) SetMetrics(m *metrics.Metrics)        { e.metrics = m }

// peerFor returns the tracking state for addr, creating it on first
// contact. The receive loop calls this for every inbound datagram in
// either mode; a server-mode SendReliable calls it for an untracked
// address, and Connect calls it explicitly.
func (e *Endpoint) peerFor(addr net.Addr) *PeerState {
	key := addr.String()

	e.mu.RLock()
	p, ok := e.peers[key]
	e.mu.RUnlock()
	if ok {
		return p
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.peers[key]; ok {
		return p
	}
	p = NewPeerState(addr, e.cfg.PeerRateLimitPerSec, e.cfg.PeerRateLimitBurst)
	e.peers[key] = p
	return p
}

// Connect registers addr as a known peer without waiting for an
// inbound packet from it, used by client-mode endpoints that must
// be able to send_reliable before the server has said anything back.
func (e *Endpoint) Connect(addr net.Addr) {
	e.peerFor(addr)
}

// trackedPeer returns addr's tracking state without creating one.
func (e *Endpoint) trackedPeer(addr net.Addr) (*PeerState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.peers[addr.String()]
	return p, ok
}

// Forget drops tracking state for addr, e.g. after an explicit
// room-level disconnect.
func (e *Endpoint) Forget(addr net.Addr) {
	e.mu.Lock()
	delete(e.peers, addr.String())
	e.mu.Unlock()
}

func (e *Endpoint) PeerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.peers)
}

// SendReliable encodes payload as a RELIABLE packet, hands it to the
// peer's retransmit bookkeeping, and writes it once immediately. The
// maintenance loop resends it until it is ACKed or its retry count
// exceeds MaxRetries.
// In client mode, sending to an addr never registered via Connect (or
// not yet seen inbound) fails with ErrPeerUnknown rather than
// silently adopting it as a new peer.
func (e *Endpoint) SendReliable(addr net.Addr, payload Payload) (uint16, error) {
	p, ok := e.trackedPeer(addr)
	if !ok {
		if e.clientMode {
			return 0, ErrPeerUnknown
		}
		p = e.peerFor(addr)
	}
	seq := p.AllocateSeq()

	pkt := &Packet{Kind: KindReliable, Seq: seq, Data: payload}
	encoded, err := e.cdc.Encode(pkt)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	p.StoreUnacked(seq, encoded, now)
	if _, err := e.conn.WriteTo(encoded, addr); err != nil {
		return seq, err
	}
	return seq, nil
}

// SendUnreliable encodes and writes payload once, with no
// acknowledgement or retry.
func (e *Endpoint) SendUnreliable(addr net.Addr, payload Payload) error {
	pkt := &Packet{Kind: KindUnreliable, Data: payload}
	encoded, err := e.cdc.Encode(pkt)
	if err != nil {
		return err
	}
	_, err = e.conn.WriteTo(encoded, addr)
	return err
}

func (e *Endpoint) sendAck(addr net.Addr, seq uint16) {
	pkt := &Packet{Kind: KindAck, AckSeq: seq}
	encoded, err := e.cdc.Encode(pkt)
	if err != nil {
		return
	}
	e.conn.WriteTo(encoded, addr)
}

func (e *Endpoint) sendHeartbeat(addr net.Addr) {
	pkt := &Packet{Kind: KindHeartbeat}
	encoded, err := e.cdc.Encode(pkt)
	if err != nil {
		return
	}
	e.conn.WriteTo(encoded, addr)
}

// Run drives the receive loop and the maintenance loop until ctx is
// canceled, then closes the socket. Both loops are started under a
// single errgroup so either one's fatal error tears down the other.
func (e *Endpoint) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.receiveLoop(ctx) })
	g.Go(func() error { return e.maintenanceLoop(ctx) })

	<-ctx.Done()
	e.conn.Close()
	return g.Wait()
}

// receiveLoop reads datagrams under a short poll deadline: the
// deadline lets the loop notice context cancellation promptly without
// blocking forever on an idle socket.
func (e *Endpoint) receiveLoop(ctx context.Context) error {
	buf := make([]byte, e.cfg.MaxDatagramSize)
	timeout := time.Duration(e.cfg.ReceiveTimeoutMS) * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		e.conn.SetReadDeadline(time.Now().Add(timeout))
		n, addr, err := e.conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			continue
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])
		e.handleDatagram(raw, addr)
	}
}

func (e *Endpoint) handleDatagram(raw []byte, addr net.Addr) {
	pkt, err := e.cdc.Decode(raw)
	if err != nil {
		logging.WithFields(logging.Fields{"addr": addr.String()}).Debug("dropping malformed datagram")
		if e.metrics != nil {
			e.metrics.PacketsDropped.Inc()
		}
		return
	}

	p := e.peerFor(addr)
	if !p.Allow() {
		logging.WithFields(logging.Fields{"addr": addr.String()}).Debug("peer rate limit exceeded, dropping datagram")
		if e.metrics != nil {
			e.metrics.PacketsDropped.Inc()
		}
		return
	}
	p.TouchActivity(time.Now())

	switch pkt.Kind {
	case KindReliable:
		e.sendAck(addr, pkt.Seq)
		delivered, _ := p.ReceiveReliable(pkt.Seq, pkt.Data)
		for _, payload := range delivered {
			if e.onMessage != nil {
				e.onMessage(addr, payload)
			}
		}
	case KindUnreliable:
		// Heartbeat traffic rides the unreliable channel but never
		// reaches the application: a heartbeat gets an immediate
		// heartbeat_ack, and a heartbeat_ack is swallowed after the
		// activity touch above.
		switch dataType(pkt.Data) {
		case "heartbeat":
			e.SendUnreliable(addr, Payload{"type": "heartbeat_ack"})
		case "heartbeat_ack":
		default:
			if e.onMessage != nil {
				e.onMessage(addr, pkt.Data)
			}
		}
	case KindAck:
		p.AckReceived(pkt.AckSeq)
	case KindHeartbeat:
		e.SendUnreliable(addr, Payload{"type": "heartbeat_ack"})
	}
}

func dataType(p Payload) string {
	t, _ := p["type"].(string)
	return t
}

// maintenanceLoop runs every RetransmitInterval, scanning every
// peer's unacked packets each tick and performing the lower-frequency
// heartbeat and inactivity sweeps when their own interval has
// elapsed. One loop rather than three goroutines, so the three
// concerns share one consistent view of "now".
func (e *Endpoint) maintenanceLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(e.cfg.RetransmitIntervalMS) * time.Millisecond)
	defer ticker.Stop()

	retryTimeout := time.Duration(e.cfg.RetransmitTimeoutMS) * time.Millisecond
	heartbeatInterval := time.Duration(e.cfg.HeartbeatIntervalMS) * time.Millisecond
	inactivityTimeout := time.Duration(e.cfg.InactivityTimeoutMS) * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			e.scanRetransmits(now, retryTimeout)

			if now.Sub(e.lastHeartbeat) >= heartbeatInterval {
				e.lastHeartbeat = now
				e.broadcastHeartbeat()
			}

			e.sweepInactive(now, inactivityTimeout)
		}
	}
}

func (e *Endpoint) snapshotPeers() []*PeerState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*PeerState, 0, len(e.peers))
	for _, p := range e.peers {
		out = append(out, p)
	}
	return out
}

func (e *Endpoint) scanRetransmits(now time.Time, timeout time.Duration) {
	for _, p := range e.snapshotPeers() {
		due, expired := p.DueRetransmits(now, timeout, e.cfg.MaxRetries)
		for _, item := range due {
			e.conn.WriteTo(item.Encoded, p.Addr)
			if e.metrics != nil {
				e.metrics.Retransmits.Inc()
			}
		}
		for _, seq := range expired {
			if e.onMessageFailed != nil {
				e.onMessageFailed(p.Addr, seq)
			}
		}
	}
}

func (e *Endpoint) broadcastHeartbeat() {
	peers := e.snapshotPeers()
	for _, p := range peers {
		e.sendHeartbeat(p.Addr)
	}
	if e.metrics != nil {
		e.metrics.ActivePeers.Set(float64(len(peers)))
		e.metrics.Heartbeats.Add(float64(len(peers)))
	}
}

func (e *Endpoint) sweepInactive(now time.Time, timeout time.Duration) {
	for _, p := range e.snapshotPeers() {
		if !p.Idle(now, timeout) {
			continue
		}
		e.Forget(p.Addr)
		if e.onDisconnect != nil {
			e.onDisconnect(p.Addr)
		}
	}
}
