package transport

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// outboundEntry is one unacked reliable send, keyed by seq in
// PeerState.unacked. There is a single reliability channel: no split
// packets, no per-channel ordering.
type outboundEntry struct {
	encoded       []byte
	firstSendTime time.Time
	lastSendTime  time.Time
	retryCount    int
}

// retransmitItem is one packet the maintenance loop must resend.
type retransmitItem struct {
	Seq     uint16
	Encoded []byte
}

// PeerState is the per-remote-address reliability bookkeeping. All
// fields are covered by mu; callers never reach in.
type PeerState struct {
	Addr net.Addr

	mu            sync.Mutex
	nextSeq       uint16
	unacked       map[uint16]*outboundEntry
	receivedSeqs  map[uint16]struct{}
	expectedSeq   uint16
	reorderBuffer map[uint16]Payload
	lastActivity  time.Time

	limiter *rate.Limiter
}

// NewPeerState creates tracking state for a freshly seen address.
// ratePerSec/burst of 0 disables inbound rate limiting for this peer.
func NewPeerState(addr net.Addr, ratePerSec, burst int) *PeerState {
	p := &PeerState{
		Addr:          addr,
		unacked:       make(map[uint16]*outboundEntry),
		receivedSeqs:  make(map[uint16]struct{}),
		reorderBuffer: make(map[uint16]Payload),
		lastActivity:  time.Now(),
	}
	if ratePerSec > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	return p
}

// Allow reports whether another inbound datagram from this peer may
// be processed right now. With no limiter configured it always
// allows. This is a ceiling on a flooding peer, not part of the
// reliability contract itself.
func (p *PeerState) Allow() bool {
	if p.limiter == nil {
		return true
	}
	return p.limiter.Allow()
}

// TouchActivity records that a packet (of any kind) was just received
// from this peer.
func (p *PeerState) TouchActivity(now time.Time) {
	p.mu.Lock()
	p.lastActivity = now
	p.mu.Unlock()
}

// LastActivity returns the wall time of the last received packet.
func (p *PeerState) LastActivity() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastActivity
}

// AllocateSeq returns the next outbound sequence number for this
// peer, wrapping modulo 2^16 via uint16 overflow.
func (p *PeerState) AllocateSeq() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	seq := p.nextSeq
	p.nextSeq++
	return seq
}

// StoreUnacked records a freshly sent reliable packet so the
// maintenance loop can retransmit it until it is ACKed.
func (p *PeerState) StoreUnacked(seq uint16, encoded []byte, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unacked[seq] = &outboundEntry{
		encoded:       encoded,
		firstSendTime: now,
		lastSendTime:  now,
	}
}

// AckReceived removes the outbound entry for ackSeq, if any. A
// missing entry is not an error, just a late duplicate ACK.
func (p *PeerState) AckReceived(ackSeq uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.unacked, ackSeq)
}

// DueRetransmits scans unacked for entries whose retry is due,
// returning the packets to resend and the seqs that exceeded
// maxRetries (already evicted from unacked by the time this returns).
func (p *PeerState) DueRetransmits(now time.Time, timeout time.Duration, maxRetries int) (due []retransmitItem, expired []uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for seq, entry := range p.unacked {
		if now.Sub(entry.lastSendTime) < timeout {
			continue
		}
		if entry.retryCount > maxRetries {
			expired = append(expired, seq)
			delete(p.unacked, seq)
			continue
		}
		entry.retryCount++
		entry.lastSendTime = now
		due = append(due, retransmitItem{Seq: seq, Encoded: entry.encoded})
	}
	return due, expired
}

// ReceiveReliable applies the reliable receive path: ack
// unconditionally (the caller does this), dedup against
// receivedSeqs, buffer out-of-order arrivals, and drain the reorder
// buffer while it holds the next expected seq. Returns the payloads
// now ready for upstream delivery, in order, and whether seq was a
// duplicate. Seq space is circular: anything behind the delivery
// cursor is a late duplicate, and anything more than SeqWindow ahead
// is dropped so the reorder buffer stays bounded.
func (p *PeerState) ReceiveReliable(seq uint16, payload Payload) (delivered []Payload, duplicate bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if SeqLess(seq, p.expectedSeq) {
		return nil, true
	}
	if !SeqInWindow(seq, p.expectedSeq) {
		return nil, false
	}
	if _, seen := p.receivedSeqs[seq]; seen {
		return nil, true
	}
	p.receivedSeqs[seq] = struct{}{}
	p.reorderBuffer[seq] = payload

	for {
		v, ok := p.reorderBuffer[p.expectedSeq]
		if !ok {
			break
		}
		delivered = append(delivered, v)
		delete(p.reorderBuffer, p.expectedSeq)
		delete(p.receivedSeqs, p.expectedSeq)
		p.expectedSeq++
	}
	return delivered, false
}

// Idle reports whether this peer has been silent for longer than
// timeout, as of now.
func (p *PeerState) Idle(now time.Time, timeout time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return now.Sub(p.lastActivity) > timeout
}
