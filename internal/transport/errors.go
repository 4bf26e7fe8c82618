package transport

import "github.com/pkg/errors"

// Sentinel errors of the transport layer. Transport errors never
// propagate as panics; they surface as one of these (returned from a
// send call) or as a dropped packet plus a log line.
var (
	// ErrMalformedPacket means decode failed; the caller drops the
	// datagram silently and does not reply.
	ErrMalformedPacket = errors.New("transport: malformed packet")

	// ErrPayloadTooLarge means the encoded, compressed packet would
	// exceed the MTU assumption (65507 bytes).
	ErrPayloadTooLarge = errors.New("transport: payload too large")

	// ErrPeerUnknown means a client-mode endpoint tried to
	// send_reliable to an address it does not track (never registered
	// via Connect and never seen inbound).
	ErrPeerUnknown = errors.New("transport: peer unknown")

	// ErrRetryExhausted names the case of a reliable packet exceeding
	// MaxRetries without being ACKed. No call returns it: retry
	// exhaustion is reported through the OnMessageFailed callback as
	// (addr, seq).
	ErrRetryExhausted = errors.New("transport: retries exhausted")
)
