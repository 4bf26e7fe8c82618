package transport

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"io"
	"time"
)

// MaxMTU is the largest datagram the transport will put on the wire.
// Packets that would compress to more than this are rejected by the
// sender rather than risk silent IP fragmentation.
const MaxMTU = 65507

// Codec turns a Packet into wire bytes and back. The wire format is
// zlib(json(packet)). Existing clients speak exactly this pairing,
// so both halves are fixed: swapping the encoding or the compressor
// breaks interop.
type Codec struct{}

// NewCodec returns the shared stateless codec. There is nothing to
// configure: compression level and JSON settings are fixed so every
// peer produces byte-identical wire packets for the same payload.
func NewCodec() *Codec {
	return &Codec{}
}

// Encode serializes p and compresses it. Returns ErrPayloadTooLarge if
// the result would not fit in a single UDP datagram.
func (c *Codec) Encode(p *Packet) ([]byte, error) {
	if p.Timestamp == 0 {
		p.Timestamp = float64(time.Now().UnixNano()) / 1e9
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, ErrMalformedPacket
	}

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return nil, ErrMalformedPacket
	}
	if err := w.Close(); err != nil {
		return nil, ErrMalformedPacket
	}

	if buf.Len() > MaxMTU {
		return nil, ErrPayloadTooLarge
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode. Any failure (bad zlib stream, invalid
// JSON, unknown Kind) is reported as ErrMalformedPacket so the
// caller can drop the datagram silently.
func (c *Codec) Decode(raw []byte) (*Packet, error) {
	r, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, ErrMalformedPacket
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, ErrMalformedPacket
	}

	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, ErrMalformedPacket
	}
	if p.Kind < KindUnreliable || p.Kind > KindHeartbeat {
		return nil, ErrMalformedPacket
	}
	return &p, nil
}
