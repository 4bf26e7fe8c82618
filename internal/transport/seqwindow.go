package transport

// SeqWindow is the circular lookup window applied to reorder-buffer
// membership checks. Seqs live in a mod-2^16 space with no absolute
// ordering, so comparisons must use signed subtraction rather than
// raw integer comparison or they misbehave across a wraparound.
const SeqWindow = 1024

// SeqDiff returns a - b interpreted as a signed 16-bit delta, so that
// a sequence number just past the 2^16 wraparound compares as "after"
// a sequence number just before it.
func SeqDiff(a, b uint16) int16 {
	return int16(a - b)
}

// SeqLess reports whether a precedes b in circular sequence order.
func SeqLess(a, b uint16) bool {
	return SeqDiff(a, b) < 0
}

// SeqInWindow reports whether seq falls within SeqWindow positions
// ahead of base. It bounds reorder-buffer growth so a wildly
// out-of-range seq (garbage or an adversarial peer) is rejected
// instead of being buffered forever.
func SeqInWindow(seq, base uint16) bool {
	d := SeqDiff(seq, base)
	return d >= 0 && int(d) < SeqWindow
}
