package wire

// coalesceThreshold bounds the "join small adjacent chunks" policy: a
// newly pushed chunk is merged into the FIFO's tail chunk instead of
// being appended as its own entry when the resulting chunk would be at
// most this many bytes. This amortises small enqueue() calls into
// fewer, larger writes without changing observable behaviour.
const coalesceThreshold = 4096

// ByteFIFO is a chunk deque with available-bytes accounting. It backs
// both the deframer's inbound accumulation buffer and a Channel's
// outbound write queue.
type ByteFIFO struct {
	chunks    [][]byte
	available int
}

// NewByteFIFO returns an empty FIFO.
func NewByteFIFO() *ByteFIFO {
	return &ByteFIFO{}
}

// Available reports the total number of buffered bytes.
func (f *ByteFIFO) Available() int {
	return f.available
}

// Empty reports whether the FIFO holds no bytes.
func (f *ByteFIFO) Empty() bool {
	return f.available == 0
}

// Push appends a chunk to the tail of the FIFO, coalescing it into the
// existing tail chunk when both are small.
func (f *ByteFIFO) Push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	f.available += len(chunk)

	if n := len(f.chunks); n > 0 {
		tail := f.chunks[n-1]
		if len(tail)+len(chunk) <= coalesceThreshold {
			f.chunks[n-1] = append(tail, chunk...)
			return
		}
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	f.chunks = append(f.chunks, buf)
}

// Peek returns the first pending chunk without removing it, or nil if
// the FIFO is empty.
func (f *ByteFIFO) Peek() []byte {
	if len(f.chunks) == 0 {
		return nil
	}
	return f.chunks[0]
}

// Consume removes n bytes from the front of the FIFO. n must not exceed
// Available().
func (f *ByteFIFO) Consume(n int) {
	f.available -= n
	for n > 0 && len(f.chunks) > 0 {
		head := f.chunks[0]
		switch {
		case n < len(head):
			f.chunks[0] = head[n:]
			n = 0
		default:
			n -= len(head)
			f.chunks = f.chunks[1:]
		}
	}
}

// Bytes drains and returns every buffered byte as a single contiguous
// slice. The FIFO is empty afterwards.
func (f *ByteFIFO) Bytes() []byte {
	out := make([]byte, 0, f.available)
	for _, c := range f.chunks {
		out = append(out, c...)
	}
	f.chunks = nil
	f.available = 0
	return out
}

// First n bytes without consuming, used by the deframer to peek at a
// header or contents span that may straddle multiple chunks.
func (f *ByteFIFO) PeekN(n int) []byte {
	if n > f.available {
		n = f.available
	}
	out := make([]byte, 0, n)
	for _, c := range f.chunks {
		if len(out) >= n {
			break
		}
		need := n - len(out)
		if need >= len(c) {
			out = append(out, c...)
		} else {
			out = append(out, c[:need]...)
		}
	}
	return out
}
