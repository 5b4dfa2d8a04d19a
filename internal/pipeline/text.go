package pipeline

// rxStringMaxLen bounds the sliding-window decoded text string carried in
// FreeDV's embedded ASCII side-channel, matching MAX_RX_STRING_LENGTH in
// the original freedv-processor.c.
const rxStringMaxLen = 40

// rxTextAccumulator mirrors my_put_next_rx_char: a sliding window of the
// last rxStringMaxLen decoded characters, with unprintable bytes (and
// spaces) folded to 0x7F the way the original's FreeDV callback does.
type rxTextAccumulator struct {
	buf []byte
}

func (a *rxTextAccumulator) PutChar(c byte) {
	if c < 32 || c > 126 || c == ' ' {
		c = 0x7f
	}
	a.buf = append(a.buf, c)
	if len(a.buf) > rxStringMaxLen {
		a.buf = a.buf[len(a.buf)-rxStringMaxLen:]
	}
}

func (a *rxTextAccumulator) String() string {
	return string(a.buf)
}

// txTextMaxQueued bounds the number of pending outbound text messages so a
// runaway caller can't grow this without limit.
const txTextMaxQueued = 8

// txTextQueue feeds FreeDV's embedded ASCII side-channel on transmit. The
// original always repeated a single fixed string (my_get_next_tx_char
// wraps ptx_str back to the start once exhausted); this queues successive
// messages, sending each once, and falls back to repeating the last
// message sent once the queue drains — so a caller that never calls
// Enqueue again still gets the original's indefinite-repeat behavior.
type txTextQueue struct {
	pending []string
	current string
	pos     int
}

// Enqueue appends a message to send once the current one (if any)
// finishes. Silently drops the message if the queue is already full,
// matching the bounded-buffer posture elsewhere in the pipeline.
func (q *txTextQueue) Enqueue(msg string) bool {
	if len(q.pending) >= txTextMaxQueued {
		return false
	}
	q.pending = append(q.pending, msg)
	return true
}

// NextChar returns the next character FreeDV should encode, advancing
// through the current message and rotating in the next queued one once
// it's exhausted.
func (q *txTextQueue) NextChar() byte {
	if q.current == "" {
		if len(q.pending) > 0 {
			q.current, q.pending = q.pending[0], q.pending[1:]
			q.pos = 0
		} else {
			return 0
		}
	}

	c := q.current[q.pos]
	q.pos++
	if q.pos >= len(q.current) {
		if len(q.pending) > 0 {
			q.current, q.pending = q.pending[0], q.pending[1:]
		}
		q.pos = 0
	}
	return c
}
