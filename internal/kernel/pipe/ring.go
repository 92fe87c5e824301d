package pipe

// ring is a non-overwriting byte ring over a borrowed buffer. A zero-size
// ring accepts and yields nothing.
type ring struct {
	buf            []byte
	rIndex, wIndex int
	used           int
}

func (r *ring) reset(buf []byte) {
	r.buf = buf
	r.rIndex, r.wIndex, r.used = 0, 0, 0
}

func (r *ring) free() int { return len(r.buf) - r.used }

// write copies as much of p as fits and returns the count.
func (r *ring) write(p []byte) int {
	n := 0
	for n < len(p) && r.used < len(r.buf) {
		// Contiguous space up to the end of the buffer or the read index.
		end := len(r.buf)
		if r.wIndex < r.rIndex {
			end = r.rIndex
		}
		k := copy(r.buf[r.wIndex:end], p[n:])
		if k > r.free() {
			k = r.free()
		}
		n += k
		r.used += k
		r.wIndex += k
		if r.wIndex == len(r.buf) {
			r.wIndex = 0
		}
	}
	return n
}

// read moves up to len(p) bytes into p and returns the count.
func (r *ring) read(p []byte) int {
	n := 0
	for n < len(p) && r.used > 0 {
		end := len(r.buf)
		if r.rIndex < r.wIndex {
			end = r.wIndex
		}
		k := copy(p[n:], r.buf[r.rIndex:end])
		if k > r.used {
			k = r.used
		}
		n += k
		r.used -= k
		r.rIndex += k
		if r.rIndex == len(r.buf) {
			r.rIndex = 0
		}
	}
	return n
}

// discard drops all buffered bytes.
func (r *ring) discard() int {
	n := r.used
	r.rIndex, r.wIndex, r.used = 0, 0, 0
	return n
}
