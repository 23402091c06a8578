package splitter

// Preroll is a fixed-capacity ring of samples kept while not recording.
// Samples are stored back to back in one byte slice; once full, the oldest
// samples are evicted first.
type Preroll struct {
	sampleBytes int
	data        []byte // capacity * sampleBytes
	start       int    // byte offset of the oldest sample
	size        int    // stored bytes, always a multiple of sampleBytes
	evicted     uint64 // samples evicted since creation
}

// NewPreroll creates a ring holding up to capacity samples of sampleBytes each
func NewPreroll(capacity, sampleBytes int) *Preroll {
	if capacity < 0 {
		capacity = 0
	}
	if sampleBytes < 0 {
		sampleBytes = 0
	}
	return &Preroll{
		sampleBytes: sampleBytes,
		data:        make([]byte, capacity*sampleBytes),
	}
}

// Append stores whole samples from p, evicting the oldest samples when the
// ring is full. A trailing partial sample in p is ignored. It returns the
// number of samples evicted.
func (r *Preroll) Append(p []byte) int {
	if r.sampleBytes == 0 {
		return 0
	}
	p = p[:len(p)-len(p)%r.sampleBytes]
	if len(p) == 0 {
		return 0
	}

	capBytes := len(r.data)
	if capBytes == 0 {
		n := len(p) / r.sampleBytes
		r.evicted += uint64(n)
		return n
	}

	overflow := r.size + len(p) - capBytes
	if overflow < 0 {
		overflow = 0
	}

	// Only the newest capBytes of p can survive
	if len(p) > capBytes {
		p = p[len(p)-capBytes:]
	}

	end := (r.start + r.size) % capBytes
	n := copy(r.data[end:], p)
	copy(r.data, p[n:])

	r.size += len(p)
	if r.size > capBytes {
		r.start = (r.start + r.size - capBytes) % capBytes
		r.size = capBytes
	}

	evicted := overflow / r.sampleBytes
	r.evicted += uint64(evicted)
	return evicted
}

// Len returns the number of stored samples
func (r *Preroll) Len() int {
	if r.sampleBytes == 0 {
		return 0
	}
	return r.size / r.sampleBytes
}

// Cap returns the capacity in samples
func (r *Preroll) Cap() int {
	if r.sampleBytes == 0 {
		return 0
	}
	return len(r.data) / r.sampleBytes
}

// Evicted returns the total number of samples evicted
func (r *Preroll) Evicted() uint64 {
	return r.evicted
}

// Each calls fn with the stored bytes, oldest first, in at most two
// contiguous segments. Every segment holds whole samples. fn must not retain
// the slice.
func (r *Preroll) Each(fn func(segment []byte)) {
	if r.size == 0 {
		return
	}
	capBytes := len(r.data)
	if r.start+r.size <= capBytes {
		fn(r.data[r.start : r.start+r.size])
		return
	}
	fn(r.data[r.start:])
	fn(r.data[:r.start+r.size-capBytes])
}

// Samples returns a copy of every stored sample, oldest first
func (r *Preroll) Samples() [][]byte {
	samples := make([][]byte, 0, r.Len())
	r.Each(func(segment []byte) {
		for i := 0; i < len(segment); i += r.sampleBytes {
			sample := make([]byte, r.sampleBytes)
			copy(sample, segment[i:i+r.sampleBytes])
			samples = append(samples, sample)
		}
	})
	return samples
}

// Reset discards every stored sample
func (r *Preroll) Reset() {
	r.start = 0
	r.size = 0
}
