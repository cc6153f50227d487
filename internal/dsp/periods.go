// internal/dsp/periods.go
package dsp

import "slices"

// periodHistory is a fixed-capacity ring of the most recent inter-tick
// periods in seconds. It never allocates after construction.
type periodHistory struct {
	buf     []float64
	start   int
	count   int
	scratch []float64
}

func newPeriodHistory(capacity int) *periodHistory {
	return &periodHistory{
		buf:     make([]float64, capacity),
		scratch: make([]float64, 0, capacity),
	}
}

// Push appends a period, evicting the oldest one when full.
func (h *periodHistory) Push(period float64) {
	if h.count < len(h.buf) {
		h.buf[(h.start+h.count)%len(h.buf)] = period
		h.count++
		return
	}
	h.buf[h.start] = period
	h.start = (h.start + 1) % len(h.buf)
}

// Len returns the number of recorded periods.
func (h *periodHistory) Len() int {
	return h.count
}

// Median returns the median recorded period, averaging the two middle
// values for an even count. It returns 0 when empty.
func (h *periodHistory) Median() float64 {
	if h.count == 0 {
		return 0
	}
	h.scratch = h.AppendTo(h.scratch[:0])
	slices.Sort(h.scratch)
	mid := h.count / 2
	if h.count%2 == 1 {
		return h.scratch[mid]
	}
	return (h.scratch[mid-1] + h.scratch[mid]) / 2
}

// AppendTo appends the recorded periods to dst, oldest first.
func (h *periodHistory) AppendTo(dst []float64) []float64 {
	for i := 0; i < h.count; i++ {
		dst = append(dst, h.buf[(h.start+i)%len(h.buf)])
	}
	return dst
}

func (h *periodHistory) Reset() {
	h.start = 0
	h.count = 0
}
