package indicator

// window is a fixed-capacity circular buffer of int64 values (paise) used
// for rolling high/low lookbacks. Zero-allocation after construction.
type window struct {
	buf   []int64
	idx   int
	count int
}

func newWindow(capacity int) *window {
	return &window{buf: make([]int64, capacity)}
}

func (w *window) push(v int64) {
	w.buf[w.idx] = v
	w.idx = (w.idx + 1) % len(w.buf)
	w.count++
}

// have reports whether at least n values have been pushed.
func (w *window) have(n int) bool {
	return w.count >= n
}

// maxMin returns the maximum and minimum over the last n pushed values.
// Callers must ensure have(n).
func (w *window) maxMin(n int) (int64, int64) {
	i := (w.idx - 1 + len(w.buf)) % len(w.buf)
	max, min := w.buf[i], w.buf[i]
	for k := 1; k < n; k++ {
		i = (i - 1 + len(w.buf)) % len(w.buf)
		v := w.buf[i]
		if v > max {
			max = v
		}
		if v < min {
			min = v
		}
	}
	return max, min
}

// at returns the value pushed `back` steps ago (0 = most recent).
func (w *window) at(back int) (int64, bool) {
	if back >= w.count || back >= len(w.buf) {
		return 0, false
	}
	i := (w.idx - 1 - back + 2*len(w.buf)) % len(w.buf)
	return w.buf[i], true
}
