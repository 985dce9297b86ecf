// SPDX-License-Identifier: Apache-2.0

package rpcsec

import "sync"

// SeqWindow is the server's replay window for one context (RFC 2203 § 5.3.3.1).  It
// remembers which of the last Size sequence numbers up to the highest seen have been
// used.  It is safe for concurrent use.
type SeqWindow struct {
	mu      sync.Mutex
	size    uint32
	highest uint32
	started bool
	seen    []bool // indexed by sequence number modulo size
}

// NewSeqWindow returns a window of size sequence numbers.  A zero size selects
// DefaultWindow.
func NewSeqWindow(size uint32) *SeqWindow {
	if size == 0 {
		size = DefaultWindow
	}

	return &SeqWindow{size: size, seen: make([]bool, size)}
}

// Size returns the number of sequence numbers the window covers.
func (w *SeqWindow) Size() uint32 {
	return w.size
}

// Accept records seq and reports whether the call may be processed.  Numbers below the
// window and numbers already seen are refused.
func (w *SeqWindow) Accept(seq uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		w.started = true
		w.highest = seq
		w.seen[seq%w.size] = true
		return true
	}

	if seq > w.highest {
		// forget the numbers that slide out of the window
		n := seq - w.highest
		if n > w.size {
			n = w.size
		}
		for i := uint32(1); i <= n; i++ {
			w.seen[(w.highest+i)%w.size] = false
		}

		w.highest = seq
		w.seen[seq%w.size] = true
		return true
	}

	if w.highest-seq >= w.size {
		return false
	}

	slot := seq % w.size
	if w.seen[slot] {
		return false
	}
	w.seen[slot] = true

	return true
}
