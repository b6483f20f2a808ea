package reconcile

import (
	"time"

	"github.com/bits-and-blooms/bitset"
)

// seqWindow tracks which per-topic sequence numbers have been observed,
// in a sliding bitset window. A cleared bit below the highest observed
// sequence means a row-insert notification never arrived; if the hole
// stays open past the grace period the reconciler refreshes from the
// store.
type seqWindow struct {
	size   uint
	bits   *bitset.BitSet
	base   uint64 // sequence mapped to bit 0; 0 means not anchored yet
	maxOff uint
	any    bool
	gapAt  time.Time // when the current gap was first seen; zero if none
}

func newSeqWindow(size uint) *seqWindow {
	if size == 0 {
		size = 4096
	}
	return &seqWindow{size: size, bits: bitset.New(size)}
}

// seed positions the window just after seq; everything up to and
// including seq counts as already seen.
func (w *seqWindow) seed(seq uint64) {
	w.base = seq + 1
	w.bits.ClearAll()
	w.maxOff = 0
	w.any = false
	w.gapAt = time.Time{}
}

// mark records an observed sequence number and updates the gap state.
func (w *seqWindow) mark(seq uint64, now time.Time) {
	if seq == 0 {
		return
	}
	if w.base == 0 {
		w.base = seq
	}
	if seq < w.base {
		return
	}
	off := uint(seq - w.base)
	if off >= w.size {
		w.slide(off - w.size + 1)
		off = uint(seq - w.base)
	}

	w.bits.Set(off)
	if !w.any || off > w.maxOff {
		w.maxOff = off
	}
	w.any = true

	if w.hasGap() {
		if w.gapAt.IsZero() {
			w.gapAt = now
		}
	} else {
		w.gapAt = time.Time{}
	}
}

// slide advances the window base, dropping the oldest bits. Sequences
// that fall below the new base are given up on.
func (w *seqWindow) slide(shift uint) {
	nb := bitset.New(w.size)
	for i, ok := w.bits.NextSet(shift); ok; i, ok = w.bits.NextSet(i + 1) {
		nb.Set(i - shift)
	}
	w.bits = nb
	w.base += uint64(shift)
	if w.maxOff >= shift {
		w.maxOff -= shift
	} else {
		w.maxOff = 0
	}
}

func (w *seqWindow) hasGap() bool {
	return w.any && w.bits.Count() != w.maxOff+1
}

// gapExceeded reports whether a gap has stayed open for at least grace.
func (w *seqWindow) gapExceeded(grace time.Duration, now time.Time) bool {
	return !w.gapAt.IsZero() && now.Sub(w.gapAt) >= grace
}

// fill marks everything up to the highest observed sequence as seen.
// Called after a refresh so a permanent hole (a sequence the store
// never committed) does not retrigger the sweep.
func (w *seqWindow) fill() {
	if w.any {
		for i := uint(0); i <= w.maxOff; i++ {
			w.bits.Set(i)
		}
	}
	w.gapAt = time.Time{}
}
