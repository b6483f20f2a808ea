package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeqWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("contiguous sequences leave no gap", func(t *testing.T) {
		w := newSeqWindow(64)
		for seq := uint64(10); seq <= 15; seq++ {
			w.mark(seq, now)
		}
		assert.False(t, w.hasGap())
		assert.False(t, w.gapExceeded(time.Second, now.Add(time.Minute)))
	})

	t.Run("a missing sequence opens a gap that ages", func(t *testing.T) {
		w := newSeqWindow(64)
		w.mark(10, now)
		w.mark(12, now) // 11 never arrives

		assert.True(t, w.hasGap())
		assert.False(t, w.gapExceeded(time.Second, now))
		assert.True(t, w.gapExceeded(time.Second, now.Add(2*time.Second)))
	})

	t.Run("a late arrival closes the gap", func(t *testing.T) {
		w := newSeqWindow(64)
		w.mark(10, now)
		w.mark(12, now)
		w.mark(11, now.Add(time.Second))

		assert.False(t, w.hasGap())
		assert.False(t, w.gapExceeded(time.Second, now.Add(time.Hour)))
	})

	t.Run("seed treats earlier sequences as seen", func(t *testing.T) {
		w := newSeqWindow(64)
		w.seed(100)
		w.mark(101, now)
		assert.False(t, w.hasGap())

		w.mark(50, now) // below the window, ignored
		assert.False(t, w.hasGap())
	})

	t.Run("fill silences a permanent hole", func(t *testing.T) {
		w := newSeqWindow(64)
		w.mark(10, now)
		w.mark(12, now)
		w.fill()
		assert.False(t, w.hasGap())
		assert.False(t, w.gapExceeded(time.Second, now.Add(time.Hour)))
	})

	t.Run("sliding past the window keeps tracking recent sequences", func(t *testing.T) {
		w := newSeqWindow(8)
		w.mark(1, now)
		w.mark(100, now) // forces a slide
		w.mark(101, now)
		assert.Equal(t, uint64(101-7), w.base)

		w.mark(102, now)
		assert.False(t, w.hasGap() && w.gapAt.IsZero())
	})

	t.Run("sequence zero is ignored", func(t *testing.T) {
		w := newSeqWindow(8)
		w.mark(0, now)
		assert.False(t, w.any)
	})
}
