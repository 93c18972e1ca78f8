package pipeline

import (
	"os"

	"github.com/schollz/progressbar/v3"
)

// Progress is told how many frames are done out of total (0 when unknown).
type Progress func(processed, total int)

// Fraction adapts an observer of completion in [0,1]. It only fires when the
// total is known, clamps to 1 and never reports a smaller value than before.
func Fraction(f func(float64)) Progress {
	last := 0.0
	return func(processed, total int) {
		if total <= 0 {
			return
		}
		v := float64(processed) / float64(total)
		if v > 1 {
			v = 1
		}
		if v < last {
			return
		}
		last = v
		f(v)
	}
}

// Bar renders progress on stderr, falling back to a spinner when the frame count is unknown.
type Bar struct {
	bar *progressbar.ProgressBar
	max int
}

// NewBar creates a bar for total frames.
func NewBar(description string, total int) *Bar {
	var barTotal int64 = int64(total)
	if barTotal <= 0 {
		barTotal = -1 // Trigger spinner mode
	}
	return &Bar{
		bar: progressbar.NewOptions64(barTotal,
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
			progressbar.OptionShowCount(),
		),
		max: total,
	}
}

// Update implements Progress.
func (b *Bar) Update(processed, total int) {
	if total > 0 && total != b.max {
		b.max = total
		b.bar.ChangeMax(total)
	}
	b.bar.Set(processed)
}

// Finish completes the bar.
func (b *Bar) Finish() {
	b.bar.Finish()
}
