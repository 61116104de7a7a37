package downloader

import (
	"math"
	"sync"
)

// Tracker holds the percentage of the active download. Every download starts at
// zero and only moves forward; listeners of a finished or superseded download
// are ignored.
type Tracker struct {
	mu         sync.Mutex
	percent    int
	generation uint64
	publish    func(percent int)
}

// NewTracker creates a tracker calling publish on every change
func NewTracker(publish func(percent int)) *Tracker {
	return &Tracker{publish: publish}
}

// Percent returns the last published percentage
func (t *Tracker) Percent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percent
}

// Reset drops any previous listener and publishes 0
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.generation++
	t.set(0)
}

// Listen returns a progress callback for the current download and a function
// detaching it. Fractional percentages are floored.
func (t *Tracker) Listen() (onProgress func(float64), stop func()) {
	t.mu.Lock()
	gen := t.generation
	t.mu.Unlock()

	var once sync.Once
	stopped := make(chan struct{})

	onProgress = func(p float64) {
		select {
		case <-stopped:
			return
		default:
		}

		t.mu.Lock()
		defer t.mu.Unlock()
		if gen != t.generation {
			return
		}

		percent := clamp(int(math.Floor(p)))
		if percent <= t.percent {
			return
		}
		t.set(percent)
	}

	stop = func() {
		once.Do(func() { close(stopped) })
	}

	return onProgress, stop
}

func (t *Tracker) set(percent int) {
	t.percent = percent
	if t.publish != nil {
		t.publish(percent)
	}
}

func clamp(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
