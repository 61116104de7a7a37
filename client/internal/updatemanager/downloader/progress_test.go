package downloader

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	mu     sync.Mutex
	values []int
}

func (r *recorder) publish(p int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, p)
}

func TestTracker_FloorsAndIsMonotonic(t *testing.T) {
	rec := &recorder{}
	tracker := NewTracker(rec.publish)

	tracker.Reset()
	onProgress, stop := tracker.Listen()
	defer stop()

	onProgress(0.4)
	onProgress(42.9999)
	onProgress(42.1)
	onProgress(41)
	onProgress(150)

	assert.Equal(t, []int{0, 42, 100}, rec.values)
	assert.Equal(t, 100, tracker.Percent())
}

func TestTracker_ResetStartsAtZero(t *testing.T) {
	rec := &recorder{}
	tracker := NewTracker(rec.publish)

	tracker.Reset()
	first, stopFirst := tracker.Listen()
	first(73.5)
	stopFirst()
	assert.Equal(t, 73, tracker.Percent())

	tracker.Reset()
	assert.Equal(t, 0, tracker.Percent())

	second, stopSecond := tracker.Listen()
	defer stopSecond()
	second(10)

	assert.Equal(t, []int{0, 73, 0, 10}, rec.values)
}

func TestTracker_StoppedListenerIsIgnored(t *testing.T) {
	rec := &recorder{}
	tracker := NewTracker(rec.publish)

	tracker.Reset()
	onProgress, stop := tracker.Listen()
	stop()
	stop()
	onProgress(50)
	assert.Equal(t, 0, tracker.Percent())

	// a listener from before a reset does not leak into the next download
	stale, staleStop := tracker.Listen()
	defer staleStop()
	tracker.Reset()
	stale(80)
	assert.Equal(t, 0, tracker.Percent())
	assert.Equal(t, []int{0, 0}, rec.values)
}
