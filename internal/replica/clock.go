package replica

import (
	"sync/atomic"
	"time"
)

// Clock returns the model's logical time in milliseconds. It must never go
// backwards.
type Clock interface {
	Now() int64
}

// MonotonicClock counts milliseconds since it was created.
type MonotonicClock struct {
	start time.Time
}

func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

func (that *MonotonicClock) Now() int64 {
	return time.Since(that.start).Milliseconds()
}

// ManualClock only moves when told to.
type ManualClock struct {
	now atomic.Int64
}

func NewManualClock(now int64) *ManualClock {
	clock := &ManualClock{}
	clock.now.Store(now)

	return clock
}

func (that *ManualClock) Now() int64 {
	return that.now.Load()
}

func (that *ManualClock) Set(now int64) {
	that.now.Store(now)
}

func (that *ManualClock) Advance(d time.Duration) {
	that.now.Add(d.Milliseconds())
}
