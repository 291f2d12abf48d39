package pool

import (
	"sync"
	"time"
)

var timerPool = sync.Pool{}

// GetTimer returns a pooled timer armed with d. Release it with
// ReleaseTimer once it is no longer needed.
func GetTimer(d time.Duration) *time.Timer {
	timer, ok := timerPool.Get().(*time.Timer)
	if !ok {
		return time.NewTimer(d)
	}

	if !timer.Stop() {
		// A pooled timer may have fired between Put and Get. Drain it
		// before rearming so the caller never sees a stale tick.
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
	return timer
}

// ReleaseTimer stops and drains the timer and puts it back in the pool.
func ReleaseTimer(timer *time.Timer) {
	if timer == nil {
		return
	}

	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timerPool.Put(timer)
}
