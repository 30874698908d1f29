// Package globaltime is the process-wide clock. Production code reads it
// through Now or UTC; tests pin it with SetMockTime and restore the wall
// clock with ResetTime.
package globaltime

import (
	"sync"
	"time"
)

var clock = struct {
	sync.RWMutex
	read func() time.Time
}{read: time.Now}

// Now returns the current time from the active clock source.
func Now() time.Time {
	clock.RLock()
	defer clock.RUnlock()
	return clock.read()
}

// UTC returns Now normalized to UTC. Persisted timestamps go through this so
// rows compare the same regardless of host timezone.
func UTC() time.Time {
	return Now().UTC()
}

// SetMockTime freezes the clock at t until ResetTime is called.
func SetMockTime(t time.Time) {
	clock.Lock()
	defer clock.Unlock()
	clock.read = func() time.Time { return t }
}

// ResetTime restores the wall clock.
func ResetTime() {
	clock.Lock()
	defer clock.Unlock()
	clock.read = time.Now
}
