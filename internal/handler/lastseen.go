package handler

import (
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// lastSeen remembers a fingerprint of the most recent value so verbose
// logging can skip repeats (clients poll the same status command).
// Races only cost a duplicate or skipped log line.
type lastSeen struct {
	sum atomic.Uint64
	set atomic.Bool
}

// changed records s and reports whether it differs from the previous value.
func (l *lastSeen) changed(s string) bool {
	h := xxhash.Sum64String(s)
	prev := l.sum.Swap(h)
	if !l.set.Swap(true) {
		return true
	}
	return prev != h
}
