package chat

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const lockStripes = 64

// roomLocks serializes store-then-dispatch per room. Rooms hash onto a fixed
// set of mutexes, so two rooms may share a stripe but one room always maps to
// the same one.
type roomLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *roomLocks) lock(room string) func() {
	mu := &l.stripes[xxhash.Sum64String(room)%lockStripes]
	mu.Lock()
	return mu.Unlock
}
