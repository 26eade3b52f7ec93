// Package invalidation provides the process-wide revision counter that tells
// cached policy and rule snapshots when to reload.
package invalidation

import "sync/atomic"

// Revisioner reports the latest revision. Snapshot holders depend on this
// instead of the concrete Bus.
type Revisioner interface {
	CurrentRevision() int64
}

// Bus is a monotonically increasing revision counter. Writers must commit
// their store mutation before calling Touch so that any reader observing
// revision r also observes the write associated with r.
type Bus struct {
	rev atomic.Int64
}

// New creates a bus at revision 0.
func New() *Bus {
	return &Bus{}
}

// Touch increments the revision and returns the new value.
func (b *Bus) Touch() int64 {
	return b.rev.Add(1)
}

// CurrentRevision returns the latest revision.
func (b *Bus) CurrentRevision() int64 {
	return b.rev.Load()
}
