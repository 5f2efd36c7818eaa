package dispatch

import (
	"sync"

	objbridge "github.com/wippyai/objbridge"
)

// refList collects the argument references a call created.
type refList struct {
	addrs []objbridge.Addr
}

var refListPool = sync.Pool{
	New: func() any {
		return &refList{addrs: make([]objbridge.Addr, 0, 4)}
	},
}

const maxPooledRefs = 64

func newRefList() *refList {
	return refListPool.Get().(*refList)
}

// Add records a reference. Null addresses are skipped.
func (l *refList) Add(addr objbridge.Addr) {
	if addr != 0 {
		l.addrs = append(l.addrs, addr)
	}
}

// release returns the list to the pool. The list must not be used again.
func (l *refList) release() {
	if cap(l.addrs) > maxPooledRefs {
		return
	}
	l.addrs = l.addrs[:0]
	refListPool.Put(l)
}
