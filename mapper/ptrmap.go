package mapper

import (
	"math"
	"reflect"
	"sync"
	"weak"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/object"
)

// ptrMap is the two-way association between foreign addresses and managed
// values.
//
// Values the registry exported itself are held strongly in ptr2obj and
// obj2ptr. Instance wrappers are bridged: the map keeps only a weak
// pointer, and a strong one while the foreign refcount says some native
// code still holds the object. Without the strong hold a wrapper could be
// collected while native code keeps its address, and identity would be lost.
type ptrMap struct {
	ptr2obj map[objbridge.Addr]any
	obj2ptr map[any]objbridge.Addr
	bridges map[objbridge.Addr]weak.Pointer[object.Instance]
	strong  map[objbridge.Addr]*object.Instance
	mu      sync.RWMutex
}

func newPtrMap() *ptrMap {
	return &ptrMap{
		ptr2obj: make(map[objbridge.Addr]any),
		obj2ptr: make(map[any]objbridge.Addr),
		bridges: make(map[objbridge.Addr]weak.Pointer[object.Instance]),
		strong:  make(map[objbridge.Addr]*object.Instance),
	}
}

// identityKey reports whether v can index obj2ptr. NaN never equals itself,
// so NaN floats are mapped one way only.
func identityKey(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case float64:
		return !math.IsNaN(x)
	}
	return reflect.TypeOf(v).Comparable()
}

// Associate maps ptr and v to each other with a strong reference.
func (p *ptrMap) Associate(ptr objbridge.Addr, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ptr2obj[ptr] = v
	if identityKey(v) {
		if _, taken := p.obj2ptr[v]; !taken {
			p.obj2ptr[v] = ptr
		}
	}
}

// BridgeAssociate maps ptr to inst weakly. The wrapper starts out strongly
// held until the first strength update.
func (p *ptrMap) BridgeAssociate(ptr objbridge.Addr, inst *object.Instance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bridges[ptr] = weak.Make(inst)
	p.strong[ptr] = inst
}

// UpdateStrength holds a bridged wrapper strongly while refcnt > 1 and
// weakly otherwise. Strong associations are left alone.
func (p *ptrMap) UpdateStrength(ptr objbridge.Addr, refcnt int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	wp, ok := p.bridges[ptr]
	if !ok {
		return
	}
	if refcnt > 1 {
		if inst := wp.Value(); inst != nil {
			p.strong[ptr] = inst
		}
		return
	}
	delete(p.strong, ptr)
}

// IsStrong reports whether a bridged wrapper is currently held strongly.
func (p *ptrMap) IsStrong(ptr objbridge.Addr) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.strong[ptr]
	return ok
}

// Release removes every association of ptr and reports whether there was
// one. A live bridged wrapper is returned so the caller can unbind it.
func (p *ptrMap) Release(ptr objbridge.Addr) (*object.Instance, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.ptr2obj[ptr]; ok {
		delete(p.ptr2obj, ptr)
		if identityKey(v) && p.obj2ptr[v] == ptr {
			delete(p.obj2ptr, v)
		}
		return nil, true
	}
	if wp, ok := p.bridges[ptr]; ok {
		delete(p.bridges, ptr)
		delete(p.strong, ptr)
		return wp.Value(), true
	}
	return nil, false
}

// HasPtr reports whether ptr has any association.
func (p *ptrMap) HasPtr(ptr objbridge.Addr) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.ptr2obj[ptr]; ok {
		return true
	}
	_, ok := p.bridges[ptr]
	return ok
}

// GetPtr returns the address associated with v.
func (p *ptrMap) GetPtr(v any) (objbridge.Addr, bool) {
	if inst, ok := v.(*object.Instance); ok {
		ptr := inst.ForeignPtr()
		p.mu.RLock()
		defer p.mu.RUnlock()
		if wp, ok := p.bridges[ptr]; ok && wp.Value() == inst {
			return ptr, true
		}
		return 0, false
	}
	if !identityKey(v) {
		return 0, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	ptr, ok := p.obj2ptr[v]
	return ptr, ok
}

// lookup is the result of resolving an address.
type lookup struct {
	value  any
	inst   *object.Instance
	found  bool
	bridge bool
}

// Get resolves ptr. For a bridge whose wrapper was collected, found and
// bridge are set and inst is nil.
func (p *ptrMap) Get(ptr objbridge.Addr) lookup {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if v, ok := p.ptr2obj[ptr]; ok {
		return lookup{value: v, found: true}
	}
	if wp, ok := p.bridges[ptr]; ok {
		inst := wp.Value()
		if inst == nil {
			return lookup{found: true, bridge: true}
		}
		return lookup{value: inst, inst: inst, found: true, bridge: true}
	}
	return lookup{}
}

// BridgePtrs returns a snapshot of bridged addresses.
func (p *ptrMap) BridgePtrs() []objbridge.Addr {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]objbridge.Addr, 0, len(p.bridges))
	for ptr := range p.bridges {
		out = append(out, ptr)
	}
	return out
}

// Len returns the number of mapped addresses.
func (p *ptrMap) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.ptr2obj) + len(p.bridges)
}

// Reset drops every association.
func (p *ptrMap) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.ptr2obj)
	clear(p.obj2ptr)
	clear(p.bridges)
	clear(p.strong)
}
