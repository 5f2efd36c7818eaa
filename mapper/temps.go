package mapper

import (
	"context"

	objbridge "github.com/wippyai/objbridge"
)

// temp is a per-call temporary: either a heap buffer handed to native code
// (such as a PyString_AsString copy) or a borrowed reference the mapper
// created and must release when the call ends.
type temp struct {
	addr objbridge.Addr
	ref  bool
}

// PushTemps opens a temporaries frame for a new call.
func (m *Mapper) PushTemps() {
	m.mu.Lock()
	m.temps = append(m.temps, nil)
	m.mu.Unlock()
}

// FreeTemps releases the temporaries of the innermost call and closes its
// frame. The base frame is emptied but never closed.
func (m *Mapper) FreeTemps(ctx context.Context) error {
	m.mu.Lock()
	top := len(m.temps) - 1
	frame := m.temps[top]
	if top == 0 {
		m.temps[0] = nil
	} else {
		m.temps = m.temps[:top]
	}
	m.mu.Unlock()

	var firstErr error
	for i := len(frame) - 1; i >= 0; i-- {
		t := frame[i]
		var err error
		if t.ref {
			err = m.DecRef(ctx, t.addr)
		} else {
			err = m.free(t.addr)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// TempDepth returns the number of open frames, including the base frame.
func (m *Mapper) TempDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.temps)
}

// RegisterTempBuffer frees addr when the current call ends.
func (m *Mapper) RegisterTempBuffer(addr objbridge.Addr) {
	m.addTemp(temp{addr: addr})
}

// RegisterTempRef releases one reference to addr when the current call ends.
func (m *Mapper) RegisterTempRef(addr objbridge.Addr) {
	m.addTemp(temp{addr: addr, ref: true})
}

func (m *Mapper) addTemp(t temp) {
	m.mu.Lock()
	top := len(m.temps) - 1
	m.temps[top] = append(m.temps[top], t)
	m.mu.Unlock()
}
