package mapper

import (
	"context"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/memory"
	"github.com/wippyai/objbridge/object"
)

// exceptionType retrieves an exception class argument.
func (m *Mapper) exceptionType(ctx context.Context, typ objbridge.Addr) (*object.ExceptionType, error) {
	v, err := m.Retrieve(ctx, typ)
	if err != nil {
		return nil, err
	}
	t, ok := v.(*object.ExceptionType)
	if !ok {
		return nil, object.SystemError.New("exception %s is not an exception class", object.Repr(v))
	}
	return t, nil
}

func (m *Mapper) errSetString(ctx context.Context, typ, msg objbridge.Addr) {
	t, err := m.exceptionType(ctx, typ)
	if err != nil {
		m.SetLastError(err)
		return
	}
	text, err := memory.ReadCString(m.mem, msg)
	if err != nil {
		m.SetLastError(err)
		return
	}
	m.SetLastError(&object.Exception{Type: t, Value: text, Message: text})
}

func (m *Mapper) errSetObject(ctx context.Context, typ, value objbridge.Addr) {
	t, err := m.exceptionType(ctx, typ)
	if err != nil {
		m.SetLastError(err)
		return
	}
	v, err := m.Retrieve(ctx, value)
	if err != nil {
		m.SetLastError(err)
		return
	}
	msg, ok := v.(string)
	if !ok && v != nil {
		msg = object.Repr(v)
	}
	m.SetLastError(&object.Exception{Type: t, Value: v, Message: msg})
}

// errOccurred returns a borrowed reference to the class of the pending
// error. Errors that are not exceptions report as SystemError.
func (m *Mapper) errOccurred(ctx context.Context) objbridge.Addr {
	err := m.LastError()
	if err == nil {
		return 0
	}
	t := object.SystemError
	if exc, ok := err.(*object.Exception); ok {
		t = exc.Type
	}
	addr, terr := m.exceptionTypeAddr(ctx, t)
	if terr != nil {
		return 0
	}
	return addr
}
