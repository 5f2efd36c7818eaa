package mapper

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/apitable"
	"github.com/wippyai/objbridge/object"
)

func argPtr(stack []uint64, i int) objbridge.Addr { return objbridge.Addr(api.DecodeU32(stack[i])) }
func argInt(stack []uint64, i int) int32           { return api.DecodeI32(stack[i]) }
func setPtr(stack []uint64, a objbridge.Addr)      { stack[0] = api.EncodeU32(uint32(a)) }
func setInt(stack []uint64, v int32)               { stack[0] = api.EncodeI32(v) }

// raise stores err in the last-error slot and returns the null result.
func (m *Mapper) raise(err error) objbridge.Addr {
	m.SetLastError(err)
	return 0
}

// raiseInt stores err in the last-error slot and returns -1.
func (m *Mapper) raiseInt(err error) int32 {
	m.SetLastError(err)
	return -1
}

// API returns the object API implemented by the mapper, ready to be placed
// in an apitable.Table.
func (m *Mapper) API() []apitable.Func {
	p := func(proto string, h api.GoFunc) apitable.Func { return apitable.MustDefine(proto, h) }
	return []apitable.Func{
		// Reference counting and memory.
		p("void Py_IncRef(PyObject *o);", func(ctx context.Context, s []uint64) {
			if err := m.IncRef(ctx, argPtr(s, 0)); err != nil {
				m.SetLastError(err)
			}
		}),
		p("void Py_DecRef(PyObject *o);", func(ctx context.Context, s []uint64) {
			if err := m.DecRef(ctx, argPtr(s, 0)); err != nil {
				m.SetLastError(err)
			}
		}),
		p("void *PyMem_Malloc(size_t n);", func(ctx context.Context, s []uint64) {
			setPtr(s, m.memMalloc(ctx, argInt(s, 0)))
		}),
		p("void *PyMem_Realloc(void *p, size_t n);", func(ctx context.Context, s []uint64) {
			setPtr(s, m.memRealloc(ctx, argPtr(s, 0), argInt(s, 1)))
		}),
		p("void PyMem_Free(void *p);", func(ctx context.Context, s []uint64) {
			m.memFree(argPtr(s, 0))
		}),
		p("void PyObject_Free(void *p);", func(ctx context.Context, s []uint64) {
			m.memFree(argPtr(s, 0))
		}),
		p("PyObject *PyObject_Call(PyObject *callable, PyObject *args, PyObject *kwargs);", func(ctx context.Context, s []uint64) {
			setPtr(s, m.objectCall(ctx, argPtr(s, 0), argPtr(s, 1), argPtr(s, 2)))
		}),

		// Types.
		p("int PyBaseObject_Init(PyObject *self, PyObject *args, PyObject *kwargs);", func(ctx context.Context, s []uint64) {
			setInt(s, 0)
		}),
		p("void PyBaseObject_Dealloc(PyObject *o);", func(ctx context.Context, s []uint64) {
			m.baseObjectDealloc(ctx, argPtr(s, 0))
		}),
		p("PyObject *PyType_GenericAlloc(PyTypeObject *type, Py_ssize_t nitems);", func(ctx context.Context, s []uint64) {
			setPtr(s, m.typeGenericAlloc(ctx, argPtr(s, 0), argInt(s, 1)))
		}),
		p("PyObject *PyType_GenericNew(PyTypeObject *type, PyObject *args, PyObject *kwargs);", func(ctx context.Context, s []uint64) {
			setPtr(s, m.typeGenericNew(ctx, argPtr(s, 0)))
		}),
		p("int PyType_Ready(PyTypeObject *type);", func(ctx context.Context, s []uint64) {
			if err := m.ReadyType(ctx, argPtr(s, 0)); err != nil {
				setInt(s, m.raiseInt(err))
				return
			}
			setInt(s, 0)
		}),
		p("int PyType_IsSubtype(PyTypeObject *a, PyTypeObject *b);", func(ctx context.Context, s []uint64) {
			setInt(s, m.typeIsSubtype(argPtr(s, 0), argPtr(s, 1)))
		}),

		// Numbers.
		p("PyObject *PyInt_FromLong(long ival);", func(ctx context.Context, s []uint64) {
			setPtr(s, m.storeOrRaise(ctx, int64(argInt(s, 0))))
		}),
		p("long PyInt_AsLong(PyObject *o);", func(ctx context.Context, s []uint64) {
			setInt(s, m.intAsLong(ctx, argPtr(s, 0)))
		}),
		p("PyObject *PyBool_FromLong(long v);", func(ctx context.Context, s []uint64) {
			setPtr(s, m.storeOrRaise(ctx, argInt(s, 0) != 0))
		}),
		p("PyObject *PyFloat_FromDouble(double v);", func(ctx context.Context, s []uint64) {
			setPtr(s, m.storeOrRaise(ctx, api.DecodeF64(s[0])))
		}),
		p("double PyFloat_AsDouble(PyObject *o);", func(ctx context.Context, s []uint64) {
			s[0] = api.EncodeF64(m.floatAsDouble(ctx, argPtr(s, 0)))
		}),

		// Strings.
		p("PyObject *PyString_FromString(const char *v);", func(ctx context.Context, s []uint64) {
			setPtr(s, m.stringFromString(ctx, argPtr(s, 0)))
		}),
		p("PyObject *PyString_FromStringAndSize(const char *v, Py_ssize_t n);", func(ctx context.Context, s []uint64) {
			setPtr(s, m.stringFromStringAndSize(ctx, argPtr(s, 0), argInt(s, 1)))
		}),
		p("int _PyString_Resize(PyObject **pv, Py_ssize_t n);", func(ctx context.Context, s []uint64) {
			setInt(s, m.stringResize(ctx, argPtr(s, 0), argInt(s, 1)))
		}),
		p("Py_ssize_t PyString_Size(PyObject *o);", func(ctx context.Context, s []uint64) {
			setInt(s, m.stringSize(ctx, argPtr(s, 0)))
		}),
		p("char *PyString_AsString(PyObject *o);", func(ctx context.Context, s []uint64) {
			setPtr(s, m.stringAsString(ctx, argPtr(s, 0)))
		}),

		// Tuples.
		p("PyObject *PyTuple_New(Py_ssize_t n);", func(ctx context.Context, s []uint64) {
			setPtr(s, m.tupleNew(ctx, argInt(s, 0)))
		}),
		p("int PyTuple_SetItem(PyObject *t, Py_ssize_t i, PyObject *item);", func(ctx context.Context, s []uint64) {
			setInt(s, m.tupleSetItem(ctx, argPtr(s, 0), argInt(s, 1), argPtr(s, 2)))
		}),
		p("PyObject *PyTuple_GetItem(PyObject *t, Py_ssize_t i);", func(ctx context.Context, s []uint64) {
			setPtr(s, m.tupleGetItem(argPtr(s, 0), argInt(s, 1)))
		}),
		p("Py_ssize_t PyTuple_Size(PyObject *t);", func(ctx context.Context, s []uint64) {
			setInt(s, m.tupleSize(argPtr(s, 0)))
		}),
		p("void PyTuple_Dealloc(PyObject *t);", func(ctx context.Context, s []uint64) {
			m.tupleDealloc(ctx, argPtr(s, 0))
		}),

		// Lists.
		p("PyObject *PyList_New(Py_ssize_t n);", func(ctx context.Context, s []uint64) {
			setPtr(s, m.listNew(ctx, argInt(s, 0)))
		}),
		p("int PyList_Append(PyObject *l, PyObject *item);", func(ctx context.Context, s []uint64) {
			setInt(s, m.listAppend(ctx, argPtr(s, 0), argPtr(s, 1)))
		}),
		p("int PyList_SetItem(PyObject *l, Py_ssize_t i, PyObject *item);", func(ctx context.Context, s []uint64) {
			setInt(s, m.listSetItem(ctx, argPtr(s, 0), argInt(s, 1), argPtr(s, 2)))
		}),
		p("PyObject *PyList_GetItem(PyObject *l, Py_ssize_t i);", func(ctx context.Context, s []uint64) {
			setPtr(s, m.listGetItem(argPtr(s, 0), argInt(s, 1)))
		}),
		p("Py_ssize_t PyList_Size(PyObject *l);", func(ctx context.Context, s []uint64) {
			setInt(s, m.listSize(argPtr(s, 0)))
		}),
		p("void PyList_Dealloc(PyObject *l);", func(ctx context.Context, s []uint64) {
			m.listDealloc(ctx, argPtr(s, 0))
		}),

		// Dicts.
		p("PyObject *PyDict_New(void);", func(ctx context.Context, s []uint64) {
			setPtr(s, m.storeOrRaise(ctx, object.NewDict()))
		}),
		p("int PyDict_SetItem(PyObject *d, PyObject *key, PyObject *value);", func(ctx context.Context, s []uint64) {
			setInt(s, m.dictSetItem(ctx, argPtr(s, 0), argPtr(s, 1), argPtr(s, 2)))
		}),
		p("int PyDict_SetItemString(PyObject *d, const char *key, PyObject *value);", func(ctx context.Context, s []uint64) {
			setInt(s, m.dictSetItemString(ctx, argPtr(s, 0), argPtr(s, 1), argPtr(s, 2)))
		}),
		p("PyObject *PyDict_GetItemString(PyObject *d, const char *key);", func(ctx context.Context, s []uint64) {
			setPtr(s, m.dictGetItemString(ctx, argPtr(s, 0), argPtr(s, 1)))
		}),
		p("Py_ssize_t PyDict_Size(PyObject *d);", func(ctx context.Context, s []uint64) {
			setInt(s, m.dictSize(ctx, argPtr(s, 0)))
		}),

		// Errors.
		p("void PyErr_SetString(PyObject *type, const char *msg);", func(ctx context.Context, s []uint64) {
			m.errSetString(ctx, argPtr(s, 0), argPtr(s, 1))
		}),
		p("void PyErr_SetObject(PyObject *type, PyObject *value);", func(ctx context.Context, s []uint64) {
			m.errSetObject(ctx, argPtr(s, 0), argPtr(s, 1))
		}),
		p("PyObject *PyErr_Occurred(void);", func(ctx context.Context, s []uint64) {
			setPtr(s, m.errOccurred(ctx))
		}),
		p("void PyErr_Clear(void);", func(ctx context.Context, s []uint64) {
			m.ClearLastError()
		}),
		p("PyObject *PyErr_NoMemory(void);", func(ctx context.Context, s []uint64) {
			setPtr(s, m.raise(object.MemoryError.New("")))
		}),
	}
}
