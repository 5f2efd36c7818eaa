package object

import "fmt"

// Type is a builtin type known to both sides of the bridge.
// Name is the short tp_name and Symbol the exported data symbol that holds
// the type object.
type Type struct {
	Base   *Type
	Name   string
	Symbol string
}

func (t *Type) String() string {
	return "<type '" + t.Name + "'>"
}

// Builtin types.
var (
	ObjectType   = &Type{Name: "object", Symbol: "PyBaseObject_Type"}
	TypeType     = &Type{Name: "type", Symbol: "PyType_Type", Base: ObjectType}
	NoneType     = &Type{Name: "NoneType", Symbol: "PyNone_Type", Base: ObjectType}
	IntType      = &Type{Name: "int", Symbol: "PyInt_Type", Base: ObjectType}
	BoolType     = &Type{Name: "bool", Symbol: "PyBool_Type", Base: IntType}
	FloatType    = &Type{Name: "float", Symbol: "PyFloat_Type", Base: ObjectType}
	StrType      = &Type{Name: "str", Symbol: "PyString_Type", Base: ObjectType}
	TupleType    = &Type{Name: "tuple", Symbol: "PyTuple_Type", Base: ObjectType}
	ListType     = &Type{Name: "list", Symbol: "PyList_Type", Base: ObjectType}
	DictType     = &Type{Name: "dict", Symbol: "PyDict_Type", Base: ObjectType}
	ModuleType   = &Type{Name: "module", Symbol: "PyModule_Type", Base: ObjectType}
	FunctionType = &Type{Name: "builtin_function_or_method", Symbol: "PyCFunction_Type", Base: ObjectType}
)

// BuiltinTypes lists every builtin type, bases before subtypes.
var BuiltinTypes = []*Type{
	ObjectType, TypeType, NoneType, IntType, BoolType, FloatType,
	StrType, TupleType, ListType, DictType, ModuleType, FunctionType,
}

// BuiltinBySymbol returns the builtin type exported under symbol.
func BuiltinBySymbol(symbol string) (*Type, bool) {
	for _, t := range BuiltinTypes {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return nil, false
}

// TypeOf returns the builtin type used to lay out v in foreign memory.
func TypeOf(v any) *Type {
	switch v.(type) {
	case nil:
		return NoneType
	case bool:
		return BoolType
	case int64:
		return IntType
	case float64:
		return FloatType
	case string:
		return StrType
	case *Tuple:
		return TupleType
	case *List:
		return ListType
	case *Dict:
		return DictType
	case *Module:
		return ModuleType
	case *Function:
		return FunctionType
	case *Type, *ExceptionType, *Class:
		return TypeType
	}
	return ObjectType
}

// ExceptionType is an exception class.
type ExceptionType struct {
	Base *ExceptionType
	Name string
}

// NewExceptionType creates an exception class deriving from base.
func NewExceptionType(name string, base *ExceptionType) *ExceptionType {
	return &ExceptionType{Name: name, Base: base}
}

func (t *ExceptionType) String() string {
	return "<type 'exceptions." + t.Name + "'>"
}

// New creates an exception of this type.
func (t *ExceptionType) New(format string, args ...any) *Exception {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Exception{Type: t, Message: msg}
}

// IsSubtype reports whether t is other or derives from it.
func (t *ExceptionType) IsSubtype(other *ExceptionType) bool {
	for c := t; c != nil; c = c.Base {
		if c == other {
			return true
		}
	}
	return false
}

// Standard exception classes.
var (
	BaseException       = NewExceptionType("BaseException", nil)
	ExceptionClass      = NewExceptionType("Exception", BaseException)
	StandardError       = NewExceptionType("StandardError", ExceptionClass)
	StopIteration       = NewExceptionType("StopIteration", ExceptionClass)
	ValueError          = NewExceptionType("ValueError", StandardError)
	TypeError           = NewExceptionType("TypeError", StandardError)
	RuntimeError        = NewExceptionType("RuntimeError", StandardError)
	NotImplementedError = NewExceptionType("NotImplementedError", RuntimeError)
	LookupError         = NewExceptionType("LookupError", StandardError)
	KeyError            = NewExceptionType("KeyError", LookupError)
	IndexError          = NewExceptionType("IndexError", LookupError)
	MemoryError         = NewExceptionType("MemoryError", StandardError)
	SystemError         = NewExceptionType("SystemError", StandardError)
	AttributeError      = NewExceptionType("AttributeError", StandardError)
)

// StandardExceptions maps exported PyExc_* symbols to exception classes.
var StandardExceptions = map[string]*ExceptionType{
	"PyExc_BaseException":       BaseException,
	"PyExc_Exception":           ExceptionClass,
	"PyExc_StandardError":       StandardError,
	"PyExc_StopIteration":       StopIteration,
	"PyExc_ValueError":          ValueError,
	"PyExc_TypeError":           TypeError,
	"PyExc_RuntimeError":        RuntimeError,
	"PyExc_NotImplementedError": NotImplementedError,
	"PyExc_LookupError":         LookupError,
	"PyExc_KeyError":            KeyError,
	"PyExc_IndexError":          IndexError,
	"PyExc_MemoryError":         MemoryError,
	"PyExc_SystemError":         SystemError,
	"PyExc_AttributeError":      AttributeError,
}

// Exception is an error raised by native code or a managed callable.
type Exception struct {
	Type    *ExceptionType
	Value   any
	Message string
}

func (e *Exception) Error() string {
	if e.Message == "" {
		return e.Type.Name
	}
	return e.Type.Name + ": " + e.Message
}

// Matches reports whether the exception is an instance of t.
func (e *Exception) Matches(t *ExceptionType) bool {
	return e.Type.IsSubtype(t)
}
