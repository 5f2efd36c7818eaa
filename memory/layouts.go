package memory

// Struct layouts of the foreign object ABI on a 32-bit target.
var (
	// ObjectHead is the header shared by every foreign object.
	ObjectHead = NewLayout("PyObject", 0,
		Field{Name: "ob_refcnt", Offset: 0, Size: 4},
		Field{Name: "ob_type", Offset: 4, Size: 4},
	)

	// VarObjectHead is the header of variable-length objects.
	VarObjectHead = ObjectHead.Extend("PyVarObject", 0,
		Field{Name: "ob_size", Offset: 8, Size: 4},
	)

	IntObject = ObjectHead.Extend("PyIntObject", 0,
		Field{Name: "ob_ival", Offset: 8, Size: 4},
	)

	FloatObject = ObjectHead.Extend("PyFloatObject", 0,
		Field{Name: "ob_fval", Offset: 8, Size: 8},
	)

	// StringObject has ob_size characters inline at ob_sval plus a NUL.
	StringObject = VarObjectHead.Extend("PyStringObject", 21,
		Field{Name: "ob_shash", Offset: 12, Size: 4},
		Field{Name: "ob_sstate", Offset: 16, Size: 4},
		Field{Name: "ob_sval", Offset: 20, Size: 1},
	)

	// TupleObject has ob_size item pointers inline at ob_item.
	TupleObject = VarObjectHead.Extend("PyTupleObject", 12,
		Field{Name: "ob_item", Offset: 12, Size: 4},
	)

	// ListObject points at a separately allocated item array.
	ListObject = VarObjectHead.Extend("PyListObject", 0,
		Field{Name: "ob_item", Offset: 12, Size: 4},
		Field{Name: "allocated", Offset: 16, Size: 4},
	)

	// DictObject is opaque to native code; only the header is laid out.
	DictObject = ObjectHead.Extend("PyDictObject", 0)

	TypeObject = VarObjectHead.Extend("PyTypeObject", 192,
		Field{Name: "tp_name", Offset: 12, Size: 4},
		Field{Name: "tp_basicsize", Offset: 16, Size: 4},
		Field{Name: "tp_itemsize", Offset: 20, Size: 4},
		Field{Name: "tp_dealloc", Offset: 24, Size: 4},
		Field{Name: "tp_repr", Offset: 44, Size: 4},
		Field{Name: "tp_call", Offset: 64, Size: 4},
		Field{Name: "tp_str", Offset: 68, Size: 4},
		Field{Name: "tp_flags", Offset: 84, Size: 4},
		Field{Name: "tp_doc", Offset: 88, Size: 4},
		Field{Name: "tp_iter", Offset: 108, Size: 4},
		Field{Name: "tp_iternext", Offset: 112, Size: 4},
		Field{Name: "tp_methods", Offset: 116, Size: 4},
		Field{Name: "tp_base", Offset: 128, Size: 4},
		Field{Name: "tp_init", Offset: 148, Size: 4},
		Field{Name: "tp_alloc", Offset: 152, Size: 4},
		Field{Name: "tp_new", Offset: 156, Size: 4},
		Field{Name: "tp_free", Offset: 160, Size: 4},
	)

	MethodDef = NewLayout("PyMethodDef", 0,
		Field{Name: "ml_name", Offset: 0, Size: 4},
		Field{Name: "ml_meth", Offset: 4, Size: 4},
		Field{Name: "ml_flags", Offset: 8, Size: 4},
		Field{Name: "ml_doc", Offset: 12, Size: 4},
	)
)

// Type flags.
const (
	TPFlagsHeapType = 1 << 9
	TPFlagsReady    = 1 << 12
	TPFlagsReadying = 1 << 13
)

// Method calling convention flags in PyMethodDef.ml_flags.
const (
	MethVarArgs  = 0x0001
	MethKeywords = 0x0002
	MethNoArgs   = 0x0004
	MethO        = 0x0008
	MethClass    = 0x0010
	MethStatic   = 0x0020
)
