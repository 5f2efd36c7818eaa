package object

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/wippyai/objbridge/errors"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{int(3), int64(3)},
		{int32(-2), int64(-2)},
		{uint8(7), int64(7)},
		{float32(1.5), float64(1.5)},
		{int64(9), int64(9)},
		{"s", "s"},
		{nil, nil},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%#v) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestHashable(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want bool
	}{
		{"nil", nil, true},
		{"string", "a", true},
		{"int", int64(1), true},
		{"tuple pointer", NewTuple(), true},
		{"list", NewList(), false},
		{"dict", NewDict(), false},
		{"slice", []int{1}, false},
		{"map", map[string]int{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Hashable(tt.v); got != tt.want {
				t.Errorf("Hashable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDict(t *testing.T) {
	d, err := DictOf("b", 1, "a", 2, 3, "three")
	if err != nil {
		t.Fatal(err)
	}
	if d.Len() != 3 {
		t.Fatalf("Len = %d", d.Len())
	}
	if v, ok := d.Get(int64(3)); !ok || v != "three" {
		t.Errorf("Get(3) = %v, %v", v, ok)
	}
	if err := d.Set("b", 10); err != nil {
		t.Fatal(err)
	}
	items := d.Items()
	if items[0].Key != "b" || items[0].Value != 10 || items[1].Key != "a" {
		t.Errorf("Items order = %v", items)
	}

	if !d.Delete("b") || d.Delete("b") {
		t.Error("Delete should report presence once")
	}
	if v, _ := d.Get("a"); v != 2 {
		t.Errorf("Get(a) after delete = %v", v)
	}
	if d.String() != "{'a': 2, 3: 'three'}" {
		t.Errorf("String = %s", d.String())
	}

	err = d.Set([]int{1}, 1)
	if !stderrors.Is(err, errors.ErrUnsupported) {
		t.Errorf("Set(unhashable) = %v, want unsupported", err)
	}
	if _, err := DictOf("x"); err == nil {
		t.Error("DictOf with odd args should fail")
	}
	var nilDict *Dict
	if nilDict.Len() != 0 {
		t.Error("nil dict should have length 0")
	}
}

func TestRepr(t *testing.T) {
	tests := []struct {
		v    any
		want string
	}{
		{nil, "None"},
		{true, "True"},
		{"it's", `'it\'s'`},
		{int64(4), "4"},
		{NewTuple(int64(1)), "(1,)"},
		{NewTuple(int64(1), "a"), "(1, 'a')"},
		{NewList(nil, false), "[None, False]"},
	}
	for _, tt := range tests {
		if got := Repr(tt.v); got != tt.want {
			t.Errorf("Repr(%#v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestTypeOf(t *testing.T) {
	tests := []struct {
		v    any
		want *Type
	}{
		{nil, NoneType},
		{true, BoolType},
		{int64(1), IntType},
		{2.0, FloatType},
		{"s", StrType},
		{NewTuple(), TupleType},
		{NewList(), ListType},
		{NewDict(), DictType},
		{NewModule("m", ""), ModuleType},
		{ValueError, TypeType},
		{struct{}{}, ObjectType},
	}
	for _, tt := range tests {
		if got := TypeOf(tt.v); got != tt.want {
			t.Errorf("TypeOf(%T) = %s, want %s", tt.v, got.Name, tt.want.Name)
		}
	}

	if typ, ok := BuiltinBySymbol("PyTuple_Type"); !ok || typ != TupleType {
		t.Errorf("BuiltinBySymbol(PyTuple_Type) = %v, %v", typ, ok)
	}
}

func TestException(t *testing.T) {
	err := KeyError.New("missing %q", "k")
	if err.Error() != `KeyError: missing "k"` {
		t.Errorf("Error() = %q", err.Error())
	}
	if !err.Matches(LookupError) || !err.Matches(KeyError) || err.Matches(ValueError) {
		t.Error("Matches should follow the class hierarchy")
	}
	if StopIteration.New("").Error() != "StopIteration" {
		t.Error("empty message should print the class name only")
	}
	if StandardExceptions["PyExc_AttributeError"] != AttributeError {
		t.Error("AttributeError missing from StandardExceptions")
	}
}

func TestModuleAndClass(t *testing.T) {
	ctx := context.Background()
	mod := NewModule("spam", "spam docs")

	mod.Set("add", &Function{
		Name: "add",
		Fn: func(ctx context.Context, args []any, kwargs *Dict) (any, error) {
			return args[0].(int64) + args[1].(int64), nil
		},
	})
	cls := NewClass("Egg", "spam", "", 0x100)
	cls.Construct = func(ctx context.Context, c *Class, args []any, kwargs *Dict) (*Instance, error) {
		return NewInstance(c, 0x200), nil
	}
	cls.AddMethod(&Method{
		Name: "ptr",
		Fn: func(ctx context.Context, self *Instance, args []any, kwargs *Dict) (any, error) {
			return int64(self.ForeignPtr()), nil
		},
	})
	mod.Set("Egg", cls)
	mod.Set("VERSION", "1.0")

	got, err := mod.Call(ctx, "add", int64(2), int64(3))
	if err != nil || got != int64(5) {
		t.Errorf("add = %v, %v", got, err)
	}

	v, err := mod.Call(ctx, "Egg")
	if err != nil {
		t.Fatal(err)
	}
	inst := v.(*Instance)
	if p, _ := inst.Call(ctx, "ptr"); p != int64(0x200) {
		t.Errorf("ptr = %v", p)
	}
	if inst.String() != "<spam.Egg object at 0x200>" {
		t.Errorf("String = %s", inst.String())
	}
	inst.BindForeign(0)
	if inst.ForeignPtr() != 0 {
		t.Error("BindForeign(0) should unbind")
	}

	var exc *Exception
	if _, err := inst.Call(ctx, "nope"); !stderrors.As(err, &exc) || exc.Type != AttributeError {
		t.Errorf("unknown method = %v", err)
	}
	if _, err := mod.Call(ctx, "nope"); !stderrors.As(err, &exc) || exc.Type != AttributeError {
		t.Errorf("unknown attribute = %v", err)
	}
	if _, err := mod.Call(ctx, "VERSION"); !stderrors.As(err, &exc) || exc.Type != TypeError {
		t.Errorf("non-callable = %v", err)
	}
	if _, err := NewClass("Bare", "spam", "", 0).New(ctx, nil, nil); !stderrors.As(err, &exc) || exc.Type != TypeError {
		t.Errorf("class without constructor = %v", err)
	}

	want := []string{"add", "Egg", "VERSION"}
	names := mod.Names()
	if len(names) != len(want) {
		t.Fatalf("Names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names = %v, want %v", names, want)
		}
	}
}
