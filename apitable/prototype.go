package apitable

import (
	"context"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/objbridge/errors"
)

// Prototype is a parsed C function declaration such as
// "PyObject *PyInt_FromLong(long ival);".
type Prototype struct {
	Name    string
	Source  string
	Params  []api.ValueType
	Results []api.ValueType
}

// FuncName extracts the function name from a C prototype.
func FuncName(proto string) string {
	head, _, _ := strings.Cut(proto, "(")
	fields := strings.Split(strings.TrimSpace(head), " ")
	return strings.ReplaceAll(fields[len(fields)-1], "*", "")
}

// ParsePrototype parses a C prototype into wasm value types. Pointers and
// integers up to 32 bits are i32, long long is i64, float and double map to
// f32 and f64. Variadic prototypes are rejected.
func ParsePrototype(proto string) (Prototype, error) {
	src := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(proto), ";"))
	open := strings.IndexByte(src, '(')
	closing := strings.LastIndexByte(src, ')')
	if open <= 0 || closing < open {
		return Prototype{}, errors.ParseFailed(errors.PhaseTable, "prototype "+proto, nil)
	}

	p := Prototype{Name: FuncName(src), Source: src}
	if p.Name == "" {
		return Prototype{}, errors.InvalidData(errors.PhaseTable, nil, "prototype has no name: "+proto)
	}

	ret := strings.TrimSpace(src[:open])
	ret = strings.TrimSpace(strings.TrimSuffix(ret, p.Name))
	if t, ok := cType(ret, false); ok {
		p.Results = []api.ValueType{t}
	}

	params := strings.TrimSpace(src[open+1 : closing])
	if params == "" || params == "void" {
		return p, nil
	}
	for _, param := range strings.Split(params, ",") {
		param = strings.TrimSpace(param)
		if param == "..." {
			return Prototype{}, errors.Unsupported(errors.PhaseTable, "variadic prototype "+p.Name)
		}
		t, ok := cType(param, true)
		if !ok {
			return Prototype{}, errors.InvalidData(errors.PhaseTable, []string{p.Name}, "void parameter")
		}
		p.Params = append(p.Params, t)
	}
	return p, nil
}

// cType maps a C declaration to a wasm value type. ok is false for void.
func cType(decl string, named bool) (api.ValueType, bool) {
	if strings.Contains(decl, "*") {
		return api.ValueTypeI32, true
	}
	var words []string
	for _, w := range strings.Fields(decl) {
		switch w {
		case "const", "signed", "unsigned", "volatile", "register":
			continue
		}
		words = append(words, w)
	}
	if named && len(words) > 1 && !isTypeWord(words[len(words)-1]) {
		words = words[:len(words)-1]
	}
	switch strings.Join(words, " ") {
	case "void", "":
		return 0, false
	case "double":
		return api.ValueTypeF64, true
	case "float":
		return api.ValueTypeF32, true
	case "long long", "long long int", "int64_t", "uint64_t":
		return api.ValueTypeI64, true
	}
	return api.ValueTypeI32, true
}

func isTypeWord(w string) bool {
	switch w {
	case "int", "long", "short", "char", "double", "float", "void", "size_t", "Py_ssize_t":
		return true
	}
	return false
}

// Func is a Go implementation of an API function with a wasm signature.
// Handler follows wazero's stack convention: parameters on entry, results
// on return.
type Func struct {
	Handler api.GoFunc
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
}

// Define builds a Func from a C prototype.
func Define(proto string, h api.GoFunc) (Func, error) {
	p, err := ParsePrototype(proto)
	if err != nil {
		return Func{}, err
	}
	return Func{Name: p.Name, Params: p.Params, Results: p.Results, Handler: h}, nil
}

// MustDefine is like Define but panics on a malformed prototype. It is meant
// for static API tables.
func MustDefine(proto string, h api.GoFunc) Func {
	f, err := Define(proto, h)
	if err != nil {
		panic(fmt.Sprintf("apitable: %v", err))
	}
	return f
}

// Call runs the handler with args and returns the first result, or 0 when
// the function has none.
func (f Func) Call(ctx context.Context, args ...uint64) (uint64, error) {
	if len(args) != len(f.Params) {
		return 0, errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Path(f.Name).
			Detail("expected %d arguments, got %d", len(f.Params), len(args)).
			Build()
	}
	stack := make([]uint64, max(len(f.Params), len(f.Results), 1))
	copy(stack, args)
	f.Handler(ctx, stack)
	if len(f.Results) == 0 {
		return 0, nil
	}
	return stack[0], nil
}
