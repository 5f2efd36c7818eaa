package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:   PhaseStore,
				Kind:    KindTypeMismatch,
				Path:    []string{"args", "0"},
				GoType:  "[]int",
				ABIType: "tuple",
				Detail:  "not hashable",
			},
			contains: []string{"[store]", "type_mismatch", "args.0", "[]int", "tuple", "not hashable"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseRetrieve,
				Kind:  KindLookup,
			},
			contains: []string{"[retrieve]", "lookup"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseMemory,
				Kind:   KindAllocation,
				Detail: "heap exhausted",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[memory]", "allocation", "heap exhausted", "caused by", "underlying error"},
		},
		{
			name:     "lookup failed",
			err:      LookupFailed(PhaseRetrieve, 0x1234),
			contains: []string{"[retrieve]", "lookup", "0x1234"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseDispatch,
		Kind:  KindInvalidData,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach cause through Unwrap")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseDispatch,
		Kind:  KindNullReference,
	}

	if !err.Is(&Error{Phase: PhaseDispatch, Kind: KindNullReference}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseStore, Kind: KindNullReference}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseDispatch, Kind: KindLookup}) {
		t.Error("Is should not match different kind")
	}
	if !errors.Is(err, ErrNullReference) {
		t.Error("errors.Is should match kind-only sentinel")
	}
	if errors.Is(err, ErrLookup) {
		t.Error("errors.Is should not match other sentinel")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseStore, KindUnsupported).
		Path("kwargs", "key").
		GoType("[]int").
		ABIType("dict").
		Value(42).
		Cause(cause).
		Detail("cannot store %s", "[]int").
		Build()

	if err.Phase != PhaseStore {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseStore)
	}
	if err.Kind != KindUnsupported {
		t.Errorf("Kind = %v, want %v", err.Kind, KindUnsupported)
	}
	if len(err.Path) != 2 || err.Path[0] != "kwargs" || err.Path[1] != "key" {
		t.Errorf("Path = %v, want [kwargs key]", err.Path)
	}
	if err.GoType != "[]int" || err.ABIType != "dict" {
		t.Errorf("GoType=%v ABIType=%v", err.GoType, err.ABIType)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "cannot store []int" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name  string
		err   *Error
		phase Phase
		kind  Kind
	}{
		{"LookupFailed", LookupFailed(PhaseRetrieve, 8), PhaseRetrieve, KindLookup},
		{"NullReference", NullReference(PhaseDispatch, "slot %d", 3), PhaseDispatch, KindNullReference},
		{"ConstructionFailed", ConstructionFailed("Foo", nil), PhaseDispatch, KindConstruction},
		{"AllocationFailed", AllocationFailed(PhaseMemory, 1024, nil), PhaseMemory, KindAllocation},
		{"TypeMismatch", TypeMismatch(PhaseRetrieve, nil, "int", "str"), PhaseRetrieve, KindTypeMismatch},
		{"Unsupported", Unsupported(PhaseStore, "func values"), PhaseStore, KindUnsupported},
		{"OutOfBounds", OutOfBounds(PhaseMemory, nil, 10, 5), PhaseMemory, KindOutOfBounds},
		{"InvalidData", InvalidData(PhaseRetrieve, nil, "bad"), PhaseRetrieve, KindInvalidData},
		{"NotInitialized", NotInitialized(PhaseHost, "runtime"), PhaseHost, KindNotInitialized},
		{"NotFound", NotFound(PhaseTable, "symbol", "PyFoo"), PhaseTable, KindNotFound},
		{"InvalidInput", InvalidInput(PhaseConfig, "x"), PhaseConfig, KindInvalidInput},
		{"Registration", Registration(PhaseTable, "PyFoo", nil), PhaseTable, KindRegistration},
		{"Instantiation", Instantiation(nil), PhaseLoad, KindInstantiation},
		{"Load", Load("x", nil), PhaseLoad, KindInvalidData},
		{"ParseFailed", ParseFailed(PhaseConfig, "file", nil), PhaseConfig, KindInvalidData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Phase != tt.phase {
				t.Errorf("Phase = %v, want %v", tt.err.Phase, tt.phase)
			}
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
		})
	}

	t.Run("NullReference formats detail", func(t *testing.T) {
		err := NullReference(PhaseDispatch, "slot %d", 3)
		if err.Detail != "slot 3" {
			t.Errorf("Detail = %q, want %q", err.Detail, "slot 3")
		}
	})

	t.Run("OutOfBounds value", func(t *testing.T) {
		err := OutOfBounds(PhaseMemory, []string{"list"}, 10, 5)
		if err.Value != 10 {
			t.Errorf("Value = %v, want 10", err.Value)
		}
	})
}

func TestMissingSymbolsError(t *testing.T) {
	t.Run("lists symbols", func(t *testing.T) {
		err := &MissingSymbolsError{Symbols: []MissingSymbol{
			{Name: "PyFoo_New", Ordinal: 3},
			{Name: "PyBar_Get", Ordinal: 7},
		}}
		msg := err.Error()
		for _, want := range []string{"missing 2", "[3] PyFoo_New", "[7] PyBar_Get"} {
			if !strings.Contains(msg, want) {
				t.Errorf("error %q should contain %q", msg, want)
			}
		}
	})

	t.Run("empty", func(t *testing.T) {
		err := &MissingSymbolsError{}
		if !strings.Contains(err.Error(), "no symbols specified") {
			t.Errorf("unexpected message: %s", err.Error())
		}
	})

	t.Run("errors.Is", func(t *testing.T) {
		var err error = &MissingSymbolsError{Symbols: []MissingSymbol{{Name: "x"}}}
		if !errors.Is(err, &MissingSymbolsError{}) {
			t.Error("errors.Is should match MissingSymbolsError")
		}
	})
}
