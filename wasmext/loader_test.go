package wasmext

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/objbridge/errors"
	"github.com/wippyai/objbridge/object"
	"github.com/wippyai/objbridge/runtime"
)

func loadHam(t *testing.T, opts hamOptions) *Extension {
	t.Helper()
	ctx := context.Background()
	ext, err := Load(ctx, "ham", hamModule(opts), runtime.Config{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ext.Close(ctx) })
	return ext
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	ext := loadHam(t, hamOptions{})

	if ext.Name() != "ham" {
		t.Errorf("Name = %q", ext.Name())
	}
	mod := ext.Module()
	if mod.Doc != "ham docs" {
		t.Errorf("Doc = %q", mod.Doc)
	}
	if diff := cmp.Diff([]string{"double", "fail", "trap"}, mod.Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}
	if f, _ := mod.Get("double"); f.(*runtime.Function).Doc != "double(n) -> 2n" {
		t.Errorf("double doc = %q", f.(*runtime.Function).Doc)
	}

	got, err := ext.Call(ctx, "double", int64(21))
	if err != nil || got != int64(42) {
		t.Errorf("double(21) = %v, %v", got, err)
	}
}

func TestLoad_GuestErrors(t *testing.T) {
	ctx := context.Background()
	ext := loadHam(t, hamOptions{})

	var exc *object.Exception
	if _, err := ext.Call(ctx, "fail"); !stderrors.As(err, &exc) || exc.Type != object.ValueError || exc.Message != "boom" {
		t.Errorf("fail = %v", err)
	}

	_, err := ext.Call(ctx, "trap")
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindTrap {
		t.Errorf("trap = %v", err)
	}
	if ext.Runtime().Mapper().LastError() != nil {
		t.Error("error slot not cleared after trap")
	}

	// The guest keeps working after a trap.
	got, err := ext.Call(ctx, "double", int64(-4))
	if err != nil || got != int64(-8) {
		t.Errorf("double(-4) = %v, %v", got, err)
	}
}

func TestLoad_Failures(t *testing.T) {
	tests := []struct {
		name string
		mod  string
		wasm []byte
		is   error
		kind errors.Kind
	}{
		{name: "empty name", mod: "", wasm: hamModule(hamOptions{}), is: errors.ErrInvalidInput},
		{name: "not wasm", mod: "ham", wasm: []byte("not wasm"), kind: errors.KindInvalidData},
		{name: "own memory", mod: "ham", wasm: (&guestModule{}).encode(), kind: errors.KindInvalidData},
		{name: "no init", mod: "ham", wasm: hamModule(hamOptions{noInit: true}), kind: errors.KindNotFound},
		{name: "init raises", mod: "ham", wasm: hamModule(hamOptions{raiseInInit: true}), kind: errors.KindInvalidData},
		{name: "wrong module name", mod: "eggs", wasm: hamModule(hamOptions{}), kind: errors.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := Load(context.Background(), tt.mod, tt.wasm, runtime.Config{})
			if err == nil {
				ext.Close(context.Background())
				t.Fatal("expected error")
			}
			if ext != nil {
				t.Error("extension returned with error")
			}
			if tt.is != nil && !stderrors.Is(err, tt.is) {
				t.Errorf("err = %v, want %v", err, tt.is)
			}
			var e *errors.Error
			if tt.kind != "" && (!stderrors.As(err, &e) || e.Kind != tt.kind) {
				t.Errorf("err = %v, want kind %s", err, tt.kind)
			}
		})
	}
}

func TestLoad_FailureReleasesRuntime(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	t.Cleanup(func() { SetLogger(nil) })
	cfg := runtime.Config{Logger: zap.New(core)}

	tests := []struct {
		name string
		wasm []byte
	}{
		{"not wasm", []byte("not wasm")},
		{"own memory", (&guestModule{}).encode()},
		{"no init", hamModule(hamOptions{noInit: true})},
		{"init raises", hamModule(hamOptions{raiseInInit: true})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs.TakeAll()
			ext, err := Load(context.Background(), "ham", tt.wasm, cfg)
			if err == nil {
				ext.Close(context.Background())
				t.Fatal("expected error")
			}
			if n := logs.FilterMessage("released failed extension").Len(); n != 1 {
				t.Errorf("released %d times, want 1", n)
			}
			if n := logs.FilterMessage("close after failed load").Len(); n != 0 {
				t.Errorf("close failed %d times", n)
			}
		})
	}

	// A good guest still loads after the failures.
	ext, err := Load(context.Background(), "ham", hamModule(hamOptions{}), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer ext.Close(context.Background())
	if got, err := ext.Call(context.Background(), "double", int64(5)); err != nil || got != int64(10) {
		t.Errorf("double(5) = %v, %v", got, err)
	}
}

func TestLoad_MissingTrampoline(t *testing.T) {
	// Method tables are resolved while init runs, so a guest without the
	// trampoline for METH_O fails to load.
	ext, err := Load(context.Background(), "ham", hamModule(hamOptions{noDynCall: true}), runtime.Config{})
	if err == nil {
		ext.Close(context.Background())
		t.Fatal("expected error")
	}
	if !stderrors.Is(err, &errors.Error{Kind: errors.KindNotFound}) || !strings.Contains(err.Error(), "dynCall_iii") {
		t.Errorf("err = %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ham.wasm")
	if err := os.WriteFile(path, hamModule(hamOptions{}), 0o600); err != nil {
		t.Fatal(err)
	}
	ext, err := LoadFile(context.Background(), path, runtime.Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer ext.Close(context.Background())
	if ext.Name() != "ham" {
		t.Errorf("Name = %q", ext.Name())
	}

	if _, err := LoadFile(context.Background(), filepath.Join(t.TempDir(), "missing.wasm"), runtime.Config{}); err == nil {
		t.Error("LoadFile of a missing file should fail")
	}
}

func TestExtension_Close(t *testing.T) {
	ctx := context.Background()
	ext, err := Load(ctx, "ham", hamModule(hamOptions{}), runtime.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := ext.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := ext.Close(ctx); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestExtension_Concurrent(t *testing.T) {
	ctx := context.Background()
	ext := loadHam(t, hamOptions{})

	var g errgroup.Group
	for i := range 16 {
		g.Go(func() error {
			got, err := ext.Call(ctx, "double", int64(i))
			if err != nil {
				return err
			}
			if got != int64(2*i) {
				t.Errorf("double(%d) = %v", i, got)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestEnvModule(t *testing.T) {
	want := []byte("\x00asm\x01\x00\x00\x00" +
		"\x05\x04\x01\x01\x02\x0a" +
		"\x07\x0a\x01\x06memory\x02\x00")
	if diff := cmp.Diff(want, envModule(2, 10)); diff != "" {
		t.Errorf("envModule mismatch (-want +got):\n%s", diff)
	}
}

func TestLEB128(t *testing.T) {
	unsigned := []struct {
		v    uint32
		want []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{624485, []byte{0xe5, 0x8e, 0x26}},
	}
	for _, tt := range unsigned {
		if diff := cmp.Diff(tt.want, appendU32(nil, tt.v)); diff != "" {
			t.Errorf("appendU32(%d) mismatch (-want +got):\n%s", tt.v, diff)
		}
	}

	signed := []struct {
		v    int32
		want []byte
	}{
		{0, []byte{0x00}},
		{-1, []byte{0x7f}},
		{63, []byte{0x3f}},
		{64, []byte{0xc0, 0x00}},
		{-123456, []byte{0xc0, 0xbb, 0x78}},
		{1024, []byte{0x80, 0x08}},
	}
	for _, tt := range signed {
		if diff := cmp.Diff(tt.want, appendI32(nil, tt.v)); diff != "" {
			t.Errorf("appendI32(%d) mismatch (-want +got):\n%s", tt.v, diff)
		}
	}
}
