package memory

import (
	stderrors "errors"
	"testing"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/errors"
)

func TestHeap_AllocAligned(t *testing.T) {
	h := NewHeap(NewLinear(1, 0), 1024, 0)

	tests := []struct {
		size uint32
		want objbridge.Addr
	}{
		{10, 1024},
		{20, 1040},
		{1, 1064},
		{0, 1072},
	}
	for _, tt := range tests {
		got, err := h.Alloc(tt.size)
		if err != nil {
			t.Fatalf("Alloc(%d): %v", tt.size, err)
		}
		if got != tt.want {
			t.Errorf("Alloc(%d) = %#x, want %#x", tt.size, got, tt.want)
		}
	}
	if h.Live() != 4 {
		t.Errorf("Live() = %d, want 4", h.Live())
	}
	if h.InUse() != 16+24+8+8 {
		t.Errorf("InUse() = %d, want 56", h.InUse())
	}
}

func TestHeap_FirstFitAndSplit(t *testing.T) {
	h := NewHeap(NewLinear(1, 0), 1024, 0)
	a, _ := h.Alloc(16)
	if _, err := h.Alloc(16); err != nil {
		t.Fatal(err)
	}
	if err := h.Free(a); err != nil {
		t.Fatalf("Free: %v", err)
	}

	first, _ := h.Alloc(8)
	second, _ := h.Alloc(8)
	if first != 1024 || second != 1032 {
		t.Errorf("split allocations = %#x, %#x, want 0x400, 0x408", first, second)
	}
}

func TestHeap_Coalesce(t *testing.T) {
	h := NewHeap(NewLinear(1, 0), 1024, 0)
	var blocks [4]objbridge.Addr
	for i := range blocks {
		blocks[i], _ = h.Alloc(16)
	}

	for _, i := range []int{0, 2, 1} {
		if err := h.Free(blocks[i]); err != nil {
			t.Fatalf("Free(%d): %v", i, err)
		}
	}

	got, err := h.Alloc(48)
	if err != nil {
		t.Fatal(err)
	}
	if got != blocks[0] {
		t.Errorf("Alloc(48) = %#x, want coalesced block at %#x", got, blocks[0])
	}
}

func TestHeap_FreeTopFoldsBack(t *testing.T) {
	h := NewHeap(NewLinear(1, 0), 1024, 0)
	h.Alloc(16)
	last, _ := h.Alloc(16)
	if err := h.Free(last); err != nil {
		t.Fatal(err)
	}
	again, _ := h.Alloc(32)
	if again != last {
		t.Errorf("Alloc after freeing top = %#x, want %#x", again, last)
	}
}

func TestHeap_ZeroesReusedBlocks(t *testing.T) {
	mem := NewLinear(1, 0)
	h := NewHeap(mem, 1024, 0)
	a, _ := h.Alloc(8)
	h.Alloc(8)
	if err := mem.WriteU64(uint32(a), 0xdeadbeef); err != nil {
		t.Fatal(err)
	}
	h.Free(a)

	b, _ := h.Alloc(8)
	if b != a {
		t.Fatalf("expected reuse of %#x, got %#x", a, b)
	}
	v, _ := mem.ReadU64(uint32(b))
	if v != 0 {
		t.Errorf("reused block not zeroed: %#x", v)
	}
}

func TestHeap_Grow(t *testing.T) {
	mem := NewLinear(1, 0)
	h := NewHeap(mem, objbridge.PageSize, 0)

	a, err := h.Alloc(100)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if a != objbridge.PageSize {
		t.Errorf("first block = %#x, want %#x", a, objbridge.PageSize)
	}
	if mem.Size() != 2*objbridge.PageSize {
		t.Errorf("memory size = %d, want %d", mem.Size(), 2*objbridge.PageSize)
	}
}

func TestHeap_GrowAroundForeignGrowth(t *testing.T) {
	mem := NewLinear(1, 0)
	h := NewHeap(mem, objbridge.PageSize, 0)

	if _, err := h.Alloc(16); err != nil {
		t.Fatal(err)
	}
	// someone else takes page 2
	if _, ok := mem.Grow(1); !ok {
		t.Fatal("external grow failed")
	}

	big, err := h.Alloc(70000)
	if err != nil {
		t.Fatalf("Alloc(70000): %v", err)
	}
	if big != 3*objbridge.PageSize {
		t.Errorf("big block = %#x, want %#x", big, 3*objbridge.PageSize)
	}

	small, err := h.Alloc(32)
	if err != nil {
		t.Fatal(err)
	}
	if small != objbridge.PageSize+16 {
		t.Errorf("small block = %#x, want tail of first region %#x", small, objbridge.PageSize+16)
	}
}

func TestHeap_Limits(t *testing.T) {
	t.Run("backing max pages", func(t *testing.T) {
		h := NewHeap(NewLinear(1, 2), objbridge.PageSize, 0)
		if _, err := h.Alloc(objbridge.PageSize); err != nil {
			t.Fatalf("Alloc full page: %v", err)
		}
		_, err := h.Alloc(8)
		if !stderrors.Is(err, errors.ErrAllocation) {
			t.Errorf("err = %v, want allocation error", err)
		}
	})

	t.Run("heap limit", func(t *testing.T) {
		h := NewHeap(NewLinear(1, 0), objbridge.PageSize, 2*objbridge.PageSize)
		if _, err := h.Alloc(objbridge.PageSize); err != nil {
			t.Fatalf("Alloc full page: %v", err)
		}
		_, err := h.Alloc(8)
		if !stderrors.Is(err, errors.ErrAllocation) {
			t.Errorf("err = %v, want allocation error", err)
		}
	})
}

func TestHeap_Realloc(t *testing.T) {
	mem := NewLinear(1, 0)
	h := NewHeap(mem, 1024, 0)
	a, _ := h.Alloc(8)
	h.Alloc(8)
	mem.Write(uint32(a), []byte("abcdefg"))

	same, err := h.Realloc(a, 4)
	if err != nil || same != a {
		t.Fatalf("shrinking Realloc = %#x, %v; want %#x", same, err, a)
	}

	moved, err := h.Realloc(a, 64)
	if err != nil {
		t.Fatal(err)
	}
	if moved == a {
		t.Fatal("Realloc should move a block that cannot grow in place")
	}
	data, _ := mem.Read(uint32(moved), 7)
	if string(data) != "abcdefg" {
		t.Errorf("moved data = %q", data)
	}
	if _, ok := h.SizeOf(a); ok {
		t.Error("old block still live after Realloc")
	}
	if size, _ := h.SizeOf(moved); size != 64 {
		t.Errorf("SizeOf(moved) = %d, want 64", size)
	}

	fresh, err := h.Realloc(0, 8)
	if err != nil || fresh == 0 {
		t.Errorf("Realloc(0) = %#x, %v", fresh, err)
	}
}

func TestHeap_FreeErrors(t *testing.T) {
	h := NewHeap(NewLinear(1, 0), 1024, 0)
	if err := h.Free(0); err != nil {
		t.Errorf("Free(0) = %v, want nil", err)
	}

	a, _ := h.Alloc(8)
	if err := h.Free(a); err != nil {
		t.Fatal(err)
	}
	err := h.Free(a)
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindInvalidInput {
		t.Errorf("double Free = %v, want invalid_input", err)
	}
}

func TestHeap_Close(t *testing.T) {
	h := NewHeap(NewLinear(1, 0), 1024, 0)
	h.Alloc(8)
	h.Alloc(8)

	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if h.Live() != 0 || h.InUse() != 0 {
		t.Errorf("after Close: live=%d inUse=%d", h.Live(), h.InUse())
	}
	if _, err := h.Alloc(8); err == nil {
		t.Error("Alloc after Close should fail")
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}
