package memory_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/nmi/minivmm/memory"
)

func TestNew(t *testing.T) {
	t.Parallel()

	r, err := memory.New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if r.Size() != 1<<20 {
		t.Fatalf("Size: got %#x, want %#x", r.Size(), 1<<20)
	}

	b := make([]byte, 16)
	if _, err := r.ReadAt(b, 0x1000); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(b, make([]byte, 16)) {
		t.Fatalf("fresh memory is not zero: %#v", b)
	}
}

func TestNewInvalidSize(t *testing.T) {
	t.Parallel()

	if _, err := memory.New(0); err == nil {
		t.Fatal("New(0): got nil, want err")
	}
}

func TestReadWriteAt(t *testing.T) {
	t.Parallel()

	r, err := memory.New(0x2000)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := r.WriteAt([]byte("minivmm"), 0x1ff9); err != nil {
		t.Fatal(err)
	}

	b := make([]byte, 7)
	if _, err := r.ReadAt(b, 0x1ff9); err != nil {
		t.Fatal(err)
	}

	if string(b) != "minivmm" {
		t.Fatalf("ReadAt: got %q, want %q", b, "minivmm")
	}
}

func TestOutOfRange(t *testing.T) {
	t.Parallel()

	r, err := memory.New(0x1000)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	for _, test := range []struct {
		name string
		n    int
		off  int64
	}{
		{"PastEnd", 2, 0xfff},
		{"Negative", 1, -1},
		{"StartAtEnd", 1, 0x1000},
		{"HugeOffset", 1, 1 << 62},
	} {
		t.Run(test.name, func(t *testing.T) {
			if _, err := r.WriteAt(make([]byte, test.n), test.off); !errors.Is(err, memory.ErrOutOfRange) {
				t.Errorf("WriteAt: got %v, want %v", err, memory.ErrOutOfRange)
			}

			if _, err := r.ReadAt(make([]byte, test.n), test.off); !errors.Is(err, memory.ErrOutOfRange) {
				t.Errorf("ReadAt: got %v, want %v", err, memory.ErrOutOfRange)
			}
		})
	}

	// A rejected write must not have touched the last byte.
	last := []byte{0xaa}
	if _, err := r.ReadAt(last, 0xfff); err != nil || last[0] != 0 {
		t.Fatalf("partial write happened: %#x, %v", last[0], err)
	}
}

func TestUserspaceRegion(t *testing.T) {
	t.Parallel()

	r, err := memory.New(0x4000)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	u := r.UserspaceRegion(0, 0, true)
	if u.Slot != 0 || u.GuestPhysAddr != 0 || u.MemorySize != 0x4000 || u.UserspaceAddr == 0 {
		t.Fatalf("UserspaceRegion: got %+v", u)
	}

	if !u.LogsDirtyPages() {
		t.Fatal("dirty page logging requested but not set")
	}

	if r.UserspaceRegion(1, 0, false).LogsDirtyPages() {
		t.Fatal("dirty page logging set but not requested")
	}
}

func TestClose(t *testing.T) {
	t.Parallel()

	r, err := memory.New(0x1000)
	if err != nil {
		t.Fatal(err)
	}

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("second Close: got %v, want nil", err)
	}

	if _, err := r.WriteAt([]byte{1}, 0); err == nil {
		t.Fatal("WriteAt after Close: got nil, want err")
	}
}

func TestAddressSpace(t *testing.T) {
	t.Parallel()

	as := memory.NewAddressSpace("phys-ram")

	if err := as.AddAddress(&memory.Mapping{Slot: 0, Start: 0, Size: 1 << 30}); err != nil {
		t.Fatal(err)
	}

	for _, test := range []struct {
		name string
		m    *memory.Mapping
		ok   bool
	}{
		{"Overlap", &memory.Mapping{Slot: 1, Start: 0x1000, Size: 0x1000}, false},
		{"TailOverlap", &memory.Mapping{Slot: 1, Start: 1<<30 - 1, Size: 0x1000}, false},
		{"SameSlot", &memory.Mapping{Slot: 0, Start: 1 << 31, Size: 0x1000}, false},
		{"Empty", &memory.Mapping{Slot: 2, Start: 1 << 31, Size: 0}, false},
		{"Adjacent", &memory.Mapping{Slot: 1, Start: 1 << 30, Size: 0x1000}, true},
	} {
		err := as.AddAddress(test.m)
		if (err == nil) != test.ok {
			t.Errorf("%s: AddAddress(%+v) = %v, want ok=%v", test.name, test.m, err, test.ok)
		}
	}

	if as.IsFree(&memory.Mapping{Slot: 3, Start: 0, Size: 1}) {
		t.Error("IsFree: address 0 reported free")
	}

	as.RemoveSlot(0)

	if !as.IsFree(&memory.Mapping{Slot: 3, Start: 0, Size: 1}) {
		t.Error("IsFree: address 0 still taken after RemoveSlot")
	}
}
