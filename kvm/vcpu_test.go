package kvm_test

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/nmi/minivmm/kvm"
)

// runPage returns a fake kvm_run page and its decoded head.
func runPage() ([]byte, *kvm.RunData) {
	page := make([]byte, 4096)

	return page, (*kvm.RunData)(unsafe.Pointer(&page[0]))
}

func TestDecodeExitIO(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name string
		dir  uint64
	}{
		{"In", kvm.EXITIOIN},
		{"Out", kvm.EXITIOOUT},
	} {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			page, r := runPage()
			r.ExitReason = uint32(kvm.EXITIO)
			// direction | size 1 | port 0x3f8 | count 2, data at 0x1000-0x10.
			r.Data[0] = test.dir | 1<<8 | 0x3f8<<16 | 2<<32
			r.Data[1] = 0xff0
			page[0xff0], page[0xff1] = 'h', 'i'

			exit, err := kvm.DecodeExit(page)
			if err != nil {
				t.Fatal(err)
			}

			var port uint16

			var data []byte

			switch e := exit.(type) {
			case kvm.ExitIOIn:
				port, data = e.Port, e.Data
			case kvm.ExitIOOut:
				port, data = e.Port, e.Data
			default:
				t.Fatalf("DecodeExit: got %T", exit)
			}

			if port != 0x3f8 || string(data) != "hi" {
				t.Fatalf("DecodeExit: got port %#x data %q", port, data)
			}

			// Data aliases the run page.
			data[0] = 'H'
			if page[0xff0] != 'H' {
				t.Fatal("exit data does not alias the kvm_run page")
			}
		})
	}
}

func TestDecodeExitIOOutOfRange(t *testing.T) {
	t.Parallel()

	page, r := runPage()
	r.ExitReason = uint32(kvm.EXITIO)
	r.Data[0] = kvm.EXITIOOUT | 4<<8 | 0x3f8<<16 | 2<<32
	r.Data[1] = 0xffc

	if _, err := kvm.DecodeExit(page); !errors.Is(err, kvm.ErrIODataOutOfRange) {
		t.Fatalf("DecodeExit: got %v, want %v", err, kvm.ErrIODataOutOfRange)
	}
}

func TestDecodeExitMMIO(t *testing.T) {
	t.Parallel()

	page, r := runPage()
	r.ExitReason = uint32(kvm.EXITMMIO)
	r.Data[0] = 0xfee00000
	r.Data[1] = 0x11223344
	r.Data[2] = 4 | 1<<32

	exit, err := kvm.DecodeExit(page)
	if err != nil {
		t.Fatal(err)
	}

	w, ok := exit.(kvm.ExitMMIOWrite)
	if !ok {
		t.Fatalf("DecodeExit: got %T, want kvm.ExitMMIOWrite", exit)
	}

	if w.Addr != 0xfee00000 || len(w.Data) != 4 || w.Data[0] != 0x44 {
		t.Fatalf("DecodeExit: got %+v", w)
	}

	r.Data[2] = 2

	exit, err = kvm.DecodeExit(page)
	if err != nil {
		t.Fatal(err)
	}

	if rd, ok := exit.(kvm.ExitMMIORead); !ok || len(rd.Data) != 2 {
		t.Fatalf("DecodeExit: got %#v, want a 2 byte kvm.ExitMMIORead", exit)
	}
}

func TestDecodeExitSimple(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		reason kvm.ExitType
		want   kvm.Exit
	}{
		{kvm.EXITHLT, kvm.ExitHalt{}},
		{kvm.EXITSHUTDOWN, kvm.ExitShutdown{}},
		{kvm.EXITINTERNALERROR, kvm.ExitInternalError{Suberror: 1}},
		{kvm.EXITFAILENTRY, kvm.ExitUnhandled{Reason: kvm.EXITFAILENTRY}},
		{kvm.ExitType(99), kvm.ExitUnhandled{Reason: 99}},
	} {
		test := test
		t.Run(test.reason.String(), func(t *testing.T) {
			t.Parallel()

			page, r := runPage()
			r.ExitReason = uint32(test.reason)
			r.Data[0] = 1

			exit, err := kvm.DecodeExit(page)
			if err != nil {
				t.Fatal(err)
			}

			if exit != test.want {
				t.Fatalf("DecodeExit: got %#v, want %#v", exit, test.want)
			}

			if exit.Type() != test.reason {
				t.Fatalf("Type: got %s, want %s", exit.Type(), test.reason)
			}
		})
	}
}

func TestExitTypeString(t *testing.T) {
	t.Parallel()

	if s := kvm.EXITHLT.String(); s != "EXITHLT" {
		t.Errorf("have: %s, want: EXITHLT", s)
	}

	if s := kvm.ExitType(42).String(); s != "ExitType(42)" {
		t.Errorf("have: %s, want: ExitType(42)", s)
	}
}
