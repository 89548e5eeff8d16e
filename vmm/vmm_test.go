package vmm_test

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/nmi/minivmm/kvm"
	"github.com/nmi/minivmm/loader"
	"github.com/nmi/minivmm/machine"
	"github.com/nmi/minivmm/vmm"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		err  error
		want int
	}{
		{err: nil, want: 0},
		{err: fmt.Errorf("run: %w", machine.ErrShutdown), want: 2},
		{err: fmt.Errorf("%w: suberror 1", machine.ErrInternalError), want: 3},
		{err: fmt.Errorf("%w: EXITDEBUG", kvm.ErrUnexpectedExitReason), want: 4},
		{err: loader.ErrImageTooLarge, want: 1},
		{err: loader.ErrImageTooSmall, want: 1},
		{err: os.ErrNotExist, want: 1},
	} {
		if got := vmm.ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v): got %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestNotInitialized(t *testing.T) {
	t.Parallel()

	v := vmm.New(vmm.Config{})

	if err := v.Setup(); err == nil {
		t.Error("Setup before Init: got nil, want err")
	}

	if err := v.Boot(); err == nil {
		t.Error("Boot before Init: got nil, want err")
	}

	if err := v.Close(); err != nil {
		t.Errorf("Close before Init: %v", err)
	}
}

func skipWithoutKVM(t *testing.T) {
	t.Helper()

	f, err := os.OpenFile("/dev/kvm", os.O_RDWR, 0)
	if err != nil {
		t.Skipf("no usable /dev/kvm: %v", err)
	}

	f.Close()
}

func kernelFile(t *testing.T, b []byte) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), "bzImage")
	if err := os.WriteFile(p, b, 0o600); err != nil {
		t.Fatal(err)
	}

	return p
}

func TestRun(t *testing.T) {
	t.Parallel()
	skipWithoutKVM(t)

	img := make([]byte, 0x1000)
	img[0x1F1] = 7
	copy(img[0x202:], "HdrS")
	// mov dx, 0x3f8; mov al, 'A'; out dx, al; hlt
	img = append(img, 0x66, 0xba, 0xf8, 0x03, 0xb0, 0x41, 0xee, 0xf4)

	var out bytes.Buffer

	log, _ := test.NewNullLogger()

	err := vmm.Run(vmm.Config{
		Dev:     "/dev/kvm",
		Kernel:  kernelFile(t, img),
		MemSize: machine.MinMemSize,
		Out:     &out,
		Log:     log,
	})
	if err != nil {
		t.Fatalf("Run: got %v, want nil", err)
	}

	if out.String() != "A" {
		t.Fatalf("output: got %q, want %q", out.String(), "A")
	}
}

func TestRunRejectsImage(t *testing.T) {
	t.Parallel()
	skipWithoutKVM(t)

	log, _ := test.NewNullLogger()

	for _, tt := range []struct {
		name string
		size int
		err  error
	}{
		{name: "empty", size: 0, err: loader.ErrImageTooSmall},
		{name: "small", size: 100, err: loader.ErrImageTooSmall},
		{name: "memory plus one", size: machine.MinMemSize + 1, err: loader.ErrImageTooLarge},
	} {
		err := vmm.Run(vmm.Config{
			Dev:     "/dev/kvm",
			Kernel:  kernelFile(t, make([]byte, tt.size)),
			MemSize: machine.MinMemSize,
			IRQChip: true,
			Log:     log,
		})
		if !errors.Is(err, tt.err) {
			t.Errorf("%s: got %v, want %v", tt.name, err, tt.err)
		}

		if vmm.ExitCode(err) != vmm.ExitFailure {
			t.Errorf("%s: exit code %d, want %d", tt.name, vmm.ExitCode(err), vmm.ExitFailure)
		}
	}
}
