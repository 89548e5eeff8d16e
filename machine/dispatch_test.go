package machine_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/nmi/minivmm/iodev"
	"github.com/nmi/minivmm/kvm"
	"github.com/nmi/minivmm/machine"
	"github.com/nmi/minivmm/serial"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// stubRunner replays exits in order, then fails the test if run again.
type stubRunner struct {
	t     *testing.T
	exits []kvm.Exit
	err   error
	runs  int
}

func (s *stubRunner) Run() (kvm.Exit, error) {
	if s.runs == len(s.exits) {
		if s.err != nil {
			return nil, s.err
		}

		s.t.Fatalf("resumed after the last exit (%d runs)", s.runs)
	}

	e := s.exits[s.runs]
	s.runs++

	return e, nil
}

func newDispatcher(t *testing.T, exits ...kvm.Exit) (*machine.Dispatcher, *stubRunner, *bytes.Buffer, *test.Hook) {
	t.Helper()

	var out bytes.Buffer

	bus := iodev.NewBus()
	if err := bus.Register(serial.New(&out)); err != nil {
		t.Fatal(err)
	}

	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	r := &stubRunner{t: t, exits: exits}

	return machine.NewDispatcher(r, bus, log), r, &out, hook
}

func TestDispatchSerialThenHalt(t *testing.T) {
	t.Parallel()

	d, r, out, _ := newDispatcher(t,
		kvm.ExitIOOut{Port: 0x3f8, Size: 1, Count: 1, Data: []byte{0x41}},
		kvm.ExitHalt{},
	)

	if err := d.Run(); err != nil {
		t.Fatalf("Run: got %v, want nil", err)
	}

	if out.String() != "A" {
		t.Fatalf("output: got %q, want %q", out.String(), "A")
	}

	if r.runs != 2 {
		t.Fatalf("runs: got %d, want 2", r.runs)
	}
}

func TestDispatchUnmappedPortThenHalt(t *testing.T) {
	t.Parallel()

	d, _, out, hook := newDispatcher(t,
		kvm.ExitIOOut{Port: 0x3f9, Size: 1, Count: 1, Data: []byte{0x41}},
		kvm.ExitHalt{},
	)

	if err := d.Run(); err != nil {
		t.Fatalf("Run: got %v, want nil", err)
	}

	if out.Len() != 0 {
		t.Fatalf("output: got %q, want none", out.String())
	}

	if len(hook.Entries) == 0 || hook.Entries[0].Message != "unmapped io port" {
		t.Fatalf("unmapped port not logged: %v", hook.Entries)
	}
}

func TestDispatchUnhandledExit(t *testing.T) {
	t.Parallel()

	d, _, _, _ := newDispatcher(t, kvm.ExitUnhandled{Reason: 0x7777})

	err := d.Run()
	if !errors.Is(err, kvm.ErrUnexpectedExitReason) {
		t.Fatalf("Run: got %v, want %v", err, kvm.ErrUnexpectedExitReason)
	}

	if errors.Is(err, machine.ErrShutdown) || errors.Is(err, machine.ErrInternalError) {
		t.Fatalf("unhandled exit reported as %v", err)
	}
}

func TestDispatchTerminal(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name string
		exit kvm.Exit
		err  error
	}{
		{name: "halt", exit: kvm.ExitHalt{}, err: nil},
		{name: "shutdown", exit: kvm.ExitShutdown{}, err: machine.ErrShutdown},
		{name: "internal error", exit: kvm.ExitInternalError{Suberror: 1}, err: machine.ErrInternalError},
		{name: "debug", exit: kvm.ExitUnhandled{Reason: kvm.EXITDEBUG}, err: kvm.ErrUnexpectedExitReason},
	} {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d, _, _, _ := newDispatcher(t, tt.exit)

			isContinue, err := d.RunOnce()
			if isContinue {
				t.Fatal("RunOnce: asked to resume after a terminal exit")
			}

			if !errors.Is(err, tt.err) {
				t.Fatalf("RunOnce: got %v, want %v", err, tt.err)
			}
		})
	}
}

func TestDispatchNonTerminal(t *testing.T) {
	t.Parallel()

	in := []byte{0xff, 0xff}

	d, r, out, _ := newDispatcher(t,
		kvm.ExitIOIn{Port: 0x3f8, Size: 1, Count: 1, Data: in[:1]},
		kvm.ExitIOIn{Port: 0x60, Size: 1, Count: 1, Data: in[1:]},
		kvm.ExitIOOut{Port: 0x80, Size: 1, Count: 1, Data: []byte{0}},
		kvm.ExitMMIORead{Addr: 0xfee00000, Data: make([]byte, 4)},
		kvm.ExitMMIOWrite{Addr: 0xfec00000, Data: []byte{1, 2, 3, 4}},
	)

	for i := 0; i < 5; i++ {
		isContinue, err := d.RunOnce()
		if err != nil || !isContinue {
			t.Fatalf("exit %d: continue %v err %v", i, isContinue, err)
		}
	}

	if !bytes.Equal(in, []byte{0, 0}) {
		t.Fatalf("port reads returned % x, want zeros", in)
	}

	if out.Len() != 0 || r.runs != 5 {
		t.Fatalf("output %q runs %d", out.String(), r.runs)
	}
}

func TestDispatchStringIO(t *testing.T) {
	t.Parallel()

	d, _, out, _ := newDispatcher(t,
		kvm.ExitIOOut{Port: 0x3f8, Size: 1, Count: 6, Data: []byte("hello\n")},
		kvm.ExitIOOut{Port: 0x3f8, Size: 2, Count: 2, Data: []byte{'o', 0, 'k', 0}},
		kvm.ExitHalt{},
	)

	if err := d.Run(); err != nil {
		t.Fatal(err)
	}

	if out.String() != "hello\nok" {
		t.Fatalf("output: got %q", out.String())
	}
}

func TestDispatchRunError(t *testing.T) {
	t.Parallel()

	d, r, _, _ := newDispatcher(t)
	r.err = errors.New("KVM_RUN: bad address")

	if err := d.Run(); !errors.Is(err, r.err) {
		t.Fatalf("Run: got %v, want %v", err, r.err)
	}
}
