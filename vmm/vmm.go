package vmm

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/nmi/minivmm/kvm"
	"github.com/nmi/minivmm/machine"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
)

// Process exit codes.
const (
	ExitHalted     = 0
	ExitFailure    = 1
	ExitShutdown   = 2
	ExitInternal   = 3
	ExitUnexpected = 4
)

var errNotInitialized = errors.New("machine not initialized")

// Config is everything needed to boot one guest.
type Config struct {
	Dev       string
	Kernel    string
	Params    string
	MemSize   int
	Signature string
	IRQChip   bool

	// CPUProfile, when set, is the directory a CPU profile of the run goes to.
	CPUProfile string

	// Out receives the guest's serial output.
	Out io.Writer
	Log logrus.FieldLogger
}

type VMM struct {
	*machine.Machine
	Config
}

func New(c Config) *VMM {
	if c.Out == nil {
		c.Out = os.Stdout
	}

	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}

	return &VMM{
		Machine: nil,
		Config:  c,
	}
}

// Init instantiates a machine.
func (v *VMM) Init() error {
	opts := []machine.Option{machine.WithIRQChip(v.IRQChip)}
	if v.Signature != "" {
		opts = append(opts, machine.WithSignature(v.Signature))
	}

	m, err := machine.New(v.Dev, v.MemSize, v.Log, v.Out, opts...)
	if err != nil {
		return err
	}

	v.Machine = m

	return nil
}

// Setup loads the kernel and puts the vCPU at its entry point.
func (v *VMM) Setup() error {
	if v.Machine == nil {
		return errNotInitialized
	}

	kern, err := os.ReadFile(v.Kernel)
	if err != nil {
		return err
	}

	if _, err := v.Machine.LoadLinux(kern, v.Params); err != nil {
		return fmt.Errorf("%s: %w", v.Kernel, err)
	}

	return v.Machine.SetupRegs()
}

// Boot runs the guest until it stops.
func (v *VMM) Boot() error {
	if v.Machine == nil {
		return errNotInitialized
	}

	return v.RunInfiniteLoop()
}

// Close releases the machine, if any.
func (v *VMM) Close() error {
	if v.Machine == nil {
		return nil
	}

	err := v.Machine.Close()
	v.Machine = nil

	return err
}

// Run does Init, Setup and Boot, and always releases the machine.
func Run(c Config) (err error) {
	if c.CPUProfile != "" {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(c.CPUProfile), profile.Quiet).Stop()
	}

	v := New(c)

	defer func() {
		if cerr := v.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	if err := v.Init(); err != nil {
		return err
	}

	if err := v.Setup(); err != nil {
		return err
	}

	return v.Boot()
}

// ExitCode maps the result of Run to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitHalted
	case errors.Is(err, machine.ErrShutdown):
		return ExitShutdown
	case errors.Is(err, machine.ErrInternalError):
		return ExitInternal
	case errors.Is(err, kvm.ErrUnexpectedExitReason):
		return ExitUnexpected
	default:
		return ExitFailure
	}
}
