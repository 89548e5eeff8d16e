package machine

import (
	"errors"
	"fmt"

	"github.com/nmi/minivmm/iodev"
	"github.com/nmi/minivmm/kvm"
	"github.com/sirupsen/logrus"
)

var (
	// ErrShutdown means the guest triple faulted or asked for a reset.
	ErrShutdown = errors.New("guest shutdown")

	// ErrInternalError means KVM could not handle the guest state.
	ErrInternalError = errors.New("kvm internal error")
)

// Runner resumes a vCPU until its next exit. *kvm.VCPU is one.
type Runner interface {
	Run() (kvm.Exit, error)
}

// Dispatcher is the exit loop of one vCPU.
type Dispatcher struct {
	runner Runner
	bus    *iodev.Bus
	log    logrus.FieldLogger
}

func NewDispatcher(runner Runner, bus *iodev.Bus, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{runner: runner, bus: bus, log: log}
}

// Run resumes the guest until it halts, which returns nil, or until a
// terminal exit or error.
func (d *Dispatcher) Run() error {
	for {
		isContinue, err := d.RunOnce()
		if err != nil {
			return err
		}

		if !isContinue {
			return nil
		}
	}
}

// RunOnce resumes the guest once and services the exit. It reports whether
// the guest should be resumed again.
func (d *Dispatcher) RunOnce() (bool, error) {
	exit, err := d.runner.Run()
	if err != nil {
		return false, err
	}

	switch e := exit.(type) {
	case kvm.ExitIOIn:
		return true, d.io(kvm.EXITIOIN, e.Port, e.Size, e.Count, e.Data)
	case kvm.ExitIOOut:
		return true, d.io(kvm.EXITIOOUT, e.Port, e.Size, e.Count, e.Data)
	case kvm.ExitMMIORead:
		d.log.WithFields(logrus.Fields{"addr": fmt.Sprintf("%#x", e.Addr), "len": len(e.Data)}).Debug("mmio read")

		return true, nil
	case kvm.ExitMMIOWrite:
		d.log.WithFields(logrus.Fields{
			"addr": fmt.Sprintf("%#x", e.Addr),
			"data": fmt.Sprintf("% x", e.Data),
		}).Debug("mmio write")

		return true, nil
	case kvm.ExitHalt:
		d.log.Info("guest halted")

		return false, nil
	case kvm.ExitShutdown:
		return false, ErrShutdown
	case kvm.ExitInternalError:
		return false, fmt.Errorf("%w: suberror %d", ErrInternalError, e.Suberror)
	case kvm.ExitUnhandled:
		return false, fmt.Errorf("%w: %s", kvm.ErrUnexpectedExitReason, e.Reason)
	default:
		return false, fmt.Errorf("%w: %T", kvm.ErrUnexpectedExitReason, exit)
	}
}

// io services each of the count elements of a port access in order.
func (d *Dispatcher) io(direction int, port uint16, size uint8, count uint32, data []byte) error {
	n := int(size)
	if n == 0 {
		return nil
	}

	for i := 0; i < int(count) && (i+1)*n <= len(data); i++ {
		elem := data[i*n : (i+1)*n]

		var (
			handled bool
			err     error
		)

		if direction == kvm.EXITIOIN {
			handled, err = d.bus.In(uint64(port), elem)
		} else {
			handled, err = d.bus.Out(uint64(port), elem)
		}

		if err != nil {
			return fmt.Errorf("port %#x: %w", port, err)
		}

		if !handled {
			d.log.WithFields(logrus.Fields{
				"port": fmt.Sprintf("%#x", port),
				"in":   direction == kvm.EXITIOIN,
				"size": size,
			}).Debug("unmapped io port")
		}
	}

	return nil
}
