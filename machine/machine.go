package machine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/nmi/minivmm/bootparam"
	"github.com/nmi/minivmm/cpuid"
	"github.com/nmi/minivmm/iodev"
	"github.com/nmi/minivmm/kvm"
	"github.com/nmi/minivmm/loader"
	"github.com/nmi/minivmm/memory"
	"github.com/nmi/minivmm/serial"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// InitialRegState GuestPhysAddr                      Binary files [+ offsets in the file]
//
//                 0x00000000    +------------------+
//                               |                  |
// RSI -->         0x00010000    +------------------+ bzImage [+ 0]
//                               |                  |
//                               |  boot param      |
//                               |                  |
//                               +------------------+
//                               |                  |
//                 0x00020000    +------------------+
//                               |                  |
//                               |   cmdline        |
//                               |                  |
//                               +------------------+
//                               |                  |
// RIP -->         0x00100000    +------------------+ bzImage [+ 512 x (setup_sects in boot param header + 1)]
//                               |                  |
//                               |   32bit kernel   |
//                               |                  |
//                               +------------------+
//                               |                  |
//                 memSize       +------------------+

var (
	ErrMemSize          = fmt.Errorf("memory size must be between %d and %d bytes", MinMemSize, MaxMemSize)
	ErrAPIVersion       = errors.New("unsupported KVM API version")
	ErrMissingExtension = errors.New("required KVM extension missing")
)

// Option adjusts a Machine before its vCPU is configured.
type Option func(*Machine)

// WithSignature sets the hypervisor vendor reported through CPUID.
func WithSignature(vendor string) Option {
	return func(m *Machine) {
		m.signature = vendor
	}
}

// WithIRQChip controls whether the in-kernel PIC, IOAPIC and PIT are created.
// With them, KVM handles hlt itself and the guest never exits to the host
// on halt; without them, hlt ends the run loop.
func WithIRQChip(on bool) Option {
	return func(m *Machine) {
		m.irqchip = on
	}
}

// Machine owns, from the outside in, the /dev/kvm handle, the VM, guest
// memory and the single vCPU. Close releases them in the reverse order.
type Machine struct {
	log       logrus.FieldLogger
	signature string
	irqchip   bool

	kvm   *os.File
	vmFd  uintptr
	mem   *memory.Region
	space *memory.AddressSpace
	slot  *kvm.UserspaceMemoryRegion
	vcpu  *kvm.VCPU
	bus   *iodev.Bus
}

// New creates a VM with memSize bytes of RAM at guest physical 0 and one
// vCPU. Guest writes to COM1 go to out. On error nothing is left open.
func New(dev string, memSize int, log logrus.FieldLogger, out io.Writer, opts ...Option) (*Machine, error) {
	if memSize < MinMemSize || memSize > MaxMemSize {
		return nil, fmt.Errorf("%w: %d", ErrMemSize, memSize)
	}

	m := &Machine{log: log, signature: cpuid.DefaultSignature, irqchip: true}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.init(dev, memSize, out); err != nil {
		if cerr := m.Close(); cerr != nil {
			log.WithError(cerr).Warn("release after failed setup")
		}

		return nil, err
	}

	return m, nil
}

func (m *Machine) init(dev string, memSize int, out io.Writer) error {
	var err error

	if m.kvm, err = os.OpenFile(dev, os.O_RDWR, 0); err != nil {
		return err
	}

	if err := m.checkHost(); err != nil {
		return err
	}

	if m.vmFd, err = kvm.CreateVM(m.kvm.Fd()); err != nil {
		return fmt.Errorf("CreateVM: %w", err)
	}

	if err := kvm.SetTSSAddr(m.vmFd); err != nil {
		return fmt.Errorf("SetTSSAddr: %w", err)
	}

	if err := kvm.SetIdentityMapAddr(m.vmFd); err != nil {
		return fmt.Errorf("SetIdentityMapAddr: %w", err)
	}

	if m.irqchip {
		if err := kvm.CreateIRQChip(m.vmFd); err != nil {
			return fmt.Errorf("CreateIRQChip: %w", err)
		}

		if err := kvm.CreatePIT2(m.vmFd); err != nil {
			return fmt.Errorf("CreatePIT2: %w", err)
		}
	}

	if m.mem, err = memory.New(memSize); err != nil {
		return err
	}

	m.space = memory.NewAddressSpace("ram")
	if err := m.space.AddAddress(&memory.Mapping{Slot: memSlot, Start: 0, Size: uint64(memSize)}); err != nil {
		return err
	}

	slot := m.mem.UserspaceRegion(memSlot, 0, true)
	if err := kvm.SetUserMemoryRegion(m.vmFd, slot); err != nil {
		return fmt.Errorf("SetUserMemoryRegion: %w", err)
	}

	m.slot = slot

	if m.vcpu, err = kvm.NewVCPU(m.kvm.Fd(), m.vmFd, 0); err != nil {
		return err
	}

	if err := m.initCPUID(m.signature); err != nil {
		return err
	}

	m.bus = iodev.NewBus()

	for _, d := range []iodev.IODevice{
		serial.New(out),
		&iodev.NoopDevice{Port: iodev.PostCodePort, Psize: 1},
	} {
		if err := m.bus.Register(d); err != nil {
			return err
		}
	}

	m.log.WithFields(logrus.Fields{"dev": dev, "mem": memSize, "irqchip": m.irqchip}).Info("vm created")

	return nil
}

// checkHost rejects hosts whose KVM cannot run this monitor.
func (m *Machine) checkHost() error {
	v, err := kvm.GetAPIVersion(m.kvm.Fd())
	if err != nil {
		return fmt.Errorf("GetAPIVersion: %w", err)
	}

	if v != kvm.APIVersion {
		return fmt.Errorf("%w: %d, want %d", ErrAPIVersion, v, kvm.APIVersion)
	}

	for _, c := range kvm.RequiredCapabilities {
		n, err := kvm.CheckExtension(m.kvm.Fd(), c)
		if err != nil {
			return fmt.Errorf("CheckExtension %s: %w", c, err)
		}

		if n == 0 {
			return fmt.Errorf("%w: %s", ErrMissingExtension, c)
		}
	}

	return nil
}

// Close tears the machine down: vCPU, memory slot, guest memory, VM, then
// the KVM handle. It is safe to call more than once.
func (m *Machine) Close() error {
	var errs []error

	if m.vcpu != nil {
		errs = append(errs, m.vcpu.Close())
		m.vcpu = nil
	}

	if m.slot != nil {
		m.slot.MemorySize = 0
		if err := kvm.SetUserMemoryRegion(m.vmFd, m.slot); err != nil {
			errs = append(errs, fmt.Errorf("unregister slot %d: %w", m.slot.Slot, err))
		}

		m.space.RemoveSlot(m.slot.Slot)
		m.slot = nil
	}

	if m.mem != nil {
		errs = append(errs, m.mem.Close())
		m.mem = nil
	}

	if m.vmFd != 0 {
		if err := unix.Close(int(m.vmFd)); err != nil {
			errs = append(errs, fmt.Errorf("close vm: %w", err))
		}

		m.vmFd = 0
	}

	if m.kvm != nil {
		errs = append(errs, m.kvm.Close())
		m.kvm = nil
	}

	return errors.Join(errs...)
}

// LoadLinux places a bzImage and its command line into guest memory.
func (m *Machine) LoadLinux(image []byte, params string) (*bootparam.BootParam, error) {
	bp, err := loader.Linux(m.mem, image, params)
	if err != nil {
		return nil, err
	}

	if !bp.HasSignature() {
		m.log.Warn("kernel image has no HdrS signature, loading it anyway")
	}

	m.log.WithFields(logrus.Fields{
		"setup_sects": bp.Hdr.SetupSects,
		"protocol":    fmt.Sprintf("%#x", bp.Hdr.Version),
		"payload":     len(image) - bp.SetupSize(),
	}).Info("kernel loaded")

	return bp, nil
}

// ReadAt reads guest physical memory.
func (m *Machine) ReadAt(b []byte, off int64) (int, error) {
	return m.mem.ReadAt(b, off)
}

// GetRegs returns the vCPU general purpose registers.
func (m *Machine) GetRegs() (*kvm.Regs, error) {
	return kvm.GetRegs(m.vcpu.Fd())
}

// GetSregs returns the vCPU special registers.
func (m *Machine) GetSregs() (*kvm.Sregs, error) {
	return kvm.GetSregs(m.vcpu.Fd())
}

// RunInfiniteLoop drives the vCPU until the guest halts or a terminal exit.
// The calling goroutine stays on its OS thread for the whole run.
func (m *Machine) RunInfiniteLoop() error {
	// https://www.kernel.org/doc/Documentation/virtual/kvm/api.txt
	//   vcpu ioctls should be issued from the same thread that was used to create
	//   the vcpu, except for asynchronous vcpu ioctl that are marked as such in
	//   the documentation.  Otherwise, the first ioctl after switching threads
	//   could see a performance impact.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	err := NewDispatcher(m.vcpu, m.bus, m.log.WithField("vcpu", m.vcpu.ID)).Run()
	if err != nil {
		m.logFault()
	}

	return err
}

// logFault records where the guest stopped, for post mortem.
func (m *Machine) logFault() {
	d, r, _, err := m.Inst()
	if err != nil {
		m.log.WithError(err).Debug("cannot decode faulting instruction")

		return
	}

	m.log.WithFields(logrus.Fields{
		"rip":  fmt.Sprintf("%#x", r.RIP),
		"inst": Asm(d, r.RIP),
	}).Error("guest stopped")
}
