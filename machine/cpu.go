package machine

import (
	"fmt"

	"github.com/nmi/minivmm/cpuid"
	"github.com/nmi/minivmm/kvm"
	"github.com/nmi/minivmm/loader"
)

// FlatSregs returns s with every data and code segment covering all of the
// 4 GiB physical space and protected mode enabled. Paging stays off.
func FlatSregs(s kvm.Sregs) kvm.Sregs {
	for _, seg := range []*kvm.Segment{&s.CS, &s.DS, &s.ES, &s.FS, &s.GS, &s.SS} {
		seg.Base, seg.Limit, seg.G = 0, flatLimit, 1
	}

	s.CS.DB, s.SS.DB = 1, 1
	s.CR0 |= CR0xPE

	return s
}

// BootRegs returns r set up for the 32-bit boot protocol entry point: RIP at
// the protected mode kernel, RSI at the zero page, interrupts off.
func BootRegs(r kvm.Regs) kvm.Regs {
	r.RIP = loader.KernelAddr
	r.RSI = loader.BootParamAddr
	r.RFLAGS = initialRFLAGS

	return r
}

// SetupRegs puts the vCPU into the state the protected mode kernel expects.
// Running it again without resuming the guest changes nothing.
func (m *Machine) SetupRegs() error {
	sregs, err := kvm.GetSregs(m.vcpu.Fd())
	if err != nil {
		return fmt.Errorf("GetSregs: %w", err)
	}

	flat := FlatSregs(*sregs)
	if err := kvm.SetSregs(m.vcpu.Fd(), &flat); err != nil {
		return fmt.Errorf("SetSregs: %w", err)
	}

	regs, err := kvm.GetRegs(m.vcpu.Fd())
	if err != nil {
		return fmt.Errorf("GetRegs: %w", err)
	}

	boot := BootRegs(*regs)
	if err := kvm.SetRegs(m.vcpu.Fd(), &boot); err != nil {
		return fmt.Errorf("SetRegs: %w", err)
	}

	return nil
}

// initCPUID binds the host supported CPUID set to the vCPU, with perfmon
// hidden and the hypervisor leaf carrying vendor.
// https://www.kernel.org/doc/html/latest/virt/kvm/x86/cpuid.html
func (m *Machine) initCPUID(vendor string) error {
	ids := &kvm.CPUID{Nent: kvm.MaxCPUIDEntries}

	if err := kvm.GetSupportedCPUID(m.kvm.Fd(), ids); err != nil {
		return fmt.Errorf("GetSupportedCPUID: %w", err)
	}

	cpuid.DisablePerfMon(ids)

	if err := cpuid.SetSignature(ids, vendor); err != nil {
		return err
	}

	if err := kvm.SetCPUID2(m.vcpu.Fd(), ids); err != nil {
		return fmt.Errorf("SetCPUID2: %w", err)
	}

	m.log.WithField("entries", ids.Nent).WithField("signature", vendor).Debug("cpuid set")

	return nil
}

// CPUID reads back the CPUID entries bound to the vCPU.
func (m *Machine) CPUID() (*kvm.CPUID, error) {
	ids := &kvm.CPUID{Nent: kvm.MaxCPUIDEntries}

	if err := kvm.GetCPUID2(m.vcpu.Fd(), ids); err != nil {
		return nil, fmt.Errorf("GetCPUID2: %w", err)
	}

	return ids, nil
}
