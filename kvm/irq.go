package kvm

import "unsafe"

// irqLevel is struct kvm_irq_level.
type irqLevel struct {
	IRQ   uint32
	Level uint32
}

// IRQLine sets the level of an interrupt line on the in-kernel irqchip.
func IRQLine(vmFd uintptr, irq, level uint32) error {
	irqLev := irqLevel{
		IRQ:   irq,
		Level: level,
	}

	_, err := Ioctl(vmFd,
		IIOW(kvmIRQLine, unsafe.Sizeof(irqLevel{})),
		uintptr(unsafe.Pointer(&irqLev)))

	return err
}

// CreateIRQChip creates the in-kernel PIC pair and IOAPIC, and makes every
// vCPU created afterwards get a local APIC.
func CreateIRQChip(vmFd uintptr) error {
	_, err := Ioctl(vmFd, IIO(kvmCreateIRQChip), 0)

	return err
}

// pitConfig defines properties of a programmable interrupt timer.
type pitConfig struct {
	Flags uint32
	_     [15]uint32
}

// CreatePIT2 creates an in-kernel i8254. Only valid after CreateIRQChip.
func CreatePIT2(vmFd uintptr) error {
	pit := pitConfig{
		Flags: 0,
	}

	_, err := Ioctl(vmFd,
		IIOW(kvmCreatePIT2, unsafe.Sizeof(pitConfig{})),
		uintptr(unsafe.Pointer(&pit)))

	return err
}
