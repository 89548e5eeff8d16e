package kvm

import "unsafe"

const (
	memLogDirtyPages = 1 << 0
)

// UserspaceMemoryRegion maps host memory into the guest physical address space.
type UserspaceMemoryRegion struct {
	Slot          uint32
	Flags         uint32
	GuestPhysAddr uint64
	MemorySize    uint64
	UserspaceAddr uint64
}

// SetMemLogDirtyPages sets region flags to log dirty pages.
// Nothing reads the log yet; it is there for incremental saves.
func (r *UserspaceMemoryRegion) SetMemLogDirtyPages() {
	r.Flags |= memLogDirtyPages
}

// LogsDirtyPages reports whether dirty page tracking is on for the region.
func (r *UserspaceMemoryRegion) LogsDirtyPages() bool {
	return r.Flags&memLogDirtyPages != 0
}

// SetUserMemoryRegion adds a memory region to a vm -- not a vcpu, a vm.
// A region with MemorySize 0 deletes the slot.
func SetUserMemoryRegion(vmFd uintptr, region *UserspaceMemoryRegion) error {
	_, err := Ioctl(vmFd,
		IIOW(kvmSetUserMemoryRegion, unsafe.Sizeof(UserspaceMemoryRegion{})),
		uintptr(unsafe.Pointer(region)))

	return err
}
