package kvm

import (
	"unsafe"
)

// ioctl numbers, see include/uapi/linux/kvm.h.
const (
	kvmGetAPIVersion       = 0x00
	kvmCreateVM            = 0x01
	kvmCheckExtension      = 0x03
	kvmGetVCPUMMapSize     = 0x04
	kvmGetSupportedCPUID   = 0x05
	kvmCreateVCPU          = 0x41
	kvmSetUserMemoryRegion = 0x46
	kvmSetTSSAddr          = 0x47
	kvmSetIdentityMapAddr  = 0x48
	kvmCreateIRQChip       = 0x60
	kvmIRQLine             = 0x61
	kvmCreatePIT2          = 0x77
	kvmRun                 = 0x80
	kvmGetRegs             = 0x81
	kvmSetRegs             = 0x82
	kvmGetSregs            = 0x83
	kvmSetSregs            = 0x84
	kvmSetCPUID2           = 0x90
	kvmGetCPUID2           = 0x91

	numInterrupts = 0x100
)

const (
	// APIVersion is the only KVM_GET_API_VERSION answer a stable kernel gives.
	APIVersion = 12

	// TSSAddr and IdentityMapAddr are the reserved pages KVM needs on Intel
	// hosts. They sit right below the 4GiB boundary, the same place qemu and
	// kvmtool put them, so guest RAM must stay below IdentityMapAddr.
	TSSAddr         = 0xfffbd000
	IdentityMapAddr = 0xfffbc000
)

// GetAPIVersion returns the KVM API version of the host.
func GetAPIVersion(kvmFd uintptr) (uintptr, error) {
	return Ioctl(kvmFd, IIO(kvmGetAPIVersion), uintptr(0))
}

// CreateVM creates a virtual machine and returns its fd.
func CreateVM(kvmFd uintptr) (uintptr, error) {
	return Ioctl(kvmFd, IIO(kvmCreateVM), uintptr(0))
}

// CreateVCPU creates the vCPU with the given index.
func CreateVCPU(vmFd uintptr, vcpuID int) (uintptr, error) {
	return Ioctl(vmFd, IIO(kvmCreateVCPU), uintptr(vcpuID))
}

// GetVCPUMMmapSize returns the size of the shared kvm_run area of a vCPU.
func GetVCPUMMmapSize(kvmFd uintptr) (uintptr, error) {
	return Ioctl(kvmFd, IIO(kvmGetVCPUMMapSize), uintptr(0))
}

// SetTSSAddr defines the three pages of guest physical memory KVM uses for
// the real-mode TSS on Intel hosts.
func SetTSSAddr(vmFd uintptr) error {
	_, err := Ioctl(vmFd, IIO(kvmSetTSSAddr), TSSAddr)

	return err
}

// SetIdentityMapAddr defines the page KVM uses for the identity page table.
// It fails once a vCPU exists.
func SetIdentityMapAddr(vmFd uintptr) error {
	var mapAddr uint64 = IdentityMapAddr

	_, err := Ioctl(vmFd, IIOW(kvmSetIdentityMapAddr, 8), uintptr(unsafe.Pointer(&mapAddr)))

	return err
}

// Run resumes the vCPU until the next VM exit.
func Run(vcpuFd uintptr) error {
	_, err := Ioctl(vcpuFd, IIO(kvmRun), uintptr(0))

	return err
}
