package kvm

import (
	"unsafe"
)

const (
	// CPUIDFuncPerMon is the architectural performance monitoring leaf.
	CPUIDFuncPerMon = 0x0A
	// CPUIDSignature is the hypervisor vendor leaf. EAX holds the highest
	// hypervisor leaf, EBX:ECX:EDX the 12 character vendor signature.
	CPUIDSignature = 0x40000000
	// CPUIDFeatures is the hypervisor features leaf.
	CPUIDFeatures = 0x40000001

	// MaxCPUIDEntries bounds the entries exchanged with KVM in one call.
	MaxCPUIDEntries = 256
)

// CPUID is the set of CPUID entries returned by GetSupportedCPUID.
// It has the layout of struct kvm_cpuid2 with a fixed size entry array.
type CPUID struct {
	Nent    uint32
	Padding uint32
	Entries [MaxCPUIDEntries]CPUIDEntry2
}

// CPUIDEntry2 is one entry for CPUID. It took 2 tries to get it right :-)
// Thanks x86 :-).
type CPUIDEntry2 struct {
	Function uint32
	Index    uint32
	Flags    uint32
	Eax      uint32
	Ebx      uint32
	Ecx      uint32
	Edx      uint32
	Padding  [3]uint32
}

// cpuidHeader is struct kvm_cpuid2 without its flexible array, which is what
// the ioctl numbers are computed from.
type cpuidHeader struct {
	Nent    uint32
	Padding uint32
}

// GetSupportedCPUID gets all supported CPUID entries for a vm.
// kvmCPUID.Nent must hold the capacity on entry; it holds the count on return.
func GetSupportedCPUID(kvmFd uintptr, kvmCPUID *CPUID) error {
	_, err := Ioctl(kvmFd,
		IIOWR(kvmGetSupportedCPUID, unsafe.Sizeof(cpuidHeader{})),
		uintptr(unsafe.Pointer(kvmCPUID)))

	return err
}

// SetCPUID2 sets entries for a vCPU.
// The progression is, hence, get the CPUID entries for a vm, then set them into
// individual vCPUs. This seems odd, but in fact lets code tailor CPUID entries
// as needed.
func SetCPUID2(vcpuFd uintptr, kvmCPUID *CPUID) error {
	_, err := Ioctl(vcpuFd,
		IIOW(kvmSetCPUID2, unsafe.Sizeof(cpuidHeader{})),
		uintptr(unsafe.Pointer(kvmCPUID)))

	return err
}

// GetCPUID2 reads back the entries bound to a vCPU.
func GetCPUID2(vcpuFd uintptr, kvmCPUID *CPUID) error {
	_, err := Ioctl(vcpuFd,
		IIOWR(kvmGetCPUID2, unsafe.Sizeof(cpuidHeader{})),
		uintptr(unsafe.Pointer(kvmCPUID)))

	return err
}
