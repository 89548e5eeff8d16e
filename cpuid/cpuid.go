package cpuid

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/nmi/minivmm/kvm"
)

// DefaultSignature is the hypervisor vendor the guest sees at leaf 0x40000000.
const DefaultSignature = "MiniVMMvisor"

const signatureLen = 12

var (
	// ErrInvalidSignature means the vendor is not exactly 12 bytes.
	ErrInvalidSignature = errors.New("hypervisor signature must be 12 bytes")

	errInvalidPatchset = errors.New("invalid patch. Only 1 bit allowed")
	errTooManyEntries  = errors.New("no room for another cpuid entry")
)

// Find returns the entry for function/index, or nil.
func Find(ids *kvm.CPUID, function, index uint32) *kvm.CPUIDEntry2 {
	for i := 0; i < int(ids.Nent); i++ {
		if ids.Entries[i].Function == function && ids.Entries[i].Index == index {
			return &ids.Entries[i]
		}
	}

	return nil
}

// SetSignature rewrites the hypervisor signature leaf: EAX advertises the
// features leaf, EBX:ECX:EDX carry vendor. The leaf is appended when the host
// did not report one.
func SetSignature(ids *kvm.CPUID, vendor string) error {
	if len(vendor) != signatureLen {
		return fmt.Errorf("%w: %q", ErrInvalidSignature, vendor)
	}

	e := Find(ids, kvm.CPUIDSignature, 0)
	if e == nil {
		if ids.Nent >= kvm.MaxCPUIDEntries {
			return errTooManyEntries
		}

		e = &ids.Entries[ids.Nent]
		*e = kvm.CPUIDEntry2{Function: kvm.CPUIDSignature}
		ids.Nent++
	}

	v := []byte(vendor)
	e.Eax = kvm.CPUIDFeatures
	e.Ebx = binary.LittleEndian.Uint32(v[0:4])
	e.Ecx = binary.LittleEndian.Uint32(v[4:8])
	e.Edx = binary.LittleEndian.Uint32(v[8:12])

	return nil
}

// Signature decodes the vendor string of the hypervisor signature leaf.
func Signature(ids *kvm.CPUID) (string, bool) {
	e := Find(ids, kvm.CPUIDSignature, 0)
	if e == nil {
		return "", false
	}

	v := make([]byte, signatureLen)
	binary.LittleEndian.PutUint32(v[0:4], e.Ebx)
	binary.LittleEndian.PutUint32(v[4:8], e.Ecx)
	binary.LittleEndian.PutUint32(v[8:12], e.Edx)

	return string(v), true
}

// DisablePerfMon hides architectural performance monitoring from the guest.
func DisablePerfMon(ids *kvm.CPUID) {
	for i := 0; i < int(ids.Nent); i++ {
		if ids.Entries[i].Function == kvm.CPUIDFuncPerMon {
			ids.Entries[i].Eax = 0
			ids.Entries[i].Ebx = 0
			ids.Entries[i].Ecx = 0
			ids.Entries[i].Edx = 0
		}
	}
}

// CPUIDPatch sets one bit, given as a mask over exactly one register, in
// the entry for Function/Index.
type CPUIDPatch struct {
	Function uint32
	Index    uint32
	EAX      uint32
	EBX      uint32
	ECX      uint32
	EDX      uint32
}

// Patch applies patches to ids before they are bound to a vCPU.
func Patch(ids *kvm.CPUID, patches []*CPUIDPatch) error {
	for _, patch := range patches {
		if bits.OnesCount32(patch.EAX)+
			bits.OnesCount32(patch.EBX)+
			bits.OnesCount32(patch.ECX)+
			bits.OnesCount32(patch.EDX) != 1 {
			return errInvalidPatchset
		}
	}

	for i := 0; i < int(ids.Nent); i++ {
		id := &ids.Entries[i]

		for _, patch := range patches {
			if id.Function == patch.Function && id.Index == patch.Index {
				id.Eax |= patch.EAX
				id.Ebx |= patch.EBX
				id.Ecx |= patch.ECX
				id.Edx |= patch.EDX
			}
		}
	}

	return nil
}

// Enabled splits features into those set and those clear in reg.
func Enabled[T Feature](features []T, reg uint32) ([]T, []T) {
	enabled := []T{}
	disabled := []T{}

	for _, f := range features {
		if reg&(1<<uint(f)) != 0 {
			enabled = append(enabled, f)
		} else {
			disabled = append(disabled, f)
		}
	}

	return enabled, disabled
}
