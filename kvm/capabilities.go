package kvm

import "fmt"

// Capability is a KVM extension queried with CheckExtension.
type Capability uint

const (
	CapIRQChip         Capability = 0
	CapHLT             Capability = 1
	CapUserMemory      Capability = 3
	CapSetTSSAddr      Capability = 4
	CapEXTCPUID        Capability = 7
	CapNRVCPUs         Capability = 9
	CapNRMemSlots      Capability = 10
	CapPIT             Capability = 11
	CapMPState         Capability = 14
	CapSyncMMU         Capability = 16
	CapIOMMU           Capability = 18
	CapUserNMI         Capability = 22
	CapIRQRouting      Capability = 25
	CapSetGuestDebug   Capability = 23
	CapPIT2            Capability = 33
	CapSetBootCPUID    Capability = 34
	CapSetIdentityMap  Capability = 37
	CapInternalErrData Capability = 40
	CapKVMClockCtrl    Capability = 76
	CapMaxVCPUs        Capability = 66
)

//nolint:gochecknoglobals
var capabilityNames = map[Capability]string{
	CapIRQChip:         "CapIRQChip",
	CapHLT:             "CapHLT",
	CapUserMemory:      "CapUserMemory",
	CapSetTSSAddr:      "CapSetTSSAddr",
	CapEXTCPUID:        "CapEXTCPUID",
	CapNRVCPUs:         "CapNRVCPUs",
	CapNRMemSlots:      "CapNRMemSlots",
	CapPIT:             "CapPIT",
	CapMPState:         "CapMPState",
	CapSyncMMU:         "CapSyncMMU",
	CapIOMMU:           "CapIOMMU",
	CapUserNMI:         "CapUserNMI",
	CapIRQRouting:      "CapIRQRouting",
	CapSetGuestDebug:   "CapSetGuestDebug",
	CapPIT2:            "CapPIT2",
	CapSetBootCPUID:    "CapSetBootCPUID",
	CapSetIdentityMap:  "CapSetIdentityMap",
	CapInternalErrData: "CapInternalErrData",
	CapKVMClockCtrl:    "CapKVMClockCtrl",
	CapMaxVCPUs:        "CapMaxVCPUs",
}

func (c Capability) String() string {
	if s, ok := capabilityNames[c]; ok {
		return s
	}

	return fmt.Sprintf("Capability(%d)", uint(c))
}

// RequiredCapabilities are the extensions the monitor cannot run without.
//
//nolint:gochecknoglobals
var RequiredCapabilities = []Capability{
	CapUserMemory,
	CapSetTSSAddr,
	CapSetIdentityMap,
	CapIRQChip,
	CapPIT2,
	CapEXTCPUID,
}

// CheckExtension reports whether (and, for some capabilities, how much) the
// host supports the capability. Zero means unsupported.
func CheckExtension(kvmFd uintptr, c Capability) (int, error) {
	ret, err := Ioctl(kvmFd, IIO(kvmCheckExtension), uintptr(c))

	return int(ret), err
}
