// Package probe reports what the host's KVM offers this monitor.
package probe

import (
	"fmt"
	"io"
	"os"

	"github.com/nmi/minivmm/cpuid"
	"github.com/nmi/minivmm/kvm"
)

//nolint:gochecknoglobals
var x86Caps = []kvm.Capability{
	kvm.CapIRQChip,
	kvm.CapHLT,
	kvm.CapUserMemory,
	kvm.CapSetTSSAddr,
	kvm.CapEXTCPUID,
	kvm.CapNRVCPUs,
	kvm.CapNRMemSlots,
	kvm.CapPIT,
	kvm.CapMPState,
	kvm.CapSyncMMU,
	kvm.CapIOMMU,
	kvm.CapUserNMI,
	kvm.CapSetGuestDebug,
	kvm.CapIRQRouting,
	kvm.CapPIT2,
	kvm.CapSetBootCPUID,
	kvm.CapSetIdentityMap,
	kvm.CapInternalErrData,
	kvm.CapMaxVCPUs,
	kvm.CapKVMClockCtrl,
}

// Report opens dev and writes its API version, the extensions in x86Caps
// and the CPUID leaf 1 and leaf 7 EDX features KVM can expose.
func Report(dev string, w io.Writer) error {
	kvmFile, err := os.OpenFile(dev, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer kvmFile.Close()

	kvmfd := kvmFile.Fd()

	v, err := kvm.GetAPIVersion(kvmfd)
	if err != nil {
		return fmt.Errorf("GetAPIVersion: %w", err)
	}

	fmt.Fprintf(w, "KVM API version: %d\n\n", v)

	if err := Capabilities(kvmfd, w); err != nil {
		return err
	}

	ids := &kvm.CPUID{Nent: kvm.MaxCPUIDEntries}
	if err := kvm.GetSupportedCPUID(kvmfd, ids); err != nil {
		return fmt.Errorf("GetSupportedCPUID: %w", err)
	}

	fmt.Fprintln(w)
	PrintCPUID(w, ids)

	return nil
}

// Capabilities writes one line per extension. Required ones are starred.
func Capabilities(kvmfd uintptr, w io.Writer) error {
	required := map[kvm.Capability]bool{}
	for _, c := range kvm.RequiredCapabilities {
		required[c] = true
	}

	for _, c := range x86Caps {
		res, err := kvm.CheckExtension(kvmfd, c)
		if err != nil {
			return fmt.Errorf("CheckExtension %s: %w", c, err)
		}

		mark := " "
		if required[c] {
			mark = "*"
		}

		fmt.Fprintf(w, "%s %-20s: %t (%d)\n", mark, c, res != 0, res)
	}

	return nil
}

// PrintCPUID writes the enabled and disabled features of leaf 1 and leaf 7.0.
func PrintCPUID(w io.Writer, ids *kvm.CPUID) {
	if e := cpuid.Find(ids, 1, 0); e != nil {
		fmt.Fprintf(w, "F_1_Edx.\n")
		printFeatures(w, cpuid.AllF1Edx, e.Edx)
	}

	if e := cpuid.Find(ids, 7, 0); e != nil {
		fmt.Fprintf(w, "F_7_0_Edx.\n")
		printFeatures(w, cpuid.AllF7_0Edx, e.Edx)
	}
}

func printFeatures[T cpuid.Feature](w io.Writer, features []T, reg uint32) {
	enabled, disabled := cpuid.Enabled(features, reg)

	fmt.Fprintf(w, "* Enabled: %s\n", cpuid.Join(enabled))
	fmt.Fprintf(w, "* Disabled: %s\n\n", cpuid.Join(disabled))
}
