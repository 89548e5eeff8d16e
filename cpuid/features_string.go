package cpuid

import (
	"fmt"
	"strings"
)

//nolint:gochecknoglobals
var f1EdxNames = map[F1Edx]string{
	FPU: "FPU", VME: "VME", DE: "DE", PSE: "PSE", TSC: "TSC", MSR: "MSR",
	PAE: "PAE", MCE: "MCE", CX8: "CX8", APIC: "APIC", SEP: "SEP", MTRR: "MTRR",
	PGE: "PGE", MCA: "MCA", CMOV: "CMOV", PAT: "PAT", PSE36: "PSE36", PN: "PN",
	CLFLUSH: "CLFLUSH", DS: "DS", ACPI: "ACPI", MMX: "MMX", FXSR: "FXSR",
	XMM: "XMM", XMM2: "XMM2", SELFSNOOP: "SELFSNOOP", HT: "HT", ACC: "ACC",
	IA64: "IA64", PBE: "PBE",
}

//nolint:gochecknoglobals
var f70EdxNames = map[F7_0Edx]string{
	AVX512_4VNNIW: "AVX512_4VNNIW", AVX512_4FMAPS: "AVX512_4FMAPS", FSRM: "FSRM",
	AVX512_VP2INTERSECT: "AVX512_VP2INTERSECT", SRBDS_CTRL: "SRBDS_CTRL",
	MD_CLEAR: "MD_CLEAR", RTM_ALWAYS_ABORT: "RTM_ALWAYS_ABORT",
	TSX_FORCE_ABORT: "TSX_FORCE_ABORT", SERIALIZE: "SERIALIZE",
	HYBRID_CPU: "HYBRID_CPU", TSXLDTRK: "TSXLDTRK", PCONFIG: "PCONFIG",
	ARCH_LBR: "ARCH_LBR", IBT: "IBT", AMX_BF16: "AMX_BF16",
	AVX512_FP16: "AVX512_FP16", AMX_TILE: "AMX_TILE", AMX_INT8: "AMX_INT8",
	SPEC_CTRL: "SPEC_CTRL", INTEL_STIBP: "INTEL_STIBP", FLUSH_L1D: "FLUSH_L1D",
	ARCH_CAPABILITIES: "ARCH_CAPABILITIES", CORE_CAPABILITIES: "CORE_CAPABILITIES",
	SPEC_CTRL_SSBD: "SPEC_CTRL_SSBD",
}

func (f F1Edx) String() string {
	if s, ok := f1EdxNames[f]; ok {
		return s
	}

	return fmt.Sprintf("F1Edx(%d)", uint32(f))
}

func (f F7_0Edx) String() string {
	if s, ok := f70EdxNames[f]; ok {
		return s
	}

	return fmt.Sprintf("F7_0Edx(%d)", uint32(f))
}

// Join renders features space separated.
func Join[T Feature](features []T) string {
	s := make([]string, len(features))
	for i, f := range features {
		s[i] = f.String()
	}

	return strings.Join(s, " ")
}
