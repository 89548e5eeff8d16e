package machine

const (
	// MinMemSize is the smallest guest that still has room above the kernel
	// load address for a real kernel to decompress into.
	MinMemSize = 1 << 25
	// MaxMemSize keeps guest RAM below the TSS and identity map pages.
	MaxMemSize = 3 << 30

	// memSlot is the only memory slot; it maps guest physical 0.
	memSlot = 0
)

const (
	// golangci-lint is completely wrong about these names.
	// Control Register Paging Enable for example:
	// golang style requires all letters in an acronym to be caps.
	// CR0 bits.
	CR0xPE = 1
	CR0xPG = (1 << 31)

	// CR4 bits.
	CR4xPSE = (1 << 4)
	CR4xPAE = (1 << 5)

	EFERxLMA = (1 << 10)

	// page table entry bits.
	PDExPRESENT = 1
	PDExPS      = (1 << 7)
)

const (
	// RFLAGS bit 1 is reserved and always set; IF stays clear.
	initialRFLAGS = 0x2

	flatLimit = 0xFFFFFFFF
)
