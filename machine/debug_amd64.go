package machine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/nmi/minivmm/kvm"
	"golang.org/x/arch/x86/x86asm"
)

var (
	// ErrNotMapped means a guest virtual address has no translation.
	ErrNotMapped = errors.New("address not mapped")

	ErrPagingMode = errors.New("unsupported paging mode")
)

// VtoP translates a guest linear address with the vCPU's current paging
// state. Without paging it is the identity. 32-bit paging and 4-level long
// mode paging are walked; PAE without long mode is not.
func VtoP(mem io.ReaderAt, sregs *kvm.Sregs, vaddr uint64) (int64, error) {
	if sregs.CR0&CR0xPG == 0 {
		return int64(vaddr), nil
	}

	switch {
	case sregs.EFER&EFERxLMA != 0:
		return walk(mem, sregs.CR3&^0xfff, vaddr, []uint{39, 30, 21, 12}, 8)
	case sregs.CR4&CR4xPAE == 0:
		return walk(mem, sregs.CR3&^0xfff, vaddr&0xffffffff, []uint{22, 12}, 4)
	default:
		return 0, fmt.Errorf("%w: PAE without long mode", ErrPagingMode)
	}
}

// walk follows one table per shift; an entry with PS set ends the walk early
// with a large page. PML4 entries never map pages.
func walk(mem io.ReaderAt, table, vaddr uint64, shifts []uint, entrySize int) (int64, error) {
	indexBits := uint(9)
	if entrySize == 4 {
		indexBits = 10
	}

	for level, shift := range shifts {
		idx := (vaddr >> shift) & (1<<indexBits - 1)
		b := make([]byte, 8)

		if _, err := mem.ReadAt(b[:entrySize], int64(table+idx*uint64(entrySize))); err != nil {
			return 0, err
		}

		pte := binary.LittleEndian.Uint64(b)
		if pte&PDExPRESENT == 0 {
			return 0, fmt.Errorf("%w: %#x at level %d", ErrNotMapped, vaddr, level)
		}

		last := level == len(shifts)-1
		if pte&PDExPS != 0 && (level > 0 || entrySize == 4) {
			last = true
		}

		if last {
			mask := uint64(1)<<shift - 1
			frame := pte &^ mask & 0x000f_ffff_ffff_f000

			return int64(frame | vaddr&mask), nil
		}

		table = pte & 0x000f_ffff_ffff_f000
	}

	return 0, ErrNotMapped
}

// Inst retrieves the instruction at RIP from the guest.
// It returns the decoded x86asm.Inst, the registers, and the instruction in
// GNU syntax.
func (m *Machine) Inst() (*x86asm.Inst, *kvm.Regs, string, error) {
	r, err := m.GetRegs()
	if err != nil {
		return nil, nil, "", fmt.Errorf("Inst:GetRegs:%w", err)
	}

	s, err := m.GetSregs()
	if err != nil {
		return nil, nil, "", fmt.Errorf("Inst:GetSregs:%w", err)
	}

	pc, err := VtoP(m.mem, s, s.CS.Base+r.RIP)
	if err != nil {
		return nil, r, "", fmt.Errorf("translating PC %#x:%w", r.RIP, err)
	}

	insn := make([]byte, 16)
	if _, err := m.ReadAt(insn, pc); err != nil {
		return nil, r, "", fmt.Errorf("reading PC at %#x:%w", pc, err)
	}

	d, err := x86asm.Decode(insn, Mode(s))
	if err != nil {
		return nil, r, "", fmt.Errorf("decoding %#02x:%w", insn, err)
	}

	return &d, r, x86asm.GNUSyntax(d, r.RIP, nil), nil
}

// Mode is the operand size x86asm should decode with.
func Mode(s *kvm.Sregs) int {
	switch {
	case s.CS.L == 1:
		return 64
	case s.CS.DB == 1:
		return 32
	default:
		return 16
	}
}

// Asm returns a string for the given instruction at the given pc.
func Asm(d *x86asm.Inst, pc uint64) string {
	return "\"" + x86asm.GNUSyntax(*d, pc, nil) + "\""
}
