package bootparam

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Size is sizeof(struct boot_params), the "zero page".
const Size = 0x1000

const (
	// MagicSignature is "HdrS", found at 0x202 in every boot protocol 2.00+ image.
	MagicSignature = 0x53726448

	// SectorSize is the unit of SetupSects.
	SectorSize = 512

	setupHeaderOffset = 0x1F1
	e820EntriesOffset = 0x1E8
	e820TableOffset   = 0x2D0
	e820MaxEntries    = 128
)

// LoadFlags bits.
const (
	LoadedHigh   = uint8(1 << 0)
	KASLRFlag    = uint8(1 << 1)
	QuietFlag    = uint8(1 << 5)
	KeepSegments = uint8(1 << 6)
	CanUseHeap   = uint8(1 << 7)
)

// E820 types and the fixed legacy PC ranges the map is built from.
const (
	E820Ram      = 1
	E820Reserved = 2

	RealModeIvtBegin = 0x00000000
	EBDAStart        = 0x0009fc00
	VGARAMBegin      = 0x000a0000
	MBBIOSBegin      = 0x000f0000
	MBBIOSEnd        = 0x00100000
)

var (
	// ErrTooShort means the input cannot hold a whole zero page.
	ErrTooShort = errors.New("too short for boot_params")

	errE820TableFull = errors.New("e820 table full")
)

// SetupHeader is struct setup_header.
// https://www.kernel.org/doc/html/latest/x86/boot.html
type SetupHeader struct {
	SetupSects          uint8
	RootFlags           uint16
	SysSize             uint32
	RAMSize             uint16
	VidMode             uint16
	RootDev             uint16
	BootFlag            uint16
	Jump                uint16
	Header              uint32
	Version             uint16
	ReadModeSwitch      uint32
	StartSysSeg         uint16
	KernelVersion       uint16
	TypeOfLoader        uint8
	LoadFlags           uint8
	SetupMoveSize       uint16
	Code32Start         uint32
	RamdiskImage        uint32
	RamdiskSize         uint32
	BootsectKludge      uint32
	HeapEndPtr          uint16
	ExtLoaderVer        uint8
	ExtLoaderType       uint8
	CmdlinePtr          uint32
	InitrdAddrMax       uint32
	KernelAlignment     uint32
	RelocatableKernel   uint8
	MinAlignment        uint8
	XloadFlags          uint16
	CmdlineSize         uint32
	HardwareSubarch     uint32
	HardwareSubarchData uint64
	PayloadOffset       uint32
	PayloadLength       uint32
	SetupData           uint64
	PrefAddress         uint64
	InitSize            uint32
	HandoverOffset      uint32
	KernelInfoOffset    uint32
}

// E820Entry is struct boot_e820_entry.
type E820Entry struct {
	Addr uint64
	Size uint64
	Type uint32
}

// BootParam is struct boot_params. Hdr is decoded from, and encoded back
// into, the raw page; every other byte is carried through unchanged.
type BootParam struct {
	raw [Size]byte
	Hdr SetupHeader
}

// New takes the first Size bytes of b, which is either a bzImage or a zero
// page read back from guest memory.
func New(b []byte) (*BootParam, error) {
	if len(b) < Size {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooShort, len(b))
	}

	p := &BootParam{}
	copy(p.raw[:], b[:Size])

	reader := bytes.NewReader(p.raw[setupHeaderOffset:])
	if err := binary.Read(reader, binary.LittleEndian, &p.Hdr); err != nil {
		return nil, err
	}

	return p, nil
}

// HasSignature reports whether the header carries the HdrS magic.
func (p *BootParam) HasSignature() bool {
	return p.Hdr.Header == MagicSignature
}

// SetupSize is the size of the real mode part at the start of the image:
// the boot sector plus SetupSects sectors. The protected mode kernel follows it.
func (p *BootParam) SetupSize() int {
	return (int(p.Hdr.SetupSects) + 1) * SectorSize
}

// E820Entries returns the number of entries in the e820 table.
func (p *BootParam) E820Entries() int {
	return int(p.raw[e820EntriesOffset])
}

// ResetE820 empties the e820 table, dropping whatever the image carried.
func (p *BootParam) ResetE820() {
	p.raw[e820EntriesOffset] = 0
	clear(p.raw[e820TableOffset : e820TableOffset+e820MaxEntries*20])
}

// AddE820Entry appends one range to the e820 table.
func (p *BootParam) AddE820Entry(addr, size uint64, typ uint32) error {
	n := p.E820Entries()
	if n >= e820MaxEntries {
		return errE820TableFull
	}

	off := e820TableOffset + n*20
	binary.LittleEndian.PutUint64(p.raw[off:], addr)
	binary.LittleEndian.PutUint64(p.raw[off+8:], size)
	binary.LittleEndian.PutUint32(p.raw[off+16:], typ)
	p.raw[e820EntriesOffset] = uint8(n + 1)

	return nil
}

// Bytes returns the zero page with Hdr written back at 0x1F1.
func (p *BootParam) Bytes() ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, &p.Hdr); err != nil {
		return []byte{}, err
	}

	out := make([]byte, Size)
	copy(out, p.raw[:])
	copy(out[setupHeaderOffset:], buf.Bytes())

	return out, nil
}
