// Package loader places a Linux x86 bzImage into guest memory following the
// 32-bit boot protocol: the zero page, the command line and the protected
// mode kernel each go to a fixed guest physical address.
package loader

import (
	"errors"
	"fmt"
	"io"

	"github.com/nmi/minivmm/bootparam"
)

// Guest physical layout.
const (
	BootParamAddr = 0x10000
	CmdlineAddr   = 0x20000
	KernelAddr    = 0x100000

	// MinImageSize is the smallest image that holds a whole zero page.
	MinImageSize = bootparam.Size

	// DefaultCmdline routes the kernel console to COM1.
	DefaultCmdline = "console=ttyS0"

	// defaultCmdlineSize applies to protocol < 2.06 images, where the header
	// has no cmdline_size field.
	defaultCmdlineSize = 256

	// maxCmdlineSize keeps the command line and its NUL below the kernel.
	maxCmdlineSize = KernelAddr - CmdlineAddr - 1

	heapEndPtr = 0xFE00
	unknownVid = 0xFFFF
	loaderType = 0xFF
)

var (
	ErrImageTooLarge  = errors.New("kernel image too large for guest memory")
	ErrImageTooSmall  = errors.New("kernel image too small")
	ErrNoPayload      = errors.New("kernel image has no protected mode payload")
	ErrCmdlineTooLong = errors.New("kernel command line too long")
)

// Memory is guest physical memory starting at address 0.
type Memory interface {
	io.ReaderAt
	io.WriterAt
	Size() int
}

// Linux loads image into mem and returns the zero page as written.
// params is the kernel command line; empty means DefaultCmdline.
func Linux(mem Memory, image []byte, params string) (*bootparam.BootParam, error) {
	if len(image) > mem.Size() {
		return nil, fmt.Errorf("%w: %d bytes, guest memory is %d bytes", ErrImageTooLarge, len(image), mem.Size())
	}

	if len(image) < MinImageSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrImageTooSmall, len(image), MinImageSize)
	}

	bp, err := bootparam.New(image)
	if err != nil {
		return nil, err
	}

	setupSize := bp.SetupSize()
	if setupSize >= len(image) {
		return nil, fmt.Errorf("%w: setup code is %d bytes, image is %d", ErrNoPayload, setupSize, len(image))
	}

	if KernelAddr+len(image)-setupSize > mem.Size() {
		return nil, fmt.Errorf("%w: payload of %d bytes does not fit above %#x",
			ErrImageTooLarge, len(image)-setupSize, KernelAddr)
	}

	if params == "" {
		params = DefaultCmdline
	}

	cmdlineSize := int(bp.Hdr.CmdlineSize)
	if cmdlineSize == 0 {
		cmdlineSize = defaultCmdlineSize
	}

	if cmdlineSize > maxCmdlineSize {
		cmdlineSize = maxCmdlineSize
	}

	// cmdline_size excludes the terminating NUL.
	if len(params) > cmdlineSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrCmdlineTooLong, len(params), cmdlineSize)
	}

	bp.Hdr.VidMode = unknownVid
	bp.Hdr.TypeOfLoader = loaderType
	bp.Hdr.RamdiskImage = 0
	bp.Hdr.RamdiskSize = 0
	bp.Hdr.LoadFlags |= bootparam.CanUseHeap | bootparam.KeepSegments | bootparam.LoadedHigh
	bp.Hdr.HeapEndPtr = heapEndPtr
	bp.Hdr.ExtLoaderVer = 0
	bp.Hdr.CmdlinePtr = CmdlineAddr

	if err := addE820(bp, uint64(mem.Size())); err != nil {
		return nil, err
	}

	raw, err := bp.Bytes()
	if err != nil {
		return nil, err
	}

	if _, err := mem.WriteAt(raw, BootParamAddr); err != nil {
		return nil, fmt.Errorf("write boot_params: %w", err)
	}

	cmdline := make([]byte, cmdlineSize+1)
	copy(cmdline, params)

	if _, err := mem.WriteAt(cmdline, CmdlineAddr); err != nil {
		return nil, fmt.Errorf("write cmdline: %w", err)
	}

	if _, err := mem.WriteAt(image[setupSize:], KernelAddr); err != nil {
		return nil, fmt.Errorf("write kernel: %w", err)
	}

	return bp, nil
}

// addE820 describes guest RAM below and above the legacy hole. Any table
// the image carried is discarded.
func addE820(bp *bootparam.BootParam, memSize uint64) error {
	bp.ResetE820()

	entries := []bootparam.E820Entry{
		{Addr: bootparam.RealModeIvtBegin, Size: bootparam.EBDAStart - bootparam.RealModeIvtBegin, Type: bootparam.E820Ram},
		{Addr: bootparam.EBDAStart, Size: bootparam.VGARAMBegin - bootparam.EBDAStart, Type: bootparam.E820Reserved},
		{Addr: bootparam.MBBIOSBegin, Size: bootparam.MBBIOSEnd - bootparam.MBBIOSBegin, Type: bootparam.E820Reserved},
	}

	if memSize > KernelAddr {
		entries = append(entries, bootparam.E820Entry{
			Addr: KernelAddr, Size: memSize - KernelAddr, Type: bootparam.E820Ram,
		})
	}

	for _, e := range entries {
		if err := bp.AddE820Entry(e.Addr, e.Size, e.Type); err != nil {
			return err
		}
	}

	return nil
}

// ReadBootParam reads the zero page back from guest memory.
func ReadBootParam(mem io.ReaderAt) (*bootparam.BootParam, error) {
	raw := make([]byte, bootparam.Size)
	if _, err := mem.ReadAt(raw, BootParamAddr); err != nil {
		return nil, err
	}

	return bootparam.New(raw)
}
