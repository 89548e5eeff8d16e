package memory

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/nmi/minivmm/kvm"
	"golang.org/x/sys/unix"
)

var (
	// ErrOutOfRange is returned for accesses that do not fit in the region.
	ErrOutOfRange = errors.New("guest memory access out of range")

	errClosed      = errors.New("guest memory already released")
	errInvalidSize = errors.New("invalid guest memory size")
)

// Region is guest RAM: one anonymous private mapping, zero filled by the
// host kernel, exposed to the guest through a kvm memory slot.
type Region struct {
	buf []byte
}

// New maps size bytes of private anonymous memory. MAP_NORESERVE keeps a
// large region from being charged against swap before the guest touches it.
func New(size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", errInvalidSize, size)
	}

	buf, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes of guest memory: %w", size, err)
	}

	return &Region{buf: buf}, nil
}

// Size returns the size of the region in bytes, 0 after Close.
func (r *Region) Size() int {
	return len(r.buf)
}

func (r *Region) check(n int, off int64) error {
	if r.buf == nil {
		return errClosed
	}

	if off < 0 || off > int64(len(r.buf)) || int64(n) > int64(len(r.buf))-off {
		return fmt.Errorf("%w: [%#x, %#x) in %#x bytes", ErrOutOfRange, off, off+int64(n), len(r.buf))
	}

	return nil
}

// ReadAt copies guest memory at guest physical offset off into p.
// Nothing is read unless all of p fits.
func (r *Region) ReadAt(p []byte, off int64) (int, error) {
	if err := r.check(len(p), off); err != nil {
		return 0, err
	}

	return copy(p, r.buf[off:]), nil
}

// WriteAt copies p into guest memory at guest physical offset off.
// Nothing is written unless all of p fits.
func (r *Region) WriteAt(p []byte, off int64) (int, error) {
	if err := r.check(len(p), off); err != nil {
		return 0, err
	}

	return copy(r.buf[off:], p), nil
}

// UserspaceRegion describes the mapping as a kvm memory slot.
func (r *Region) UserspaceRegion(slot uint32, guestPhysAddr uint64, logDirty bool) *kvm.UserspaceMemoryRegion {
	u := &kvm.UserspaceMemoryRegion{
		Slot:          slot,
		GuestPhysAddr: guestPhysAddr,
		MemorySize:    uint64(len(r.buf)),
	}

	if len(r.buf) > 0 {
		u.UserspaceAddr = uint64(uintptr(unsafe.Pointer(&r.buf[0])))
	}

	if logDirty {
		u.SetMemLogDirtyPages()
	}

	return u
}

// Close unmaps the region. It must only be called once no vCPU can touch the
// memory any more; later calls do nothing.
func (r *Region) Close() error {
	if r.buf == nil {
		return nil
	}

	buf := r.buf
	r.buf = nil

	if err := unix.Munmap(buf); err != nil {
		return fmt.Errorf("munmap guest memory: %w", err)
	}

	return nil
}
