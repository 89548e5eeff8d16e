package kvm

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// runDataOffset is where the exit union starts inside struct kvm_run.
const runDataOffset = 32

// RunData is the head of struct kvm_run, shared between KVM and the host.
type RunData struct {
	RequestInterruptWindow     uint8
	ImmediateExit              uint8
	_                          [6]uint8
	ExitReason                 uint32
	ReadyForInterruptInjection uint8
	IfFlag                     uint8
	_                          [2]uint8
	CR8                        uint64
	ApicBase                   uint64
	Data                       [32]uint64
}

// IO decodes the io member of the exit union.
func (r *RunData) IO() (uint64, uint64, uint64, uint64, uint64) {
	direction := r.Data[0] & 0xFF
	size := (r.Data[0] >> 8) & 0xFF
	port := (r.Data[0] >> 16) & 0xFFFF
	count := (r.Data[0] >> 32) & 0xFFFFFFFF
	offset := r.Data[1]

	return direction, size, port, count, offset
}

// MMIO decodes the mmio member of the exit union: the guest physical
// address, the length of the access and whether it is a write.
// The data bytes live at runDataOffset+8 in the run page.
func (r *RunData) MMIO() (uint64, uint64, bool) {
	addr := r.Data[0]
	length := r.Data[2] & 0xFFFFFFFF
	isWrite := (r.Data[2]>>32)&0xFF != 0

	return addr, length, isWrite
}

// Suberror decodes the internal member of the exit union.
func (r *RunData) Suberror() uint32 {
	return uint32(r.Data[0] & 0xFFFFFFFF)
}

// DecodeExit turns the kvm_run page into an Exit. The byte slices in the
// result alias run.
func DecodeExit(run []byte) (Exit, error) {
	if len(run) < int(unsafe.Sizeof(RunData{})) {
		return nil, fmt.Errorf("%w: run page is %d bytes", ErrIODataOutOfRange, len(run))
	}

	r := (*RunData)(unsafe.Pointer(&run[0]))

	switch ExitType(r.ExitReason) {
	case EXITIO:
		direction, size, port, count, offset := r.IO()

		end := offset + size*count
		if end > uint64(len(run)) || end < offset {
			return nil, fmt.Errorf("%w: offset %#x size %d count %d",
				ErrIODataOutOfRange, offset, size, count)
		}

		data := run[offset:end]

		if direction == EXITIOOUT {
			return ExitIOOut{Port: uint16(port), Size: uint8(size), Count: uint32(count), Data: data}, nil
		}

		return ExitIOIn{Port: uint16(port), Size: uint8(size), Count: uint32(count), Data: data}, nil
	case EXITMMIO:
		addr, length, isWrite := r.MMIO()
		if length > 8 {
			length = 8
		}

		data := run[runDataOffset+8 : runDataOffset+8+length]

		if isWrite {
			return ExitMMIOWrite{Addr: addr, Data: data}, nil
		}

		return ExitMMIORead{Addr: addr, Data: data}, nil
	case EXITHLT:
		return ExitHalt{}, nil
	case EXITSHUTDOWN:
		return ExitShutdown{}, nil
	case EXITINTERNALERROR:
		return ExitInternalError{Suberror: r.Suberror()}, nil
	default:
		return ExitUnhandled{Reason: ExitType(r.ExitReason)}, nil
	}
}

// VCPU owns a vCPU fd and its mmapped kvm_run page.
type VCPU struct {
	ID  int
	fd  uintptr
	run []byte
}

// NewVCPU creates vCPU id on the vm and maps its kvm_run page.
func NewVCPU(kvmFd, vmFd uintptr, id int) (*VCPU, error) {
	mmapSize, err := GetVCPUMMmapSize(kvmFd)
	if err != nil {
		return nil, fmt.Errorf("GetVCPUMMmapSize: %w", err)
	}

	fd, err := CreateVCPU(vmFd, id)
	if err != nil {
		return nil, fmt.Errorf("CreateVCPU %d: %w", id, err)
	}

	run, err := unix.Mmap(int(fd), 0, int(mmapSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(int(fd))

		return nil, fmt.Errorf("mmap kvm_run of vcpu %d: %w", id, err)
	}

	return &VCPU{ID: id, fd: fd, run: run}, nil
}

// Fd returns the vCPU fd for register ioctls.
func (v *VCPU) Fd() uintptr {
	return v.fd
}

// RunData returns the shared kvm_run head.
func (v *VCPU) RunData() *RunData {
	return (*RunData)(unsafe.Pointer(&v.run[0]))
}

// Run resumes the guest and blocks until the next VM exit.
func (v *VCPU) Run() (Exit, error) {
	if err := Run(v.fd); err != nil {
		return nil, fmt.Errorf("KVM_RUN vcpu %d: %w", v.ID, err)
	}

	return DecodeExit(v.run)
}

// Close unmaps the kvm_run page and closes the vCPU fd.
func (v *VCPU) Close() error {
	var errs []error

	if v.run != nil {
		if err := unix.Munmap(v.run); err != nil {
			errs = append(errs, fmt.Errorf("munmap kvm_run: %w", err))
		}

		v.run = nil
	}

	if v.fd != 0 {
		if err := unix.Close(int(v.fd)); err != nil {
			errs = append(errs, fmt.Errorf("close vcpu %d: %w", v.ID, err))
		}

		v.fd = 0
	}

	return errors.Join(errs...)
}
