package kvm

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// Encoding of ioctl request numbers, from include/uapi/asm-generic/ioctl.h.
const (
	nrBits   = 8
	typeBits = 8
	sizeBits = 14

	nrShift   = 0
	typeShift = nrShift + nrBits
	sizeShift = typeShift + typeBits
	dirShift  = sizeShift + sizeBits

	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	kvmIO = 0xAE
)

func iioc(dir, nr, size uintptr) uintptr {
	return dir<<dirShift | size<<sizeShift | kvmIO<<typeShift | nr<<nrShift
}

// IIO is _IO(KVMIO, nr).
func IIO(nr uintptr) uintptr {
	return iioc(iocNone, nr, 0)
}

// IIOR is _IOR(KVMIO, nr, size).
func IIOR(nr, size uintptr) uintptr {
	return iioc(iocRead, nr, size)
}

// IIOW is _IOW(KVMIO, nr, size).
func IIOW(nr, size uintptr) uintptr {
	return iioc(iocWrite, nr, size)
}

// IIOWR is _IOWR(KVMIO, nr, size).
func IIOWR(nr, size uintptr) uintptr {
	return iioc(iocRead|iocWrite, nr, size)
}

// Ioctl issues an ioctl and retries it as long as it is interrupted by a signal.
// Any other errno is returned to the caller as a syscall.Errno.
func Ioctl(fd, op, arg uintptr) (uintptr, error) {
	for {
		res, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, op, arg)
		if errno == 0 {
			return res, nil
		}

		if !errors.Is(errno, syscall.EINTR) {
			return res, errno
		}
	}
}
