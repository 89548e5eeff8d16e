package serial

import (
	"io"

	"github.com/nmi/minivmm/iodev"
)

const (
	// COM1Addr is the transmit holding register of the first serial port.
	COM1Addr = 0x03f8
)

// Serial is the transmit side of COM1: every byte the guest writes to the
// THR is copied to Out as is. Reads return zero.
type Serial struct {
	Out io.Writer
}

func New(out io.Writer) *Serial {
	return &Serial{Out: out}
}

func (s *Serial) Read(port uint64, data []byte) error {
	return nil
}

// Write emits the low byte of the access.
func (s *Serial) Write(port uint64, data []byte) error {
	if len(data) == 0 {
		return iodev.ErrDataLenInvalid
	}

	_, err := s.Out.Write(data[:1])

	return err
}

func (s *Serial) IOPort() uint64 {
	return COM1Addr
}

func (s *Serial) Size() uint64 {
	return 0x1
}
