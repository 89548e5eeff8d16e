package iodev

import (
	"errors"
	"fmt"
)

var (
	// ErrPortConflict means a device overlaps one already on the bus.
	ErrPortConflict = errors.New("io port range already in use")

	ErrDataLenInvalid = errors.New("invalid data size on port")
)

// IODevice describes the interface a IO-Port device must implement.
// The port passed to Read and Write is absolute, not relative to IOPort.
type IODevice interface {
	Read(uint64, []byte) error
	Write(uint64, []byte) error
	IOPort() uint64
	Size() uint64
}

// Bus routes port accesses to the device that claims the port. Ports no
// device claims read as zero and swallow writes.
type Bus struct {
	devices []IODevice
}

func NewBus() *Bus {
	return &Bus{}
}

// Register attaches dev to the bus.
func (b *Bus) Register(dev IODevice) error {
	if dev.Size() == 0 {
		return fmt.Errorf("%w: %T has no ports", ErrPortConflict, dev)
	}

	start, end := dev.IOPort(), dev.IOPort()+dev.Size()

	for _, d := range b.devices {
		if start < d.IOPort()+d.Size() && d.IOPort() < end {
			return fmt.Errorf("%w: %#x-%#x (%T) overlaps %#x-%#x (%T)",
				ErrPortConflict, start, end-1, dev, d.IOPort(), d.IOPort()+d.Size()-1, d)
		}
	}

	b.devices = append(b.devices, dev)

	return nil
}

// Find returns the device claiming port, or nil.
func (b *Bus) Find(port uint64) IODevice {
	for _, d := range b.devices {
		if port >= d.IOPort() && port < d.IOPort()+d.Size() {
			return d
		}
	}

	return nil
}

// In services a guest port read into data. It reports whether a device
// claimed the port; data is zeroed first either way.
func (b *Bus) In(port uint64, data []byte) (bool, error) {
	for i := range data {
		data[i] = 0
	}

	d := b.Find(port)
	if d == nil {
		return false, nil
	}

	return true, d.Read(port, data)
}

// Out services a guest port write and reports whether a device claimed it.
func (b *Bus) Out(port uint64, data []byte) (bool, error) {
	d := b.Find(port)
	if d == nil {
		return false, nil
	}

	return true, d.Write(port, data)
}
