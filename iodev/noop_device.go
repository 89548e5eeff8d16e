package iodev

// PostCodePort is the POST diagnostic port; Linux also writes it for I/O delays.
const PostCodePort = 0x80

// NoopDevice claims a port range and ignores it, so accesses the guest makes
// routinely do not show up as unhandled.
type NoopDevice struct {
	Port  uint64
	Psize uint64
}

func (n *NoopDevice) Read(port uint64, data []byte) error {
	return nil
}

func (n *NoopDevice) Write(port uint64, data []byte) error {
	return nil
}

func (n *NoopDevice) IOPort() uint64 {
	return n.Port
}

func (n *NoopDevice) Size() uint64 {
	return n.Psize
}
