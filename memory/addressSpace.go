package memory

import (
	"errors"
	"fmt"
)

var (
	errAddrSpaceOccupied = errors.New("address space occupied")
	errSlotInUse         = errors.New("memory slot already in use")
	errEmptyRange        = errors.New("empty guest physical range")
)

// AddressSpace tracks which guest physical ranges are backed by which slot,
// so that two slots of one vm never overlap.
type AddressSpace struct {
	Name      string
	Addresses []*Mapping
}

// Mapping is one registered guest physical range.
type Mapping struct {
	Slot  uint32
	Start uint64
	Size  uint64
}

// End returns the first address past the mapping.
func (m *Mapping) End() uint64 {
	return m.Start + m.Size
}

// Overlaps reports whether the two ranges share at least one address.
func (m *Mapping) Overlaps(o *Mapping) bool {
	return m.Start < o.End() && o.Start < m.End()
}

func NewAddressSpace(name string) *AddressSpace {
	return &AddressSpace{
		Name: name,
	}
}

// AddAddress records a mapping, refusing empty ranges, ranges that wrap,
// reused slot ids and overlaps.
func (a *AddressSpace) AddAddress(m *Mapping) error {
	if m.Size == 0 || m.End() < m.Start {
		return fmt.Errorf("%w: slot %d at %#x", errEmptyRange, m.Slot, m.Start)
	}

	for _, addr := range a.Addresses {
		if addr.Slot == m.Slot {
			return fmt.Errorf("%w: %d", errSlotInUse, m.Slot)
		}

		if addr.Overlaps(m) {
			return fmt.Errorf("%s: %w: [%#x, %#x) overlaps slot %d [%#x, %#x)",
				a.Name, errAddrSpaceOccupied, m.Start, m.End(), addr.Slot, addr.Start, addr.End())
		}
	}

	a.Addresses = append(a.Addresses, m)

	return nil
}

// RemoveSlot forgets the mapping of slot, if any.
func (a *AddressSpace) RemoveSlot(slot uint32) {
	for i, addr := range a.Addresses {
		if addr.Slot == slot {
			a.Addresses = append(a.Addresses[:i], a.Addresses[i+1:]...)

			return
		}
	}
}

// IsFree reports whether m could be added.
func (a *AddressSpace) IsFree(m *Mapping) bool {
	for _, addr := range a.Addresses {
		if addr.Overlaps(m) {
			return false
		}
	}

	return true
}
