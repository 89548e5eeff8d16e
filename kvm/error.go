package kvm

import (
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedExitReason is any error that we do not understand.
	ErrUnexpectedExitReason = errors.New("unexpected kvm exit reason")

	// ErrIODataOutOfRange means kvm_run pointed the I/O data outside the run page.
	ErrIODataOutOfRange = errors.New("kvm_run io data out of range")
)

// ExitType is a virtual machine exit type.
type ExitType uint

const (
	EXITUNKNOWN       ExitType = 0
	EXITEXCEPTION     ExitType = 1
	EXITIO            ExitType = 2
	EXITHYPERCALL     ExitType = 3
	EXITDEBUG         ExitType = 4
	EXITHLT           ExitType = 5
	EXITMMIO          ExitType = 6
	EXITIRQWINDOWOPEN ExitType = 7
	EXITSHUTDOWN      ExitType = 8
	EXITFAILENTRY     ExitType = 9
	EXITINTR          ExitType = 10
	EXITSETTPR        ExitType = 11
	EXITTPRACCESS     ExitType = 12
	EXITS390SIEIC     ExitType = 13
	EXITS390RESET     ExitType = 14
	EXITDCR           ExitType = 15
	EXITNMI           ExitType = 16
	EXITINTERNALERROR ExitType = 17

	EXITIOIN  = 0
	EXITIOOUT = 1
)

//nolint:gochecknoglobals
var exitTypeNames = [...]string{
	EXITUNKNOWN:       "EXITUNKNOWN",
	EXITEXCEPTION:     "EXITEXCEPTION",
	EXITIO:            "EXITIO",
	EXITHYPERCALL:     "EXITHYPERCALL",
	EXITDEBUG:         "EXITDEBUG",
	EXITHLT:           "EXITHLT",
	EXITMMIO:          "EXITMMIO",
	EXITIRQWINDOWOPEN: "EXITIRQWINDOWOPEN",
	EXITSHUTDOWN:      "EXITSHUTDOWN",
	EXITFAILENTRY:     "EXITFAILENTRY",
	EXITINTR:          "EXITINTR",
	EXITSETTPR:        "EXITSETTPR",
	EXITTPRACCESS:     "EXITTPRACCESS",
	EXITS390SIEIC:     "EXITS390SIEIC",
	EXITS390RESET:     "EXITS390RESET",
	EXITDCR:           "EXITDCR",
	EXITNMI:           "EXITNMI",
	EXITINTERNALERROR: "EXITINTERNALERROR",
}

func (e ExitType) String() string {
	if int(e) < len(exitTypeNames) {
		return exitTypeNames[e]
	}

	return fmt.Sprintf("ExitType(%d)", uint(e))
}

// Exit is the reason VCPU.Run gave control back to the host. The set of
// implementations is closed: the ones in this file.
type Exit interface {
	Type() ExitType
	exit()
}

// ExitIOIn is a port read. The handler fills Data, which aliases the kvm_run
// page, and the guest sees it on the next Run.
type ExitIOIn struct {
	Port  uint16
	Size  uint8
	Count uint32
	Data  []byte
}

// ExitIOOut is a port write of Count elements of Size bytes each.
type ExitIOOut struct {
	Port  uint16
	Size  uint8
	Count uint32
	Data  []byte
}

// ExitMMIORead is a guest load from an address no memory slot backs.
type ExitMMIORead struct {
	Addr uint64
	Data []byte
}

// ExitMMIOWrite is a guest store to an address no memory slot backs.
type ExitMMIOWrite struct {
	Addr uint64
	Data []byte
}

// ExitHalt means the guest executed hlt.
type ExitHalt struct{}

// ExitShutdown means the guest triple faulted or otherwise requested reset.
type ExitShutdown struct{}

// ExitInternalError means KVM itself could not handle the guest state.
type ExitInternalError struct {
	Suberror uint32
}

// ExitUnhandled carries any exit reason the types above do not model.
type ExitUnhandled struct {
	Reason ExitType
}

func (ExitIOIn) Type() ExitType          { return EXITIO }
func (ExitIOOut) Type() ExitType         { return EXITIO }
func (ExitMMIORead) Type() ExitType      { return EXITMMIO }
func (ExitMMIOWrite) Type() ExitType     { return EXITMMIO }
func (ExitHalt) Type() ExitType          { return EXITHLT }
func (ExitShutdown) Type() ExitType      { return EXITSHUTDOWN }
func (ExitInternalError) Type() ExitType { return EXITINTERNALERROR }
func (e ExitUnhandled) Type() ExitType   { return e.Reason }

func (ExitIOIn) exit()          {}
func (ExitIOOut) exit()         {}
func (ExitMMIORead) exit()      {}
func (ExitMMIOWrite) exit()     {}
func (ExitHalt) exit()          {}
func (ExitShutdown) exit()      {}
func (ExitInternalError) exit() {}
func (ExitUnhandled) exit()     {}
