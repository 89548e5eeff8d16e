package kvm_test

import (
	"testing"

	"github.com/nmi/minivmm/kvm"
)

func TestCapabilityStringer(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name  string
		value kvm.Capability
		want  string
	}{
		{
			name:  "IRQChip",
			value: kvm.CapIRQChip,
			want:  "CapIRQChip",
		},
		{
			name:  "MPState",
			value: kvm.CapMPState,
			want:  "CapMPState",
		},
		{
			name:  "PIT2",
			value: kvm.CapPIT2,
			want:  "CapPIT2",
		},
		{
			name:  "IdentityMap",
			value: kvm.CapSetIdentityMap,
			want:  "CapSetIdentityMap",
		},
		{
			name:  "Unknown",
			value: kvm.Capability(255),
			want:  "Capability(255)",
		},
	} {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			if test.value.String() != test.want {
				t.Errorf("have: %s, want: %s", test.value.String(), test.want)
			}
		})
	}
}

func TestRequiredCapabilities(t *testing.T) {
	t.Parallel()

	devKVM := openKVM(t)

	for _, c := range kvm.RequiredCapabilities {
		ret, err := kvm.CheckExtension(devKVM.Fd(), c)
		if err != nil {
			t.Fatalf("CheckExtension(%s): %v", c, err)
		}

		if ret == 0 {
			t.Errorf("%s is not supported by this host", c)
		}
	}
}
