package proxydhcp

import (
	"net"
	"testing"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/iana"
	"github.com/stretchr/testify/require"
)

func mustParseIP(s string) net.IP {
	ip := net.ParseIP(s)
	if ip == nil {
		panic("invalid test IP: " + s)
	}
	return ip.To4()
}

func TestClassifyArchitectureTable(t *testing.T) {
	cases := []struct {
		name string
		arch iana.Arch
		want BootFile
	}{
		{"bios", iana.INTEL_X86PC, bootFileBIOS},
		{"uefi_x86", iana.EFI_IA32, bootFileUEFIx64},
		{"uefi_x64", iana.EFI_X86_64, bootFileUEFIx64},
		{"uefi_arm64", iana.EFI_ARM64, bootFileUEFIarm},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bf, err := classify([]iana.Arch{tc.arch})
			require.NoError(t, err)
			require.Equal(t, tc.want, bf)
		})
	}
}

func TestClassifyRejectsUnknownArch(t *testing.T) {
	_, err := classify([]iana.Arch{iana.Arch(0xff)})
	require.ErrorIs(t, err, ErrUnsupportedArch)
}

func TestIsPXEClientRequiresVendorClass(t *testing.T) {
	m, err := dhcpv4.New()
	require.NoError(t, err)
	require.False(t, isPXEClient(m))

	m.UpdateOption(dhcpv4.OptClassIdentifier("PXEClient:Arch:00000"))
	require.True(t, isPXEClient(m))

	m.UpdateOption(dhcpv4.OptClassIdentifier("MSFT 5.0"))
	require.False(t, isPXEClient(m))
}

func TestBuildReplyNeverSetsYourIPAddr(t *testing.T) {
	req, err := dhcpv4.New()
	require.NoError(t, err)
	req.UpdateOption(dhcpv4.OptClassIdentifier("PXEClient"))

	r := New(Config{ServerIP: mustParseIP("10.0.0.5")}, nil)
	resp, err := r.buildReply(req, bootFileBIOS)
	require.NoError(t, err)

	require.True(t, resp.YourIPAddr.IsUnspecified())
	require.Equal(t, "bios/undionly.kpxe", resp.BootFileName)
	require.Equal(t, mustParseIP("10.0.0.5").String(), resp.ServerIPAddr.String())
}
