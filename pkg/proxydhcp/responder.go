// Package proxydhcp implements the Proxy-DHCP responder described in §4.2:
// a stateless bystander that never assigns an IP lease, and only ever adds
// PXE boot options (next-server, bootfile) to a reply built from whatever
// the client's own DHCP/PXE ROM just broadcast.
//
// The server construction and reply-building shape are grounded directly
// on sidero-omni's internal/dhcp/proxy.go, the one pack example that uses
// this exact pairing of github.com/insomniacslk/dhcp/dhcpv4/server4 and
// dhcpv4.NewReplyFromRequest for a Proxy-DHCP responder. The "must carry
// option 60 PXEClient, silently drop otherwise" gate is adapted from
// jacobweinstock/dhcp's IsNetbootClient check.
package proxydhcp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/server4"
	"github.com/insomniacslk/dhcp/iana"
)

// BootFile maps a firmware class to the file PureBoot's TFTP server will
// serve it (§4.2 architecture table).
type BootFile struct {
	Class string
	Path  string
}

var (
	bootFileBIOS     = BootFile{Class: "bios", Path: "bios/undionly.kpxe"}
	bootFileUEFIx64  = BootFile{Class: "uefi", Path: "uefi/ipxe.efi"}
	bootFileUEFIarm  = BootFile{Class: "uefi", Path: "uefi/ipxe-arm64.efi"}
)

// ErrUnsupportedArch is logged (never returned to the client — PXE has no
// negative-reply mechanism, so an unsupported arch is just a dropped
// packet) when option 93 doesn't match the architecture table.
var ErrUnsupportedArch = errors.New("proxydhcp: unsupported client architecture")

// classify implements the §4.2 architecture table.
func classify(arches []iana.Arch) (BootFile, error) {
	for _, a := range arches {
		switch a { //nolint:exhaustive
		case iana.INTEL_X86PC:
			return bootFileBIOS, nil
		case iana.EFI_IA32, iana.EFI_BC, iana.EFI_X86_64:
			return bootFileUEFIx64, nil
		case iana.EFI_ARM64:
			return bootFileUEFIarm, nil
		}
	}
	return BootFile{}, fmt.Errorf("%w: %v", ErrUnsupportedArch, arches)
}

// Config controls the responder's listen addresses and the values it
// stamps into every reply.
type Config struct {
	ListenAddr67   string // e.g. "0.0.0.0:67", may be empty to disable
	ListenAddr4011 string // e.g. "0.0.0.0:4011"
	ServerIP       net.IP // next-server / TFTP server IP stamped into replies
}

// Responder is the Proxy-DHCP listener pair described in §4.2.
type Responder struct {
	cfg    Config
	logger *log.Logger

	servers []*server4.Server
}

// New builds a Responder. logger may be nil.
func New(cfg Config, logger *log.Logger) *Responder {
	if logger == nil {
		logger = log.Default()
	}
	return &Responder{cfg: cfg, logger: logger}
}

// Run starts both listeners (skipping any with an empty address) and
// blocks until ctx is cancelled or a listener fails irrecoverably.
func (r *Responder) Run(ctx context.Context) error {
	addrs := []string{}
	if r.cfg.ListenAddr67 != "" {
		addrs = append(addrs, r.cfg.ListenAddr67)
	}
	if r.cfg.ListenAddr4011 != "" {
		addrs = append(addrs, r.cfg.ListenAddr4011)
	}
	if len(addrs) == 0 {
		return errors.New("proxydhcp: no listen addresses configured")
	}

	errCh := make(chan error, len(addrs))
	for _, addr := range addrs {
		laddr, err := net.ResolveUDPAddr("udp4", addr)
		if err != nil {
			return fmt.Errorf("proxydhcp: resolve %s: %w", addr, err)
		}
		srv, err := server4.NewServer("", laddr, r.handle)
		if err != nil {
			return fmt.Errorf("proxydhcp: listen %s: %w", addr, err)
		}
		r.servers = append(r.servers, srv)

		go func(addr string, srv *server4.Server) {
			r.logger.Printf("proxydhcp: listening on %s", addr)
			if err := srv.Serve(); err != nil && !errors.Is(err, net.ErrClosed) {
				errCh <- fmt.Errorf("proxydhcp: serve %s: %w", addr, err)
				return
			}
			errCh <- nil
		}(addr, srv)
	}

	select {
	case <-ctx.Done():
		r.Close()
		return nil
	case err := <-errCh:
		r.Close()
		return err
	}
}

// Close shuts down every listener. Safe to call more than once.
func (r *Responder) Close() {
	for _, srv := range r.servers {
		_ = srv.Close()
	}
}

// handle is the per-packet callback wired into server4.NewServer.
func (r *Responder) handle(conn net.PacketConn, peer net.Addr, m *dhcpv4.DHCPv4) {
	if m.OpCode != dhcpv4.OpcodeBootRequest {
		return
	}
	if !isPXEClient(m) {
		return
	}

	bf, err := classify(m.ClientArch())
	if err != nil {
		r.logger.Printf("proxydhcp: %s from %s: %v", m.ClientHWAddr, peer, err)
		return
	}

	resp, err := r.buildReply(m, bf)
	if err != nil {
		r.logger.Printf("proxydhcp: build reply for %s: %v", m.ClientHWAddr, err)
		return
	}

	r.logger.Printf("proxydhcp: %s arch=%s class=%s bootfile=%s", m.ClientHWAddr, m.ClientArch(), bf.Class, bf.Path)

	if _, err := conn.WriteTo(resp.ToBytes(), peer); err != nil {
		r.logger.Printf("proxydhcp: write reply to %s: %v", peer, err)
	}
}

// isPXEClient implements the option-60 gate: only packets advertising
// "PXEClient" in the vendor class identifier are answered.
func isPXEClient(m *dhcpv4.DHCPv4) bool {
	vendor := m.GetOneOption(dhcpv4.OptionClassIdentifier)
	return vendor != nil && strings.Contains(string(vendor), "PXEClient")
}

// buildReply constructs the Proxy-DHCP reply per §4.2: ServerIPAddr,
// BootFileName, and option 54 (server identifier) are set, YourIPAddr is
// left zero (this responder never leases an address), and the client's
// Xid/ClientHWAddr are mirrored by dhcpv4.NewReplyFromRequest
// automatically.
func (r *Responder) buildReply(req *dhcpv4.DHCPv4, bf BootFile) (*dhcpv4.DHCPv4, error) {
	modifiers := []dhcpv4.Modifier{
		dhcpv4.WithServerIP(r.cfg.ServerIP),
		dhcpv4.WithOptionCopied(req, dhcpv4.OptionClientMachineIdentifier),
		dhcpv4.WithOptionCopied(req, dhcpv4.OptionClassIdentifier),
		dhcpv4.WithGeneric(dhcpv4.OptionTFTPServerName, []byte(r.cfg.ServerIP.String())),
		dhcpv4.WithGeneric(dhcpv4.OptionBootfileName, []byte(bf.Path)),
	}

	resp, err := dhcpv4.NewReplyFromRequest(req, modifiers...)
	if err != nil {
		return nil, err
	}

	resp.ServerIPAddr = r.cfg.ServerIP
	resp.BootFileName = bf.Path
	resp.UpdateOption(dhcpv4.OptServerIdentifier(r.cfg.ServerIP))
	resp.UpdateOption(dhcpv4.OptTFTPServerName(r.cfg.ServerIP.String()))
	resp.UpdateOption(dhcpv4.OptBootFileName(bf.Path))
	if resp.GetOneOption(dhcpv4.OptionClassIdentifier) == nil {
		resp.UpdateOption(dhcpv4.OptClassIdentifier("PXEClient"))
	}

	return resp, nil
}
