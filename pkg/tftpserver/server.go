// Package tftpserver implements the read-only TFTP server described in
// §4.1: it serves files chain-loaded by PXE ROMs and iPXE out of a fixed
// root directory, and refuses every write request.
//
// Grounded on coreos-coreos-assembler's kola/tests/ignition/resource.go,
// the one pack example that actually constructs and runs a
// github.com/pin/tftp server (tftp.NewServer(readHandler, nil) +
// server.ListenAndServe(addr)); the root-escape guard and per-RRQ logging
// are new, following the teacher's habit of wrapping a narrow library call
// with its own validation and structured logging.
package tftpserver

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pin/tftp"
)

// Config controls the server's bind address, file root, and per-transfer
// stall timeout.
type Config struct {
	BindAddr string
	Root     string
	Timeout  time.Duration // per-transfer stall-without-ACK abort, default 10s
}

// Server is PureBoot's read-only TFTP endpoint.
type Server struct {
	cfg    Config
	logger *log.Logger
	srv    *tftp.Server
}

// New builds a Server. logger may be nil.
func New(cfg Config, logger *log.Logger) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{cfg: cfg, logger: logger}
	s.srv = tftp.NewServer(s.readHandler, s.writeHandler)
	s.srv.SetTimeout(cfg.Timeout)
	return s
}

// ListenAndServe blocks serving TFTP requests until the server is shut down.
func (s *Server) ListenAndServe() error {
	s.logger.Printf("tftpserver: listening on %s, root %s", s.cfg.BindAddr, s.cfg.Root)
	return s.srv.ListenAndServe(s.cfg.BindAddr)
}

// Shutdown stops accepting new transfers.
func (s *Server) Shutdown() {
	s.srv.Shutdown()
}

// errAccessViolation is returned as a *tftp.TransmissionError carrying TFTP
// error code 2, the wire-level "access violation" response, whenever a
// requested path resolves outside the configured root (§8 boundary
// behavior) or a write is attempted.
func errAccessViolation(msg string) error {
	return &tftp.TransmissionError{Code: 2, Msg: msg}
}

// resolve joins filename onto the server root and verifies the result
// (after following symlinks, since Pi per-serial directories are symlinks
// into shared firmware directories) does not escape the root.
func (s *Server) resolve(filename string) (string, error) {
	joined := filepath.Join(s.cfg.Root, filename)

	resolvedRoot, err := filepath.EvalSymlinks(s.cfg.Root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}

	resolvedPath := joined
	if target, err := filepath.EvalSymlinks(joined); err == nil {
		resolvedPath = target
	}

	rel, err := filepath.Rel(resolvedRoot, resolvedPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errAccessViolation("path escapes tftp root")
	}

	return joined, nil
}

// readHandler serves RRQs. Writing handler is never invoked for writes
// since writeHandler always refuses them, but pin/tftp requires both be
// wired to the same *tftp.Server.
func (s *Server) readHandler(filename string, rf io.ReaderFrom) error {
	path, err := s.resolve(filename)
	if err != nil {
		s.logger.Printf("tftpserver: rrq %s: %v", filename, err)
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &tftp.TransmissionError{Code: 1, Msg: "file not found"}
		}
		return err
	}
	defer f.Close()

	client := "unknown"
	if t, ok := rf.(tftp.OutgoingTransfer); ok {
		addr := t.RemoteAddr()
		client = addr.String()
	}

	n, err := rf.ReadFrom(f)
	if err != nil {
		s.logger.Printf("tftpserver: rrq %s from %s: transfer failed after %d bytes: %v", filename, client, n, err)
		return err
	}

	s.logger.Printf("tftpserver: rrq %s from %s: %d bytes", filename, client, n)
	return nil
}

// writeHandler always refuses WRQs — PureBoot's TFTP root is read-only.
func (s *Server) writeHandler(filename string, wt io.WriterTo) error {
	s.logger.Printf("tftpserver: wrq %s refused", filename)
	return errAccessViolation("server is read-only")
}
