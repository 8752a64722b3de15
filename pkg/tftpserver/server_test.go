package tftpserver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pin/tftp"
	"github.com/stretchr/testify/require"
)

func TestResolveRejectsPathEscape(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "ipxe.efi"), []byte("data"), 0o644))

	s := New(Config{Root: root}, nil)

	path, err := s.resolve("ipxe.efi")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "ipxe.efi"), path)

	_, err = s.resolve("../../etc/passwd")
	require.Error(t, err)
	var txErr *tftp.TransmissionError
	require.ErrorAs(t, err, &txErr)
	require.EqualValues(t, 2, txErr.Code)
}

func TestResolveFollowsPiSymlinkWithinRoot(t *testing.T) {
	root := t.TempDir()
	shared := filepath.Join(root, "pi", "shared")
	require.NoError(t, os.MkdirAll(shared, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(shared, "kernel8.img"), []byte("img"), 0o644))

	perSerial := filepath.Join(root, "pi", "deadbeef")
	require.NoError(t, os.Symlink(shared, perSerial))

	s := New(Config{Root: root}, nil)
	_, err := s.resolve("pi/deadbeef/kernel8.img")
	require.NoError(t, err)
}

func TestWriteHandlerAlwaysRefused(t *testing.T) {
	s := New(Config{Root: t.TempDir()}, nil)
	err := s.writeHandler("anything", nil)
	require.Error(t, err)
	var txErr *tftp.TransmissionError
	require.ErrorAs(t, err, &txErr)
	require.EqualValues(t, 2, txErr.Code)
}
