package clonepki

import (
	"crypto/x509"
	"encoding/pem"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewOrLoadCreatesAndPersistsCA(t *testing.T) {
	dir := t.TempDir()

	ca, err := NewOrLoad(dir, KeyAlgorithmRSA)
	require.NoError(t, err)
	require.NotEmpty(t, ca.CertPEM())

	reloaded, err := NewOrLoad(dir, KeyAlgorithmRSA)
	require.NoError(t, err)
	require.Equal(t, ca.CertPEM(), reloaded.CertPEM())
}

func TestIssueSessionCertsEmbedsSessionAndRole(t *testing.T) {
	ca, err := NewOrLoad(filepath.Join(t.TempDir(), "ca"), KeyAlgorithmRSA)
	require.NoError(t, err)

	source, target, err := ca.IssueSessionCerts("session-123", KeyAlgorithmRSA, time.Hour)
	require.NoError(t, err)

	require.NotEqual(t, source.CertPEM, target.CertPEM)
	require.Equal(t, string(ca.CertPEM()), source.CAPEM)
	require.Equal(t, string(ca.CertPEM()), target.CAPEM)

	sourceCert := parseCert(t, source.CertPEM)
	require.Equal(t, "session-123/source", sourceCert.Subject.CommonName)

	targetCert := parseCert(t, target.CertPEM)
	require.Equal(t, "session-123/target", targetCert.Subject.CommonName)

	roots := x509.NewCertPool()
	require.True(t, roots.AppendCertsFromPEM(ca.CertPEM()))
	_, err = sourceCert.Verify(x509.VerifyOptions{Roots: roots, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}})
	require.NoError(t, err)
}

func TestIssueSessionCertsUsesECDSAWhenRequested(t *testing.T) {
	ca, err := NewOrLoad(filepath.Join(t.TempDir(), "ca"), KeyAlgorithmECDSA)
	require.NoError(t, err)

	source, _, err := ca.IssueSessionCerts("session-ecdsa", KeyAlgorithmECDSA, 30*time.Minute)
	require.NoError(t, err)

	cert := parseCert(t, source.CertPEM)
	require.Equal(t, x509.ECDSA, cert.PublicKeyAlgorithm)
}

func parseCert(t *testing.T, certPEM string) *x509.Certificate {
	t.Helper()
	block, _ := pem.Decode([]byte(certPEM))
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	return cert
}
