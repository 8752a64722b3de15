// Package clonepki mints the short-lived, session-scoped X.509 material
// that lets a clone source and target authenticate each other over mTLS
// without the controller relaying any bulk data (§4.9).
//
// The certificate-construction shape — a small config struct fed straight
// into x509.CreateCertificate, self-signed CA and leaf paths sharing one
// signing routine — is grounded on openshift-hypershift's
// kas/certs.go / support/certs CertCfg idiom. That package itself isn't
// vendored here (only its tests were retrieved into the pack), so the
// signing routine is written directly against crypto/x509 rather than
// imported: no certificate-management library beyond the standard library
// appears anywhere in the pack as an actual importable dependency, and
// minting an ephemeral single-purpose CA is exactly what crypto/x509 is
// for — a pulled-in library like cert-manager's internal issuer would be
// solving a fleet-management problem this controller doesn't have.
package clonepki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// KeyAlgorithm selects the leaf/CA key type (§4.9: "2048-bit RSA or
// P-256").
type KeyAlgorithm string

const (
	KeyAlgorithmRSA   KeyAlgorithm = "rsa"
	KeyAlgorithmECDSA KeyAlgorithm = "ecdsa"
)

const (
	caCertFile = "ca.pem"
	caKeyFile  = "ca.key"
	caFilePerm = 0o600
)

// CA is a disk-persisted signing authority scoped to this
// controller instance. All clone-session leaf certificates chain to it.
//
// The private key is held only in memory and on disk under caFilePerm;
// issuance is serialized through mu so concurrent session starts never
// race on the CA's serial-number bookkeeping (§5: "CA private key: held
// under a serialized critical section").
type CA struct {
	mu      sync.Mutex
	dir     string
	cert    *x509.Certificate
	certPEM []byte
	signer  crypto.Signer
}

// NewOrLoad loads a persisted CA from dir, or generates and persists a new
// one right away if none exists yet. Creation happens when NewOrLoad is
// called (cmd/pureboot calls it at serve startup), not on the first clone
// session.
func NewOrLoad(dir string, algorithm KeyAlgorithm) (*CA, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("clonepki: create ca dir: %w", err)
	}

	certPath := filepath.Join(dir, caCertFile)
	keyPath := filepath.Join(dir, caKeyFile)

	certPEM, certErr := os.ReadFile(certPath)
	keyPEM, keyErr := os.ReadFile(keyPath)
	if certErr == nil && keyErr == nil {
		cert, signer, err := parseCertAndKey(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("clonepki: load ca: %w", err)
		}
		return &CA{dir: dir, cert: cert, certPEM: certPEM, signer: signer}, nil
	}

	signer, err := generateKey(algorithm)
	if err != nil {
		return nil, fmt.Errorf("clonepki: generate ca key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "pureboot-clone-session-ca", Organization: []string{"pureboot"}},
		NotBefore:             time.Now().Add(-5 * time.Minute),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, signer.Public(), signer)
	if err != nil {
		return nil, fmt.Errorf("clonepki: create ca certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("clonepki: parse ca certificate: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalPKCS8PrivateKey(signer)
	if err != nil {
		return nil, fmt.Errorf("clonepki: marshal ca key: %w", err)
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	if err := os.WriteFile(certPath, certPEM, caFilePerm); err != nil {
		return nil, fmt.Errorf("clonepki: persist ca cert: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, caFilePerm); err != nil {
		return nil, fmt.Errorf("clonepki: persist ca key: %w", err)
	}

	return &CA{dir: dir, cert: cert, certPEM: certPEM, signer: signer}, nil
}

// CertPEM returns the CA certificate in PEM form, safe to hand to both
// session peers for chain verification.
func (ca *CA) CertPEM() []byte {
	return ca.certPEM
}

func generateKey(algorithm KeyAlgorithm) (crypto.Signer, error) {
	switch algorithm {
	case KeyAlgorithmECDSA:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case KeyAlgorithmRSA, "":
		return rsa.GenerateKey(rand.Reader, 2048)
	default:
		return nil, fmt.Errorf("clonepki: unknown key algorithm %q", algorithm)
	}
}

func parseCertAndKey(certPEM, keyPEM []byte) (*x509.Certificate, crypto.Signer, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, nil, fmt.Errorf("clonepki: no PEM block in ca cert file")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse ca certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, nil, fmt.Errorf("clonepki: no PEM block in ca key file")
	}
	key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse ca key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, nil, fmt.Errorf("clonepki: ca key is not a signer")
	}
	return cert, signer, nil
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("clonepki: generate serial: %w", err)
	}
	return serial, nil
}
