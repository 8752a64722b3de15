package clonepki

import (
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"time"
)

// Role identifies which side of a clone session a leaf certificate
// authenticates.
type Role string

const (
	RoleSource Role = "source"
	RoleTarget Role = "target"
)

// Bundle is the {cert_pem, key_pem, ca_pem} triple returned per role
// (§4.9).
type Bundle struct {
	CertPEM string
	KeyPEM  string
	CAPEM   string
}

// sessionSlack is the extra validity window added on top of the expected
// session lifetime (§4.9: "a small slack (e.g., 1 hour)").
const sessionSlack = time.Hour

// IssueSessionCerts mints one leaf certificate per role for a clone
// session, both embedding sessionID and their role in the CN so a peer
// validating the chain can recover which side it is talking to. Validity
// is bounded by expectedLifetime plus sessionSlack.
func (ca *CA) IssueSessionCerts(sessionID string, algorithm KeyAlgorithm, expectedLifetime time.Duration) (source, target Bundle, err error) {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	source, err = ca.issueLeafLocked(sessionID, RoleSource, algorithm, expectedLifetime)
	if err != nil {
		return Bundle{}, Bundle{}, fmt.Errorf("clonepki: issue source leaf: %w", err)
	}
	target, err = ca.issueLeafLocked(sessionID, RoleTarget, algorithm, expectedLifetime)
	if err != nil {
		return Bundle{}, Bundle{}, fmt.Errorf("clonepki: issue target leaf: %w", err)
	}
	return source, target, nil
}

// issueLeafLocked must be called with ca.mu held; it performs the actual
// x509.CreateCertificate call against the CA's signer.
func (ca *CA) issueLeafLocked(sessionID string, role Role, algorithm KeyAlgorithm, expectedLifetime time.Duration) (Bundle, error) {
	key, err := generateKey(algorithm)
	if err != nil {
		return Bundle{}, fmt.Errorf("generate leaf key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return Bundle{}, err
	}

	validity := expectedLifetime + sessionSlack
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: fmt.Sprintf("%s/%s", sessionID, role)},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, key.Public(), ca.signer)
	if err != nil {
		return Bundle{}, fmt.Errorf("create leaf certificate: %w", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return Bundle{}, fmt.Errorf("marshal leaf key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	return Bundle{
		CertPEM: string(certPEM),
		KeyPEM:  string(keyPEM),
		CAPEM:   string(ca.certPEM),
	}, nil
}
