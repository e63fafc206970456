package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"
)

// CertAuthority is an in-memory certificate authority for a group of RTRM
// peers: one self-signed root, used to issue leaf certificates for any peer
// or CLI client that authenticates to this instance.
type CertAuthority struct {
	rootCert  *x509.Certificate
	rootKey   *rsa.PrivateKey
	certCache map[string]*CachedCert
	mu        sync.RWMutex
}

// CachedCert is the most recently issued leaf certificate for an ID, kept in
// memory. Issuing does not consult the cache: every request generates a
// fresh key and certificate and overwrites the entry.
type CachedCert struct {
	Cert      *x509.Certificate
	Key       *rsa.PrivateKey
	IssuedAt  time.Time
	ExpiresAt time.Time
}

const (
	rootCAValidity = 10 * 365 * 24 * time.Hour
	peerCertValidity = 90 * 24 * time.Hour
	rootKeySize = 4096
	peerKeySize = 2048
)

// NewCertAuthority returns an uninitialized CertAuthority.
func NewCertAuthority() *CertAuthority {
	return &CertAuthority{certCache: make(map[string]*CachedCert)}
}

// Initialize generates a fresh root certificate. Call once, on whichever
// instance bootstraps a new peer group.
func (ca *CertAuthority) Initialize() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	rootKey, err := rsa.GenerateKey(rand.Reader, rootKeySize)
	if err != nil {
		return fmt.Errorf("security: generate root key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("security: generate serial: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"RTRM Peer Group"},
			CommonName:   "RTRM Root CA",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(rootCAValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLen:            1,
		MaxPathLenZero:        false,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &rootKey.PublicKey, rootKey)
	if err != nil {
		return fmt.Errorf("security: create root certificate: %w", err)
	}
	rootCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("security: parse root certificate: %w", err)
	}
	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return nil
}

// ImportRoot installs an externally-issued root certificate and key, used
// by a joining peer that received them out-of-band instead of bootstrapping
// its own root (see package doc).
func (ca *CertAuthority) ImportRoot(rootCert *x509.Certificate, rootKey *rsa.PrivateKey) {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	ca.rootCert = rootCert
	ca.rootKey = rootKey
}

// IssuePeerCertificate issues a leaf certificate identifying peerID, valid
// for the given DNS names and IP addresses (its advertised address from
// spec.md §4.8).
func (ca *CertAuthority) IssuePeerCertificate(peerID string, dnsNames []string, ipAddresses []net.IP) (*tls.Certificate, error) {
	return ca.issue(peerID, "peer", dnsNames, ipAddresses, []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth})
}

// IssueClientCertificate issues a leaf certificate for a CLI client talking
// to the local instance's Agent RPC surface.
func (ca *CertAuthority) IssueClientCertificate(clientID string) (*tls.Certificate, error) {
	return ca.issue(clientID, "cli", nil, nil, []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth})
}

func (ca *CertAuthority) issue(id, role string, dnsNames []string, ipAddresses []net.IP, extUsage []x509.ExtKeyUsage) (*tls.Certificate, error) {
	ca.mu.RLock()
	rootCert, rootKey := ca.rootCert, ca.rootKey
	ca.mu.RUnlock()
	if rootCert == nil || rootKey == nil {
		return nil, fmt.Errorf("security: CA not initialized")
	}

	leafKey, err := rsa.GenerateKey(rand.Reader, peerKeySize)
	if err != nil {
		return nil, fmt.Errorf("security: generate %s key: %w", role, err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("security: generate serial: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"RTRM Peer Group"},
			CommonName:   fmt.Sprintf("%s-%s", role, id),
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(peerCertValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: extUsage,
		DNSNames:    dnsNames,
		IPAddresses: ipAddresses,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, rootCert, &leafKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("security: create %s certificate: %w", role, err)
	}
	leafCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("security: parse %s certificate: %w", role, err)
	}

	tlsCert := &tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  leafKey,
		Leaf:        leafCert,
	}
	ca.mu.Lock()
	ca.certCache[id] = &CachedCert{Cert: leafCert, Key: leafKey, IssuedAt: leafCert.NotBefore, ExpiresAt: leafCert.NotAfter}
	ca.mu.Unlock()
	return tlsCert, nil
}

// VerifyCertificate checks cert against the root CA.
func (ca *CertAuthority) VerifyCertificate(cert *x509.Certificate) error {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	if ca.rootCert == nil {
		return fmt.Errorf("security: CA not initialized")
	}
	roots := x509.NewCertPool()
	roots.AddCert(ca.rootCert)
	opts := x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("security: certificate verification failed: %w", err)
	}
	return nil
}

// RootCertDER returns the root certificate in DER form, for a joining peer
// to import via ImportRoot.
func (ca *CertAuthority) RootCertDER() []byte {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	if ca.rootCert == nil {
		return nil
	}
	return ca.rootCert.Raw
}

// IsInitialized reports whether the CA has a root certificate loaded.
func (ca *CertAuthority) IsInitialized() bool {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.rootCert != nil && ca.rootKey != nil
}

// GetCachedCert returns a previously issued certificate for id, if any.
func (ca *CertAuthority) GetCachedCert(id string) (*CachedCert, bool) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	c, ok := ca.certCache[id]
	return c, ok
}

// CertNeedsRotation reports whether cert has less than 30 days of validity
// remaining.
func CertNeedsRotation(cert *x509.Certificate) bool {
	return time.Until(cert.NotAfter) < 30*24*time.Hour
}
