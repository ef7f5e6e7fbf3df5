package mitm

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"

	"sfvip-launcher/work/logger"
)

const (
	caCertFile       = "ca.pem"
	caKeyFile        = "ca.key"
	caValidityYears  = 10
	leafValidityDays = 30
	caOrganization   = "sfvip-launcher"
	caCommonName     = "sfvip-launcher local CA"
	leafCacheSize    = 512
)

// CA signs the per-host leaf certificates presented to the player. The key
// pair persists in dir so the player only needs to trust it once.
type CA struct {
	cert  *x509.Certificate
	key   *rsa.PrivateKey
	leafs *otter.Cache[string, *tls.Certificate]
}

// NewCA loads the CA from dir, generating a fresh key pair when absent.
func NewCA(dir string) (*CA, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("mitm: ca dir: %w", err)
	}
	certPath := filepath.Join(dir, caCertFile)
	keyPath := filepath.Join(dir, caKeyFile)

	ca := &CA{
		leafs: otter.Must(&otter.Options[string, *tls.Certificate]{
			MaximumSize: leafCacheSize,
		}),
	}
	if err := ca.load(certPath, keyPath); err == nil {
		return ca, nil
	}
	if err := ca.generate(certPath, keyPath); err != nil {
		return nil, err
	}
	return ca, nil
}

// CertPath returns where the trust-anchor certificate lives under dir.
func CertPath(dir string) string {
	return filepath.Join(dir, caCertFile)
}

func (ca *CA) load(certPath, keyPath string) error {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return err
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return fmt.Errorf("mitm: bad ca cert pem")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return err
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return err
	}
	block, _ = pem.Decode(keyPEM)
	if block == nil {
		return fmt.Errorf("mitm: bad ca key pem")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return err
	}
	ca.cert, ca.key = cert, key
	logger.Debug("mitm: loaded ca from %s", certPath)
	return nil
}

func (ca *CA) generate(certPath, keyPath string) error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("mitm: ca key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return err
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{caOrganization},
			CommonName:   caCommonName,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(caValidityYears, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("mitm: ca cert: %w", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return err
	}
	ca.cert, ca.key = cert, key
	logger.Info("mitm: generated ca at %s", certPath)
	return nil
}

// LeafFor returns a certificate for host (with or without port), signing a
// fresh one on first use. Certificates carry a wildcard SAN for the parent
// domain so sibling hosts reuse the same entry at the TLS layer.
func (ca *CA) LeafFor(host string) (*tls.Certificate, error) {
	hostname := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		hostname = h
	}
	if cert, ok := ca.leafs.GetIfPresent(hostname); ok {
		return cert, nil
	}
	cert, err := ca.sign(hostname)
	if err != nil {
		return nil, err
	}
	ca.leafs.Set(hostname, cert)
	return cert, nil
}

func (ca *CA) sign(hostname string) (*tls.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{caOrganization},
			CommonName:   hostname,
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().AddDate(0, 0, leafValidityDays),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(hostname); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{hostname}
		if strings.Count(hostname, ".") > 1 {
			parts := strings.SplitN(hostname, ".", 2)
			template.DNSNames = append(template.DNSNames, "*."+parts[1])
		}
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		return nil, err
	}
	return &tls.Certificate{
		Certificate: [][]byte{der, ca.cert.Raw},
		PrivateKey:  key,
	}, nil
}
