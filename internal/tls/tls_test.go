package tls

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeTestCertificate writes a self-signed certificate and key pair into
// dir and returns their paths.
func writeTestCertificate(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "localhost"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(48 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func TestLoadCertificate(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeTestCertificate(t, dir)

	cfg, err := LoadCertificate(certFile, keyFile)
	if err != nil {
		t.Fatalf("failed to load certificate: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("expected 1 certificate, got %d", len(cfg.Certificates))
	}

	if _, err := LoadCertificate("/nonexistent/cert.pem", "/nonexistent/key.pem"); err == nil {
		t.Error("expected error for missing files")
	}

	invalid := filepath.Join(dir, "invalid.pem")
	if err := os.WriteFile(invalid, []byte("not a cert"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCertificate(invalid, keyFile); err == nil {
		t.Error("expected error for invalid certificate")
	}
}

func TestInspectCertificate(t *testing.T) {
	dir := t.TempDir()
	certFile, _ := writeTestCertificate(t, dir)

	info, err := InspectCertificate(certFile)
	if err != nil {
		t.Fatalf("failed to inspect certificate: %v", err)
	}
	if info.Subject != "localhost" {
		t.Errorf("subject = %q, want localhost", info.Subject)
	}
	if len(info.DNSNames) != 1 || info.DNSNames[0] != "localhost" {
		t.Errorf("dns names = %v", info.DNSNames)
	}
	if info.DaysLeft < 1 {
		t.Errorf("days left = %d, want >= 1", info.DaysLeft)
	}

	if _, err := InspectCertificate(filepath.Join(dir, "missing.pem")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestACMEManagerTLSConfig(t *testing.T) {
	m := NewACMEManager("admin@example.org", []string{"mail.example.org"}, t.TempDir())

	cfg := m.TLSConfig()
	if cfg.GetCertificate == nil {
		t.Error("expected certificate callback")
	}
	if cfg.MinVersion != 0x0303 { // TLS 1.2
		t.Errorf("min version = %x, want TLS 1.2", cfg.MinVersion)
	}
	if got := m.Domains(); len(got) != 1 || got[0] != "mail.example.org" {
		t.Errorf("domains = %v", got)
	}
}
