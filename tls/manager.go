package tls

import (
	"bufio"
	"crypto/sha256"
	cryptotls "crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jittering/truststore"
)

// Manager creates a local CA, installs it in the system trust store and
// issues the server certificate for localhost and the LAN addresses.
type Manager struct {
	configDir  string
	tlsDir     string
	caDir      string
	caCertFile string
	certFile   string
	keyFile    string
	hostsFile  string
	logger     *slog.Logger
}

// NewManager creates a TLS manager rooted at configDir.
func NewManager(configDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	tlsDir := filepath.Join(configDir, "tls")
	caDir := filepath.Join(configDir, "ca")
	return &Manager{
		configDir:  configDir,
		tlsDir:     tlsDir,
		caDir:      caDir,
		caCertFile: filepath.Join(caDir, "rootCA.pem"),
		certFile:   filepath.Join(tlsDir, "server.crt"),
		keyFile:    filepath.Join(tlsDir, "server.key"),
		hostsFile:  filepath.Join(tlsDir, "hosts.txt"),
		logger:     logger.With("component", "tls"),
	}
}

// EnsureCertificates generates the server certificate when it is missing
// or the LAN addresses changed since it was issued. Installing the CA may
// prompt the user for a password.
func (m *Manager) EnsureCertificates() (certFile, keyFile string, err error) {
	if err := os.MkdirAll(m.tlsDir, 0o700); err != nil {
		return "", "", fmt.Errorf("create TLS directory: %w", err)
	}

	hosts, err := GetAllHosts()
	if err != nil {
		m.logger.Warn("failed to list LAN addresses", "error", err)
		hosts = []string{"localhost", "127.0.0.1"}
	}

	switch {
	case !m.certsExist():
		m.logger.Info("certificates not found, generating", "hosts", hosts)
	case m.hostsChanged(hosts):
		m.logger.Info("network changed, regenerating certificates", "hosts", hosts)
	default:
		m.logger.Debug("using existing certificates", "cert", m.certFile)
		return m.certFile, m.keyFile, nil
	}

	if err := m.generateCertificates(hosts); err != nil {
		return "", "", err
	}
	return m.certFile, m.keyFile, nil
}

// ServerConfig ensures certificates exist and loads them for a listener.
func (m *Manager) ServerConfig() (*cryptotls.Config, error) {
	certFile, keyFile, err := m.EnsureCertificates()
	if err != nil {
		return nil, err
	}
	return LoadServerConfig(certFile, keyFile)
}

// LoadServerConfig builds a listener config from a PEM key pair.
func LoadServerConfig(certFile, keyFile string) (*cryptotls.Config, error) {
	cert, err := cryptotls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &cryptotls.Config{
		Certificates: []cryptotls.Certificate{cert},
		MinVersion:   cryptotls.VersionTLS12,
	}, nil
}

func (m *Manager) certsExist() bool {
	_, certErr := os.Stat(m.certFile)
	_, keyErr := os.Stat(m.keyFile)
	return certErr == nil && keyErr == nil
}

// hostsChanged compares hosts with the set the certificate was issued for.
func (m *Manager) hostsChanged(hosts []string) bool {
	cached, err := m.readCachedHosts()
	if err != nil {
		return true
	}

	a := slices.Clone(cached)
	b := slices.Clone(hosts)
	slices.Sort(a)
	slices.Sort(b)
	return !slices.Equal(a, b)
}

func (m *Manager) readCachedHosts() ([]string, error) {
	file, err := os.Open(m.hostsFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var hosts []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if host := strings.TrimSpace(scanner.Text()); host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts, scanner.Err()
}

func (m *Manager) writeCachedHosts(hosts []string) error {
	return os.WriteFile(m.hostsFile, []byte(strings.Join(hosts, "\n")+"\n"), 0o600)
}

func (m *Manager) generateCertificates(hosts []string) error {
	if err := os.MkdirAll(m.caDir, 0o700); err != nil {
		return fmt.Errorf("create CA directory: %w", err)
	}
	// truststore keeps its CA under CAROOT
	os.Setenv("CAROOT", m.caDir)

	ml, err := truststore.NewLib()
	if err != nil {
		return fmt.Errorf("initialize truststore: %w", err)
	}

	m.logger.Info("installing CA in system trust store (you may be prompted for your password)")
	if err := ml.Install(); err != nil {
		return fmt.Errorf("install CA: %w", err)
	}

	cert, err := ml.MakeCert(hosts, m.tlsDir)
	if err != nil {
		return fmt.Errorf("generate certificate: %w", err)
	}

	if cert.CertFile != m.certFile {
		if err := os.Rename(cert.CertFile, m.certFile); err != nil {
			return fmt.Errorf("rename cert file: %w", err)
		}
	}
	if cert.KeyFile != m.keyFile {
		if err := os.Rename(cert.KeyFile, m.keyFile); err != nil {
			return fmt.Errorf("rename key file: %w", err)
		}
	}

	if err := m.writeCachedHosts(hosts); err != nil {
		m.logger.Warn("failed to cache certificate hosts", "error", err)
	}

	attrs := []any{"cert", m.certFile}
	if fingerprint, err := m.CAFingerprint(); err == nil {
		attrs = append(attrs, "ca_sha256", fingerprint)
	}
	m.logger.Info("certificate generated", attrs...)
	return nil
}

// CertFile returns the path to the server certificate.
func (m *Manager) CertFile() string { return m.certFile }

// KeyFile returns the path to the server key.
func (m *Manager) KeyFile() string { return m.keyFile }

// CACertFile returns the path to the CA certificate.
func (m *Manager) CACertFile() string { return m.caCertFile }

// CAFingerprint returns the SHA256 fingerprint of the CA certificate as
// colon-separated upper-case hex.
func (m *Manager) CAFingerprint() (string, error) {
	certPEM, err := os.ReadFile(m.caCertFile)
	if err != nil {
		return "", fmt.Errorf("read CA certificate: %w", err)
	}
	return Fingerprint(certPEM)
}

// Fingerprint returns the SHA256 fingerprint of the first certificate in a PEM blob.
func Fingerprint(certPEM []byte) (string, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return "", fmt.Errorf("decode PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("parse certificate: %w", err)
	}

	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":"), nil
}

// ReadCACert returns the CA certificate PEM.
func (m *Manager) ReadCACert() ([]byte, error) {
	return os.ReadFile(m.caCertFile)
}
