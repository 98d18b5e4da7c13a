package acme

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/hostwatch/hostwatch/pkg/config"
)

// Client provisions and renews the dashboard's optional TLS certificate via
// ACME. The teacher's version juggled a map of certificates keyed by domain,
// one per routed service behind its gateway; this toolkit's dashboard has
// exactly one externally reachable hostname, so the client tracks one
// certificate for it instead of a domain-keyed cache.
type Client struct {
	config     *config.ACMEConfig
	hostname   string
	legoClient *lego.Client
	user       *User
	certDir    string
	mu         sync.RWMutex

	cert     *tls.Certificate
	certFile *CertificateFiles
}

// User represents an ACME user
type User struct {
	Email        string                 `json:"email"`
	Registration *registration.Resource `json:"registration"`
	key          crypto.PrivateKey
}

// CertificateFiles represents certificate file paths
type CertificateFiles struct {
	Domain     string    `json:"domain"`
	CertPath   string    `json:"cert_path"`
	KeyPath    string    `json:"key_path"`
	IssuerPath string    `json:"issuer_path"`
	NotAfter   time.Time `json:"not_after"`
	NotBefore  time.Time `json:"not_before"`
	Created    time.Time `json:"created"`
	Updated    time.Time `json:"updated"`
}

// GetEmail returns user email
func (u *User) GetEmail() string {
	return u.Email
}

// GetRegistration returns user registration
func (u *User) GetRegistration() *registration.Resource {
	return u.Registration
}

// GetPrivateKey returns user private key
func (u *User) GetPrivateKey() crypto.PrivateKey {
	return u.key
}

// NewClient creates a new ACME client for the dashboard running at hostname.
func NewClient(cfg *config.ACMEConfig, hostname string) (*Client, error) {
	if cfg.Email == "" {
		return nil, fmt.Errorf("ACME email is required")
	}
	if hostname == "" {
		return nil, fmt.Errorf("ACME hostname is required")
	}

	certDir := cfg.CacheDir
	if err := os.MkdirAll(certDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cert directory: %w", err)
	}

	client := &Client{
		config:   cfg,
		hostname: hostname,
		certDir:  certDir,
	}

	// Load or create user
	user, err := client.loadOrCreateUser()
	if err != nil {
		return nil, fmt.Errorf("failed to load/create user: %w", err)
	}
	client.user = user

	// Create lego client
	legoConfig := lego.NewConfig(user)
	if cfg.DirectoryURL != "" {
		legoConfig.CADirURL = cfg.DirectoryURL
	} else {
		legoConfig.CADirURL = lego.LEDirectoryProduction
	}

	legoClient, err := lego.NewClient(legoConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create lego client: %w", err)
	}

	client.legoClient = legoClient

	// Setup HTTP-01 challenge
	err = legoClient.Challenge.SetHTTP01Provider(&HTTP01Provider{
		client: client,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup HTTP-01 provider: %w", err)
	}

	// Register user if needed
	if user.Registration == nil {
		reg, err := legoClient.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return nil, fmt.Errorf("failed to register user: %w", err)
		}
		user.Registration = reg

		// Save user registration
		if err := client.saveUser(user); err != nil {
			return nil, fmt.Errorf("failed to save user registration: %w", err)
		}
	}

	// Load existing certificates
	if err := client.loadCertificates(); err != nil {
		return nil, fmt.Errorf("failed to load certificates: %w", err)
	}

	return client, nil
}

// loadOrCreateUser loads existing user or creates a new one
func (c *Client) loadOrCreateUser() (*User, error) {
	userPath := filepath.Join(c.certDir, "user.json")
	keyPath := filepath.Join(c.certDir, "user.key")

	// Try to load existing user
	if fileExists(userPath) && fileExists(keyPath) {
		userData, err := os.ReadFile(userPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read user file: %w", err)
		}

		var user User
		if err := json.Unmarshal(userData, &user); err != nil {
			return nil, fmt.Errorf("failed to parse user file: %w", err)
		}

		keyData, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read user key: %w", err)
		}

		keyBlock, _ := pem.Decode(keyData)
		if keyBlock == nil {
			return nil, fmt.Errorf("failed to decode user key")
		}

		privateKey, err := x509.ParseECPrivateKey(keyBlock.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse user key: %w", err)
		}

		user.key = privateKey
		return &user, nil
	}

	// Create new user
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	user := &User{
		Email: c.config.Email,
		key:   privateKey,
	}

	return user, c.saveUser(user)
}

// saveUser saves user data to disk
func (c *Client) saveUser(user *User) error {
	userPath := filepath.Join(c.certDir, "user.json")
	keyPath := filepath.Join(c.certDir, "user.key")

	// Save user data
	userData, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	if err := os.WriteFile(userPath, userData, 0600); err != nil {
		return fmt.Errorf("failed to write user file: %w", err)
	}

	// Save private key
	privateKey := user.key.(*ecdsa.PrivateKey)
	keyBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "EC PRIVATE KEY",
		Bytes: keyBytes,
	})

	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	return nil
}

// IssueCertificate obtains a certificate for the dashboard's hostname,
// skipping the ACME round trip if a certificate is already on file with more
// than 30 days of validity left.
func (c *Client) IssueCertificate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.certFile != nil && time.Now().Before(c.certFile.NotAfter.Add(-30*24*time.Hour)) {
		return nil
	}

	request := certificate.ObtainRequest{
		Domains: []string{c.hostname},
		Bundle:  true,
	}

	certificates, err := c.legoClient.Certificate.Obtain(request)
	if err != nil {
		return fmt.Errorf("failed to obtain certificate: %w", err)
	}

	certFile, err := c.saveCertificate(certificates)
	if err != nil {
		return fmt.Errorf("failed to save certificate: %w", err)
	}

	cert, err := c.loadCertificate(certFile)
	if err != nil {
		return fmt.Errorf("failed to load certificate: %w", err)
	}

	c.cert = cert
	c.certFile = certFile

	return nil
}

// GetCertificate returns the dashboard's certificate for use as a
// tls.Config.GetCertificate callback. serverName is accepted (and expected
// to match the configured hostname via SNI) so the signature drops straight
// into net/http's TLS handshake hook without a wrapper closure.
func (c *Client) GetCertificate(serverName string) (*tls.Certificate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cert == nil {
		return nil, fmt.Errorf("acme: no certificate issued yet for %s", c.hostname)
	}
	if serverName != "" && serverName != c.hostname {
		return nil, fmt.Errorf("acme: no certificate for %s, only %s", serverName, c.hostname)
	}

	return c.cert, nil
}

// CertificateInfo reports the currently loaded certificate's metadata, or
// nil if none has been issued yet.
func (c *Client) CertificateInfo() *CertificateFiles {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.certFile
}

// RenewExpiring reissues the dashboard's certificate if it is within 30 days
// of expiry.
func (c *Client) RenewExpiring() error {
	c.mu.RLock()
	certFile := c.certFile
	c.mu.RUnlock()

	if certFile == nil || time.Now().Before(certFile.NotAfter.Add(-30*24*time.Hour)) {
		return nil
	}

	if err := c.IssueCertificate(); err != nil {
		return fmt.Errorf("failed to renew certificate for %s: %w", c.hostname, err)
	}
	return nil
}

// saveCertificate saves the dashboard's certificate to disk
func (c *Client) saveCertificate(certificates *certificate.Resource) (*CertificateFiles, error) {
	domain := c.hostname
	certPath := filepath.Join(c.certDir, domain+".crt")
	keyPath := filepath.Join(c.certDir, domain+".key")
	issuerPath := filepath.Join(c.certDir, domain+".issuer.crt")

	// Write certificate
	if err := os.WriteFile(certPath, certificates.Certificate, 0644); err != nil {
		return nil, fmt.Errorf("failed to write certificate: %w", err)
	}

	// Write private key
	if err := os.WriteFile(keyPath, certificates.PrivateKey, 0600); err != nil {
		return nil, fmt.Errorf("failed to write private key: %w", err)
	}

	// Write issuer certificate
	if err := os.WriteFile(issuerPath, certificates.IssuerCertificate, 0644); err != nil {
		return nil, fmt.Errorf("failed to write issuer certificate: %w", err)
	}

	// Parse certificate to get validity dates
	certBlock, _ := pem.Decode(certificates.Certificate)
	if certBlock == nil {
		return nil, fmt.Errorf("failed to decode certificate")
	}

	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	certFile := &CertificateFiles{
		Domain:     domain,
		CertPath:   certPath,
		KeyPath:    keyPath,
		IssuerPath: issuerPath,
		NotAfter:   cert.NotAfter,
		NotBefore:  cert.NotBefore,
		Created:    time.Now(),
		Updated:    time.Now(),
	}

	return certFile, nil
}

// loadCertificates loads the dashboard's certificate from disk if present,
// so a restart doesn't re-issue a certificate that's still valid.
func (c *Client) loadCertificates() error {
	certPath := filepath.Join(c.certDir, c.hostname+".crt")
	keyPath := filepath.Join(c.certDir, c.hostname+".key")

	if !fileExists(certPath) || !fileExists(keyPath) {
		return nil
	}

	certFile := &CertificateFiles{
		Domain:   c.hostname,
		CertPath: certPath,
		KeyPath:  keyPath,
	}

	cert, err := c.loadCertificate(certFile)
	if err != nil {
		return nil // stale or corrupt certificate on disk, let IssueCertificate replace it
	}

	if len(cert.Certificate) > 0 {
		if x509Cert, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
			certFile.NotAfter = x509Cert.NotAfter
			certFile.NotBefore = x509Cert.NotBefore
		}
	}

	c.cert = cert
	c.certFile = certFile

	return nil
}

// loadCertificate loads a certificate from files
func (c *Client) loadCertificate(certFile *CertificateFiles) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile.CertPath, certFile.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	return &cert, nil
}

// fileExists checks if a file exists
func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return !info.IsDir()
}
