// Package certs provides the self-signed certificate used when the dev server
// runs over HTTPS.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	certFileName = "dev.crt"
	keyFileName  = "dev.key"

	validity = 30 * 24 * time.Hour
	// renewBefore renews certificates that would expire during a working day.
	renewBefore = 24 * time.Hour
)

// Config selects where certificates come from.
type Config struct {
	// Dir holds generated certificates.
	Dir string
	// Hosts are added as SANs; localhost and loopback addresses are always included.
	Hosts []string
	// CertFile and KeyFile, when both set, are used instead of generating.
	CertFile string
	KeyFile  string
}

// Reason describes how Assets were obtained.
type Reason string

const (
	ReasonCustom    Reason = "custom"
	ReasonReused    Reason = "reused"
	ReasonGenerated Reason = "generated"
	ReasonRenewed   Reason = "renewed"
)

// Assets points at a usable certificate and key.
type Assets struct {
	CertPath string
	KeyPath  string
	Reason   Reason
}

// LoadOrGenerate resolves the dev certificate:
//   - custom CertFile/KeyFile are validated and used as is
//   - an existing certificate in Dir is reused while it is not about to expire
//   - otherwise a new self-signed certificate is written to Dir
func LoadOrGenerate(cfg Config) (*Assets, error) {
	hasCustom := cfg.CertFile != "" || cfg.KeyFile != ""
	if hasCustom {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return nil, errors.New("partial custom cert config: both cert and key must be set")
		}
		for _, path := range []string{cfg.CertFile, cfg.KeyFile} {
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("custom cert file not readable: %w", err)
			}
			f.Close()
		}
		return &Assets{CertPath: cfg.CertFile, KeyPath: cfg.KeyFile, Reason: ReasonCustom}, nil
	}

	certPath := filepath.Join(cfg.Dir, certFileName)
	keyPath := filepath.Join(cfg.Dir, keyFileName)

	reason, ok, err := reusable(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	if ok {
		return &Assets{CertPath: certPath, KeyPath: keyPath, Reason: ReasonReused}, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating certs directory: %w", err)
	}
	unlock, err := acquireLock(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("acquiring cert generation lock: %w", err)
	}
	defer unlock()

	// Another process may have generated certificates while we waited.
	if _, ok, err := reusable(certPath, keyPath); err != nil {
		return nil, err
	} else if ok {
		return &Assets{CertPath: certPath, KeyPath: keyPath, Reason: ReasonReused}, nil
	}

	if err := Generate(certPath, keyPath, cfg.Hosts, time.Now()); err != nil {
		return nil, err
	}
	return &Assets{CertPath: certPath, KeyPath: keyPath, Reason: reason}, nil
}

// reusable reports whether the pair on disk can be used. When it cannot, the
// returned reason says whether generation is a first run or a renewal.
func reusable(certPath, keyPath string) (Reason, bool, error) {
	for _, path := range []string{certPath, keyPath} {
		if _, err := os.Stat(path); err != nil {
			return ReasonGenerated, false, nil
		}
	}
	notAfter, err := certNotAfter(certPath)
	if err != nil {
		// Corrupt files are replaced rather than reported.
		return ReasonRenewed, false, nil
	}
	if time.Now().Add(renewBefore).After(notAfter) {
		return ReasonRenewed, false, nil
	}
	return ReasonReused, true, nil
}

// Generate writes a self-signed ECDSA certificate valid from now for the
// given hosts plus localhost.
func Generate(certPath, keyPath string, hosts []string, now time.Time) error {
	return generate(certPath, keyPath, hosts, now, now.Add(validity))
}

func generate(certPath, keyPath string, hosts []string, notBefore, notAfter time.Time) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generating key: %w", err)
	}

	serialNumber, err := randomSerial()
	if err != nil {
		return err
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   "localhost",
			Organization: []string{"devserver"},
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	addSANs(template, append([]string{"localhost", "127.0.0.1", "::1"}, hosts...))

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("creating certificate: %w", err)
	}

	if err := writeKeyFile(keyPath, key); err != nil {
		return fmt.Errorf("writing key: %w", err)
	}
	if err := writePEMFile(certPath, "CERTIFICATE", certDER); err != nil {
		return fmt.Errorf("writing cert: %w", err)
	}
	return nil
}

func addSANs(tmpl *x509.Certificate, hosts []string) {
	seen := map[string]struct{}{}
	for _, h := range hosts {
		if h == "" {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}
}

// NewTLSConfig builds a server *tls.Config from a certificate and key.
func NewTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("loading key pair: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil
}

// staleLockAge is the maximum age of a lock file before it is considered stale
// and eligible for cleanup (e.g., left behind by a crashed process).
const staleLockAge = 5 * time.Minute

// acquireLock creates an exclusive lock file in dir to prevent concurrent
// certificate generation by multiple processes. Returns an unlock function.
func acquireLock(dir string) (func(), error) {
	lockPath := filepath.Join(dir, ".lock")
	for i := 0; i < 10; i++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("creating lock file: %w", err)
		}
		if info, statErr := os.Stat(lockPath); statErr == nil {
			if time.Since(info.ModTime()) > staleLockAge {
				os.Remove(lockPath)
				continue
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return nil, fmt.Errorf("could not acquire cert generation lock at %s after 5s", lockPath)
}

func certNotAfter(certPath string) (time.Time, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading cert file: %w", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return time.Time{}, fmt.Errorf("no PEM data in %s", certPath)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing certificate: %w", err)
	}
	return cert.NotAfter, nil
}

func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generating serial number: %w", err)
	}
	return serial, nil
}

func writePEMFile(path, blockType string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: blockType, Bytes: data})
}

func writeKeyFile(path string, key *ecdsa.PrivateKey) error {
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshaling EC private key: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
}
