// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Turnstile Contributors

// Package tls loads the API listener's certificate and manages a local
// development CA for serving HTTPS without a real certificate.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	cryptotls "crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io/fs"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/oops"
)

// File names inside a development certificate directory.
const (
	CACertFile     = "root-ca.crt"
	CAKeyFile      = "root-ca.key"
	ServerCertFile = "server.crt"
	ServerKeyFile  = "server.key"
)

// renewBefore is how close to expiry a development server certificate
// may get before it is reissued.
const renewBefore = 7 * 24 * time.Hour

// CA holds a certificate authority certificate and private key.
type CA struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
}

// ServerCert holds a server certificate and private key.
type ServerCert struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
}

// GenerateCA creates a development root CA valid for ten years.
func GenerateCA() (*CA, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, oops.Code("TLS_KEY_FAILED").With("operation", "generate CA key").Wrap(err)
	}
	serial, err := newSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Turnstile"},
			CommonName:   "Turnstile Development CA",
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.AddDate(10, 0, 0),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}

	cert, err := createCertificate(template, template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	return &CA{Certificate: cert, PrivateKey: key}, nil
}

// GenerateServerCert issues a one-year server certificate signed by ca for
// localhost, 127.0.0.1, ::1 and any extra hosts. Hosts that parse as IP
// addresses become IP SANs.
func GenerateServerCert(ca *CA, hosts ...string) (*ServerCert, error) {
	if ca == nil {
		return nil, oops.Code("TLS_INVALID_CA").Errorf("CA is required")
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, oops.Code("TLS_KEY_FAILED").With("operation", "generate server key").Wrap(err)
	}
	serial, err := newSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Turnstile"},
			CommonName:   "turnstile",
		},
		NotBefore:   now.Add(-time.Minute),
		NotAfter:    now.AddDate(1, 0, 0),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:    []string{"localhost"},
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if host != "" {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	cert, err := createCertificate(template, ca.Certificate, &key.PublicKey, ca.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &ServerCert{Certificate: cert, PrivateKey: key}, nil
}

// EnsureDevCertificates makes sure dir holds a development CA and a current
// server certificate signed by it, creating or reissuing them as needed.
// An existing CA is reused so clients that trust it keep working. It returns
// the server certificate and key paths.
func EnsureDevCertificates(dir string, hosts ...string) (certFile, keyFile string, err error) {
	certFile = filepath.Join(dir, ServerCertFile)
	keyFile = filepath.Join(dir, ServerKeyFile)

	ca, err := LoadCA(dir)
	switch {
	case err == nil:
		if current(certFile, ca) {
			return certFile, keyFile, nil
		}
	case errors.Is(err, fs.ErrNotExist):
		ca, err = GenerateCA()
		if err != nil {
			return "", "", err
		}
		if err := saveCA(dir, ca); err != nil {
			return "", "", err
		}
	default:
		return "", "", err
	}

	server, err := GenerateServerCert(ca, hosts...)
	if err != nil {
		return "", "", err
	}
	if err := writePEM(certFile, "CERTIFICATE", server.Certificate.Raw); err != nil {
		return "", "", err
	}
	if err := writeKey(keyFile, server.PrivateKey); err != nil {
		return "", "", err
	}
	return certFile, keyFile, nil
}

// LoadCA loads the CA kept in dir. The error wraps fs.ErrNotExist when
// either file is missing.
func LoadCA(dir string) (*CA, error) {
	cert, err := readCertificate(filepath.Join(dir, CACertFile))
	if err != nil {
		return nil, err
	}

	keyPath := filepath.Clean(filepath.Join(dir, CAKeyFile))
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, oops.Code("TLS_READ_FAILED").With("path", keyPath).Wrap(err)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, oops.Code("TLS_INVALID_PEM").With("path", keyPath).Errorf("no PEM block in CA key")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, oops.Code("TLS_INVALID_PEM").With("path", keyPath).Wrap(err)
	}

	return &CA{Certificate: cert, PrivateKey: key}, nil
}

// ServerConfig loads a certificate and key pair into a server tls.Config
// that requires TLS 1.2 or newer.
func ServerConfig(certFile, keyFile string) (*cryptotls.Config, error) {
	pair, err := cryptotls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, oops.Code("TLS_LOAD_FAILED").
			With("cert_file", certFile).
			With("key_file", keyFile).
			Wrap(err)
	}
	return &cryptotls.Config{
		Certificates: []cryptotls.Certificate{pair},
		MinVersion:   cryptotls.VersionTLS12,
	}, nil
}

// current reports whether the server certificate at path was issued by ca
// and is not close to expiry.
func current(path string, ca *CA) bool {
	cert, err := readCertificate(path)
	if err != nil {
		return false
	}
	if cert.CheckSignatureFrom(ca.Certificate) != nil {
		return false
	}
	return time.Until(cert.NotAfter) > renewBefore
}

func newSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, oops.Code("TLS_SERIAL_FAILED").Wrap(err)
	}
	return serial, nil
}

func createCertificate(template, parent *x509.Certificate, pub *ecdsa.PublicKey, signer *ecdsa.PrivateKey) (*x509.Certificate, error) {
	der, err := x509.CreateCertificate(rand.Reader, template, parent, pub, signer)
	if err != nil {
		return nil, oops.Code("TLS_CERT_FAILED").With("common_name", template.Subject.CommonName).Wrap(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, oops.Code("TLS_CERT_FAILED").With("common_name", template.Subject.CommonName).Wrap(err)
	}
	return cert, nil
}

func readCertificate(path string) (*x509.Certificate, error) {
	path = filepath.Clean(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.Code("TLS_READ_FAILED").With("path", path).Wrap(err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, oops.Code("TLS_INVALID_PEM").With("path", path).Errorf("no PEM block in certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, oops.Code("TLS_INVALID_PEM").With("path", path).Wrap(err)
	}
	return cert, nil
}

func saveCA(dir string, ca *CA) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return oops.Code("TLS_WRITE_FAILED").With("path", dir).Wrap(err)
	}
	if err := writePEM(filepath.Join(dir, CACertFile), "CERTIFICATE", ca.Certificate.Raw); err != nil {
		return err
	}
	return writeKey(filepath.Join(dir, CAKeyFile), ca.PrivateKey)
}

func writeKey(path string, key *ecdsa.PrivateKey) error {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return oops.Code("TLS_KEY_FAILED").With("path", path).Wrap(err)
	}
	return writePEM(path, "EC PRIVATE KEY", der)
}

// writePEM writes one PEM block to path with owner-only permissions.
func writePEM(path, blockType string, der []byte) error {
	path = filepath.Clean(path)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return oops.Code("TLS_WRITE_FAILED").With("path", path).Wrap(err)
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = f.Close() //nolint:errcheck // encode error takes precedence
		return oops.Code("TLS_WRITE_FAILED").With("path", path).Wrap(err)
	}
	if err := f.Close(); err != nil {
		return oops.Code("TLS_WRITE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
