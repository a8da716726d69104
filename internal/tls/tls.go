// Package tls builds the STARTTLS configuration of the SMTP listener from a
// certificate pair on disk or a generated self-signed certificate.
package tls

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
	"time"
)

const selfSignedValidity = 365 * 24 * time.Hour

// Options selects where the listener certificate comes from.
type Options struct {
	// Enabled turns STARTTLS on. When false, ServerConfig returns nil.
	Enabled bool

	// CertFile and KeyFile name a PEM pair. Both empty means self-signed.
	CertFile string
	KeyFile  string

	// Hostname is the subject of a self-signed certificate.
	Hostname string
}

// ServerConfig returns the tls.Config for the SMTP listener, or nil when
// STARTTLS is disabled.
func ServerConfig(opts Options) (*tls.Config, error) {
	if !opts.Enabled {
		return nil, nil
	}

	var cert tls.Certificate
	switch {
	case opts.CertFile != "" && opts.KeyFile != "":
		if _, err := os.Stat(opts.CertFile); err != nil {
			return nil, fmt.Errorf("certificate file not found: %w", err)
		}
		if _, err := os.Stat(opts.KeyFile); err != nil {
			return nil, fmt.Errorf("key file not found: %w", err)
		}

		loaded, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		cert = loaded
	case opts.CertFile != "" || opts.KeyFile != "":
		return nil, errors.New("tls cert_file and key_file must be set together")
	default:
		generated, err := GenerateSelfSignedCert(opts.Hostname)
		if err != nil {
			return nil, fmt.Errorf("failed to generate self-signed cert: %w", err)
		}
		cert = *generated
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// GenerateSelfSignedCert generates an in-memory ECDSA P-256 certificate for
// hostname (localhost when empty), valid for one year. Loopback addresses
// are always included in the SANs.
func GenerateSelfSignedCert(hostname string) (*tls.Certificate, error) {
	certPEM, keyPEM, err := selfSignedPEM(hostname)
	if err != nil {
		return nil, err
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to create X509 key pair: %w", err)
	}
	return &cert, nil
}

func selfSignedPEM(hostname string) (certPEM, keyPEM []byte, err error) {
	if hostname == "" {
		hostname = "localhost"
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{CommonName: hostname},
		NotBefore:    now,
		NotAfter:     now.Add(selfSignedValidity),

		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,

		IPAddresses: []net.IP{net.ParseIP("127.0.0.1"), net.IPv6loopback},
	}
	if ip := net.ParseIP(hostname); ip != nil {
		template.IPAddresses = append(template.IPAddresses, ip)
	} else {
		template.DNSNames = []string{hostname}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}
