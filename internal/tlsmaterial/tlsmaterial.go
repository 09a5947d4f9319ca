// Package tlsmaterial implements the "TLS Material Loader" external
// collaborator from spec.md §6: it loads a credential bundle from a
// configured file path and returns a *tls.Config consumed by the HTTP
// sink (internal/sink.HTTPConfig.TLSConfig) and the TCP sink
// (internal/sink.TCPConfig.TLSConfig).
package tlsmaterial

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"
)

// Loader loads TLS client credentials from a PKCS#12 bundle on disk, the
// format the host platform's certificate store exports to. Grounded on
// internal/quicutil.MakeTLSConfig's tls.Config construction, generalized
// from a PEM cert/key pair to a password-protected PKCS#12 bundle.
type Loader struct {
	Path     string
	Password string
	// MinVersion defaults to tls.VersionTLS12 (PKCS#12 bundles on older
	// platforms are rarely suitable for a TLS 1.3-only floor).
	MinVersion uint16
}

// Load decodes the configured bundle and returns a client *tls.Config
// presenting its certificate. RootCAs holds only that same certificate;
// pkcs12.Decode reads a single certificate, so no further CA chain from
// the bundle is trusted.
func (l Loader) Load() (*tls.Config, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("read tls material %q: %w", l.Path, err)
	}

	privateKey, cert, err := pkcs12.Decode(data, l.Password)
	if err != nil {
		return nil, fmt.Errorf("decode pkcs12 bundle %q: %w", l.Path, err)
	}

	tlsCert := tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  privateKey,
		Leaf:        cert,
	}

	pool := x509.NewCertPool()
	pool.AddCert(cert)

	minVersion := l.MinVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}

	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		RootCAs:      pool,
		MinVersion:   minVersion,
	}, nil
}

// LoadSystemTrust returns a bare *tls.Config that presents no client
// certificate but pins MinVersion, for sinks configured with
// TLS-on-but-no-client-cert (a collector reachable over plain HTTPS with
// a publicly trusted server certificate).
func LoadSystemTrust(minVersion uint16) *tls.Config {
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}
	return &tls.Config{MinVersion: minVersion}
}
