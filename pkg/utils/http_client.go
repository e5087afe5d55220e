package utils

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"

	"github.com/alpacax/ssmtunnel/pkg/config"
)

// NewTLSConfig creates a TLS configuration from the [ssl] settings.
// It is shared by the broker HTTP client and the stream dialer.
func NewTLSConfig(settings config.Settings) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: !settings.SSLVerify,
	}

	if settings.CaCert != "" {
		caCert, err := os.ReadFile(settings.CaCert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates found in %s", settings.CaCert)
		}
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}

// NewHTTPClient creates an HTTP client with TLS configuration from settings.
func NewHTTPClient(settings config.Settings) (*http.Client, error) {
	tlsConfig, err := NewTLSConfig(settings)
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	return &http.Client{Transport: transport}, nil
}
