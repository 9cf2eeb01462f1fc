package protocol

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	dberrors "github.com/systmms/dbrotate/internal/errors"
)

// TLSConfig builds the client TLS configuration for host. The server
// certificate and hostname are always verified. With an empty caBundlePath the
// system roots are used; a configured bundle that cannot be read or holds no
// certificates is a configuration error.
func TLSConfig(host, caBundlePath string) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}
	if caBundlePath == "" {
		return cfg, nil
	}

	pem, err := os.ReadFile(caBundlePath)
	if err != nil {
		return nil, dberrors.ConfigError{
			Field:      "database.ca_bundle_path",
			Value:      caBundlePath,
			Message:    "cannot read CA bundle: " + err.Error(),
			Suggestion: "Point DB_CA_BUNDLE_PATH at a readable PEM file, or unset it to use the system roots",
		}
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, dberrors.ConfigError{
			Field:      "database.ca_bundle_path",
			Value:      caBundlePath,
			Message:    "CA bundle contains no PEM certificates",
			Suggestion: "Download the RDS global bundle from https://truststore.pki.rds.amazonaws.com/global/global-bundle.pem",
		}
	}
	cfg.RootCAs = pool
	return cfg, nil
}
