package dbops

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"os/user"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"
)

// Returns the TLS configuration for the given sslmode and certificate
// locations. The semantics of the sslmode values follow libpq: require
// encrypts without verification (unless a root CA file exists, which
// upgrades it to verify-ca), verify-ca verifies the certificate chain
// and verify-full additionally verifies the host name. A disabled or
// empty mode returns nil.
func GetTLSConfig(sslMode, host, sslCert, sslKey, sslRootCert string) (*tls.Config, error) {
	verifyCAOnly := false
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	switch sslMode {
	case "require":
		// TLS's own verification is stricter than require, so it must
		// be skipped and optionally replaced with the CA-only check.
		tlsConfig.InsecureSkipVerify = true
		if len(sslRootCert) > 0 {
			if _, err := os.Stat(sslRootCert); err == nil {
				verifyCAOnly = true
			}
		}

	case "verify-ca":
		tlsConfig.InsecureSkipVerify = true
		verifyCAOnly = true

	case "verify-full":
		tlsConfig.ServerName = host

	case "", "disable":
		return nil, nil

	default:
		return nil, pkgerrors.Errorf("unsupported sslmode value %s", sslMode)
	}

	if verifyCAOnly {
		tlsConfig.VerifyConnection = func(cs tls.ConnectionState) error {
			opts := x509.VerifyOptions{
				DNSName:       cs.ServerName,
				Intermediates: x509.NewCertPool(),
				Roots:         tlsConfig.RootCAs,
			}
			for _, cert := range cs.PeerCertificates[1:] {
				opts.Intermediates.AddCert(cert)
			}
			_, err := cs.PeerCertificates[0].Verify(opts)
			return err
		}
	}

	if err := loadClientCertificates(tlsConfig, sslCert, sslKey); err != nil {
		return nil, err
	}
	if err := loadRootCertificate(tlsConfig, sslRootCert); err != nil {
		return nil, err
	}

	// Older PostgreSQL versions enable renegotiation by default.
	tlsConfig.Renegotiation = tls.RenegotiateFreelyAsClient

	return tlsConfig, nil
}

// Loads the client certificate and key, falling back to the libpq
// convention of the ~/.postgresql directory when they are not set. The
// key file must not be readable by the group or others.
func loadClientCertificates(tlsConfig *tls.Config, sslCert, sslKey string) error {
	user, _ := user.Current()

	if len(sslCert) == 0 && user != nil {
		sslCert = filepath.Join(user.HomeDir, ".postgresql", "postgresql.crt")
	}
	if len(sslCert) == 0 {
		return nil
	}

	if _, err := os.Stat(sslCert); os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return pkgerrors.Wrapf(err, "failed to stat the certificate file %s", sslCert)
	}

	if len(sslKey) == 0 && user != nil {
		sslKey = filepath.Join(user.HomeDir, ".postgresql", "postgresql.key")
	}
	if len(sslKey) > 0 {
		sslKeyInfo, err := os.Stat(sslKey)
		if err != nil {
			return pkgerrors.Wrapf(err, "failed to stat the key file %s", sslKey)
		}
		if sslKeyInfo.Mode().Perm()&0o077 != 0 {
			return pkgerrors.Errorf("key file %s has too open permissions", sslKey)
		}
	}

	cert, err := tls.LoadX509KeyPair(sslCert, sslKey)
	if err != nil {
		return pkgerrors.WithStack(err)
	}

	tlsConfig.Certificates = []tls.Certificate{cert}
	return nil
}

// Loads the root CA from the specified file into the TLS configuration.
func loadRootCertificate(tlsConfig *tls.Config, sslRootCert string) error {
	if len(sslRootCert) == 0 {
		return nil
	}
	tlsConfig.RootCAs = x509.NewCertPool()

	rootCert, err := os.ReadFile(sslRootCert)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read the root CA certificate file %s", sslRootCert)
	}
	if !tlsConfig.RootCAs.AppendCertsFromPEM(rootCert) {
		return pkgerrors.Errorf("unable to parse the root CA certificate %s", sslRootCert)
	}
	return nil
}
