package lnc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"

	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// MacaroonCredential implements the credentials.PerRPCCredentials interface
type MacaroonCredential struct {
	MacaroonHex string

	// Tunneled marks a connection that is already encrypted by the tunnel,
	// so the credential may travel without TLS.
	Tunneled bool
}

func (m *MacaroonCredential) GetRequestMetadata(ctx context.Context,
	uri ...string) (map[string]string, error) {

	return map[string]string{
		"macaroon": m.MacaroonHex,
	}, nil
}

func (m *MacaroonCredential) RequireTransportSecurity() bool {
	return !m.Tunneled
}

// transportCredentials picks TLS for direct connections. A pinned
// certificate is verified, otherwise the node's self signed certificate is
// accepted.
func transportCredentials(cfg Config) (credentials.TransportCredentials, error) {
	if cfg.Tunnel != nil {
		return insecure.NewCredentials(), nil
	}
	if len(cfg.TLSCertPEM) == 0 {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(cfg.TLSCertPEM) {
		return nil, errors.New("invalid TLS certificate")
	}
	return credentials.NewClientTLSFromCert(pool, ""), nil
}
