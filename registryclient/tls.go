package registryclient

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/vgem/vgem/internal/vgerr"
)

// buildTLSConfig assembles a *tls.Config from the optional CA root,
// client certificate, and peer-verification-off settings in opts.
func buildTLSConfig(opts Options) (*tls.Config, error) {
	cfg := &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify} //nolint:gosec // opt-in only

	if opts.CACertPath != "" {
		pem, err := os.ReadFile(opts.CACertPath)
		if err != nil {
			return nil, vgerr.New(vgerr.KindIO, "registryclient.buildTLSConfig", "reading CA cert", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, vgerr.New(vgerr.KindParse, "registryclient.buildTLSConfig", "no certificates found in CA bundle", nil)
		}
		cfg.RootCAs = pool
	}

	if opts.ClientCertPath != "" {
		pem, err := os.ReadFile(opts.ClientCertPath)
		if err != nil {
			return nil, vgerr.New(vgerr.KindIO, "registryclient.buildTLSConfig", "reading client cert", err)
		}
		block, rest := splitPEMBlocks(pem)
		cert, err := tls.X509KeyPair(block, rest)
		if err != nil {
			return nil, vgerr.New(vgerr.KindParse, "registryclient.buildTLSConfig", "parsing client identity", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// splitPEMBlocks treats a combined cert+key PEM file as both the
// certificate and key input to tls.X509KeyPair, which accepts the same
// bundle for both arguments when certificate and key are concatenated.
func splitPEMBlocks(pem []byte) ([]byte, []byte) {
	return pem, pem
}
