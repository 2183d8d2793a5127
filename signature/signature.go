// Package signature verifies a gem package against a directory of
// trusted X.509 certificates under a configurable trust policy.
package signature

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vgem/vgem/archive"
	"github.com/vgem/vgem/internal/vgerr"
)

// Policy is a trust level, spec.md §4.E.
type Policy int

const (
	// None performs no inspection at all.
	None Policy = iota
	// Low allows unsigned packages, warning about them.
	Low
	// Medium allows unsigned packages silently.
	Medium
	// High rejects any unsigned package.
	High
)

func (p Policy) String() string {
	switch p {
	case None:
		return "None"
	case Low:
		return "Low"
	case Medium:
		return "Medium"
	case High:
		return "High"
	default:
		return "Unknown"
	}
}

// ParsePolicy parses one of "None", "Low", "Medium", "High".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "None":
		return None, nil
	case "Low":
		return Low, nil
	case "Medium":
		return Medium, nil
	case "High":
		return High, nil
	default:
		return None, vgerr.New(vgerr.KindParse, "signature.ParsePolicy", fmt.Sprintf("unknown trust policy %q", s), nil)
	}
}

const (
	dataEntry = "data.tar.gz"
	sigEntry  = "data.tar.gz.sig"
)

// Verifier holds a trust policy and the certificates loaded from a trust
// store directory. It is cheap to construct and safe to share across the
// install pipeline's concurrent phases.
type Verifier struct {
	policy Policy
	certs  map[string]*x509.Certificate
}

// NewVerifier loads every *.pem file under trustDir (unless policy is
// [None], in which case nothing is loaded) and returns a ready Verifier.
func NewVerifier(policy Policy, trustDir string) (*Verifier, error) {
	v := &Verifier{policy: policy, certs: make(map[string]*x509.Certificate)}
	if policy == None {
		return v, nil
	}
	entries, err := os.ReadDir(trustDir)
	if os.IsNotExist(err) {
		return v, nil
	}
	if err != nil {
		return nil, vgerr.New(vgerr.KindIO, "signature.NewVerifier", "reading trust directory", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pem") {
			continue
		}
		path := filepath.Join(trustDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, vgerr.New(vgerr.KindIO, "signature.NewVerifier", fmt.Sprintf("reading certificate %s", path), err)
		}
		cert, err := parseCertificatePEM(data)
		if err != nil {
			return nil, vgerr.New(vgerr.KindSignature, "signature.NewVerifier", fmt.Sprintf("parsing certificate %s", path), err)
		}
		v.certs[e.Name()] = cert
	}
	return v, nil
}

func parseCertificatePEM(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	return x509.ParseCertificate(block.Bytes)
}

// Policy returns the verifier's configured trust policy.
func (v *Verifier) Policy() Policy { return v.policy }

// CertificateCount returns the number of certificates loaded from the
// trust store.
func (v *Verifier) CertificateCount() int { return len(v.certs) }

// Verify checks a gem package (its outer-tar bytes read from r) against
// v's trust policy, per spec.md §4.E's decision table.
func (v *Verifier) Verify(gem string, r io.ReaderAt, size int64) error {
	if v.policy == None {
		return nil
	}

	signed, err := archive.HasSignatureFiles(gem, io.NewSectionReader(r, 0, size))
	if err != nil {
		return err
	}

	if !signed {
		switch v.policy {
		case High:
			return vgerr.New(vgerr.KindSignature, "signature.Verify", fmt.Sprintf("%s is not signed", gem), nil)
		case Medium:
			return nil
		case Low:
			return &UnsignedWarning{Gem: gem}
		}
		return nil
	}

	data, err := archive.ExtractRaw(gem, io.NewSectionReader(r, 0, size), dataEntry)
	if err != nil {
		return err
	}
	sig, err := archive.ExtractRaw(gem, io.NewSectionReader(r, 0, size), sigEntry)
	if err != nil {
		return err
	}

	if len(v.certs) == 0 {
		return vgerr.New(vgerr.KindSignature, "signature.Verify", fmt.Sprintf("%s: no trusted certificate", gem), nil)
	}

	var lastErr error
	for name, cert := range v.certs {
		if err := verifyWithCertificate(data, sig, cert); err == nil {
			return nil
		} else {
			lastErr = fmt.Errorf("certificate %q: %w", name, err)
		}
	}
	return vgerr.New(vgerr.KindSignature, "signature.Verify", fmt.Sprintf("%s: invalid signature", gem), lastErr)
}

// UnsignedWarning is returned (not as a fatal error path; callers check
// for it explicitly) when an unsigned package passes under [Low].
type UnsignedWarning struct{ Gem string }

func (w *UnsignedWarning) Error() string {
	return fmt.Sprintf("gem %s is not signed", w.Gem)
}

// verifyWithCertificate checks sig against data using cert's public key
// and the signature algorithm the certificate itself was signed with,
// dispatching on the concrete key type so RSA, ECDSA, and Ed25519
// certificates are all handled without a hard-coded scheme.
func verifyWithCertificate(data, sig []byte, cert *x509.Certificate) error {
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		hash, hashed, err := hashFor(cert.SignatureAlgorithm, data)
		if err != nil {
			return err
		}
		if err := rsa.VerifyPKCS1v15(pub, hash, hashed, sig); err == nil {
			return nil
		}
		return rsa.VerifyPSS(pub, hash, hashed, sig, nil)
	case *ecdsa.PublicKey:
		_, hashed, err := hashFor(cert.SignatureAlgorithm, data)
		if err != nil {
			return err
		}
		if !ecdsa.VerifyASN1(pub, hashed, sig) {
			return fmt.Errorf("ecdsa signature mismatch")
		}
		return nil
	case ed25519.PublicKey:
		if !ed25519.Verify(pub, data, sig) {
			return fmt.Errorf("ed25519 signature mismatch")
		}
		return nil
	default:
		return fmt.Errorf("unsupported public key type %T", pub)
	}
}

// hashFor maps a certificate's signature algorithm to the crypto.Hash it
// implies, returning the algorithm along with data's digest under it.
func hashFor(alg x509.SignatureAlgorithm, data []byte) (crypto.Hash, []byte, error) {
	var h crypto.Hash
	switch alg {
	case x509.SHA256WithRSA, x509.ECDSAWithSHA256, x509.SHA256WithRSAPSS:
		h = crypto.SHA256
	case x509.SHA384WithRSA, x509.ECDSAWithSHA384, x509.SHA384WithRSAPSS:
		h = crypto.SHA384
	case x509.SHA512WithRSA, x509.ECDSAWithSHA512, x509.SHA512WithRSAPSS:
		h = crypto.SHA512
	default:
		return 0, nil, fmt.Errorf("unsupported signature algorithm %v", alg)
	}
	w := h.New()
	w.Write(data)
	return h, w.Sum(nil), nil
}
