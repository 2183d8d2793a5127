package signature

import (
	"archive/tar"
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func selfSignedCert(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).AddDate(50, 0, 0),
		SignatureAlgorithm: x509.SHA256WithRSA,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	return key, der
}

func writeTrustDir(t *testing.T, der []byte) string {
	t.Helper()
	dir := t.TempDir()
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(filepath.Join(dir, "test.pem"), pemBytes, 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

// buildSignedGem assembles an outer tar with data.tar.gz (arbitrary
// bytes, not necessarily itself a valid tar.gz for this test) and its
// detached PKCS1v15/SHA256 signature.
func buildSignedGem(t *testing.T, key *rsa.PrivateKey, payload []byte) []byte {
	t.Helper()
	sig, err := rsaSignSHA256(key, payload)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	write := func(name string, body []byte) {
		if err := tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(body))}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write(body); err != nil {
			t.Fatal(err)
		}
	}
	write(dataEntry, payload)
	write(sigEntry, sig)
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func rsaSignSHA256(key *rsa.PrivateKey, data []byte) ([]byte, error) {
	sum := sha256.Sum256(data)
	return rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, sum[:])
}

func buildUnsignedGem(t *testing.T, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: dataEntry, Size: int64(len(payload))}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestVerifyNonePolicySkipsEverything(t *testing.T) {
	v, err := NewVerifier(None, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	gem := buildUnsignedGem(t, []byte("payload"))
	if err := v.Verify("pkg", bytes.NewReader(gem), int64(len(gem))); err != nil {
		t.Fatalf("None policy should never fail: %v", err)
	}
}

func TestVerifyHighRejectsUnsigned(t *testing.T) {
	v, err := NewVerifier(High, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	gem := buildUnsignedGem(t, []byte("payload"))
	if err := v.Verify("pkg", bytes.NewReader(gem), int64(len(gem))); err == nil {
		t.Fatal("expected error for unsigned gem under High policy")
	}
}

func TestVerifyMediumAllowsUnsigned(t *testing.T) {
	v, err := NewVerifier(Medium, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	gem := buildUnsignedGem(t, []byte("payload"))
	if err := v.Verify("pkg", bytes.NewReader(gem), int64(len(gem))); err != nil {
		t.Fatalf("Medium policy should allow unsigned: %v", err)
	}
}

func TestVerifyLowWarnsOnUnsigned(t *testing.T) {
	v, err := NewVerifier(Low, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	gem := buildUnsignedGem(t, []byte("payload"))
	err = v.Verify("pkg", bytes.NewReader(gem), int64(len(gem)))
	var warn *UnsignedWarning
	if !errors.As(err, &warn) {
		t.Fatalf("expected *UnsignedWarning, got %v", err)
	}
}

func TestVerifySignedGemSucceeds(t *testing.T) {
	key, der := selfSignedCert(t)
	dir := writeTrustDir(t, der)
	v, err := NewVerifier(High, dir)
	if err != nil {
		t.Fatal(err)
	}
	if v.CertificateCount() != 1 {
		t.Fatalf("expected 1 certificate, got %d", v.CertificateCount())
	}

	gem := buildSignedGem(t, key, []byte("real payload bytes"))
	if err := v.Verify("pkg", bytes.NewReader(gem), int64(len(gem))); err != nil {
		t.Fatalf("valid signature should verify: %v", err)
	}
}

func TestVerifySignedGemWrongKeyFails(t *testing.T) {
	_, der := selfSignedCert(t) // trust store has a different cert
	otherKey, _ := selfSignedCert(t)
	dir := writeTrustDir(t, der)
	v, err := NewVerifier(High, dir)
	if err != nil {
		t.Fatal(err)
	}

	gem := buildSignedGem(t, otherKey, []byte("real payload bytes"))
	if err := v.Verify("pkg", bytes.NewReader(gem), int64(len(gem))); err == nil {
		t.Fatal("expected signature verification to fail against the wrong certificate")
	}
}

func TestNoTrustedCertificateError(t *testing.T) {
	key, _ := selfSignedCert(t)
	v, err := NewVerifier(High, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	gem := buildSignedGem(t, key, []byte("payload"))
	if err := v.Verify("pkg", bytes.NewReader(gem), int64(len(gem))); err == nil {
		t.Fatal("expected no-trusted-certificate error")
	}
}

func TestParsePolicy(t *testing.T) {
	for _, s := range []string{"None", "Low", "Medium", "High"} {
		if _, err := ParsePolicy(s); err != nil {
			t.Errorf("ParsePolicy(%q): %v", s, err)
		}
	}
	if _, err := ParsePolicy("bogus"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
