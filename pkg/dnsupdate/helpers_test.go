package dnsupdate

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"testing"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
	testKeyErr  error
)

// testRSAKey returns a process-wide 2048 bit key; generation is slow enough
// that every test sharing it matters.
func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		testKey, testKeyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	if testKeyErr != nil {
		t.Fatalf("generating RSA key: %v", testKeyErr)
	}
	return testKey
}

func testPKCS1PEM(t *testing.T) []byte {
	t.Helper()
	key := testRSAKey(t)
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

func testPKCS8PEM(t *testing.T) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(testRSAKey(t))
	if err != nil {
		t.Fatalf("marshaling PKCS#8 key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func testIdentity(t *testing.T, zone string) *SigningIdentity {
	t.Helper()
	id, err := LoadSigningIdentity(zone, testPKCS1PEM(t))
	if err != nil {
		t.Fatalf("LoadSigningIdentity() error = %v", err)
	}
	return id
}
