package launchkey

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"sync"
	"testing"
)

type testKeyPair struct {
	private    *rsa.PrivateKey
	privatePEM string // PKCS#1
	publicPEM  string // PKIX
}

var (
	keysOnce sync.Once
	apiKeys  testKeyPair
	appKeys  testKeyPair
	keysErr  error
)

func newTestKeyPair() (testKeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return testKeyPair{}, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return testKeyPair{}, err
	}
	return testKeyPair{
		private:    key,
		privatePEM: string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})),
		publicPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
	}, nil
}

// testKeys returns the API key pair and the application key pair, generated
// once per test binary.
func testKeys(t *testing.T) (api, app testKeyPair) {
	t.Helper()
	keysOnce.Do(func() {
		if apiKeys, keysErr = newTestKeyPair(); keysErr != nil {
			return
		}
		appKeys, keysErr = newTestKeyPair()
	})
	if keysErr != nil {
		t.Fatalf("generate keys: %v", keysErr)
	}
	return apiKeys, appKeys
}

func signRaw(t *testing.T, key *rsa.PrivateKey, message []byte) string {
	t.Helper()
	digest := sha256.Sum256(message)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return base64.StdEncoding.EncodeToString(sig)
}

func encryptFor(t *testing.T, pub *rsa.PublicKey, plaintext string) string {
	t.Helper()
	out, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(plaintext))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	return base64.StdEncoding.EncodeToString(out)
}
