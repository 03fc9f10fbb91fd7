package launchkey

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"strings"
	"sync"

	platformerrors "launchkey-go/internal/platform/errors"
)

// Padding selects the RSA encryption padding. Signatures are always PKCS#1 v1.5.
type Padding string

const (
	PaddingPKCS1v15 Padding = "pkcs1v15"
	PaddingOAEP     Padding = "oaep"
)

// ParsePadding maps a config value onto a Padding, defaulting to PKCS#1 v1.5.
func ParsePadding(s string) Padding {
	if strings.EqualFold(strings.TrimSpace(s), string(PaddingOAEP)) {
		return PaddingOAEP
	}
	return PaddingPKCS1v15
}

var canonicalizer = strings.NewReplacer("\r", "", "\n", "", `\`, "")

// Canonicalize strips carriage returns, line feeds and backslashes from a
// base64 payload as delivered by the API.
func Canonicalize(s string) string {
	return canonicalizer.Replace(s)
}

// CryptoEngine performs the RSA operations of the protocol over PEM keys.
// Parsed keys are cached by PEM text.
type CryptoEngine struct {
	padding Padding

	mu          sync.RWMutex
	publicKeys  map[string]*rsa.PublicKey
	privateKeys map[string]*rsa.PrivateKey
}

func NewCryptoEngine(padding Padding) *CryptoEngine {
	if padding == "" {
		padding = PaddingPKCS1v15
	}
	return &CryptoEngine{
		padding:     padding,
		publicKeys:  make(map[string]*rsa.PublicKey),
		privateKeys: make(map[string]*rsa.PrivateKey),
	}
}

func (e *CryptoEngine) Padding() Padding { return e.padding }

// Encrypt encrypts plaintext with the public key and returns base64.
func (e *CryptoEngine) Encrypt(publicKeyPEM, plaintext string) (string, error) {
	pub, err := e.publicKey(publicKeyPEM)
	if err != nil {
		return "", err
	}

	var out []byte
	if e.padding == PaddingOAEP {
		out, err = rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, []byte(plaintext), nil)
	} else {
		out, err = rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(plaintext))
	}
	if err != nil {
		return "", platformerrors.Wrap(platformerrors.KindCrypto, "encrypt", "rsa encrypt", err)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt canonicalizes and base64-decodes payload, then decrypts it with the
// private key.
func (e *CryptoEngine) Decrypt(privateKeyPEM, payload string) (string, error) {
	priv, err := e.privateKey(privateKeyPEM)
	if err != nil {
		return "", err
	}

	data, err := base64.StdEncoding.DecodeString(Canonicalize(payload))
	if err != nil {
		return "", platformerrors.Wrap(platformerrors.KindCrypto, "decrypt", "payload is not base64", err)
	}

	var out []byte
	if e.padding == PaddingOAEP {
		out, err = rsa.DecryptOAEP(sha1.New(), nil, priv, data, nil)
	} else {
		out, err = rsa.DecryptPKCS1v15(nil, priv, data)
	}
	if err != nil {
		return "", platformerrors.Wrap(platformerrors.KindCrypto, "decrypt", "rsa decrypt", err)
	}
	return string(out), nil
}

// Sign signs the base64-decoded bytes of payload with RSA-SHA256.
func (e *CryptoEngine) Sign(privateKeyPEM, payload string) (string, error) {
	priv, err := e.privateKey(privateKeyPEM)
	if err != nil {
		return "", err
	}

	data, err := base64.StdEncoding.DecodeString(Canonicalize(payload))
	if err != nil {
		return "", platformerrors.Wrap(platformerrors.KindCrypto, "sign", "payload is not base64", err)
	}

	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return "", platformerrors.Wrap(platformerrors.KindCrypto, "sign", "rsa sign", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks signature over the base64-decoded bytes of payload. Malformed
// input yields false.
func (e *CryptoEngine) Verify(publicKeyPEM, signature, payload string) bool {
	data, err := base64.StdEncoding.DecodeString(Canonicalize(payload))
	if err != nil {
		return false
	}
	return e.VerifyMessage(publicKeyPEM, signature, data)
}

// VerifyMessage checks signature over the raw message bytes.
func (e *CryptoEngine) VerifyMessage(publicKeyPEM, signature string, message []byte) bool {
	pub, err := e.publicKey(publicKeyPEM)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(Canonicalize(signature))
	if err != nil {
		return false
	}
	digest := sha256.Sum256(message)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig) == nil
}

func (e *CryptoEngine) publicKey(pemText string) (*rsa.PublicKey, error) {
	e.mu.RLock()
	key, ok := e.publicKeys[pemText]
	e.mu.RUnlock()
	if ok {
		return key, nil
	}

	key, err := ParsePublicKey(pemText)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.publicKeys[pemText] = key
	e.mu.Unlock()
	return key, nil
}

func (e *CryptoEngine) privateKey(pemText string) (*rsa.PrivateKey, error) {
	e.mu.RLock()
	key, ok := e.privateKeys[pemText]
	e.mu.RUnlock()
	if ok {
		return key, nil
	}

	key, err := ParsePrivateKey(pemText)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.privateKeys[pemText] = key
	e.mu.Unlock()
	return key, nil
}

// ParsePublicKey accepts PKIX ("PUBLIC KEY") and PKCS#1 ("RSA PUBLIC KEY") PEM.
func ParsePublicKey(pemText string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(pemText)))
	if block == nil {
		return nil, platformerrors.New(platformerrors.KindCrypto, "public_key", "no PEM block found")
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindCrypto, "public_key", "parse public key", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, platformerrors.New(platformerrors.KindCrypto, "public_key", "public key is not RSA")
	}
	return key, nil
}

// ParsePrivateKey accepts PKCS#1 ("RSA PRIVATE KEY") and PKCS#8 ("PRIVATE KEY") PEM.
func ParsePrivateKey(pemText string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(pemText)))
	if block == nil {
		return nil, platformerrors.New(platformerrors.KindCrypto, "private_key", "no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindCrypto, "private_key", "parse private key", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, platformerrors.New(platformerrors.KindCrypto, "private_key", "private key is not RSA")
	}
	return key, nil
}
