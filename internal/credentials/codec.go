// Package credentials owns the server RSA key pair used by clients to encrypt
// passwords before sending them. The private key never leaves this package.
package credentials

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"storefront/internal/apperr"
)

const (
	keyBits     = 2048
	sentinelLen = 32
)

var (
	ErrMalformedInput   = apperr.New(apperr.CodeMalformedInput, "Invalid password format")
	ErrDecryptionFailed = apperr.New(apperr.CodeDecryptionFailed, "Invalid encrypted data - decryption failed")
)

// Codec loads the key pair from path on first use, generating and persisting
// it when the file does not exist.
type Codec struct {
	path string

	once sync.Once
	key  *rsa.PrivateKey
	pub  string
	err  error
}

func NewCodec(path string) *Codec {
	return &Codec{path: path}
}

func (c *Codec) load() (*rsa.PrivateKey, error) {
	c.once.Do(func() {
		c.key, c.err = loadOrGenerate(c.path)
		if c.err != nil {
			return
		}
		c.pub, c.err = encodePublic(&c.key.PublicKey)
	})
	return c.key, c.err
}

// Init forces key loading so startup fails fast on a broken key file.
func (c *Codec) Init() error {
	_, err := c.load()
	return err
}

// PublicKeyPEM returns the SubjectPublicKeyInfo PEM clients encrypt with.
func (c *Codec) PublicKeyPEM() (string, error) {
	if _, err := c.load(); err != nil {
		return "", err
	}
	return c.pub, nil
}

// Decrypt turns a base64 PKCS#1 v1.5 ciphertext into the password text.
//
// A failed decryption is replaced by a random sentinel and then compared in
// constant time, so a bad padding and a good padding with a wrong password
// follow the same path up to the final check.
func (c *Codec) Decrypt(ciphertextB64 string) (string, error) {
	key, err := c.load()
	if err != nil {
		return "", err
	}
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", ErrMalformedInput
	}

	sentinel := make([]byte, sentinelLen)
	if _, err := rand.Read(sentinel); err != nil {
		return "", err
	}
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, key, ciphertext)
	if err != nil {
		plain = sentinel
	}
	if subtle.ConstantTimeCompare(plain, sentinel) == 1 {
		return "", ErrDecryptionFailed
	}
	if len(plain) == 0 || !utf8.Valid(plain) {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

func loadOrGenerate(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		return parsePrivate(raw)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read key %s: %w", path, err)
	}

	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("key dir: %w", err)
		}
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	// O_EXCL: a concurrent process that won the race keeps its key.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return loadOrGenerate(path)
		}
		return nil, fmt.Errorf("write key %s: %w", path, err)
	}
	defer f.Close()
	if err := pem.Encode(f, block); err != nil {
		return nil, fmt.Errorf("write key %s: %w", path, err)
	}
	return key, nil
}

func parsePrivate(raw []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("key file is not PEM")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

func encodePublic(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// EncryptPassword is the client side of the exchange: it encrypts password
// under a PEM public key the way browser RSA libraries do and returns base64.
func EncryptPassword(publicKeyPEM, password string) (string, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return "", errors.New("public key is not PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return "", err
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return "", errors.New("public key is not RSA")
	}
	ct, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(password))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}
