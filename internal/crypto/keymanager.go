// Package crypto keeps the relay credential encrypted at rest and signs relay
// requests.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	defaultIterations = 480_000
	minIterations     = 100_000
	saltLen           = 16
	keyLen            = 32 // AES-256
	sealedVersion     = 2
)

// sealedSecret is the on-disk JSON. Byte slices are base64 encoded by
// encoding/json. Iterations is stored so it can be raised without breaking
// existing files.
type sealedSecret struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// SecretConfig says where the relay API secret comes from. Raw wins over
// EncryptedPath.
type SecretConfig struct {
	Raw           string
	EncryptedPath string
	Password      string
}

var errNoPassword = errors.New("crypto: password must not be empty")

// EncryptSecret seals secret under password with PBKDF2-SHA256 and AES-GCM
// and returns the JSON document to write to disk.
func EncryptSecret(secret, password string) ([]byte, error) {
	if password == "" {
		return nil, errNoPassword
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("crypto: secret must not be empty")
	}

	s := sealedSecret{
		Version:    sealedVersion,
		KDF:        "pbkdf2-sha256",
		Iterations: defaultIterations,
		Salt:       make([]byte, saltLen),
	}
	if _, err := rand.Read(s.Salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := s.aead(password)
	if err != nil {
		return nil, err
	}
	s.Nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(s.Nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	s.Ciphertext = aead.Seal(nil, s.Nonce, []byte(secret), s.additionalData())
	return json.MarshalIndent(s, "", "  ")
}

// DecryptSecret opens a document produced by EncryptSecret.
func DecryptSecret(doc []byte, password string) (string, error) {
	if password == "" {
		return "", errNoPassword
	}
	var s sealedSecret
	if err := json.Unmarshal(doc, &s); err != nil {
		return "", fmt.Errorf("crypto: parse sealed secret: %w", err)
	}
	switch {
	case s.Version != sealedVersion:
		return "", fmt.Errorf("crypto: unsupported sealed secret version %d", s.Version)
	case s.KDF != "pbkdf2-sha256" || s.Iterations < minIterations:
		return "", fmt.Errorf("crypto: unsupported kdf %s with %d iterations", s.KDF, s.Iterations)
	case len(s.Salt) != saltLen:
		return "", errors.New("crypto: bad salt length")
	}

	aead, err := s.aead(password)
	if err != nil {
		return "", err
	}
	if len(s.Nonce) != aead.NonceSize() {
		return "", errors.New("crypto: bad nonce length")
	}
	plain, err := aead.Open(nil, s.Nonce, s.Ciphertext, s.additionalData())
	if err != nil {
		return "", fmt.Errorf("crypto: wrong password or corrupted file: %w", err)
	}
	return string(plain), nil
}

// LoadSecret resolves the relay API secret.
func LoadSecret(cfg SecretConfig) (string, error) {
	switch {
	case cfg.Raw != "":
		return cfg.Raw, nil
	case cfg.EncryptedPath != "":
		doc, err := os.ReadFile(cfg.EncryptedPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read %s: %w", cfg.EncryptedPath, err)
		}
		return DecryptSecret(doc, cfg.Password)
	}
	return "", errors.New("crypto: no relay secret configured")
}

// WriteSecretFile seals secret and writes it to path with owner-only
// permissions.
func WriteSecretFile(path, secret, password string) error {
	doc, err := EncryptSecret(secret, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		return fmt.Errorf("crypto: write %s: %w", path, err)
	}
	return nil
}

// additionalData binds the ciphertext to the KDF parameters.
func (s sealedSecret) additionalData() []byte {
	return fmt.Appendf(nil, "v%d|%s|%d", s.Version, s.KDF, s.Iterations)
}

func (s sealedSecret) aead(password string) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), s.Salt, s.Iterations, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return aead, nil
}
