// Package crypto keeps exchange API secrets encrypted at rest.
//
// A sealed secret is a small JSON file: the secret is encrypted with
// AES-256-GCM under a PBKDF2-HMAC-SHA256 key, and the account it belongs to
// (for example "binance:live") is bound in as additional data, so a file
// sealed for one account cannot be loaded for another.
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
	pbkdf2Iterations = 600_000
	saltLen          = 16
	keyLen           = 32
	sealVersion      = 1
)

var (
	// ErrAccountMismatch means the file was sealed for a different account.
	ErrAccountMismatch = errors.New("crypto: secret sealed for a different account")
	// ErrInsecureFile means a sealed secret is readable by group or others.
	ErrInsecureFile = errors.New("crypto: secret file must not be group or world accessible")
)

type sealedFile struct {
	Version    int    `json:"version"`
	Account    string `json:"account"`
	Iterations int    `json:"iterations"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Seal encrypts secret for account under password and returns the file body.
func Seal(secret, password, account string) ([]byte, error) {
	switch {
	case password == "":
		return nil, errors.New("crypto: password must not be empty")
	case strings.TrimSpace(secret) == "":
		return nil, errors.New("crypto: secret must not be empty")
	case account == "":
		return nil, errors.New("crypto: account must not be empty")
	}

	f := sealedFile{
		Version:    sealVersion,
		Account:    account,
		Iterations: pbkdf2Iterations,
		Salt:       make([]byte, saltLen),
	}
	if _, err := rand.Read(f.Salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := deriveAEAD(password, f.Salt, f.Iterations)
	if err != nil {
		return nil, err
	}
	f.Nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(f.Nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	f.Ciphertext = aead.Seal(nil, f.Nonce, []byte(strings.TrimSpace(secret)), []byte(account))
	return json.MarshalIndent(f, "", "  ")
}

// Open decrypts a file produced by Seal for account.
func Open(data []byte, password, account string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}
	var f sealedFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("crypto: parse sealed secret: %w", err)
	}
	if f.Version != sealVersion {
		return "", fmt.Errorf("crypto: unsupported sealed secret version %d", f.Version)
	}
	if f.Account != account {
		return "", fmt.Errorf("%w: file %q, want %q", ErrAccountMismatch, f.Account, account)
	}
	if f.Iterations < 100_000 {
		return "", fmt.Errorf("crypto: iteration count %d too low", f.Iterations)
	}

	aead, err := deriveAEAD(password, f.Salt, f.Iterations)
	if err != nil {
		return "", err
	}
	if len(f.Nonce) != aead.NonceSize() {
		return "", fmt.Errorf("crypto: nonce length %d, want %d", len(f.Nonce), aead.NonceSize())
	}
	plain, err := aead.Open(nil, f.Nonce, f.Ciphertext, []byte(account))
	if err != nil {
		return "", errors.New("crypto: cannot open sealed secret (wrong password or tampered file)")
	}
	return string(plain), nil
}

// SecretConfig says where LoadSecret finds the secret for Account.
type SecretConfig struct {
	Account string
	// Raw is the plaintext secret. It wins when set.
	Raw string
	// SealedPath is a file written by Seal; Password opens it.
	SealedPath string
	Password   string
}

// LoadSecret resolves cfg: Raw first, then the sealed file. An empty config
// yields an empty secret, which public market-data endpoints accept.
func LoadSecret(cfg SecretConfig) (string, error) {
	if cfg.Raw != "" {
		return strings.TrimSpace(cfg.Raw), nil
	}
	if cfg.SealedPath == "" {
		return "", nil
	}

	info, err := os.Stat(cfg.SealedPath)
	if err != nil {
		return "", fmt.Errorf("crypto: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return "", fmt.Errorf("%w: %s is %v", ErrInsecureFile, cfg.SealedPath, info.Mode().Perm())
	}
	data, err := os.ReadFile(cfg.SealedPath)
	if err != nil {
		return "", fmt.Errorf("crypto: %w", err)
	}
	return Open(data, cfg.Password, cfg.Account)
}

func deriveAEAD(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, iterations, keyLen, sha256.New)
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

// AccountLabel names the exchange account a secret is sealed for.
func AccountLabel(exchange, mode string) string {
	return exchange + ":" + mode
}
