package secrets

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// localMeta is the encryption_meta payload for the local provider.
type localMeta struct {
	Provider string `json:"provider"`
	Nonce    string `json:"nonce"` // base64, 96 bits
}

// LocalProvider is a symmetric AEAD provider (ChaCha20-Poly1305: 96-bit
// nonce, 128-bit tag) keyed by a process-wide key derived from a
// configured passphrase. Used when no KMS key is configured.
type LocalProvider struct {
	aead cipher.AEAD
}

// NewLocalProvider derives a 256-bit key from passphrase via HKDF-SHA256
// and builds the AEAD cipher. passphrase must be non-empty.
func NewLocalProvider(passphrase string) (*LocalProvider, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("local encryption passphrase is required")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(passphrase), nil, []byte("rise-secrets-local-v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("deriving local encryption key: %w", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("constructing AEAD cipher: %w", err)
	}
	return &LocalProvider{aead: aead}, nil
}

func (p *LocalProvider) Encrypt(ctx context.Context, plaintext []byte) ([]byte, []byte, error) {
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := p.aead.Seal(nil, nonce, plaintext, nil)
	meta, err := json.Marshal(localMeta{Provider: "local", Nonce: base64.StdEncoding.EncodeToString(nonce)})
	if err != nil {
		return nil, nil, fmt.Errorf("marshalling local encryption meta: %w", err)
	}
	return ciphertext, meta, nil
}

func (p *LocalProvider) Decrypt(ctx context.Context, ciphertext, meta []byte) ([]byte, error) {
	var m localMeta
	if err := json.Unmarshal(meta, &m); err != nil {
		return nil, fmt.Errorf("unmarshalling local encryption meta: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(m.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decoding nonce: %w", err)
	}

	plaintext, err := p.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting value: %w", err)
	}
	return plaintext, nil
}
