// Package secrets implements envelope encryption for secret env var values
// (§4.5). Two providers share one interface: a local AEAD cipher keyed by
// configuration, and a cloud KMS provider that wraps a per-value data key.
package secrets

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Provider encrypts and decrypts individual env var values. Meta is an
// opaque, provider-specific JSON blob persisted alongside the ciphertext in
// env_vars.encryption_meta; Decrypt needs it to reverse Encrypt.
type Provider interface {
	Encrypt(ctx context.Context, plaintext []byte) (ciphertext, meta []byte, err error)
	Decrypt(ctx context.Context, ciphertext, meta []byte) ([]byte, error)
}

// Config selects and configures a Provider: KMSKeyID non-empty means "kms",
// otherwise the local AEAD provider is used keyed by Passphrase
// (encryption.provider from configuration).
type Config struct {
	KMSKeyID   string
	KMSClient  *kms.Client
	Passphrase string
}

// New builds the configured Provider. A non-empty KMSKeyID selects the KMS
// envelope provider; otherwise the local AEAD provider is used.
func New(cfg Config) (Provider, error) {
	if cfg.KMSKeyID != "" {
		if cfg.KMSClient == nil {
			return nil, fmt.Errorf("kms key id configured but no kms client provided")
		}
		return NewKMSProvider(cfg.KMSClient, cfg.KMSKeyID), nil
	}
	return NewLocalProvider(cfg.Passphrase)
}
