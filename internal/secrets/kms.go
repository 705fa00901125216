package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"golang.org/x/crypto/chacha20poly1305"
)

// kmsMeta is the encryption_meta payload for the KMS provider: the data key
// wrapped by the KMS customer key, plus the nonce used to seal plaintext
// under that data key.
type kmsMeta struct {
	Provider        string `json:"provider"`
	KeyID           string `json:"key_id"`
	EncryptedDataKey string `json:"encrypted_data_key"` // base64
	Nonce           string `json:"nonce"`               // base64, 96 bits
}

// KMSClient is the subset of the KMS SDK client the provider needs.
// Satisfied by *kms.Client.
type KMSClient interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSProvider is a cloud envelope encryption provider: each value is sealed
// under a fresh AEAD data key, and the data key itself is wrapped by a KMS
// customer master key. Decryption calls out to KMS to unwrap the data key.
type KMSProvider struct {
	client KMSClient
	keyID  string
}

func NewKMSProvider(client KMSClient, keyID string) *KMSProvider {
	return &KMSProvider{client: client, keyID: keyID}
}

func (p *KMSProvider) Encrypt(ctx context.Context, plaintext []byte) ([]byte, []byte, error) {
	dk, err := p.client.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(p.keyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("generating data key: %w", err)
	}

	aead, err := chacha20poly1305.New(dk.Plaintext)
	if err != nil {
		return nil, nil, fmt.Errorf("constructing AEAD cipher from data key: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	meta, err := json.Marshal(kmsMeta{
		Provider:         "kms",
		KeyID:            p.keyID,
		EncryptedDataKey: base64.StdEncoding.EncodeToString(dk.CiphertextBlob),
		Nonce:            base64.StdEncoding.EncodeToString(nonce),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("marshalling kms encryption meta: %w", err)
	}
	return ciphertext, meta, nil
}

func (p *KMSProvider) Decrypt(ctx context.Context, ciphertext, meta []byte) ([]byte, error) {
	var m kmsMeta
	if err := json.Unmarshal(meta, &m); err != nil {
		return nil, fmt.Errorf("unmarshalling kms encryption meta: %w", err)
	}

	wrapped, err := base64.StdEncoding.DecodeString(m.EncryptedDataKey)
	if err != nil {
		return nil, fmt.Errorf("decoding wrapped data key: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(m.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decoding nonce: %w", err)
	}

	unwrapped, err := p.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          aws.String(m.KeyID),
		CiphertextBlob: wrapped,
	})
	if err != nil {
		return nil, fmt.Errorf("unwrapping data key via kms: %w", err)
	}

	aead, err := chacha20poly1305.New(unwrapped.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("constructing AEAD cipher from unwrapped data key: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting value: %w", err)
	}
	return plaintext, nil
}
