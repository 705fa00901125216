package secrets

import (
	"bytes"
	"context"
	"crypto/rand"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// fakeKMSClient stands in for a real KMS customer key: the "wrapped" data
// key is just the plaintext data key with a fixed marker appended, letting
// Decrypt reverse it without a network call.
type fakeKMSClient struct {
	generateCalls int
	decryptCalls  int
}

var wrapMarker = []byte("::wrapped")

func (f *fakeKMSClient) GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
	f.generateCalls++
	plaintext := make([]byte, 32)
	if _, err := rand.Read(plaintext); err != nil {
		return nil, err
	}
	wrapped := append(append([]byte{}, plaintext...), wrapMarker...)
	return &kms.GenerateDataKeyOutput{
		KeyId:          params.KeyId,
		Plaintext:      plaintext,
		CiphertextBlob: wrapped,
	}, nil
}

func (f *fakeKMSClient) Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	f.decryptCalls++
	if !bytes.HasSuffix(params.CiphertextBlob, wrapMarker) {
		return nil, errNotWrapped
	}
	plaintext := params.CiphertextBlob[:len(params.CiphertextBlob)-len(wrapMarker)]
	return &kms.DecryptOutput{
		KeyId:     aws.String("test-key-id"),
		Plaintext: plaintext,
	}, nil
}

var errNotWrapped = &testError{"ciphertext blob was not produced by GenerateDataKey"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestKMSProvider_EncryptDecryptRoundTrip(t *testing.T) {
	client := &fakeKMSClient{}
	p := NewKMSProvider(client, "test-key-id")

	ciphertext, meta, err := p.Encrypt(context.Background(), []byte("s3cr3t-value"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if client.generateCalls != 1 {
		t.Errorf("generateCalls = %d, want 1", client.generateCalls)
	}

	plaintext, err := p.Decrypt(context.Background(), ciphertext, meta)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(plaintext) != "s3cr3t-value" {
		t.Errorf("decrypted = %q, want %q", plaintext, "s3cr3t-value")
	}
	if client.decryptCalls != 1 {
		t.Errorf("decryptCalls = %d, want 1", client.decryptCalls)
	}
}

func TestKMSProvider_EachValueGetsAFreshDataKey(t *testing.T) {
	client := &fakeKMSClient{}
	p := NewKMSProvider(client, "test-key-id")

	_, meta1, err := p.Encrypt(context.Background(), []byte("one"))
	if err != nil {
		t.Fatalf("Encrypt(one) error = %v", err)
	}
	_, meta2, err := p.Encrypt(context.Background(), []byte("two"))
	if err != nil {
		t.Fatalf("Encrypt(two) error = %v", err)
	}
	if bytes.Equal(meta1, meta2) {
		t.Error("expected distinct wrapped data keys per value")
	}
}
