package secrets

import (
	"context"
	"testing"
)

func TestLocalProvider_EncryptDecryptRoundTrip(t *testing.T) {
	p, err := NewLocalProvider("correct horse battery staple")
	if err != nil {
		t.Fatalf("NewLocalProvider() error = %v", err)
	}

	ciphertext, meta, err := p.Encrypt(context.Background(), []byte("s3cr3t-value"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if string(ciphertext) == "s3cr3t-value" {
		t.Fatal("ciphertext equals plaintext")
	}

	plaintext, err := p.Decrypt(context.Background(), ciphertext, meta)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(plaintext) != "s3cr3t-value" {
		t.Errorf("decrypted = %q, want %q", plaintext, "s3cr3t-value")
	}
}

func TestLocalProvider_RequiresPassphrase(t *testing.T) {
	if _, err := NewLocalProvider(""); err == nil {
		t.Fatal("expected an error for an empty passphrase")
	}
}

func TestLocalProvider_WrongNonceFailsToDecrypt(t *testing.T) {
	p, err := NewLocalProvider("correct horse battery staple")
	if err != nil {
		t.Fatalf("NewLocalProvider() error = %v", err)
	}

	_, meta1, err := p.Encrypt(context.Background(), []byte("one"))
	if err != nil {
		t.Fatalf("Encrypt(one) error = %v", err)
	}
	ciphertext2, _, err := p.Encrypt(context.Background(), []byte("two"))
	if err != nil {
		t.Fatalf("Encrypt(two) error = %v", err)
	}

	if _, err := p.Decrypt(context.Background(), ciphertext2, meta1); err == nil {
		t.Fatal("expected decryption to fail when ciphertext and meta come from different seals")
	}
}

func TestLocalProvider_DifferentPassphrasesDoNotInteroperate(t *testing.T) {
	p1, _ := NewLocalProvider("passphrase-one")
	p2, _ := NewLocalProvider("passphrase-two")

	ciphertext, meta, err := p1.Encrypt(context.Background(), []byte("value"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := p2.Decrypt(context.Background(), ciphertext, meta); err == nil {
		t.Fatal("expected decryption under a different passphrase to fail")
	}
}
