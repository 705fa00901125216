package secrets

import "testing"

func TestNew_DefaultsToLocalProvider(t *testing.T) {
	p, err := New(Config{Passphrase: "dev-only-passphrase"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := p.(*LocalProvider); !ok {
		t.Errorf("New() returned %T, want *LocalProvider", p)
	}
}

func TestNew_KMSKeyIDRequiresClient(t *testing.T) {
	if _, err := New(Config{KMSKeyID: "arn:aws:kms:us-east-1:123456789012:key/abc"}); err == nil {
		t.Fatal("expected an error when a KMS key id is configured without a client")
	}
}
