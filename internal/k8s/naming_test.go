package k8s

import "testing"

func TestEscapeGroup(t *testing.T) {
	tests := []struct {
		group string
		want  string
	}{
		{"default", "default"},
		{"mr/26", "mr--26"},
		{"mr 26", "mr--26"},
		{"Feature_X", "--eature----"},
		{"a.b.c", "a--b--c"},
	}
	for _, tt := range tests {
		if got := EscapeGroup(tt.group); got != tt.want {
			t.Errorf("EscapeGroup(%q) = %q, want %q", tt.group, got, tt.want)
		}
	}
}

func TestNamespace(t *testing.T) {
	if got := Namespace("rise", "acme"); got != "rise-acme" {
		t.Errorf("Namespace() = %q, want %q", got, "rise-acme")
	}
}

func TestReplicaSetName(t *testing.T) {
	if got := ReplicaSetName("acme", "d1"); got != "acme-d1" {
		t.Errorf("ReplicaSetName() = %q, want %q", got, "acme-d1")
	}
}

func TestLabels(t *testing.T) {
	l := Labels("acme", "mr/26", "d1")
	if l["rise.dev/managed-by"] != managedByLabel {
		t.Errorf("rise.dev/managed-by = %q, want %q", l["rise.dev/managed-by"], managedByLabel)
	}
	if l["rise.dev/deployment-group"] != "mr--26" {
		t.Errorf("rise.dev/deployment-group = %q, want %q", l["rise.dev/deployment-group"], "mr--26")
	}
	if l["rise.dev/deployment-id"] != "d1" {
		t.Errorf("rise.dev/deployment-id = %q, want %q", l["rise.dev/deployment-id"], "d1")
	}

	group := Labels("acme", "default", "")
	if _, ok := group["rise.dev/deployment-id"]; ok {
		t.Error("expected no deployment-id label for empty deploymentID")
	}
}
