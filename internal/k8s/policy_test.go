package k8s

import "testing"

func TestDefaultAccessPolicies(t *testing.T) {
	policies := DefaultAccessPolicies("nginx", "https://auth.rise.dev/verify")

	public, ok := policies["public"]
	if !ok {
		t.Fatal("expected a public policy")
	}
	if public.AccessRequirement != "none" {
		t.Errorf("public AccessRequirement = %q, want %q", public.AccessRequirement, "none")
	}
	if len(public.Annotations) != 0 {
		t.Errorf("public policy should have no auth annotations, got %v", public.Annotations)
	}

	authed := policies["authenticated-user"]
	if authed.Annotations["nginx.ingress.kubernetes.io/auth-url"] != "https://auth.rise.dev/verify" {
		t.Errorf("authenticated-user policy missing auth-url annotation, got %v", authed.Annotations)
	}

	member := policies["project-member"]
	if _, ok := member.Annotations["nginx.ingress.kubernetes.io/auth-snippet"]; !ok {
		t.Error("project-member policy should carry an auth-snippet annotation to assert membership")
	}
}
