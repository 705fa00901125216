package registry

import (
	"strings"
	"testing"
)

func TestECRProvider_InlineSessionPolicy(t *testing.T) {
	p := &ECRProvider{repoPrefix: "rise-", registryID: "123456789012"}

	pull := p.inlineSessionPolicy("acme", ScopePull)
	if !strings.Contains(pull, `"Resource": "arn:aws:ecr:*:123456789012:repository/rise-acme*"`) {
		t.Errorf("pull policy does not scope to the project's repository prefix:\n%s", pull)
	}
	if strings.Contains(pull, "PutImage") {
		t.Errorf("pull policy should not grant push actions:\n%s", pull)
	}

	push := p.inlineSessionPolicy("acme", ScopePush)
	if !strings.Contains(push, "PutImage") {
		t.Errorf("push policy missing PutImage grant:\n%s", push)
	}
}
