package registry

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// ECRProvider issues scoped push/pull credentials against a single AWS ECR
// registry by assuming a configured role with an inline session policy
// narrowed to this project's repository prefix, then exchanging the
// resulting session for an ECR authorization token.
type ECRProvider struct {
	client     *ecr.Client
	stsClient  *sts.Client
	roleARN    string
	repoPrefix string
	registryID string
}

// NewECRProvider loads the default AWS credential chain for region and
// prepares clients for both STS (assume-role) and ECR (authorization
// tokens). roleARN is the pre-configured role this broker assumes per
// request; repoPrefix scopes the inline session policy so the resulting
// token can only reach repositories named "{repoPrefix}{project_name}*".
func NewECRProvider(ctx context.Context, region, roleARN, repoPrefix, registryID string) (*ECRProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &ECRProvider{
		client:     ecr.NewFromConfig(cfg),
		stsClient:  sts.NewFromConfig(cfg),
		roleARN:    roleARN,
		repoPrefix: repoPrefix,
		registryID: registryID,
	}, nil
}

// CredentialsFor assumes the configured role with an inline policy scoped
// to this project's repositories, then retrieves an ECR authorization
// token under that assumed identity. Returned credentials expire after
// roughly 12h, matching ECR's token lifetime.
func (p *ECRProvider) CredentialsFor(ctx context.Context, projectName string, scope Scope) (Credentials, error) {
	policy := p.inlineSessionPolicy(projectName, scope)

	assumeCreds := stscreds.NewAssumeRoleProvider(p.stsClient, p.roleARN, func(o *stscreds.AssumeRoleOptions) {
		o.Policy = &policy
		o.RoleSessionName = "rise-" + projectName
	})

	scopedClient := ecr.New(ecr.Options{
		Credentials: assumeCreds,
		Region:      p.client.Options().Region,
	})

	out, err := scopedClient.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return Credentials{}, fmt.Errorf("getting ECR authorization token: %w", err)
	}
	if len(out.AuthorizationData) == 0 {
		return Credentials{}, fmt.Errorf("ECR returned no authorization data")
	}
	data := out.AuthorizationData[0]

	decoded, err := base64.StdEncoding.DecodeString(*data.AuthorizationToken)
	if err != nil {
		return Credentials{}, fmt.Errorf("decoding ECR authorization token: %w", err)
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return Credentials{}, fmt.Errorf("malformed ECR authorization token")
	}

	registryURL := strings.TrimPrefix(*data.ProxyEndpoint, "https://")
	return Credentials{
		RegistryURL: registryURL,
		Username:    username,
		Password:    password,
		Repository:  p.repoPrefix + projectName,
		ExpiresAt:   derefTime(data.ExpiresAt),
	}, nil
}

// inlineSessionPolicy narrows the assumed session to push or pull actions
// against exactly this project's repository prefix (§4.3 scoping guarantee).
func (p *ECRProvider) inlineSessionPolicy(projectName string, scope Scope) string {
	actions := `"ecr:GetDownloadUrlForLayer","ecr:BatchGetImage","ecr:BatchCheckLayerAvailability"`
	if scope == ScopePush {
		actions += `,"ecr:PutImage","ecr:InitiateLayerUpload","ecr:UploadLayerPart","ecr:CompleteLayerUpload"`
	}

	repoARN := fmt.Sprintf("arn:aws:ecr:*:%s:repository/%s%s*", p.registryID, p.repoPrefix, projectName)
	return fmt.Sprintf(`{
	"Version": "2012-10-17",
	"Statement": [
		{"Effect": "Allow", "Action": [%s], "Resource": "%s"},
		{"Effect": "Allow", "Action": "ecr:GetAuthorizationToken", "Resource": "*"}
	]
}`, actions, repoARN)
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Now().Add(12 * time.Hour)
	}
	return *t
}
