package k8s

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultGroup is the deployment group that resolves against the
// production URL template; every other group resolves against staging.
const DefaultGroup = "default"

// URLTemplates holds the two configured templates (§4.2 URL template).
type URLTemplates struct {
	Production string // must contain {project_name}
	Staging    string // must contain {project_name} and {deployment_group}
}

// Validate checks both templates carry their required placeholders.
func (t URLTemplates) Validate() error {
	if !strings.Contains(t.Production, "{project_name}") {
		return fmt.Errorf("production URL template must contain {project_name}")
	}
	if !strings.Contains(t.Staging, "{project_name}") || !strings.Contains(t.Staging, "{deployment_group}") {
		return fmt.Errorf("staging URL template must contain {project_name} and {deployment_group}")
	}
	return nil
}

// ResolvedURL is the outcome of resolving a (project, group) pair against
// the configured templates: the ingress host plus any path prefix the
// template implies.
type ResolvedURL struct {
	Host       string
	PathPrefix string // "" means root-mounted, no forwarded-prefix annotation needed
}

// Resolve computes the ingress host/path for a deployment group. The
// "default" group always uses the production template; every other group
// uses staging. When the resolved URL carries a path component, it becomes
// the ingress's regex path prefix and the application is expected to see
// requests rooted at "/" via a forwarded-prefix hint.
func Resolve(templates URLTemplates, projectName, group string) (ResolvedURL, error) {
	tmpl := templates.Staging
	if group == DefaultGroup {
		tmpl = templates.Production
	}

	raw := strings.NewReplacer(
		"{project_name}", projectName,
		"{deployment_group}", EscapeGroup(group),
	).Replace(tmpl)

	u, err := url.Parse(raw)
	if err != nil {
		return ResolvedURL{}, fmt.Errorf("parsing resolved URL %q: %w", raw, err)
	}

	prefix := strings.TrimSuffix(u.Path, "/")
	return ResolvedURL{Host: u.Host, PathPrefix: prefix}, nil
}
