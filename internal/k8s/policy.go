package k8s

// AccessPolicy maps one project access class to the ingress configuration
// that enforces it (§4.2 access-class -> ingress policy).
type AccessPolicy struct {
	IngressClassName  string
	AccessRequirement string // none | authenticated-user | project-member
	Annotations       map[string]string
}

// DefaultAccessPolicies returns the built-in access-class -> policy map.
// authenticated-user and project-member both delegate the auth decision to
// the platform's own ingress-JWT verification endpoint via an nginx
// auth-url subrequest; project-member additionally asserts project
// membership through the auth-snippet's forwarded header check.
func DefaultAccessPolicies(ingressClassName, authURL string) map[string]AccessPolicy {
	return map[string]AccessPolicy{
		"public": {
			IngressClassName:  ingressClassName,
			AccessRequirement: "none",
		},
		"authenticated-user": {
			IngressClassName:  ingressClassName,
			AccessRequirement: "authenticated-user",
			Annotations: map[string]string{
				"nginx.ingress.kubernetes.io/auth-url":             authURL,
				"nginx.ingress.kubernetes.io/auth-response-headers": "X-Rise-Subject",
			},
		},
		"project-member": {
			IngressClassName:  ingressClassName,
			AccessRequirement: "project-member",
			Annotations: map[string]string{
				"nginx.ingress.kubernetes.io/auth-url":              authURL,
				"nginx.ingress.kubernetes.io/auth-response-headers": "X-Rise-Subject,X-Rise-Project-Role",
				"nginx.ingress.kubernetes.io/auth-snippet":          `if ($upstream_http_x_rise_project_role = "") { return 403; }`,
			},
		},
	}
}
