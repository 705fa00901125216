package k8s

import "regexp"

// pullSecretName is the per-project image pull secret name (§4.2 object table).
const pullSecretName = "rise-registry-creds"

// managedByLabel identifies objects this reconciler owns; every object it
// writes carries this plus the project/group/deployment-id triple.
const managedByLabel = "rise"

var groupEscapeRE = regexp.MustCompile(`[^a-z0-9-]`)

// EscapeGroup rewrites a deployment group name so it is safe to use in a
// Kubernetes object name: characters outside [a-z0-9-] become "--"
// (mr/26 -> mr--26), per §4.2.
func EscapeGroup(group string) string {
	return groupEscapeRE.ReplaceAllString(group, "--")
}

// Namespace returns the per-project namespace name.
func Namespace(namespacePrefix, projectName string) string {
	return namespacePrefix + "-" + projectName
}

// ReplicaSetName returns the per-deployment ReplicaSet name.
func ReplicaSetName(projectName, deploymentID string) string {
	return projectName + "-" + deploymentID
}

// GroupObjectName returns the name shared by the Service and Ingress for a
// (project, group) pair.
func GroupObjectName(group string) string {
	return EscapeGroup(group)
}

// Labels returns the standard label set stamped on every object this
// reconciler manages, scoped to the given project/group/deployment triple.
// deploymentID may be empty for per-group objects (Service/Ingress), which
// aren't pinned to one deployment.
func Labels(projectName, group, deploymentID string) map[string]string {
	l := map[string]string{
		"rise.dev/managed-by":       managedByLabel,
		"rise.dev/project":          projectName,
		"rise.dev/deployment-group": EscapeGroup(group),
	}
	if deploymentID != "" {
		l["rise.dev/deployment-id"] = deploymentID
	}
	return l
}
