package k8s

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"

	"github.com/risedotdev/rise/internal/db"
	"github.com/risedotdev/rise/internal/deployment"
	"github.com/risedotdev/rise/internal/registry"
)

var _ deployment.Reconciler = (*Reconciler)(nil)

// CredentialSource issues the pull credentials patched into the per-project
// image pull secret. Satisfied by *registry.Broker.
type CredentialSource interface {
	CredentialsFor(ctx context.Context, projectName string, scope registry.Scope) (registry.Credentials, error)
}

var _ CredentialSource = (*registry.Broker)(nil)

// EnvResolver decrypts and merges a deployment's stored env-var snapshot
// for injection into its pod spec. A nil EnvResolver means no env vars are
// injected, used in tests and before internal/secrets is wired in.
type EnvResolver interface {
	ResolveEnv(ctx context.Context, project db.Project, d db.Deployment) (map[string]string, error)
}

// Reconciler implements deployment.Reconciler against a single Kubernetes
// cluster (§4.2).
type Reconciler struct {
	clientset kubernetes.Interface

	namespacePrefix string
	urlTemplates    URLTemplates
	accessPolicies  map[string]AccessPolicy

	credentials CredentialSource
	env         EnvResolver

	pullSecretRefresh  time.Duration
	healthCheckTimeout time.Duration
}

type Config struct {
	NamespacePrefix    string
	URLTemplates       URLTemplates
	AccessPolicies     map[string]AccessPolicy
	PullSecretRefresh  time.Duration
	HealthCheckTimeout time.Duration
}

func NewReconciler(clientset kubernetes.Interface, credentials CredentialSource, env EnvResolver, cfg Config) *Reconciler {
	return &Reconciler{
		clientset:          clientset,
		namespacePrefix:    cfg.NamespacePrefix,
		urlTemplates:       cfg.URLTemplates,
		accessPolicies:     cfg.AccessPolicies,
		credentials:        credentials,
		env:                env,
		pullSecretRefresh:  cfg.PullSecretRefresh,
		healthCheckTimeout: cfg.HealthCheckTimeout,
	}
}

// Apply creates or updates the namespace, pull secret, ReplicaSet, and
// group Service/Ingress for d, per the blue/green switch's step 1 (§4.2).
// It never flips an existing Service's selector — that's CutOver's job
// alone, so a re-apply (needs_reconcile) never disturbs live traffic.
func (r *Reconciler) Apply(ctx context.Context, project db.Project, d db.Deployment) error {
	ns := Namespace(r.namespacePrefix, project.Name)

	if err := r.ensureNamespace(ctx, ns, project.Name); err != nil {
		return err
	}
	if err := r.ensurePullSecretFresh(ctx, ns, project); err != nil {
		return err
	}
	if err := r.applyReplicaSet(ctx, ns, project, d); err != nil {
		return err
	}
	if err := r.applyServiceAndIngress(ctx, ns, project, d); err != nil {
		return err
	}
	return nil
}

func (r *Reconciler) ensureNamespace(ctx context.Context, ns, projectName string) error {
	_, err := r.clientset.CoreV1().Namespaces().Get(ctx, ns, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("getting namespace %q: %w", ns, err)
	}

	namespace := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   ns,
			Labels: map[string]string{"rise.dev/managed-by": managedByLabel, "rise.dev/project": projectName},
		},
	}
	if _, err := r.clientset.CoreV1().Namespaces().Create(ctx, namespace, metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("creating namespace %q: %w", ns, err)
	}
	return nil
}

func (r *Reconciler) ensurePullSecretFresh(ctx context.Context, ns string, project db.Project) error {
	secret, err := r.clientset.CoreV1().Secrets(ns).Get(ctx, pullSecretName, metav1.GetOptions{})
	if err == nil {
		refreshedAt, parseErr := time.Parse(time.RFC3339, secret.Annotations["rise.dev/last-refresh"])
		if parseErr == nil && time.Since(refreshedAt) < r.pullSecretRefresh {
			return nil
		}
	} else if !apierrors.IsNotFound(err) {
		return fmt.Errorf("getting pull secret in namespace %q: %w", ns, err)
	}

	return r.refreshPullSecret(ctx, ns, project)
}

// refreshPullSecret unconditionally fetches fresh pull credentials and
// patches the secret, used both by Apply and by the hourly background
// refresh task (pullsecret.go). Credentials without a username or password
// (registry.DockerProvider) leave the namespace's existing secret as it is.
func (r *Reconciler) refreshPullSecret(ctx context.Context, ns string, project db.Project) error {
	creds, err := r.credentials.CredentialsFor(ctx, project.Name, registry.ScopePull)
	if err != nil {
		return fmt.Errorf("fetching pull credentials for project %q: %w", project.Name, err)
	}
	if creds.Username == "" && creds.Password == "" {
		return nil
	}

	dockerConfigJSON := dockerConfigJSON(creds)
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      pullSecretName,
			Namespace: ns,
			Labels:    map[string]string{"rise.dev/managed-by": managedByLabel, "rise.dev/project": project.Name},
			Annotations: map[string]string{
				"rise.dev/last-refresh": time.Now().UTC().Format(time.RFC3339),
			},
		},
		Type: corev1.SecretTypeDockerConfigJson,
		Data: map[string][]byte{corev1.DockerConfigJsonKey: dockerConfigJSON},
	}

	_, err = r.clientset.CoreV1().Secrets(ns).Get(ctx, pullSecretName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		if _, createErr := r.clientset.CoreV1().Secrets(ns).Create(ctx, secret, metav1.CreateOptions{}); createErr != nil {
			return fmt.Errorf("creating pull secret in namespace %q: %w", ns, createErr)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("getting pull secret in namespace %q: %w", ns, err)
	}

	if _, err := r.clientset.CoreV1().Secrets(ns).Update(ctx, secret, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("updating pull secret in namespace %q: %w", ns, err)
	}
	return nil
}

func (r *Reconciler) applyReplicaSet(ctx context.Context, ns string, project db.Project, d db.Deployment) error {
	name := ReplicaSetName(project.Name, d.ID.String())
	labels := Labels(project.Name, d.DeploymentGroup, d.ID.String())

	env, err := r.resolveEnv(ctx, project, d)
	if err != nil {
		return err
	}

	image := d.Image.String
	if d.ImageDigest.Valid && d.ImageDigest.String != "" {
		image = d.ImageDigest.String
	}

	replicas := int32(1)
	rs := &appsv1.ReplicaSet{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns, Labels: labels},
		Spec: appsv1.ReplicaSetSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					ImagePullSecrets: []corev1.LocalObjectReference{{Name: pullSecretName}},
					Containers: []corev1.Container{{
						Name:  "app",
						Image: image,
						Ports: []corev1.ContainerPort{{ContainerPort: d.HTTPPort}},
						Env:   envVarList(env),
					}},
				},
			},
		},
	}

	existing, err := r.clientset.AppsV1().ReplicaSets(ns).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		if _, createErr := r.clientset.AppsV1().ReplicaSets(ns).Create(ctx, rs, metav1.CreateOptions{}); createErr != nil {
			return fmt.Errorf("creating replicaset %q: %w", name, createErr)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("getting replicaset %q: %w", name, err)
	}

	rs.ResourceVersion = existing.ResourceVersion
	if _, err := r.clientset.AppsV1().ReplicaSets(ns).Update(ctx, rs, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("updating replicaset %q: %w", name, err)
	}
	return nil
}

func (r *Reconciler) resolveEnv(ctx context.Context, project db.Project, d db.Deployment) (map[string]string, error) {
	if r.env == nil {
		return nil, nil
	}
	env, err := r.env.ResolveEnv(ctx, project, d)
	if err != nil {
		return nil, fmt.Errorf("resolving env for deployment %s: %w", d.ID, err)
	}
	return env, nil
}

func (r *Reconciler) applyServiceAndIngress(ctx context.Context, ns string, project db.Project, d db.Deployment) error {
	name := GroupObjectName(d.DeploymentGroup)
	groupLabels := map[string]string{"rise.dev/managed-by": managedByLabel, "rise.dev/project": project.Name, "rise.dev/deployment-group": EscapeGroup(d.DeploymentGroup)}

	_, err := r.clientset.CoreV1().Services(ns).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		svc := &corev1.Service{
			ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns, Labels: groupLabels},
			Spec: corev1.ServiceSpec{
				Selector: Labels(project.Name, d.DeploymentGroup, d.ID.String()),
				Ports:    []corev1.ServicePort{{Port: 80, TargetPort: intstr.FromInt32(d.HTTPPort)}},
			},
		}
		if _, createErr := r.clientset.CoreV1().Services(ns).Create(ctx, svc, metav1.CreateOptions{}); createErr != nil {
			return fmt.Errorf("creating service %q: %w", name, createErr)
		}
	} else if err != nil {
		return fmt.Errorf("getting service %q: %w", name, err)
	}

	return r.applyIngress(ctx, ns, name, groupLabels, project, d)
}

func (r *Reconciler) applyIngress(ctx context.Context, ns, name string, labels map[string]string, project db.Project, d db.Deployment) error {
	resolved, err := Resolve(r.urlTemplates, project.Name, d.DeploymentGroup)
	if err != nil {
		return fmt.Errorf("resolving ingress URL for group %q: %w", d.DeploymentGroup, err)
	}

	policy := r.accessPolicies[project.AccessClass]
	annotations := map[string]string{}
	for k, v := range policy.Annotations {
		annotations[k] = v
	}
	path := resolved.PathPrefix
	pathType := networkingv1.PathTypePrefix
	if path != "" {
		annotations["nginx.ingress.kubernetes.io/rewrite-target"] = "/$2"
		annotations["nginx.ingress.kubernetes.io/use-regex"] = "true"
		annotations["nginx.ingress.kubernetes.io/x-forwarded-prefix"] = resolved.PathPrefix
		path = path + "(/|$)(.*)"
	} else {
		path = "/"
	}

	ingressClassName := policy.IngressClassName
	ingress := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns, Labels: labels, Annotations: annotations},
		Spec: networkingv1.IngressSpec{
			IngressClassName: &ingressClassName,
			Rules: []networkingv1.IngressRule{{
				Host: resolved.Host,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{
						Paths: []networkingv1.HTTPIngressPath{{
							Path:     path,
							PathType: &pathType,
							Backend: networkingv1.IngressBackend{
								Service: &networkingv1.IngressServiceBackend{
									Name: name,
									Port: networkingv1.ServiceBackendPort{Number: 80},
								},
							},
						}},
					},
				},
			}},
		},
	}

	existing, err := r.clientset.NetworkingV1().Ingresses(ns).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		if _, createErr := r.clientset.NetworkingV1().Ingresses(ns).Create(ctx, ingress, metav1.CreateOptions{}); createErr != nil {
			return fmt.Errorf("creating ingress %q: %w", name, createErr)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("getting ingress %q: %w", name, err)
	}

	ingress.ResourceVersion = existing.ResourceVersion
	if _, err := r.clientset.NetworkingV1().Ingresses(ns).Update(ctx, ingress, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("updating ingress %q: %w", name, err)
	}
	return nil
}

// PollReady reports readiness per §4.2 step 2: the ReplicaSet has reached
// its desired replica count and every pod passes a port-open check on
// http_port within the configured health timeout.
func (r *Reconciler) PollReady(ctx context.Context, project db.Project, d db.Deployment) (bool, error) {
	ns := Namespace(r.namespacePrefix, project.Name)
	name := ReplicaSetName(project.Name, d.ID.String())

	rs, err := r.clientset.AppsV1().ReplicaSets(ns).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return false, fmt.Errorf("getting replicaset %q: %w", name, err)
	}
	if rs.Spec.Replicas == nil || rs.Status.ReadyReplicas != *rs.Spec.Replicas {
		return false, nil
	}

	pods, err := r.clientset.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{
		LabelSelector: labelSelectorString(Labels(project.Name, d.DeploymentGroup, d.ID.String())),
	})
	if err != nil {
		return false, fmt.Errorf("listing pods for replicaset %q: %w", name, err)
	}
	if len(pods.Items) == 0 {
		return false, nil
	}

	deadline := time.Now().Add(r.healthCheckTimeout)
	for _, pod := range pods.Items {
		if pod.Status.PodIP == "" {
			return false, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		addr := net.JoinHostPort(pod.Status.PodIP, strconv.Itoa(int(d.HTTPPort)))
		conn, err := net.DialTimeout("tcp", addr, remaining)
		if err != nil {
			return false, nil
		}
		conn.Close()
	}
	return true, nil
}

// CutOver atomically repoints the group's Service selector at d, the
// traffic-cutover step of the blue/green switch (§4.2 step 3).
func (r *Reconciler) CutOver(ctx context.Context, project db.Project, d db.Deployment) error {
	ns := Namespace(r.namespacePrefix, project.Name)
	name := GroupObjectName(d.DeploymentGroup)

	svc, err := r.clientset.CoreV1().Services(ns).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("getting service %q: %w", name, err)
	}

	svc.Spec.Selector = Labels(project.Name, d.DeploymentGroup, d.ID.String())
	if _, err := r.clientset.CoreV1().Services(ns).Update(ctx, svc, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("cutting over service %q: %w", name, err)
	}
	return nil
}

// Teardown deletes d's ReplicaSet. Service/Ingress are retained if another
// deployment's ReplicaSet still exists in the group; the namespace is
// retained while any ReplicaSet remains for the project (§4.2 teardown).
func (r *Reconciler) Teardown(ctx context.Context, project db.Project, d db.Deployment) error {
	ns := Namespace(r.namespacePrefix, project.Name)
	name := ReplicaSetName(project.Name, d.ID.String())

	if err := r.clientset.AppsV1().ReplicaSets(ns).Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting replicaset %q: %w", name, err)
	}

	groupHasPeer, err := r.groupHasReplicaSet(ctx, ns, project.Name, d.DeploymentGroup)
	if err != nil {
		return err
	}
	if !groupHasPeer {
		if err := r.deleteGroupObjects(ctx, ns, d.DeploymentGroup); err != nil {
			return err
		}
	}

	projectHasDeployment, err := r.projectHasReplicaSet(ctx, ns)
	if err != nil {
		return err
	}
	if !projectHasDeployment {
		if err := r.clientset.CoreV1().Namespaces().Delete(ctx, ns, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("deleting namespace %q: %w", ns, err)
		}
	}
	return nil
}

func (r *Reconciler) groupHasReplicaSet(ctx context.Context, ns, projectName, group string) (bool, error) {
	list, err := r.clientset.AppsV1().ReplicaSets(ns).List(ctx, metav1.ListOptions{
		LabelSelector: labelSelectorString(map[string]string{"rise.dev/managed-by": managedByLabel, "rise.dev/project": projectName, "rise.dev/deployment-group": EscapeGroup(group)}),
	})
	if err != nil {
		return false, fmt.Errorf("listing replicasets in group %q: %w", group, err)
	}
	return len(list.Items) > 0, nil
}

func (r *Reconciler) projectHasReplicaSet(ctx context.Context, ns string) (bool, error) {
	list, err := r.clientset.AppsV1().ReplicaSets(ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		return false, fmt.Errorf("listing replicasets in namespace %q: %w", ns, err)
	}
	return len(list.Items) > 0, nil
}

func (r *Reconciler) deleteGroupObjects(ctx context.Context, ns, group string) error {
	name := GroupObjectName(group)
	if err := r.clientset.NetworkingV1().Ingresses(ns).Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting ingress %q: %w", name, err)
	}
	if err := r.clientset.CoreV1().Services(ns).Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting service %q: %w", name, err)
	}
	return nil
}

func labelSelectorString(labels map[string]string) string {
	sel := metav1.LabelSelector{MatchLabels: labels}
	s, _ := metav1.LabelSelectorAsSelector(&sel)
	return s.String()
}

func envVarList(env map[string]string) []corev1.EnvVar {
	if len(env) == 0 {
		return nil
	}
	out := make([]corev1.EnvVar, 0, len(env))
	for k, v := range env {
		out = append(out, corev1.EnvVar{Name: k, Value: v})
	}
	return out
}
