package k8s

import (
	"context"
	"testing"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/google/uuid"

	"github.com/risedotdev/rise/internal/db"
	"github.com/risedotdev/rise/internal/registry"
)

type stubCredentials struct{}

func (stubCredentials) CredentialsFor(ctx context.Context, projectName string, scope registry.Scope) (registry.Credentials, error) {
	return registry.Credentials{RegistryURL: "registry.example.com", Username: "u", Password: "p"}, nil
}

func testReconciler(clientset *fake.Clientset) *Reconciler {
	return NewReconciler(clientset, stubCredentials{}, nil, Config{
		NamespacePrefix: "rise",
		URLTemplates: URLTemplates{
			Production: "https://{project_name}.rise.app",
			Staging:    "https://{deployment_group}.{project_name}.staging.rise.app",
		},
		AccessPolicies:     DefaultAccessPolicies("nginx", "https://auth.rise.dev/verify"),
		PullSecretRefresh:  time.Hour,
		HealthCheckTimeout: time.Second,
	})
}

func TestReconciler_Apply_CreatesObjects(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	r := testReconciler(clientset)
	project := db.Project{Name: "acme", AccessClass: db.AccessPublic}
	d := db.Deployment{ID: uuid.New(), DeploymentGroup: "default", HTTPPort: 8080}
	d.Image.String, d.Image.Valid = "app:latest", true

	if err := r.Apply(context.Background(), project, d); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	ns := Namespace("rise", "acme")
	if _, err := clientset.CoreV1().Namespaces().Get(context.Background(), ns, metav1.GetOptions{}); err != nil {
		t.Errorf("expected namespace to be created: %v", err)
	}
	if _, err := clientset.CoreV1().Secrets(ns).Get(context.Background(), pullSecretName, metav1.GetOptions{}); err != nil {
		t.Errorf("expected pull secret to be created: %v", err)
	}
	rsName := ReplicaSetName("acme", d.ID.String())
	if _, err := clientset.AppsV1().ReplicaSets(ns).Get(context.Background(), rsName, metav1.GetOptions{}); err != nil {
		t.Errorf("expected replicaset to be created: %v", err)
	}
	svcName := GroupObjectName("default")
	if _, err := clientset.CoreV1().Services(ns).Get(context.Background(), svcName, metav1.GetOptions{}); err != nil {
		t.Errorf("expected service to be created: %v", err)
	}
	if _, err := clientset.NetworkingV1().Ingresses(ns).Get(context.Background(), svcName, metav1.GetOptions{}); err != nil {
		t.Errorf("expected ingress to be created: %v", err)
	}
}

func TestReconciler_Apply_DoesNotFlipExistingServiceSelector(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	r := testReconciler(clientset)
	project := db.Project{Name: "acme", AccessClass: db.AccessPublic}

	first := db.Deployment{ID: uuid.New(), DeploymentGroup: "default", HTTPPort: 8080}
	first.Image.String, first.Image.Valid = "app:v1", true
	if err := r.Apply(context.Background(), project, first); err != nil {
		t.Fatalf("Apply(first) error = %v", err)
	}
	if err := r.CutOver(context.Background(), project, first); err != nil {
		t.Fatalf("CutOver(first) error = %v", err)
	}

	second := db.Deployment{ID: uuid.New(), DeploymentGroup: "default", HTTPPort: 8080}
	second.Image.String, second.Image.Valid = "app:v2", true
	if err := r.Apply(context.Background(), project, second); err != nil {
		t.Fatalf("Apply(second) error = %v", err)
	}

	ns := Namespace("rise", "acme")
	svc, err := clientset.CoreV1().Services(ns).Get(context.Background(), GroupObjectName("default"), metav1.GetOptions{})
	if err != nil {
		t.Fatalf("getting service: %v", err)
	}
	if svc.Spec.Selector["rise.dev/deployment-id"] != first.ID.String() {
		t.Errorf("selector = %q, want it to still point at the first (live) deployment %q", svc.Spec.Selector["rise.dev/deployment-id"], first.ID.String())
	}
}

func TestReconciler_CutOver_UpdatesSelector(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	r := testReconciler(clientset)
	project := db.Project{Name: "acme", AccessClass: db.AccessPublic}
	d := db.Deployment{ID: uuid.New(), DeploymentGroup: "default", HTTPPort: 8080}
	d.Image.String, d.Image.Valid = "app:latest", true

	if err := r.Apply(context.Background(), project, d); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := r.CutOver(context.Background(), project, d); err != nil {
		t.Fatalf("CutOver() error = %v", err)
	}

	ns := Namespace("rise", "acme")
	svc, err := clientset.CoreV1().Services(ns).Get(context.Background(), GroupObjectName("default"), metav1.GetOptions{})
	if err != nil {
		t.Fatalf("getting service: %v", err)
	}
	if svc.Spec.Selector["rise.dev/deployment-id"] != d.ID.String() {
		t.Errorf("selector deployment-id = %q, want %q", svc.Spec.Selector["rise.dev/deployment-id"], d.ID.String())
	}
}

func TestReconciler_Teardown_RetainsGroupObjectsWhenPeerExists(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	r := testReconciler(clientset)
	project := db.Project{Name: "acme", AccessClass: db.AccessPublic}

	peer := db.Deployment{ID: uuid.New(), DeploymentGroup: "default", HTTPPort: 8080}
	peer.Image.String, peer.Image.Valid = "app:v1", true
	if err := r.Apply(context.Background(), project, peer); err != nil {
		t.Fatalf("Apply(peer) error = %v", err)
	}

	dying := db.Deployment{ID: uuid.New(), DeploymentGroup: "default", HTTPPort: 8080}
	dying.Image.String, dying.Image.Valid = "app:v2", true
	if err := r.Apply(context.Background(), project, dying); err != nil {
		t.Fatalf("Apply(dying) error = %v", err)
	}

	if err := r.Teardown(context.Background(), project, dying); err != nil {
		t.Fatalf("Teardown() error = %v", err)
	}

	ns := Namespace("rise", "acme")
	if _, err := clientset.AppsV1().ReplicaSets(ns).Get(context.Background(), ReplicaSetName("acme", dying.ID.String()), metav1.GetOptions{}); err == nil {
		t.Error("expected torn-down deployment's replicaset to be deleted")
	}
	if _, err := clientset.CoreV1().Services(ns).Get(context.Background(), GroupObjectName("default"), metav1.GetOptions{}); err != nil {
		t.Errorf("expected service to be retained (peer still active): %v", err)
	}
	if _, err := clientset.CoreV1().Namespaces().Get(context.Background(), ns, metav1.GetOptions{}); err != nil {
		t.Errorf("expected namespace to be retained (peer still active): %v", err)
	}
}

func TestReconciler_Teardown_DeletesGroupObjectsAndNamespaceWhenLastPeer(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	r := testReconciler(clientset)
	project := db.Project{Name: "acme", AccessClass: db.AccessPublic}

	d := db.Deployment{ID: uuid.New(), DeploymentGroup: "default", HTTPPort: 8080}
	d.Image.String, d.Image.Valid = "app:v1", true
	if err := r.Apply(context.Background(), project, d); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if err := r.Teardown(context.Background(), project, d); err != nil {
		t.Fatalf("Teardown() error = %v", err)
	}

	ns := Namespace("rise", "acme")
	if _, err := clientset.CoreV1().Services(ns).Get(context.Background(), GroupObjectName("default"), metav1.GetOptions{}); err == nil {
		t.Error("expected service to be deleted (no peers remain)")
	}
	if _, err := clientset.CoreV1().Namespaces().Get(context.Background(), ns, metav1.GetOptions{}); err == nil {
		t.Error("expected namespace to be deleted (no deployments remain)")
	}
}
