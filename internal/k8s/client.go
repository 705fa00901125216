// Package k8s reconciles deployment records against a Kubernetes cluster
// (§4.2): namespaces, image pull secrets, ReplicaSets, Services, and
// Ingresses, scoped and labeled per project/deployment/group.
package k8s

import (
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ClientConfig configures the typed clientset construction.
type ClientConfig struct {
	KubeconfigPath string
	InCluster      bool
	QPS            float32
	Burst          int
}

// NewClientset builds a typed kubernetes.Interface clientset, grounded on
// giantswarm-mcp-kubernetes's getRestConfig idiom: in-cluster service
// account config when running inside the cluster, otherwise the standard
// kubeconfig loading chain.
func NewClientset(cfg ClientConfig) (kubernetes.Interface, error) {
	restConfig, err := restConfigFor(cfg)
	if err != nil {
		return nil, err
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("building kubernetes clientset: %w", err)
	}
	return clientset, nil
}

func restConfigFor(cfg ClientConfig) (*rest.Config, error) {
	var restConfig *rest.Config
	var err error

	if cfg.InCluster {
		restConfig, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("building in-cluster rest config: %w", err)
		}
	} else {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		if cfg.KubeconfigPath != "" {
			loadingRules.ExplicitPath = cfg.KubeconfigPath
		}
		clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			loadingRules, &clientcmd.ConfigOverrides{},
		)
		restConfig, err = clientConfig.ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("building rest config from kubeconfig: %w", err)
		}
	}

	if cfg.QPS > 0 {
		restConfig.QPS = cfg.QPS
	}
	if cfg.Burst > 0 {
		restConfig.Burst = cfg.Burst
	}
	return restConfig, nil
}
