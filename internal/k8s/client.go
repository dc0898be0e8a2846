// Package k8s reads snapspectre credentials from a Kubernetes Secret.
package k8s

import (
	"fmt"
	"log/slog"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const userAgent = "snapspectre"

// Client reads Secrets through a clientset
type Client struct {
	clientset kubernetes.Interface
	host      string
}

// NewClient connects with the given kubeconfig. An empty path tries the
// in-cluster service account first (the CronJob case), then $KUBECONFIG and
// ~/.kube/config.
func NewClient(kubeconfig string) (*Client, error) {
	restCfg, err := loadRESTConfig(kubeconfig)
	if err != nil {
		return nil, err
	}

	// Only one Secret is read per run.
	restCfg.QPS = 5
	restCfg.Burst = 5
	restCfg.UserAgent = userAgent

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}

	slog.Debug("kubernetes client ready", slog.String("host", restCfg.Host))
	return &Client{clientset: clientset, host: restCfg.Host}, nil
}

func loadRESTConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		if restCfg, err := rest.InClusterConfig(); err == nil {
			return restCfg, nil
		}
	}

	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}
	restCfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
	if err != nil {
		if kubeconfig == "" {
			return nil, fmt.Errorf("no in-cluster config and no usable kubeconfig: %w", err)
		}
		return nil, fmt.Errorf("failed to load kubeconfig from %s: %w", kubeconfig, err)
	}
	return restCfg, nil
}

// NewClientFromClientset wraps an existing clientset.
func NewClientFromClientset(clientset kubernetes.Interface) *Client {
	return &Client{clientset: clientset}
}

// Clientset returns the underlying clientset
func (c *Client) Clientset() kubernetes.Interface {
	return c.clientset
}
