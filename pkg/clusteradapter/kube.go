package clusteradapter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	corev1 "k8s.io/api/core/v1"
	policyv1 "k8s.io/api/policy/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

// KubeAdapter is the production Adapter, backed by two *kubernetes.Clientset
// built from the same kubeconfig: one reserved for list traffic, one for
// mutations, so back-pressured deletes cannot starve the reaper's list
// calls (mandatory per the concurrency model).
type KubeAdapter struct {
	readClient     kubernetes.Interface
	writeClient    kubernetes.Interface
	kubeconfigPath string
}

// NewKubeAdapter builds a KubeAdapter from the base64-encoded kubeconfig file
// at path, constructing two independent clientsets against it.
func NewKubeAdapter(kubeconfigPath string) (*KubeAdapter, error) {
	encoded, err := os.ReadFile(filepath.Clean(kubeconfigPath))
	if err != nil {
		return nil, fmt.Errorf("clusteradapter: reading kubeconfig %s: %w", kubeconfigPath, err)
	}
	kubeconfig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(encoded)))
	if err != nil {
		return nil, fmt.Errorf("clusteradapter: decoding kubeconfig %s: %w", kubeconfigPath, err)
	}

	config, err := clientcmd.RESTConfigFromKubeConfig(kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("clusteradapter: loading kubeconfig %s: %w", kubeconfigPath, err)
	}

	readClient, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("clusteradapter: building read client: %w", err)
	}

	writeConfig, err := clientcmd.RESTConfigFromKubeConfig(kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("clusteradapter: loading kubeconfig for write client: %w", err)
	}
	writeClient, err := kubernetes.NewForConfig(writeConfig)
	if err != nil {
		return nil, fmt.Errorf("clusteradapter: building write client: %w", err)
	}

	return &KubeAdapter{
		readClient:     readClient,
		writeClient:    writeClient,
		kubeconfigPath: kubeconfigPath,
	}, nil
}

// ListNodes lists all cluster nodes via the read client.
func (a *KubeAdapter) ListNodes(ctx context.Context) ([]Node, error) {
	list, err := a.readClient.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("clusteradapter: listing nodes: %w", err)
	}

	nodes := make([]Node, 0, len(list.Items))
	for _, n := range list.Items {
		nodes = append(nodes, Node{
			Name:          n.Name,
			Labels:        n.Labels,
			Unschedulable: n.Spec.Unschedulable,
			Ready:         nodeReady(n),
		})
	}
	return nodes, nil
}

// nodeReady reports whether the node's last reported condition is a Ready
// condition, regardless of that condition's status.
func nodeReady(n corev1.Node) bool {
	conditions := n.Status.Conditions
	if len(conditions) == 0 {
		return false
	}
	return conditions[len(conditions)-1].Type == corev1.NodeReady
}

// PatchUnschedulable sets spec.unschedulable via a JSON merge patch on the write client.
func (a *KubeAdapter) PatchUnschedulable(ctx context.Context, name string, unschedulable bool) error {
	patch := map[string]interface{}{
		"spec": map[string]interface{}{
			"unschedulable": unschedulable,
		},
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("clusteradapter: marshaling unschedulable patch: %w", err)
	}

	_, err = a.writeClient.CoreV1().Nodes().Patch(ctx, name, types.MergePatchType, body, metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("clusteradapter: patching unschedulable on %s: %w", name, err)
	}
	return nil
}

// PatchTaints replaces spec.taints via a JSON merge patch on the write client.
func (a *KubeAdapter) PatchTaints(ctx context.Context, name string, taints []Taint) error {
	k8sTaints := make([]corev1.Taint, 0, len(taints))
	for _, t := range taints {
		k8sTaints = append(k8sTaints, corev1.Taint{
			Key:    t.Key,
			Value:  t.Value,
			Effect: corev1.TaintEffect(t.Effect),
		})
	}

	patch := map[string]interface{}{
		"spec": map[string]interface{}{
			"taints": k8sTaints,
		},
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("clusteradapter: marshaling taints patch: %w", err)
	}

	_, err = a.writeClient.CoreV1().Nodes().Patch(ctx, name, types.MergePatchType, body, metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("clusteradapter: patching taints on %s: %w", name, err)
	}
	return nil
}

// ListPodsOnNode lists pods scheduled onto name via the write client,
// isolating this traffic from the reaper's read-client list calls.
func (a *KubeAdapter) ListPodsOnNode(ctx context.Context, name string) ([]Pod, error) {
	list, err := a.writeClient.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		FieldSelector: "spec.nodeName=" + name,
	})
	if err != nil {
		return nil, fmt.Errorf("clusteradapter: listing pods on %s: %w", name, err)
	}

	pods := make([]Pod, 0, len(list.Items))
	for _, p := range list.Items {
		pods = append(pods, Pod{
			Namespace:        p.Namespace,
			Name:             p.Name,
			OwnedByDaemonSet: ownedByDaemonSet(p),
		})
	}
	return pods, nil
}

func ownedByDaemonSet(p corev1.Pod) bool {
	for _, ref := range p.OwnerReferences {
		if ref.Kind == "DaemonSet" {
			return true
		}
	}
	return false
}

// EvictPod creates a pod eviction via the write client.
func (a *KubeAdapter) EvictPod(ctx context.Context, namespace, name string) error {
	eviction := &policyv1.Eviction{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
		},
	}
	if err := a.writeClient.PolicyV1().Evictions(namespace).Evict(ctx, eviction); err != nil {
		return fmt.Errorf("clusteradapter: evicting pod %s/%s: %w", namespace, name, err)
	}
	return nil
}

// DeleteNode deletes the node object via the write client.
func (a *KubeAdapter) DeleteNode(ctx context.Context, name string) error {
	if err := a.writeClient.CoreV1().Nodes().Delete(ctx, name, metav1.DeleteOptions{}); err != nil {
		return fmt.Errorf("clusteradapter: deleting node %s: %w", name, err)
	}
	return nil
}

// GetKubeconfigFile returns the raw kubeconfig bytes for the cluster_access
// passthrough endpoint.
func (a *KubeAdapter) GetKubeconfigFile(ctx context.Context) ([]byte, error) {
	body, err := os.ReadFile(filepath.Clean(a.kubeconfigPath))
	if err != nil {
		return nil, fmt.Errorf("clusteradapter: reading kubeconfig file: %w", err)
	}
	return body, nil
}

var _ Adapter = (*KubeAdapter)(nil)
