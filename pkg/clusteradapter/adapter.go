// Package clusteradapter wraps the Kubernetes cluster-control capability
// the spec treats as an opaque external collaborator: listing nodes,
// patching schedulability and taints, listing pods on a node, evicting
// pods, and deleting node objects. A concrete implementation must exist
// for the core to run against, so this package provides one atop
// k8s.io/client-go's typed clientset, built from two separate clients
// (read, write) as the concurrency model mandates.
package clusteradapter

import (
	"context"
)

// NoExecuteTaint is the standard taint key/effect applied to an
// ungracefully-shutdown node, per the source's node-shutdown convention.
const (
	NoExecuteTaintKey    = "node.kubernetes.io/out-of-service"
	NoExecuteTaintValue  = "nodeshutdown"
	NoExecuteTaintEffect = "NoExecute"
)

// PersistentNodeLabel exempts a node from reaping and scheduling control.
const PersistentNodeLabel = "ciy.persistent_node"

// Node is the minimal view of a cluster node the core touches.
type Node struct {
	Name          string
	Labels        map[string]string
	Unschedulable bool
	Ready         bool
}

// HasLabel reports whether the node carries the named label (any value).
func (n Node) HasLabel(key string) bool {
	_, ok := n.Labels[key]
	return ok
}

// Persistent reports whether this node is exempt from reaping/scheduling control.
func (n Node) Persistent() bool {
	return n.HasLabel(PersistentNodeLabel)
}

// Pod is the minimal view of a pod the drain path touches.
type Pod struct {
	Namespace      string
	Name           string
	OwnedByDaemonSet bool
}

// Taint mirrors the fields of a Kubernetes node taint.
type Taint struct {
	Key    string
	Value  string
	Effect string
}

// Adapter is the cluster-control capability the core depends on. Tests
// exercise the core against a fake implementing this interface rather than
// a live cluster.
type Adapter interface {
	// ListNodes returns every node in the cluster via the read client.
	ListNodes(ctx context.Context) ([]Node, error)

	// PatchUnschedulable sets spec.unschedulable on name via the write client.
	PatchUnschedulable(ctx context.Context, name string, unschedulable bool) error

	// PatchTaints replaces spec.taints on name via the write client.
	PatchTaints(ctx context.Context, name string, taints []Taint) error

	// ListPodsOnNode lists pods scheduled onto name via the write client
	// (used only from the drain path, isolated from list/patch traffic).
	ListPodsOnNode(ctx context.Context, name string) ([]Pod, error)

	// EvictPod creates an eviction for the named pod via the write client.
	EvictPod(ctx context.Context, namespace, name string) error

	// DeleteNode deletes the node object via the write client.
	DeleteNode(ctx context.Context, name string) error

	// GetKubeconfigFile returns the raw kubeconfig bytes served by the
	// cluster_access passthrough endpoint.
	GetKubeconfigFile(ctx context.Context) ([]byte, error)
}
