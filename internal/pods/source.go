package pods

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/clusterdata"
)

// DataType is the cluster_data type under which agents publish pod lists.
const DataType = "pods"

// RowLister reads cluster_data rows.
type RowLister interface {
	List(ctx context.Context, q clusterdata.Query) ([]clusterdata.Row, error)
}

// Result is a pod listing plus whatever had to be quarantined.
type Result struct {
	Pods        []Pod
	Quarantined []Quarantined
}

// FromClusterData reads the newest pods blob published for clusterID.
func FromClusterData(ctx context.Context, rows RowLister, clusterID string) (Result, error) {
	log := slog.Default().With("component", "pods")

	list, err := rows.List(ctx, clusterdata.Query{Type: DataType, ClusterID: clusterID, Limit: 1})
	if err != nil {
		return Result{}, err
	}
	if len(list) == 0 {
		return Result{Pods: []Pod{}}, nil
	}

	pods, quarantined, err := Parse(list[0].Data)
	if err != nil {
		return Result{}, fmt.Errorf("cluster_data row %s: %w", list[0].ID, err)
	}
	for _, q := range quarantined {
		log.Warn("quarantined pod record", "cluster", clusterID, "row", list[0].ID, "index", q.Index, "reason", q.Reason)
	}
	return Result{Pods: pods, Quarantined: quarantined}, nil
}

// Lister reads pods live from a cluster.
type Lister struct {
	clientset kubernetes.Interface
}

// NewLister wraps a clientset.
func NewLister(clientset kubernetes.Interface) *Lister {
	return &Lister{clientset: clientset}
}

// List returns the pods in namespace ("" for all namespaces).
func (l *Lister) List(ctx context.Context, namespace string) ([]Pod, error) {
	list, err := l.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list pods: %w", err)
	}
	out := make([]Pod, 0, len(list.Items))
	for _, p := range list.Items {
		out = append(out, fromAPI(p))
	}
	return out, nil
}

func fromAPI(p corev1.Pod) Pod {
	pod := Pod{
		Name:       p.Name,
		Namespace:  p.Namespace,
		Phase:      string(p.Status.Phase),
		NodeName:   p.Spec.NodeName,
		Containers: make([]Container, 0, len(p.Spec.Containers)),
	}
	statuses := make(map[string]corev1.ContainerStatus, len(p.Status.ContainerStatuses))
	for _, cs := range p.Status.ContainerStatuses {
		statuses[cs.Name] = cs
	}
	// containers without a reported status yet are not ready and have not restarted
	for _, c := range p.Spec.Containers {
		cs := statuses[c.Name]
		pod.Containers = append(pod.Containers, Container{
			Name:         c.Name,
			Ready:        cs.Ready,
			RestartCount: int(cs.RestartCount),
		})
	}
	return pod
}

// NewClientset builds a clientset from kubeconfig, falling back to the
// in-cluster config and then to $KUBECONFIG or ~/.kube/config.
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	cfg, err := restConfig(kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("kubernetes config: %w", err)
	}
	return kubernetes.NewForConfig(cfg)
}

func restConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	kubeconfig = os.Getenv("KUBECONFIG")
	if kubeconfig == "" {
		home, _ := os.UserHomeDir()
		kubeconfig = filepath.Join(home, ".kube", "config")
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}
