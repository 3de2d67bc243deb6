package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/hyperbola/sessiond/pkg/log"
	"github.com/hyperbola/sessiond/pkg/types"
)

// Client wraps the Kubernetes API for the object kinds a session owns:
// deployment, service, ingress, persistent volume claim, batch job, and
// the KEDA custom objects for autoscaler profiles.
//
// Deletions treat "not found" as success so the teardown path is
// idempotent end to end.
type Client struct {
	kube      kubernetes.Interface
	dyn       dynamic.Interface
	namespace string
}

// New discovers credentials and builds a client. In-cluster credentials
// are tried first, then the local kubeconfig. Failure of both is fatal
// to the caller: without an orchestrator there is nothing to control.
func New(namespace string) (*Client, error) {
	logger := log.WithComponent("orchestrator")

	cfg, err := rest.InClusterConfig()
	if err == nil {
		logger.Info().Msg("Loaded in-cluster Kubernetes config")
	} else {
		kubeconfig := os.Getenv("KUBECONFIG")
		if kubeconfig == "" {
			home, herr := os.UserHomeDir()
			if herr != nil {
				return nil, fmt.Errorf("no in-cluster config and no home dir: %w", err)
			}
			kubeconfig = filepath.Join(home, ".kube", "config")
		}
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load Kubernetes config: %w", err)
		}
		logger.Info().Str("kubeconfig", kubeconfig).Msg("Loaded local Kubernetes config")
	}

	kube, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}
	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}

	return NewWithClients(kube, dyn, namespace), nil
}

// NewWithClients builds a client from pre-built clientsets. Tests pass
// fakes here.
func NewWithClients(kube kubernetes.Interface, dyn dynamic.Interface, namespace string) *Client {
	return &Client{kube: kube, dyn: dyn, namespace: namespace}
}

// Namespace returns the namespace all writes go to.
func (c *Client) Namespace() string {
	return c.namespace
}

// IsNotFound reports whether an error (possibly wrapped) is a Kubernetes
// not-found response.
func IsNotFound(err error) bool {
	return apierrors.IsNotFound(err)
}

// GetReplicas reads a deployment's desired and ready replica counts.
func (c *Client) GetReplicas(ctx context.Context, name string) (desired, ready int32, err error) {
	dep, err := c.kube.AppsV1().Deployments(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return 0, 0, err
		}
		return 0, 0, types.OrchestratorError("get deployment", err)
	}
	if dep.Spec.Replicas != nil {
		desired = *dep.Spec.Replicas
	}
	return desired, dep.Status.ReadyReplicas, nil
}

// SetReplicas patches a deployment to the given replica count.
func (c *Client) SetReplicas(ctx context.Context, name string, replicas int32) error {
	dep, err := c.kube.AppsV1().Deployments(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return types.OrchestratorError("get deployment", err)
	}
	dep.Spec.Replicas = &replicas
	if _, err := c.kube.AppsV1().Deployments(c.namespace).Update(ctx, dep, metav1.UpdateOptions{}); err != nil {
		return types.OrchestratorError("scale deployment", err)
	}
	return nil
}

// SetResources rewrites the session container's requests and limits.
// The orchestrator rolls the pod on its own.
func (c *Client) SetResources(ctx context.Context, name string, res ResourcePair) error {
	dep, err := c.kube.AppsV1().Deployments(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return types.OrchestratorError("get deployment", err)
	}
	if len(dep.Spec.Template.Spec.Containers) == 0 {
		return types.OrchestratorError("patch resources", fmt.Errorf("deployment %s has no containers", name))
	}

	requirements, err := res.requirements()
	if err != nil {
		return types.OrchestratorError("patch resources", err)
	}
	dep.Spec.Template.Spec.Containers[0].Resources = requirements

	if _, err := c.kube.AppsV1().Deployments(c.namespace).Update(ctx, dep, metav1.UpdateOptions{}); err != nil {
		return types.OrchestratorError("patch resources", err)
	}
	return nil
}

// DeleteDeployment deletes a deployment with a grace period. Not found
// is success.
func (c *Client) DeleteDeployment(ctx context.Context, name string, graceSeconds int64) error {
	err := c.kube.AppsV1().Deployments(c.namespace).Delete(ctx, name, metav1.DeleteOptions{
		GracePeriodSeconds: &graceSeconds,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return types.OrchestratorError("delete deployment", err)
	}
	return nil
}

// DeleteService deletes a service. Not found is success.
func (c *Client) DeleteService(ctx context.Context, name string) error {
	err := c.kube.CoreV1().Services(c.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return types.OrchestratorError("delete service", err)
	}
	return nil
}

// DeleteIngress deletes an ingress. Not found is success.
func (c *Client) DeleteIngress(ctx context.Context, name string) error {
	err := c.kube.NetworkingV1().Ingresses(c.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return types.OrchestratorError("delete ingress", err)
	}
	return nil
}

// DeleteClaim deletes a persistent volume claim. Not found is success.
func (c *Client) DeleteClaim(ctx context.Context, name string) error {
	err := c.kube.CoreV1().PersistentVolumeClaims(c.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return types.OrchestratorError("delete claim", err)
	}
	return nil
}

// JobState is the observable outcome of a batch job.
type JobState int

const (
	JobRunning JobState = iota
	JobSucceeded
	JobFailed
)

// GetJobState reads a job's completion state.
func (c *Client) GetJobState(ctx context.Context, name string) (JobState, error) {
	job, err := c.kube.BatchV1().Jobs(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return JobRunning, types.OrchestratorError("get job", err)
	}
	if job.Status.Succeeded > 0 {
		return JobSucceeded, nil
	}
	if job.Status.Failed > 0 {
		return JobFailed, nil
	}
	return JobRunning, nil
}

// DeleteJob deletes a batch job and its pods. Not found is success.
func (c *Client) DeleteJob(ctx context.Context, name string) error {
	policy := metav1.DeletePropagationBackground
	err := c.kube.BatchV1().Jobs(c.namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &policy,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return types.OrchestratorError("delete job", err)
	}
	return nil
}
