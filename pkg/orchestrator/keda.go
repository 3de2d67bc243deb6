package orchestrator

import (
	"context"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/hyperbola/sessiond/pkg/types"
)

// KEDA custom resources for scale-to-zero profiles. The scaler watches
// the session's wake queue; a non-empty queue scales the deployment
// from zero.

var (
	scaledObjectGVR = schema.GroupVersionResource{
		Group: "keda.sh", Version: "v1alpha1", Resource: "scaledobjects",
	}
	triggerAuthGVR = schema.GroupVersionResource{
		Group: "keda.sh", Version: "v1alpha1", Resource: "triggerauthentications",
	}
)

// ScaledObjectSpec describes the per-session KEDA scaler.
type ScaledObjectSpec struct {
	Name            string
	DeploymentName  string
	QueueKey        string
	RedisAddress    string
	TriggerAuthName string
}

// CreateScaledObject creates the KEDA ScaledObject watching the wake queue.
func (c *Client) CreateScaledObject(ctx context.Context, spec ScaledObjectSpec) error {
	obj := &unstructured.Unstructured{
		Object: map[string]any{
			"apiVersion": "keda.sh/v1alpha1",
			"kind":       "ScaledObject",
			"metadata": map[string]any{
				"name":      spec.Name,
				"namespace": c.namespace,
			},
			"spec": map[string]any{
				"scaleTargetRef":   map[string]any{"name": spec.DeploymentName},
				"minReplicaCount":  int64(0),
				"maxReplicaCount":  int64(1),
				"pollingInterval":  int64(30),
				"cooldownPeriod":   int64(120),
				"idleReplicaCount": int64(0),
				"triggers": []any{
					map[string]any{
						"type": "redis",
						"metadata": map[string]any{
							"address":              spec.RedisAddress,
							"listName":             spec.QueueKey,
							"listLength":           "1",
							"activationListLength": "1",
							"passwordFromEnv":      "REDIS_PASSWORD",
						},
						"authenticationRef": map[string]any{
							"name": spec.TriggerAuthName,
						},
					},
				},
			},
		},
	}

	if _, err := c.dyn.Resource(scaledObjectGVR).Namespace(c.namespace).Create(ctx, obj, metav1.CreateOptions{}); err != nil {
		return types.OrchestratorError("create scaled object", err)
	}
	return nil
}

// CreateTriggerAuthentication creates the per-session credential
// reference the scaler uses to read the wake queue.
func (c *Client) CreateTriggerAuthentication(ctx context.Context, name string) error {
	obj := &unstructured.Unstructured{
		Object: map[string]any{
			"apiVersion": "keda.sh/v1alpha1",
			"kind":       "TriggerAuthentication",
			"metadata": map[string]any{
				"name":      name,
				"namespace": c.namespace,
			},
			"spec": map[string]any{
				"secretTargetRef": []any{
					map[string]any{
						"parameter": "password",
						"name":      "redis-credentials",
						"key":       "password",
					},
				},
			},
		},
	}

	if _, err := c.dyn.Resource(triggerAuthGVR).Namespace(c.namespace).Create(ctx, obj, metav1.CreateOptions{}); err != nil {
		return types.OrchestratorError("create trigger authentication", err)
	}
	return nil
}

// DeleteScaledObject deletes the session's scaler. Not found is success.
func (c *Client) DeleteScaledObject(ctx context.Context, name string) error {
	err := c.dyn.Resource(scaledObjectGVR).Namespace(c.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return types.OrchestratorError("delete scaled object", err)
	}
	return nil
}

// DeleteTriggerAuthentication deletes the session's trigger credential.
// Not found is success.
func (c *Client) DeleteTriggerAuthentication(ctx context.Context, name string) error {
	err := c.dyn.Resource(triggerAuthGVR).Namespace(c.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return types.OrchestratorError("delete trigger authentication", err)
	}
	return nil
}
