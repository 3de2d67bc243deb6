package orchestrator

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/hyperbola/sessiond/pkg/types"
)

// EnvVar is one environment variable for the session container.
// A slice keeps manifest output deterministic.
type EnvVar struct {
	Name  string
	Value string
}

// Mount is one sub-path of the session claim inside the container.
type Mount struct {
	Path    string
	SubPath string
}

// ResourcePair holds request/limit quantities as strings, parsed when
// the manifest is built.
type ResourcePair struct {
	RequestMemory string
	RequestCPU    string
	LimitMemory   string
	LimitCPU      string
}

func (r ResourcePair) requirements() (corev1.ResourceRequirements, error) {
	parse := func(q string) (resource.Quantity, error) {
		return resource.ParseQuantity(q)
	}
	reqMem, err := parse(r.RequestMemory)
	if err != nil {
		return corev1.ResourceRequirements{}, fmt.Errorf("invalid request memory: %w", err)
	}
	reqCPU, err := parse(r.RequestCPU)
	if err != nil {
		return corev1.ResourceRequirements{}, fmt.Errorf("invalid request cpu: %w", err)
	}
	limMem, err := parse(r.LimitMemory)
	if err != nil {
		return corev1.ResourceRequirements{}, fmt.Errorf("invalid limit memory: %w", err)
	}
	limCPU, err := parse(r.LimitCPU)
	if err != nil {
		return corev1.ResourceRequirements{}, fmt.Errorf("invalid limit cpu: %w", err)
	}
	return corev1.ResourceRequirements{
		Requests: corev1.ResourceList{
			corev1.ResourceMemory: reqMem,
			corev1.ResourceCPU:    reqCPU,
		},
		Limits: corev1.ResourceList{
			corev1.ResourceMemory: limMem,
			corev1.ResourceCPU:    limCPU,
		},
	}, nil
}

// WorkloadSpec describes the per-session deployment.
type WorkloadSpec struct {
	Name        string
	Labels      map[string]string
	SelectorApp string
	Image       string
	Port        int32
	Replicas    int32
	Env         []EnvVar
	Resources   ResourcePair
	ClaimName   string
	Mounts      []Mount
}

// CreateDeployment creates the session workload with a single volume
// bound to the session claim, mounted at each configured sub-path.
func (c *Client) CreateDeployment(ctx context.Context, spec WorkloadSpec) error {
	requirements, err := spec.Resources.requirements()
	if err != nil {
		return types.OrchestratorError("create deployment", err)
	}

	env := make([]corev1.EnvVar, 0, len(spec.Env))
	for _, e := range spec.Env {
		env = append(env, corev1.EnvVar{Name: e.Name, Value: e.Value})
	}

	mounts := make([]corev1.VolumeMount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, corev1.VolumeMount{
			Name:      "storage",
			MountPath: m.Path,
			SubPath:   m.SubPath,
		})
	}

	podLabels := map[string]string{"app": spec.SelectorApp}
	for k, v := range spec.Labels {
		podLabels[k] = v
	}

	replicas := spec.Replicas
	dep := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: c.namespace,
			Labels:    spec.Labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{"app": spec.SelectorApp},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: podLabels,
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:  "user-pod",
							Image: spec.Image,
							Ports: []corev1.ContainerPort{
								{ContainerPort: spec.Port, Protocol: corev1.ProtocolTCP},
							},
							Env:          env,
							Resources:    requirements,
							VolumeMounts: mounts,
						},
					},
					Volumes: []corev1.Volume{
						{
							Name: "storage",
							VolumeSource: corev1.VolumeSource{
								PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
									ClaimName: spec.ClaimName,
								},
							},
						},
					},
				},
			},
		},
	}

	if _, err := c.kube.AppsV1().Deployments(c.namespace).Create(ctx, dep, metav1.CreateOptions{}); err != nil {
		return types.OrchestratorError("create deployment", err)
	}
	return nil
}

// ServiceSpec describes the session's internal endpoint.
type ServiceSpec struct {
	Name        string
	Labels      map[string]string
	SelectorApp string
	TargetPort  int32
}

// CreateService creates the ClusterIP service fronting the session pod
// on port 80.
func (c *Client) CreateService(ctx context.Context, spec ServiceSpec) error {
	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: c.namespace,
			Labels:    spec.Labels,
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: map[string]string{"app": spec.SelectorApp},
			Ports: []corev1.ServicePort{
				{
					Port:       80,
					TargetPort: intstr.FromInt32(spec.TargetPort),
					Protocol:   corev1.ProtocolTCP,
				},
			},
		},
	}

	if _, err := c.kube.CoreV1().Services(c.namespace).Create(ctx, svc, metav1.CreateOptions{}); err != nil {
		return types.OrchestratorError("create service", err)
	}
	return nil
}

// IngressSpec describes the externally routable entry for a session.
type IngressSpec struct {
	Name        string
	Labels      map[string]string
	Host        string
	ServiceName string
	TLSSecret   string
}

// CreateIngress creates the nginx ingress with automatic certificate
// issuance requested via the cert-manager annotation.
func (c *Client) CreateIngress(ctx context.Context, spec IngressSpec) error {
	pathType := networkingv1.PathTypePrefix
	ingressClass := "nginx"

	ing := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: c.namespace,
			Labels:    spec.Labels,
			Annotations: map[string]string{
				"cert-manager.io/cluster-issuer": "letsencrypt-prod",
			},
		},
		Spec: networkingv1.IngressSpec{
			IngressClassName: &ingressClass,
			Rules: []networkingv1.IngressRule{
				{
					Host: spec.Host,
					IngressRuleValue: networkingv1.IngressRuleValue{
						HTTP: &networkingv1.HTTPIngressRuleValue{
							Paths: []networkingv1.HTTPIngressPath{
								{
									Path:     "/",
									PathType: &pathType,
									Backend: networkingv1.IngressBackend{
										Service: &networkingv1.IngressServiceBackend{
											Name: spec.ServiceName,
											Port: networkingv1.ServiceBackendPort{Number: 80},
										},
									},
								},
							},
						},
					},
				},
			},
			TLS: []networkingv1.IngressTLS{
				{
					Hosts:      []string{spec.Host},
					SecretName: spec.TLSSecret,
				},
			},
		},
	}

	if _, err := c.kube.NetworkingV1().Ingresses(c.namespace).Create(ctx, ing, metav1.CreateOptions{}); err != nil {
		return types.OrchestratorError("create ingress", err)
	}
	return nil
}

// ClaimSpec describes the session's persistent volume claim.
type ClaimSpec struct {
	Name   string
	Labels map[string]string
	Size   string
}

// CreateClaim creates the ReadWriteOnce claim backing every mount of the
// session pod.
func (c *Client) CreateClaim(ctx context.Context, spec ClaimSpec) error {
	size, err := resource.ParseQuantity(spec.Size)
	if err != nil {
		return types.OrchestratorError("create claim", fmt.Errorf("invalid claim size: %w", err))
	}

	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: c.namespace,
			Labels:    spec.Labels,
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: size,
				},
			},
		},
	}

	if _, err := c.kube.CoreV1().PersistentVolumeClaims(c.namespace).Create(ctx, pvc, metav1.CreateOptions{}); err != nil {
		return types.OrchestratorError("create claim", err)
	}
	return nil
}

// BackupJobSpec describes the pre-deletion archive job.
type BackupJobSpec struct {
	Name         string
	Labels       map[string]string
	Image        string
	SessionClaim string
	BackupClaim  string
	ArchiveName  string
}

// CreateBackupJob creates a short-lived job that zips the session's
// workspace into the shared backup claim. The job deletes itself 300
// seconds after completion.
func (c *Client) CreateBackupJob(ctx context.Context, spec BackupJobSpec) error {
	ttl := int32(300)
	backoff := int32(1)

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: c.namespace,
			Labels:    spec.Labels,
		},
		Spec: batchv1.JobSpec{
			TTLSecondsAfterFinished: &ttl,
			BackoffLimit:            &backoff,
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:    "backup",
							Image:   spec.Image,
							Command: []string{"sh", "-c"},
							Args: []string{
								fmt.Sprintf("apk add --no-cache zip >/dev/null && cd /app && zip -qr /backup/%s .", spec.ArchiveName),
							},
							VolumeMounts: []corev1.VolumeMount{
								{Name: "session-data", MountPath: "/app", ReadOnly: true},
								{Name: "backup-data", MountPath: "/backup"},
							},
						},
					},
					Volumes: []corev1.Volume{
						{
							Name: "session-data",
							VolumeSource: corev1.VolumeSource{
								PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
									ClaimName: spec.SessionClaim,
									ReadOnly:  true,
								},
							},
						},
						{
							Name: "backup-data",
							VolumeSource: corev1.VolumeSource{
								PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
									ClaimName: spec.BackupClaim,
								},
							},
						},
					},
				},
			},
		},
	}

	if _, err := c.kube.BatchV1().Jobs(c.namespace).Create(ctx, job, metav1.CreateOptions{}); err != nil {
		return types.OrchestratorError("create backup job", err)
	}
	return nil
}
