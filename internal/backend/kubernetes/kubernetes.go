// Package kubernetes implements the backend.ContainerBackend port against
// a Kubernetes cluster: each sandbox container is a single-container Pod,
// created and destroyed directly by the scheduler rather than through a
// CRD/controller loop.
package kubernetes

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/kweaver-ai/sandboxctl/internal/backend"
)

const (
	executorPortName = "executor"
	// maxPodNameLength mirrors the Kubernetes object-name limit; pod names
	// are additionally required to be DNS-safe (lowercase alphanumeric
	// and '-').
	maxPodNameLength = 253
)

var dnsUnsafe = regexp.MustCompile(`[^a-z0-9-]+`)

// PodNameForSession derives the DNS-safe, length-bounded Pod name for a
// session, using the `sandbox-<session id>` naming convention.
func PodNameForSession(sessionID string) string {
	name := "sandbox-" + dnsUnsafe.ReplaceAllString(sessionID, "-")
	if len(name) > maxPodNameLength {
		name = name[:maxPodNameLength]
	}
	return name
}

// VolumeMode selects how a session's workspace is attached to its Pod.
type VolumeMode int

const (
	// VolumeCSI mounts a ReadWriteMany PVC backed by the JuiceFS CSI
	// driver, named workspace-<session id>.
	VolumeCSI VolumeMode = iota
	// VolumeEmptyDirSidecar uses a plain emptyDir plus a privileged
	// s3-mount FUSE sidecar that can also run the pre-mount dependency
	// install step.
	VolumeEmptyDirSidecar
)

// Backend implements backend.ContainerBackend against Kubernetes Pods.
type Backend struct {
	clientset    kubernetes.Interface
	namespace    string
	volumeMode   VolumeMode
	csiDriver    string
	sidecarImage string
}

// New builds a Backend from an already-constructed clientset (composition
// root wires in-cluster or kubeconfig auth; tests wire a fake clientset).
func New(clientset kubernetes.Interface, namespace string, volumeMode VolumeMode, csiDriver, sidecarImage string) *Backend {
	return &Backend{clientset: clientset, namespace: namespace, volumeMode: volumeMode, csiDriver: csiDriver, sidecarImage: sidecarImage}
}

func (b *Backend) Create(ctx context.Context, cfg backend.ContainerConfig) (string, error) {
	podName := PodNameForSession(cfg.SessionID)

	cpuQty, err := resource.ParseQuantity(cfg.CPUCores)
	if err != nil {
		return "", fmt.Errorf("invalid cpu quantity %q: %w", cfg.CPUCores, err)
	}
	memQty := *resource.NewQuantity(cfg.MemoryBytes, resource.BinarySI)

	env := make([]corev1.EnvVar, 0, len(cfg.EnvVars))
	for k, v := range cfg.EnvVars {
		env = append(env, corev1.EnvVar{Name: k, Value: v})
	}

	labels := map[string]string{
		"app":                  "sandbox-executor",
		"sandbox-session":      cfg.SessionID,
		"sandbox-type":         "execution",
	}
	for k, v := range cfg.Labels {
		labels[k] = v
	}

	runAsUser := int64(1000)
	runAsGroup := int64(1000)
	falseVal := false

	container := corev1.Container{
		Name:  "executor",
		Image: cfg.Image,
		Env:   env,
		Ports: []corev1.ContainerPort{{Name: executorPortName, ContainerPort: int32(cfg.ExecutorPort)}},
		Resources: corev1.ResourceRequirements{
			// Requests == limits, per the fixed-capacity sandbox contract.
			Requests: corev1.ResourceList{corev1.ResourceCPU: cpuQty, corev1.ResourceMemory: memQty},
			Limits:   corev1.ResourceList{corev1.ResourceCPU: cpuQty, corev1.ResourceMemory: memQty},
		},
		SecurityContext: &corev1.SecurityContext{
			RunAsUser:                &runAsUser,
			RunAsGroup:               &runAsGroup,
			RunAsNonRoot:             boolPtr(true),
			AllowPrivilegeEscalation: &falseVal,
			Capabilities:             &corev1.Capabilities{Drop: []corev1.Capability{"ALL"}},
		},
		VolumeMounts: []corev1.VolumeMount{{Name: "workspace", MountPath: "/workspace"}},
	}

	var volumes []corev1.Volume
	var initContainers []corev1.Container

	switch b.volumeMode {
	case VolumeCSI:
		pvcName := fmt.Sprintf("workspace-%s", cfg.SessionID)
		if err := b.ensureWorkspacePVC(ctx, pvcName, cfg); err != nil {
			return "", err
		}
		labels["csi-driver"] = b.csiDriver
		volumes = append(volumes, corev1.Volume{
			Name: "workspace",
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: pvcName},
			},
		})
	case VolumeEmptyDirSidecar:
		volumes = append(volumes, corev1.Volume{Name: "workspace", VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}}})
		privileged := true
		// restartPolicy Always makes this init container a native sidecar:
		// it keeps running beside the executor instead of having to exit
		// before the executor starts.
		always := corev1.ContainerRestartPolicyAlways
		sidecar := corev1.Container{
			Name:          "s3-mount",
			Image:         b.sidecarImage,
			RestartPolicy: &always,
			Env:   append(env, corev1.EnvVar{Name: "WORKSPACE_PATH", Value: cfg.WorkspacePath}, corev1.EnvVar{Name: "DEPENDENCY_SPECS", Value: cfg.DependencySpecsJSON}),
			SecurityContext: &corev1.SecurityContext{
				Privileged: &privileged,
			},
			VolumeMounts: []corev1.VolumeMount{{Name: "workspace", MountPath: "/workspace", MountPropagation: mountPropagationPtr(corev1.MountPropagationBidirectional)}},
		}
		initContainers = append(initContainers, sidecar)
	}

	gracePeriod := int64(30)
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName,
			Namespace: b.namespace,
			Labels:    labels,
		},
		Spec: corev1.PodSpec{
			RestartPolicy:                 corev1.RestartPolicyNever,
			TerminationGracePeriodSeconds: &gracePeriod,
			Containers:                    []corev1.Container{container},
			InitContainers:                initContainers,
			Volumes:                       volumes,
			SecurityContext: &corev1.PodSecurityContext{
				RunAsUser:    &runAsUser,
				RunAsGroup:   &runAsGroup,
				RunAsNonRoot: boolPtr(true),
			},
		},
	}

	created, err := b.clientset.CoreV1().Pods(b.namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return "", fmt.Errorf("create pod %s: %w", podName, err)
	}
	return created.Name, nil
}

func (b *Backend) ensureWorkspacePVC(ctx context.Context, pvcName string, cfg backend.ContainerConfig) error {
	_, err := b.clientset.CoreV1().PersistentVolumeClaims(b.namespace).Get(ctx, pvcName, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("get pvc %s: %w", pvcName, err)
	}

	storage := resource.NewQuantity(cfg.DiskBytes, resource.BinarySI)
	storageClass := b.csiDriver
	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: pvcName, Namespace: b.namespace},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes:      []corev1.PersistentVolumeAccessMode{corev1.ReadWriteMany},
			StorageClassName: &storageClass,
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: *storage},
			},
		},
	}
	if _, err := b.clientset.CoreV1().PersistentVolumeClaims(b.namespace).Create(ctx, pvc, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("create pvc %s: %w", pvcName, err)
	}
	return nil
}

func (b *Backend) Start(ctx context.Context, containerID string) error {
	// Pods start running as soon as they're scheduled; there is no
	// separate start step on this backend.
	return nil
}

func (b *Backend) Stop(ctx context.Context, containerID string, gracePeriod time.Duration) error {
	seconds := int64(gracePeriod.Seconds())
	return b.clientset.CoreV1().Pods(b.namespace).Delete(ctx, containerID, metav1.DeleteOptions{GracePeriodSeconds: &seconds})
}

func (b *Backend) Remove(ctx context.Context, containerID string) error {
	// The PVC is named after the raw session id (see Create), which the
	// DNS-safe pod name no longer carries; read it from the pod's label.
	pvcName := fmt.Sprintf("workspace-%s", pvcSuffix(containerID))
	if pod, err := b.clientset.CoreV1().Pods(b.namespace).Get(ctx, containerID, metav1.GetOptions{}); err == nil {
		if sessionID := pod.Labels["sandbox-session"]; sessionID != "" {
			pvcName = fmt.Sprintf("workspace-%s", sessionID)
		}
	}
	zero := int64(0)
	if err := b.clientset.CoreV1().Pods(b.namespace).Delete(ctx, containerID, metav1.DeleteOptions{GracePeriodSeconds: &zero}); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete pod %s: %w", containerID, err)
	}
	if err := b.clientset.CoreV1().PersistentVolumeClaims(b.namespace).Delete(ctx, pvcName, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete pvc %s: %w", pvcName, err)
	}
	return nil
}

func (b *Backend) Inspect(ctx context.Context, containerID string) (backend.ContainerStatus, error) {
	pod, err := b.clientset.CoreV1().Pods(b.namespace).Get(ctx, containerID, metav1.GetOptions{})
	if err != nil {
		return backend.ContainerStatus{}, fmt.Errorf("get pod %s: %w", containerID, err)
	}
	status := backend.ContainerStatus{
		ID:        pod.Name,
		Running:   pod.Status.Phase == corev1.PodRunning,
		HostOrPod: pod.Name,
	}
	if pod.Status.Phase == corev1.PodFailed || pod.Status.Phase == corev1.PodSucceeded {
		for _, cs := range pod.Status.ContainerStatuses {
			if cs.State.Terminated != nil {
				code := int(cs.State.Terminated.ExitCode)
				status.ExitCode = &code
			}
		}
	}
	if pod.Status.StartTime != nil {
		status.StartedAt = pod.Status.StartTime.Time
	}
	return status, nil
}

func (b *Backend) IsRunning(ctx context.Context, containerID string) (bool, error) {
	pod, err := b.clientset.CoreV1().Pods(b.namespace).Get(ctx, containerID, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("get pod %s: %w", containerID, err)
	}
	return pod.Status.Phase == corev1.PodRunning, nil
}

func (b *Backend) Logs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	req := b.clientset.CoreV1().Pods(b.namespace).GetLogs(containerID, &corev1.PodLogOptions{Container: "executor"})
	return req.Stream(ctx)
}

func (b *Backend) Wait(ctx context.Context, containerID string) (int, error) {
	for {
		status, err := b.Inspect(ctx, containerID)
		if err != nil {
			return 0, err
		}
		if status.ExitCode != nil {
			return *status.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (b *Backend) Ping(ctx context.Context) error {
	_, err := b.clientset.CoreV1().Namespaces().Get(ctx, b.namespace, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("ping kubernetes api: %w", err)
	}
	return nil
}

func boolPtr(v bool) *bool { return &v }

func mountPropagationPtr(m corev1.MountPropagationMode) *corev1.MountPropagationMode { return &m }

func pvcSuffix(podName string) string {
	const prefix = "sandbox-"
	if len(podName) > len(prefix) && podName[:len(prefix)] == prefix {
		return podName[len(prefix):]
	}
	return podName
}
