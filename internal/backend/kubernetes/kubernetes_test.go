package kubernetes

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/kweaver-ai/sandboxctl/internal/backend"
)

var _ = Describe("PodNameForSession", func() {
	It("derives a DNS-safe name from the session id", func() {
		Expect(PodNameForSession("sess_20260304_abcdef12")).To(Equal("sandbox-sess-20260304-abcdef12"))
	})

	It("truncates names longer than the Kubernetes object-name limit", func() {
		longID := ""
		for i := 0; i < 300; i++ {
			longID += "a"
		}
		name := PodNameForSession(longID)
		Expect(len(name)).To(Equal(maxPodNameLength))
	})
})

var _ = Describe("Backend", func() {
	var (
		clientset *fake.Clientset
		ctx       context.Context
	)

	BeforeEach(func() {
		clientset = fake.NewSimpleClientset()
		ctx = context.Background()
	})

	Describe("Create", func() {
		It("creates a Pod with a CSI-backed workspace volume", func() {
			b := New(clientset, "sandboxes", VolumeCSI, "juicefs-csi", "")
			cfg := backend.ContainerConfig{
				SessionID:    "sess_20260304_abcdef12",
				Image:        "registry.internal/sandbox/python:3.11",
				CPUCores:     "1",
				MemoryBytes:  512 << 20,
				DiskBytes:    1 << 30,
				ExecutorPort: 7000,
			}

			id, err := b.Create(ctx, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal("sandbox-sess-20260304-abcdef12"))

			pod, err := clientset.CoreV1().Pods("sandboxes").Get(ctx, id, metav1.GetOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(pod.Spec.Containers).To(HaveLen(1))
			Expect(pod.Spec.Containers[0].Image).To(Equal(cfg.Image))
			Expect(pod.Spec.InitContainers).To(BeEmpty())

			pvc, err := clientset.CoreV1().PersistentVolumeClaims("sandboxes").Get(ctx, "workspace-sess_20260304_abcdef12", metav1.GetOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(pvc.Spec.StorageClassName).NotTo(BeNil())
			Expect(*pvc.Spec.StorageClassName).To(Equal("juicefs-csi"))
		})

		It("does not recreate an existing workspace PVC", func() {
			b := New(clientset, "sandboxes", VolumeCSI, "juicefs-csi", "")
			existing := &corev1.PersistentVolumeClaim{
				ObjectMeta: metav1.ObjectMeta{Name: "workspace-sess_20260304_abcdef12", Namespace: "sandboxes"},
			}
			_, err := clientset.CoreV1().PersistentVolumeClaims("sandboxes").Create(ctx, existing, metav1.CreateOptions{})
			Expect(err).NotTo(HaveOccurred())

			cfg := backend.ContainerConfig{SessionID: "sess_20260304_abcdef12", Image: "img", CPUCores: "1", MemoryBytes: 1, ExecutorPort: 7000}
			_, err = b.Create(ctx, cfg)
			Expect(err).NotTo(HaveOccurred())
		})

		It("attaches an emptyDir volume plus an s3-mount sidecar in sidecar mode", func() {
			b := New(clientset, "sandboxes", VolumeEmptyDirSidecar, "", "registry.internal/sandbox/s3-mount:latest")
			cfg := backend.ContainerConfig{
				SessionID:    "sess_20260304_abcdef12",
				Image:        "registry.internal/sandbox/python:3.11",
				CPUCores:     "1",
				MemoryBytes:  512 << 20,
				ExecutorPort: 7000,
				WorkspacePath: "s3://bucket/sessions/sess_20260304_abcdef12/",
			}

			id, err := b.Create(ctx, cfg)
			Expect(err).NotTo(HaveOccurred())

			pod, err := clientset.CoreV1().Pods("sandboxes").Get(ctx, id, metav1.GetOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(pod.Spec.InitContainers).To(HaveLen(1))
			Expect(pod.Spec.InitContainers[0].Image).To(Equal("registry.internal/sandbox/s3-mount:latest"))
			Expect(pod.Spec.Volumes[0].EmptyDir).NotTo(BeNil())
		})

		It("rejects an invalid cpu quantity", func() {
			b := New(clientset, "sandboxes", VolumeEmptyDirSidecar, "", "")
			cfg := backend.ContainerConfig{SessionID: "sess_20260304_abcdef12", Image: "img", CPUCores: "not-a-quantity", ExecutorPort: 7000}
			_, err := b.Create(ctx, cfg)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Stop and Remove", func() {
		It("deletes the pod on Stop", func() {
			b := New(clientset, "sandboxes", VolumeEmptyDirSidecar, "", "")
			pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "sandbox-x", Namespace: "sandboxes"}}
			_, err := clientset.CoreV1().Pods("sandboxes").Create(ctx, pod, metav1.CreateOptions{})
			Expect(err).NotTo(HaveOccurred())

			Expect(b.Stop(ctx, "sandbox-x", 0)).To(Succeed())
			_, err = clientset.CoreV1().Pods("sandboxes").Get(ctx, "sandbox-x", metav1.GetOptions{})
			Expect(err).To(HaveOccurred())
		})

		It("removes both the pod and its workspace PVC", func() {
			b := New(clientset, "sandboxes", VolumeCSI, "juicefs-csi", "")
			pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "sandbox-sess-x", Namespace: "sandboxes"}}
			pvc := &corev1.PersistentVolumeClaim{ObjectMeta: metav1.ObjectMeta{Name: "workspace-sess-x", Namespace: "sandboxes"}}
			_, err := clientset.CoreV1().Pods("sandboxes").Create(ctx, pod, metav1.CreateOptions{})
			Expect(err).NotTo(HaveOccurred())
			_, err = clientset.CoreV1().PersistentVolumeClaims("sandboxes").Create(ctx, pvc, metav1.CreateOptions{})
			Expect(err).NotTo(HaveOccurred())

			Expect(b.Remove(ctx, "sandbox-sess-x")).To(Succeed())
			_, err = clientset.CoreV1().Pods("sandboxes").Get(ctx, "sandbox-sess-x", metav1.GetOptions{})
			Expect(err).To(HaveOccurred())
			_, err = clientset.CoreV1().PersistentVolumeClaims("sandboxes").Get(ctx, "workspace-sess-x", metav1.GetOptions{})
			Expect(err).To(HaveOccurred())
		})

		It("tolerates removing a pod that no longer exists", func() {
			b := New(clientset, "sandboxes", VolumeEmptyDirSidecar, "", "")
			Expect(b.Remove(ctx, "missing")).To(Succeed())
		})
	})

	Describe("Inspect and IsRunning", func() {
		It("reports a running pod", func() {
			b := New(clientset, "sandboxes", VolumeEmptyDirSidecar, "", "")
			pod := &corev1.Pod{
				ObjectMeta: metav1.ObjectMeta{Name: "sandbox-run", Namespace: "sandboxes"},
				Status:     corev1.PodStatus{Phase: corev1.PodRunning},
			}
			_, err := clientset.CoreV1().Pods("sandboxes").Create(ctx, pod, metav1.CreateOptions{})
			Expect(err).NotTo(HaveOccurred())

			status, err := b.Inspect(ctx, "sandbox-run")
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Running).To(BeTrue())
			Expect(status.ExitCode).To(BeNil())

			running, err := b.IsRunning(ctx, "sandbox-run")
			Expect(err).NotTo(HaveOccurred())
			Expect(running).To(BeTrue())
		})

		It("surfaces the exit code of a failed pod", func() {
			b := New(clientset, "sandboxes", VolumeEmptyDirSidecar, "", "")
			pod := &corev1.Pod{
				ObjectMeta: metav1.ObjectMeta{Name: "sandbox-failed", Namespace: "sandboxes"},
				Status: corev1.PodStatus{
					Phase: corev1.PodFailed,
					ContainerStatuses: []corev1.ContainerStatus{
						{State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{ExitCode: 137}}},
					},
				},
			}
			_, err := clientset.CoreV1().Pods("sandboxes").Create(ctx, pod, metav1.CreateOptions{})
			Expect(err).NotTo(HaveOccurred())

			status, err := b.Inspect(ctx, "sandbox-failed")
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Running).To(BeFalse())
			Expect(status.ExitCode).NotTo(BeNil())
			Expect(*status.ExitCode).To(Equal(137))
		})

		It("reports not-running without error for a missing pod", func() {
			b := New(clientset, "sandboxes", VolumeEmptyDirSidecar, "", "")
			running, err := b.IsRunning(ctx, "missing")
			Expect(err).NotTo(HaveOccurred())
			Expect(running).To(BeFalse())
		})
	})

	Describe("Ping", func() {
		It("succeeds when the namespace exists", func() {
			ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "sandboxes"}}
			_, err := clientset.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
			Expect(err).NotTo(HaveOccurred())

			b := New(clientset, "sandboxes", VolumeEmptyDirSidecar, "", "")
			Expect(b.Ping(ctx)).To(Succeed())
		})

		It("fails when the namespace is absent", func() {
			b := New(clientset, "missing-namespace", VolumeEmptyDirSidecar, "", "")
			Expect(b.Ping(ctx)).To(HaveOccurred())
		})
	})
})
