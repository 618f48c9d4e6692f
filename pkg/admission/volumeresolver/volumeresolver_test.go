package volumeresolver_test

import (
	"context"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuro-inc/platform-storage-api/pkg/admission/volumeresolver"
	"github.com/neuro-inc/platform-storage-api/pkg/storage/pathresolver"
)

func hostPathTypeDir() *corev1.HostPathType {
	t := corev1.HostPathDirectory
	return &t
}

func TestNewResolvesHostPathVolume(t *testing.T) {
	ctx := context.Background()
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "platform-storage-api-0", Namespace: "ns"},
		Spec: corev1.PodSpec{
			Volumes: []corev1.Volume{
				{
					Name: "data",
					VolumeSource: corev1.VolumeSource{
						HostPath: &corev1.HostPathVolumeSource{Path: "/mnt/storage", Type: hostPathTypeDir()},
					},
				},
			},
			Containers: []corev1.Container{
				{
					Name: "api",
					VolumeMounts: []corev1.VolumeMount{
						{Name: "data", MountPath: "/var/storage"},
					},
				},
			},
		},
	}
	client := fake.NewSimpleClientset(pod)

	r, err := volumeresolver.New(ctx, client, pathresolver.SingleRoot{BasePath: "/var/storage"}, "ns", "platform-storage-api-0")
	require.NoError(t, err)

	mount, err := r.Resolve("/u/proj/data.txt")
	require.NoError(t, err)
	assert.Equal(t, volumeresolver.BackendHostPath, mount.Volume.Backend())
	assert.Equal(t, "u/proj/data.txt", mount.SubPath)
}

func TestNewResolvesNFSBackedPVC(t *testing.T) {
	ctx := context.Background()
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "api-0", Namespace: "ns"},
		Spec: corev1.PodSpec{
			Volumes: []corev1.Volume{
				{
					Name: "data",
					VolumeSource: corev1.VolumeSource{
						PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: "data-pvc"},
					},
				},
			},
			Containers: []corev1.Container{
				{Name: "api", VolumeMounts: []corev1.VolumeMount{{Name: "data", MountPath: "/var/storage"}}},
			},
		},
	}
	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: "data-pvc", Namespace: "ns"},
		Spec:       corev1.PersistentVolumeClaimSpec{VolumeName: "pv-data"},
	}
	pv := &corev1.PersistentVolume{
		ObjectMeta: metav1.ObjectMeta{Name: "pv-data"},
		Spec: corev1.PersistentVolumeSpec{
			PersistentVolumeSource: corev1.PersistentVolumeSource{
				NFS: &corev1.NFSVolumeSource{Server: "10.0.0.1", Path: "/export/storage"},
			},
		},
	}
	client := fake.NewSimpleClientset(pod, pvc, pv)

	r, err := volumeresolver.New(ctx, client, pathresolver.SingleRoot{BasePath: "/var/storage"}, "ns", "api-0")
	require.NoError(t, err)

	mount, err := r.Resolve("/u/proj")
	require.NoError(t, err)
	assert.Equal(t, volumeresolver.BackendNFS, mount.Volume.Backend())
	nfs, ok := mount.Volume.(volumeresolver.NFSVolumeSpec)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", nfs.Server)
	assert.Equal(t, "/export/storage", nfs.Path)
}

func TestNewFailsWithNoEligibleVolumes(t *testing.T) {
	ctx := context.Background()
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "api-0", Namespace: "ns"},
		Spec:       corev1.PodSpec{},
	}
	client := fake.NewSimpleClientset(pod)

	_, err := volumeresolver.New(ctx, client, pathresolver.SingleRoot{BasePath: "/var/storage"}, "ns", "api-0")
	assert.Error(t, err)
}

func TestResolveFailsWithoutMatchingPrefix(t *testing.T) {
	ctx := context.Background()
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "api-0", Namespace: "ns"},
		Spec: corev1.PodSpec{
			Volumes: []corev1.Volume{
				{Name: "data", VolumeSource: corev1.VolumeSource{HostPath: &corev1.HostPathVolumeSource{Path: "/mnt"}}},
			},
			Containers: []corev1.Container{
				{Name: "api", VolumeMounts: []corev1.VolumeMount{{Name: "data", MountPath: "/var/storage"}}},
			},
		},
	}
	client := fake.NewSimpleClientset(pod)
	r, err := volumeresolver.New(ctx, client, pathresolver.SingleRoot{BasePath: "/other"}, "ns", "api-0")
	require.NoError(t, err)

	_, err = r.Resolve("/u/proj")
	assert.ErrorIs(t, err, volumeresolver.ErrNotResolvable)
}

func TestToKubeRendersBackendKey(t *testing.T) {
	fields := volumeresolver.ToKube(volumeresolver.NFSVolumeSpec{Server: "s", Path: "/p"})
	nfs, ok := fields["nfs"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "s", nfs["server"])
	assert.Equal(t, "/p", nfs["path"])
}
