// Package volumeresolver discovers, at admission-webhook startup, which
// Kubernetes volumes are mounted into the webhook's own pod and maps their
// in-container mount paths onto the logical storage tree, so a later
// admission request's storage_uri can be resolved to a concrete Kubernetes
// volume to inject into the target pod. Grounded on
// original_source/src/platform_storage_api/admission_controller/volume_resolver.py's
// KubeVolumeResolver.
package volumeresolver

import (
	"context"
	"fmt"
	"path"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"

	"github.com/neuro-inc/platform-storage-api/pkg/storage/pathresolver"
)

// Backend names the Kubernetes volume-source kind a VolumeSpec renders,
// doubling as the JSON Patch value's object key (spec.md §4.G step 8:
// `{name, <backend-key>: <spec-fields>}`).
type Backend string

const (
	BackendNFS      Backend = "nfs"
	BackendHostPath Backend = "hostPath"
)

// VolumeSpec is the tagged union spec.md §3 describes: Nfs{server, path} |
// HostPath{path, type}.
type VolumeSpec interface {
	Backend() Backend
	toKubeFields() map[string]any
}

// NFSVolumeSpec mirrors a corev1.NFSVolumeSource.
type NFSVolumeSpec struct {
	Server string
	Path   string
}

func (NFSVolumeSpec) Backend() Backend { return BackendNFS }

func (s NFSVolumeSpec) toKubeFields() map[string]any {
	return map[string]any{"server": s.Server, "path": s.Path}
}

// HostPathType mirrors corev1.HostPathType's string values.
type HostPathType string

// HostPathVolumeSpec mirrors a corev1.HostPathVolumeSource.
type HostPathVolumeSpec struct {
	Path string
	Type HostPathType
}

func (HostPathVolumeSpec) Backend() Backend { return BackendHostPath }

func (s HostPathVolumeSpec) toKubeFields() map[string]any {
	fields := map[string]any{"path": s.Path}
	if s.Type != "" {
		fields["type"] = string(s.Type)
	}
	return fields
}

// ToKube renders spec as the `{<backend>: {...fields}}` map a Kubernetes
// volume patch entry embeds, per spec.md §4.G step 8.
func ToKube(spec VolumeSpec) map[string]any {
	return map[string]any{string(spec.Backend()): spec.toKubeFields()}
}

// VolumeMount is the result of resolving a logical storage path to a
// concrete, already-mounted Kubernetes volume plus the sub-path within it.
type VolumeMount struct {
	Volume  VolumeSpec
	SubPath string
}

// ErrNotResolvable is returned by Resolve when no recorded mount's path is a
// prefix of the requested logical path's resolved local path.
var ErrNotResolvable = fmt.Errorf("volumeresolver: path is not resolvable to any mounted volume")

// Resolver holds the immutable, startup-built mapping from in-container
// mount path to the volume mounted there. It never mutates after New.
type Resolver struct {
	resolver pathresolver.PathResolver
	mounts   map[string]VolumeSpec
}

// New inspects the named pod (identified by hostname, per spec.md §4.F) and
// builds the mount-path → VolumeSpec table from its hostPath and NFS-backed
// PVC volumes. Fails if no eligible mapping is produced.
func New(ctx context.Context, client kubernetes.Interface, resolver pathresolver.PathResolver, namespace, podName string) (*Resolver, error) {
	pod, err := client.CoreV1().Pods(namespace).Get(ctx, podName, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("volumeresolver: getting own pod %s/%s: %w", namespace, podName, err)
	}

	mounts := map[string]VolumeSpec{}
	for _, vol := range pod.Spec.Volumes {
		switch {
		case vol.HostPath != nil:
			for path, spec := range hostPathMounts(vol.Name, vol.HostPath, pod.Spec.Containers) {
				mounts[path] = spec
			}
		case vol.PersistentVolumeClaim != nil:
			found, err := nfsMountsFromPVC(ctx, client, namespace, vol.Name, vol.PersistentVolumeClaim, pod.Spec.Containers)
			if err != nil {
				return nil, err
			}
			for path, spec := range found {
				mounts[path] = spec
			}
		default:
			klog.V(4).Infof("volumeresolver: volume %q is an unsupported backend, skipping", vol.Name)
		}
	}

	if len(mounts) == 0 {
		return nil, fmt.Errorf("volumeresolver: no eligible volumes are mounted to pod %s/%s", namespace, podName)
	}
	return &Resolver{resolver: resolver, mounts: mounts}, nil
}

func hostPathMounts(volumeName string, source *corev1.HostPathVolumeSource, containers []corev1.Container) map[string]VolumeSpec {
	out := map[string]VolumeSpec{}
	spec := HostPathVolumeSpec{Path: source.Path}
	if source.Type != nil {
		spec.Type = HostPathType(*source.Type)
	}
	for _, c := range containers {
		for _, vm := range c.VolumeMounts {
			if vm.Name == volumeName {
				out[vm.MountPath] = spec
			}
		}
	}
	return out
}

func nfsMountsFromPVC(ctx context.Context, client kubernetes.Interface, namespace, volumeName string, source *corev1.PersistentVolumeClaimVolumeSource, containers []corev1.Container) (map[string]VolumeSpec, error) {
	var mountPath string
	for _, c := range containers {
		for _, vm := range c.VolumeMounts {
			if vm.Name == volumeName {
				mountPath = vm.MountPath
			}
		}
	}
	if mountPath == "" {
		return nil, nil
	}

	pvc, err := client.CoreV1().PersistentVolumeClaims(namespace).Get(ctx, source.ClaimName, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("volumeresolver: getting PVC %s/%s: %w", namespace, source.ClaimName, err)
	}
	if pvc.Spec.VolumeName == "" {
		return nil, fmt.Errorf("volumeresolver: PVC %s/%s is not bound to a PV", namespace, source.ClaimName)
	}

	pv, err := client.CoreV1().PersistentVolumes().Get(ctx, pvc.Spec.VolumeName, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("volumeresolver: getting PV %s: %w", pvc.Spec.VolumeName, err)
	}
	if pv.Spec.NFS == nil {
		klog.V(4).Infof("volumeresolver: PV %s does not use a supported backend, skipping", pv.Name)
		return nil, nil
	}

	return map[string]VolumeSpec{
		mountPath: NFSVolumeSpec{Server: pv.Spec.NFS.Server, Path: pv.Spec.NFS.Path},
	}, nil
}

// Resolve maps a logical storage path to a VolumeMount, per spec.md §4.F's
// Resolution rule: compute the local path, find a recorded mount whose path
// is a prefix of it, and return the sub-path relative to that mount.
func (r *Resolver) Resolve(storagePath string) (VolumeMount, error) {
	localPath, err := r.resolver.ResolvePath(storagePath)
	if err != nil {
		return VolumeMount{}, err
	}
	for mountPath, spec := range r.mounts {
		sub, ok := relativeTo(localPath, mountPath)
		if !ok {
			continue
		}
		return VolumeMount{Volume: spec, SubPath: sub}, nil
	}
	return VolumeMount{}, ErrNotResolvable
}

// relativeTo reports whether full is mountPath or a path under it, returning
// the suffix with a leading slash stripped.
func relativeTo(full, mountPath string) (string, bool) {
	cleanMount := path.Clean(mountPath)
	cleanFull := path.Clean(full)
	if cleanFull == cleanMount {
		return "", true
	}
	if strings.HasPrefix(cleanFull, cleanMount+"/") {
		return strings.TrimPrefix(cleanFull, cleanMount+"/"), true
	}
	return "", false
}
