package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/neuro-inc/platform-storage-api/pkg/admission/volumeresolver"
)

const (
	annotationInjectStorage  = "platform.apolo.us/inject-storage"
	labelOrg                 = "platform.apolo.us/org"
	labelProject             = "platform.apolo.us/project"
	injectedVolumeNamePrefix = "storage-auto-injected-volume"
)

// Resolver is the subset of volumeresolver.Resolver the engine depends on,
// so tests can supply a stub without building a fake clientset.
type Resolver interface {
	Resolve(storagePath string) (volumeresolver.VolumeMount, error)
}

// Engine implements the `/mutate` webhook's decision logic: given a pod
// admission request, decide whether to allow it unchanged, allow it with an
// injected-volumes patch, or decline it. Grounded on
// original_source/.../admission_controller/api.py's AdmissionControllerApi.
type Engine struct {
	resolver Resolver
}

// New builds an Engine around a volume resolver built once at process
// startup (see volumeresolver.New).
func New(resolver Resolver) *Engine {
	return &Engine{resolver: resolver}
}

// admissionRequest is the subset of a Kubernetes AdmissionReview this engine
// reads.
type admissionRequest struct {
	UID    string `json:"uid"`
	Object struct {
		Kind     string `json:"kind"`
		Metadata struct {
			Annotations map[string]string `json:"annotations"`
			Labels      map[string]string `json:"labels"`
		} `json:"metadata"`
		Spec podSpec `json:"spec"`
	} `json:"object"`
}

type podSpec struct {
	Volumes    json.RawMessage `json:"volumes"`
	Containers []struct {
		VolumeMounts json.RawMessage `json:"volumeMounts"`
	} `json:"containers"`
}

type admissionReviewRequest struct {
	Request admissionRequest `json:"request"`
}

// HandleMutate decodes a raw AdmissionReview request body and returns the
// raw AdmissionReview response body to send back, per spec.md §4.G.
func (e *Engine) HandleMutate(ctx context.Context, body []byte) ([]byte, error) {
	var wrapper admissionReviewRequest
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("admission: decoding AdmissionReview: %w", err)
	}
	req := wrapper.Request
	r := newReview(req.UID)

	if req.Object.Kind != "Pod" {
		return r.allow()
	}

	raw, ok := req.Object.Metadata.Annotations[annotationInjectStorage]
	if !ok {
		klog.V(4).Info("admission: pod carries no storage-injection annotation, allowing unchanged")
		return r.allow()
	}

	if len(req.Object.Spec.Containers) == 0 {
		klog.V(4).Info("admission: pod defines no containers, allowing unchanged")
		return r.allow()
	}

	return e.handleInjection(ctx, req, raw, r)
}

func (e *Engine) handleInjection(ctx context.Context, req admissionRequest, raw string, r *review) ([]byte, error) {
	mounts, err := parseInjectionSpec(raw)
	if err != nil {
		klog.Errorf("admission: %v", err)
		return r.decline(422, "injection spec is invalid")
	}

	org, ok := req.Object.Metadata.Labels[labelOrg]
	if !ok {
		return r.decline(422, "Missing label "+labelOrg)
	}
	project, ok := req.Object.Metadata.Labels[labelProject]
	if !ok {
		return r.decline(422, "Missing label "+labelProject)
	}

	for _, m := range mounts {
		if m.Org() != org {
			return r.decline(403, fmt.Sprintf("org mismatch: '%s'", m.Org()))
		}
		if m.Project() != project {
			return r.decline(403, fmt.Sprintf("project mismatch: '%s'", m.Project()))
		}
	}

	if len(req.Object.Spec.Volumes) == 0 {
		r.addPatch("/spec/volumes", []any{})
	}
	for idx, c := range req.Object.Spec.Containers {
		if len(c.VolumeMounts) == 0 {
			r.addPatch(fmt.Sprintf("/spec/containers/%d/volumeMounts", idx), []any{})
		}
	}

	for _, m := range mounts {
		mount, err := e.resolver.Resolve(m.LogicalPath())
		if err != nil {
			if errors.Is(err, volumeresolver.ErrNotResolvable) {
				return r.decline(400, "Unable to resolve a volume for a provided path")
			}
			return nil, err
		}

		volumeName := fmt.Sprintf("%s-%s", injectedVolumeNamePrefix, uuid.NewString()[:8])

		volumeValue := map[string]any{"name": volumeName}
		for k, v := range volumeresolver.ToKube(mount.Volume) {
			volumeValue[k] = v
		}
		r.addPatch("/spec/volumes/-", volumeValue)

		for containerIdx := range req.Object.Spec.Containers {
			mountValue := map[string]any{
				"name":      volumeName,
				"mountPath": m.MountPath,
			}
			if m.MountMode == MountReadOnly {
				mountValue["readOnly"] = true
			}
			r.addPatch(fmt.Sprintf("/spec/containers/%d/volumeMounts/-", containerIdx), mountValue)
		}
	}

	return r.allow()
}
