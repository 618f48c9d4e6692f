package admission

import (
	"encoding/base64"
	"encoding/json"

	jsonpatch "gomodules.xyz/jsonpatch/v2"
)

const patchTypeJSON = "JSONPatch"

// review accumulates the JSON Patch for one AdmissionReview request and
// renders the final allow/decline response body, mirroring schema.py's
// AdmissionReviewResponse.
type review struct {
	uid   string
	patch []jsonpatch.Operation
}

func newReview(uid string) *review {
	return &review{uid: uid}
}

// addPatch appends a purely-additive JSON Patch operation. Every admission
// patch is an "add" (spec invariant: the engine never removes or replaces).
func (r *review) addPatch(path string, value any) {
	r.patch = append(r.patch, jsonpatch.Operation{
		Operation: "add",
		Path:      path,
		Value:     value,
	})
}

type admissionReviewResponse struct {
	APIVersion string          `json:"apiVersion"`
	Kind       string          `json:"kind"`
	Response   admissionResult `json:"response"`
}

type admissionResult struct {
	UID       string         `json:"uid"`
	Allowed   bool           `json:"allowed"`
	Patch     string         `json:"patch,omitempty"`
	PatchType string         `json:"patchType,omitempty"`
	Status    *admissionDeny `json:"status,omitempty"`
}

type admissionDeny struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// allow renders an AdmissionReview approving the request, base64-encoding
// the accumulated patch when non-empty.
func (r *review) allow() ([]byte, error) {
	result := admissionResult{UID: r.uid, Allowed: true}
	if len(r.patch) > 0 {
		raw, err := json.Marshal(r.patch)
		if err != nil {
			return nil, err
		}
		result.Patch = base64.StdEncoding.EncodeToString(raw)
		result.PatchType = patchTypeJSON
	}
	return json.Marshal(admissionReviewResponse{
		APIVersion: "admission.k8s.io/v1",
		Kind:       "AdmissionReview",
		Response:   result,
	})
}

// decline renders an AdmissionReview rejecting the request with the given
// status code and message; it never carries a patch.
func (r *review) decline(code int, message string) ([]byte, error) {
	return json.Marshal(admissionReviewResponse{
		APIVersion: "admission.k8s.io/v1",
		Kind:       "AdmissionReview",
		Response: admissionResult{
			UID:     r.uid,
			Allowed: false,
			Status:  &admissionDeny{Code: code, Message: message},
		},
	})
}
