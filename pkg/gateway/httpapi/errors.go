package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/neuro-inc/platform-storage-api/pkg/gatewayerr"
)

// statusForKind maps a gatewayerr.Kind onto its HTTP status code, per
// spec.md §7's Kind -> HTTP status table.
func statusForKind(kind gatewayerr.Kind) int {
	switch kind {
	case gatewayerr.NotFound:
		return http.StatusNotFound
	case gatewayerr.BadRequest, gatewayerr.Exists, gatewayerr.IsDirectory, gatewayerr.NotDirectory:
		return http.StatusBadRequest
	case gatewayerr.RangeNotSatisfiable:
		return http.StatusRequestedRangeNotSatisfiable
	case gatewayerr.Forbidden:
		return http.StatusForbidden
	case gatewayerr.Unauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as the dispatcher's JSON error body, setting
// WWW-Authenticate on Unauthorized the way security.py's
// PermissionChecker._raise_unauthorized does.
func writeError(w http.ResponseWriter, r *http.Request, err error, realm string) {
	gwErr, ok := gatewayerr.As(err)
	if !ok {
		gwErr = gatewayerr.Internalf(err, "%v", err)
	}
	status := statusForKind(gwErr.Kind)
	if gwErr.Kind == gatewayerr.Unauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="`+realm+`"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorJSON{Error: gwErr.Message, Errno: gwErr.Errno})
}
