// Package httpapi is the HTTP surface of the storage gateway: a single
// catch-all route dispatching on HTTP method + an "op" query parameter,
// grounded on original_source/src/platform_storage_api/api.py's
// StorageHandler.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/neuro-inc/platform-storage-api/pkg/gatewayerr"
	"github.com/neuro-inc/platform-storage-api/pkg/permcache"
	"github.com/neuro-inc/platform-storage-api/pkg/storage"
)

// PermissionChecker is the subset of *permcache.Cache the dispatcher needs;
// an interface so tests can fake it.
type PermissionChecker interface {
	GetTree(ctx context.Context, authHeader, absPath string) (permcache.AccessSubTree, error)
	Check(ctx context.Context, authHeader, absPath string, action permcache.Action) error
}

// Handler wires the storage orchestrator and permission checker into an
// http.Handler.
type Handler struct {
	storage *storage.Storage
	perms   PermissionChecker
	realm   string
	metrics *Metrics
}

// New builds a Handler. realm names the WWW-Authenticate challenge this
// gateway issues.
func New(store *storage.Storage, perms PermissionChecker, realm string, metrics *Metrics) *Handler {
	return &Handler{storage: store, perms: perms, realm: realm, metrics: metrics}
}

// Router builds the full gorilla/mux router, including the /ping liveness
// endpoint, version-header and bearer-auth middleware.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(versionHeaderMiddleware)
	if h.metrics != nil {
		r.Use(h.metrics.middleware)
	}

	r.HandleFunc("/api/v1/ping", handlePing).Methods(http.MethodGet)

	storageAuth := bearerAuthMiddleware(h.realm, nil)
	path := r.PathPrefix("/api/v1/storage").Subrouter()
	path.Use(storageAuth)
	pathResource := path.PathPrefix("/{path:.*}")
	pathResource.Methods(http.MethodPut).HandlerFunc(h.handlePut)
	pathResource.Methods(http.MethodPost).HandlerFunc(h.handlePost)
	pathResource.Methods(http.MethodHead).HandlerFunc(h.handleHead)
	pathResource.Methods(http.MethodGet).HandlerFunc(h.handleGet)
	pathResource.Methods(http.MethodDelete).HandlerFunc(h.handleDelete)
	pathResource.Methods(http.MethodPatch).HandlerFunc(h.handlePatch)

	return r
}

func handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func pathFromRequest(r *http.Request) (string, error) {
	return storage.SanitizePath(mux.Vars(r)["path"])
}

func acceptsNdjson(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/x-ndjson")
}

func boolParam(r *http.Request, name string, def bool) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	switch strings.ToLower(v) {
	case "1", "true":
		return true, nil
	case "0", "false":
		return false, nil
	default:
		return false, gatewayerr.BadRequestf(`%q request parameter can be "true"/"1" or "false"/"0"`, name)
	}
}

func (h *Handler) checkPermission(r *http.Request, absPath string, action permcache.Action) error {
	return h.perms.Check(r.Context(), authHeaderOf(r), absPath, action)
}

func (h *Handler) defaultActionFor(r *http.Request) permcache.Action {
	switch r.Method {
	case http.MethodHead, http.MethodGet:
		return permcache.ActionRead
	default:
		return permcache.ActionWrite
	}
}

// --- PUT ---

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	op, err := defaultedOperation(r, OpCreate)
	if err != nil {
		writeError(w, r, gatewayerr.BadRequestf("%v", err), h.realm)
		return
	}
	absPath, err := pathFromRequest(r)
	if err != nil {
		writeError(w, r, err, h.realm)
		return
	}

	switch op {
	case OpCreate:
		if err := h.checkPermission(r, absPath, permcache.ActionWrite); err != nil {
			writeError(w, r, err, h.realm)
			return
		}
		h.handleCreate(w, r, absPath)
	case OpMkdirs:
		if err := h.checkPermission(r, absPath, permcache.ActionWrite); err != nil {
			writeError(w, r, err, h.realm)
			return
		}
		h.handleMkdirs(w, r, absPath)
	default:
		writeError(w, r, gatewayerr.BadRequestf("illegal operation: %s", op), h.realm)
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request, absPath string) {
	if err := h.storage.Store(r.Context(), r.Body, absPath, 0, storage.SizeUnspecified, true); err != nil {
		writeError(w, r, err, h.realm)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleMkdirs(w http.ResponseWriter, r *http.Request, absPath string) {
	if err := h.storage.Mkdir(r.Context(), absPath); err != nil {
		writeError(w, r, err, h.realm)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// --- PATCH ---

func (h *Handler) handlePatch(w http.ResponseWriter, r *http.Request) {
	op, err := defaultedOperation(r, OpWrite)
	if err != nil {
		writeError(w, r, gatewayerr.BadRequestf("%v", err), h.realm)
		return
	}
	if op != OpWrite {
		writeError(w, r, gatewayerr.BadRequestf("illegal operation: %s", op), h.realm)
		return
	}
	absPath, err := pathFromRequest(r)
	if err != nil {
		writeError(w, r, err, h.realm)
		return
	}
	if err := h.checkPermission(r, absPath, permcache.ActionWrite); err != nil {
		writeError(w, r, err, h.realm)
		return
	}
	h.handleWrite(w, r, absPath)
}

func (h *Handler) handleWrite(w http.ResponseWriter, r *http.Request, absPath string) {
	if r.Header.Get("Content-Type") != "application/octet-stream" {
		writeError(w, r, gatewayerr.BadRequestf("Content-Type should be application/octet-stream"), h.realm)
		return
	}
	for _, unsupported := range []string{"If-Match", "If-None-Match", "If-Range", "If-Unmodified-Since"} {
		if r.Header.Get(unsupported) != "" {
			writeError(w, r, gatewayerr.BadRequestf("unsupported header %s", unsupported), h.realm)
			return
		}
	}

	start, stop, err := parseContentRange(r.Header.Get("Content-Range"))
	if err != nil {
		writeError(w, r, err, h.realm)
		return
	}

	if err := h.storage.Store(r.Context(), r.Body, absPath, start, stop-start, false); err != nil {
		writeError(w, r, err, h.realm)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// --- HEAD ---

func (h *Handler) handleHead(w http.ResponseWriter, r *http.Request) {
	absPath, err := pathFromRequest(r)
	if err != nil {
		writeError(w, r, err, h.realm)
		return
	}
	if err := h.checkPermission(r, absPath, h.defaultActionFor(r)); err != nil {
		writeError(w, r, err, h.realm)
		return
	}
	fstat, err := h.storage.GetFileStatus(r.Context(), absPath)
	if err != nil {
		writeError(w, r, err, h.realm)
		return
	}
	writeStatHeaders(w, fstat)
	w.WriteHeader(http.StatusOK)
}

func writeStatHeaders(w http.ResponseWriter, fstat storage.FileStatus) {
	w.Header().Set("Content-Length", strconv.FormatInt(fstat.Size, 10))
	w.Header().Set("X-File-Type", string(fstat.Type))
	w.Header().Set("X-File-Permission", string(fstat.Permission))
	if fstat.Type == storage.FileTypeFile {
		w.Header().Set("Accept-Range", "bytes")
		w.Header().Set("X-File-Length", strconv.FormatInt(fstat.Size, 10))
	}
}

// --- GET ---

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	op, err := defaultedOperation(r, OpOpen)
	if err != nil {
		writeError(w, r, gatewayerr.BadRequestf("%v", err), h.realm)
		return
	}
	absPath, err := pathFromRequest(r)
	if err != nil {
		writeError(w, r, err, h.realm)
		return
	}

	switch op {
	case OpOpen:
		if err := h.checkPermission(r, absPath, permcache.ActionRead); err != nil {
			writeError(w, r, err, h.realm)
			return
		}
		h.handleOpen(w, r, absPath)
	case OpListStatus:
		tree, err := h.perms.GetTree(r.Context(), authHeaderOf(r), absPath)
		if err != nil {
			writeError(w, r, err, h.realm)
			return
		}
		if acceptsNdjson(r) {
			h.handleIterStatus(w, r, absPath, tree)
		} else {
			h.handleListStatus(w, r, absPath, tree)
		}
	case OpGetFileStatus:
		tree, err := h.perms.GetTree(r.Context(), authHeaderOf(r), absPath)
		if err != nil {
			writeError(w, r, err, h.realm)
			return
		}
		h.handleGetFileStatus(w, r, absPath, tree.Action)
	case OpGetDiskUsage:
		if err := h.checkPermission(r, absPath, permcache.ActionRead); err != nil {
			writeError(w, r, err, h.realm)
			return
		}
		h.handleGetDiskUsage(w, r, absPath)
	case OpWebSocket:
		tree, err := h.perms.GetTree(r.Context(), authHeaderOf(r), absPath)
		if err != nil {
			writeError(w, r, err, h.realm)
			return
		}
		h.handleWebSocket(w, r, absPath, tree)
	case OpWebSocketRead:
		if err := h.checkPermission(r, absPath, permcache.ActionRead); err != nil {
			writeError(w, r, err, h.realm)
			return
		}
		h.handleWebSocket(w, r, absPath, permcache.AccessSubTree{Action: permcache.ActionRead, Children: map[string]*permcache.AccessSubTree{}})
	case OpWebSocketWrite:
		if err := h.checkPermission(r, absPath, permcache.ActionWrite); err != nil {
			writeError(w, r, err, h.realm)
			return
		}
		h.handleWebSocket(w, r, absPath, permcache.AccessSubTree{Action: permcache.ActionWrite, Children: map[string]*permcache.AccessSubTree{}})
	default:
		writeError(w, r, gatewayerr.BadRequestf("illegal operation: %s", op), h.realm)
	}
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request, absPath string) {
	fstat, err := h.storage.GetFileStatus(r.Context(), absPath)
	if err != nil {
		writeError(w, r, err, h.realm)
		return
	}

	start, size, whole, ok := parseRangeHeader(r.Header.Get("Range"), fstat.Size)
	if !ok {
		w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(fstat.Size, 10))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	writeStatHeaders(w, fstat)
	if whole {
		w.WriteHeader(http.StatusOK)
		_ = h.storage.Retrieve(r.Context(), w, absPath, 0, storage.SizeUnspecified)
		return
	}
	w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(start, 10)+"-"+strconv.FormatInt(start+size-1, 10)+"/"+strconv.FormatInt(fstat.Size, 10))
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusPartialContent)
	_ = h.storage.Retrieve(r.Context(), w, absPath, start, size)
}

func (h *Handler) handleListStatus(w http.ResponseWriter, r *http.Request, absPath string, tree permcache.AccessSubTree) {
	statuses, err := h.storage.ListStatus(r.Context(), absPath)
	if err != nil {
		writeError(w, r, err, h.realm)
		return
	}
	filtered := filterByTree(statuses, tree)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toFileStatusesEnvelope(filtered))
}

func (h *Handler) handleIterStatus(w http.ResponseWriter, r *http.Request, absPath string, tree permcache.AccessSubTree) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	prepared := false
	enc := json.NewEncoder(w)
	err := h.storage.IterStatus(r.Context(), absPath, func(fstat storage.FileStatus) error {
		action, ok := actionFor(fstat.Path, tree)
		if !ok {
			return nil
		}
		if !prepared {
			w.WriteHeader(http.StatusOK)
			prepared = true
		}
		fstat.Permission = storage.Permission(action.Permission())
		if err := enc.Encode(fileStatusEnvelope{FileStatus: toFileStatusJSON(fstat)}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if !prepared {
			writeError(w, r, err, h.realm)
			return
		}
		gwErr, _ := gatewayerr.As(err)
		_ = json.NewEncoder(w).Encode(errorJSON{Error: gwErr.Message, Errno: gwErr.Errno})
		return
	}
	if !prepared {
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) handleGetFileStatus(w http.ResponseWriter, r *http.Request, absPath string, action permcache.Action) {
	fstat, err := h.storage.GetFileStatus(r.Context(), absPath)
	if err != nil {
		writeError(w, r, err, h.realm)
		return
	}
	fstat.Permission = storage.Permission(action.Permission())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(fileStatusEnvelope{FileStatus: toFileStatusJSON(fstat)})
}

func (h *Handler) handleGetDiskUsage(w http.ResponseWriter, r *http.Request, absPath string) {
	usage, err := h.storage.DiskUsage(r.Context(), absPath)
	if err != nil {
		writeError(w, r, err, h.realm)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toDiskUsageJSON(usage))
}

// --- DELETE ---

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	op, err := defaultedOperation(r, OpDelete)
	if err != nil {
		writeError(w, r, gatewayerr.BadRequestf("%v", err), h.realm)
		return
	}
	if op != OpDelete {
		writeError(w, r, gatewayerr.BadRequestf("illegal operation: %s", op), h.realm)
		return
	}
	absPath, err := pathFromRequest(r)
	if err != nil {
		writeError(w, r, err, h.realm)
		return
	}

	exists, err := h.storage.Exists(r.Context(), absPath)
	if err != nil {
		writeError(w, r, err, h.realm)
		return
	}
	if !exists {
		writeError(w, r, gatewayerr.NotFoundf("not found: %s", absPath), h.realm)
		return
	}
	if err := h.checkPermission(r, absPath, permcache.ActionWrite); err != nil {
		writeError(w, r, err, h.realm)
		return
	}

	recursive, err := boolParam(r, "recursive", true)
	if err != nil {
		writeError(w, r, err, h.realm)
		return
	}

	if acceptsNdjson(r) {
		h.handleIterDelete(w, r, absPath, recursive)
		return
	}
	if err := h.storage.Remove(r.Context(), absPath, recursive); err != nil {
		writeError(w, r, err, h.realm)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleIterDelete(w http.ResponseWriter, r *http.Request, absPath string, recursive bool) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	prepared := false
	enc := json.NewEncoder(w)
	err := h.storage.IterRemove(r.Context(), absPath, recursive, func(listing storage.RemoveListing) error {
		if !prepared {
			w.WriteHeader(http.StatusOK)
			prepared = true
		}
		return enc.Encode(toRemoveListingJSON(listing))
	})
	if err != nil {
		if !prepared {
			writeError(w, r, err, h.realm)
			return
		}
		gwErr, _ := gatewayerr.As(err)
		_ = json.NewEncoder(w).Encode(errorJSON{Error: gwErr.Message, Errno: gwErr.Errno})
		return
	}
	if !prepared {
		w.WriteHeader(http.StatusOK)
	}
}

// --- POST ---

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	op, err := defaultedOperation(r, OpRename)
	if err != nil {
		writeError(w, r, gatewayerr.BadRequestf("%v", err), h.realm)
		return
	}
	if op != OpRename {
		writeError(w, r, gatewayerr.BadRequestf("illegal operation: %s", op), h.realm)
		return
	}
	absPath, err := pathFromRequest(r)
	if err != nil {
		writeError(w, r, err, h.realm)
		return
	}
	if err := h.checkPermission(r, absPath, permcache.ActionWrite); err != nil {
		writeError(w, r, err, h.realm)
		return
	}
	h.handleRename(w, r, absPath)
}

func (h *Handler) handleRename(w http.ResponseWriter, r *http.Request, oldPath string) {
	destination := r.URL.Query().Get("destination")
	if destination == "" {
		writeError(w, r, gatewayerr.BadRequestf("no destination"), h.realm)
		return
	}
	newLogical := destination
	if !strings.HasPrefix(destination, "/") {
		newLogical = oldPath + "/" + destination
	}
	newPath, err := storage.SanitizePath(newLogical)
	if err != nil {
		writeError(w, r, err, h.realm)
		return
	}
	if err := h.checkPermission(r, newPath, permcache.ActionWrite); err != nil {
		writeError(w, r, err, h.realm)
		return
	}
	if err := h.storage.Rename(r.Context(), oldPath, newPath); err != nil {
		writeError(w, r, err, h.realm)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
