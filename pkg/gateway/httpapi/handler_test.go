package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuro-inc/platform-storage-api/pkg/gateway/httpapi"
	"github.com/neuro-inc/platform-storage-api/pkg/permcache"
	"github.com/neuro-inc/platform-storage-api/pkg/storage"
	"github.com/neuro-inc/platform-storage-api/pkg/storage/localfs"
	"github.com/neuro-inc/platform-storage-api/pkg/storage/pathresolver"
	"github.com/neuro-inc/platform-storage-api/pkg/storage/workerpool"
)

type allowAllChecker struct{}

func (allowAllChecker) GetTree(ctx context.Context, authHeader, absPath string) (permcache.AccessSubTree, error) {
	return permcache.AccessSubTree{Action: permcache.ActionManage, Children: map[string]*permcache.AccessSubTree{}}, nil
}

func (allowAllChecker) Check(ctx context.Context, authHeader, absPath string, action permcache.Action) error {
	return nil
}

func newTestHandler(t *testing.T) (*httpapi.Handler, http.Handler) {
	t.Helper()
	base := t.TempDir()
	s := storage.New(pathresolver.SingleRoot{BasePath: base}, localfs.New(), workerpool.New(4))
	h := httpapi.New(s, allowAllChecker{}, "test-realm", nil)
	return h, h.Router()
}

func authed(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer test-token")
	return req
}

func TestPingDoesNotRequireAuth(t *testing.T) {
	_, router := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStorageRequiresBearerAuth(t *testing.T) {
	_, router := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/storage/u/a.txt", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "test-realm")
}

func TestCreateThenGetFileStatus(t *testing.T) {
	_, router := newTestHandler(t)

	put := authed(httptest.NewRequest(http.MethodPut, "/api/v1/storage/u/a.txt", bytes.NewReader([]byte("hello"))))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, put)
	require.Equal(t, http.StatusCreated, rec.Code)

	get := authed(httptest.NewRequest(http.MethodGet, "/api/v1/storage/u/a.txt?op=getfilestatus", nil))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, get)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		FileStatus struct {
			Path       string `json:"path"`
			Length     int64  `json:"length"`
			Permission string `json:"permission"`
		} `json:"FileStatus"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "/u/a.txt", body.FileStatus.Path)
	assert.Equal(t, int64(5), body.FileStatus.Length)
	assert.Equal(t, "manage", body.FileStatus.Permission)
}

func TestGetOpenRoundTrip(t *testing.T) {
	_, router := newTestHandler(t)

	put := authed(httptest.NewRequest(http.MethodPut, "/api/v1/storage/u/a.txt", bytes.NewReader([]byte("hello world"))))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, put)
	require.Equal(t, http.StatusCreated, rec.Code)

	get := authed(httptest.NewRequest(http.MethodGet, "/api/v1/storage/u/a.txt", nil))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, get)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello world", rec.Body.String())
}

func TestGetOpenRangeRequest(t *testing.T) {
	_, router := newTestHandler(t)

	put := authed(httptest.NewRequest(http.MethodPut, "/api/v1/storage/u/a.txt", bytes.NewReader([]byte("hello world"))))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, put)
	require.Equal(t, http.StatusCreated, rec.Code)

	get := authed(httptest.NewRequest(http.MethodGet, "/api/v1/storage/u/a.txt", nil))
	get.Header.Set("Range", "bytes=0-4")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, get)
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, "bytes 0-4/11", rec.Header().Get("Content-Range"))
}

func TestMkdirsAndListStatus(t *testing.T) {
	_, router := newTestHandler(t)

	mkdir := authed(httptest.NewRequest(http.MethodPut, "/api/v1/storage/u/dir?op=MKDIRS", nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, mkdir)
	require.Equal(t, http.StatusCreated, rec.Code)

	put := authed(httptest.NewRequest(http.MethodPut, "/api/v1/storage/u/dir/f.txt", bytes.NewReader([]byte("x"))))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, put)
	require.Equal(t, http.StatusCreated, rec.Code)

	list := authed(httptest.NewRequest(http.MethodGet, "/api/v1/storage/u/dir?op=LISTSTATUS", nil))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, list)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		FileStatuses struct {
			FileStatus []struct {
				Path string `json:"path"`
			} `json:"FileStatus"`
		} `json:"FileStatuses"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.FileStatuses.FileStatus, 1)
	assert.Equal(t, "/u/dir/f.txt", body.FileStatuses.FileStatus[0].Path)
}

func TestDeleteRequiresExistence(t *testing.T) {
	_, router := newTestHandler(t)

	del := authed(httptest.NewRequest(http.MethodDelete, "/api/v1/storage/u/missing.txt", nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, del)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteRemovesFile(t *testing.T) {
	_, router := newTestHandler(t)

	put := authed(httptest.NewRequest(http.MethodPut, "/api/v1/storage/u/a.txt", bytes.NewReader([]byte("x"))))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, put)
	require.Equal(t, http.StatusCreated, rec.Code)

	del := authed(httptest.NewRequest(http.MethodDelete, "/api/v1/storage/u/a.txt", nil))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, del)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRenameMovesFile(t *testing.T) {
	_, router := newTestHandler(t)

	put := authed(httptest.NewRequest(http.MethodPut, "/api/v1/storage/u/old.txt", bytes.NewReader([]byte("x"))))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, put)
	require.Equal(t, http.StatusCreated, rec.Code)

	rename := authed(httptest.NewRequest(http.MethodPost, "/api/v1/storage/u/old.txt?destination=/u/new.txt", nil))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, rename)
	require.Equal(t, http.StatusNoContent, rec.Code)

	head := authed(httptest.NewRequest(http.MethodHead, "/api/v1/storage/u/new.txt", nil))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, head)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWritePatchWithContentRange(t *testing.T) {
	_, router := newTestHandler(t)

	put := authed(httptest.NewRequest(http.MethodPut, "/api/v1/storage/u/a.txt", bytes.NewReader([]byte("AAAAA"))))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, put)
	require.Equal(t, http.StatusCreated, rec.Code)

	patch := authed(httptest.NewRequest(http.MethodPatch, "/api/v1/storage/u/a.txt", bytes.NewReader([]byte("BB"))))
	patch.Header.Set("Content-Type", "application/octet-stream")
	patch.Header.Set("Content-Range", "bytes 1-2/5")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, patch)
	require.Equal(t, http.StatusOK, rec.Code)

	get := authed(httptest.NewRequest(http.MethodGet, "/api/v1/storage/u/a.txt", nil))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, get)
	assert.Equal(t, "ABBAA", rec.Body.String())
}
