package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"

	"github.com/neuro-inc/platform-storage-api/pkg/gateway/wsapi"
	"github.com/neuro-inc/platform-storage-api/pkg/gatewayerr"
	"github.com/neuro-inc/platform-storage-api/pkg/permcache"
	"github.com/neuro-inc/platform-storage-api/pkg/storage"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// validateRelativePath rejects "."/".." components and leading slashes in a
// WebSocket request's path field, matching api.py's _validate_path.
func validateRelativePath(rel string) error {
	if rel == "" {
		return nil
	}
	parts := strings.Split(rel, "/")
	for _, p := range parts {
		if p == ".." {
			return gatewayerr.BadRequestf("path should not contain '..' components: %q", rel)
		}
		if p == "." {
			return gatewayerr.BadRequestf("path should not contain '.' components: %q", rel)
		}
	}
	if parts[0] == "" {
		return gatewayerr.BadRequestf("path should be relative: %q", rel)
	}
	return nil
}

// handleWebSocket upgrades the connection and serves the gateway's binary
// streaming protocol, grounded on api.py's _handle_websocket /
// _handle_websocket_message.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request, absPath string, tree permcache.AccessSubTree) {
	if !tree.Action.CanRead() {
		writeError(w, r, gatewayerr.NotFoundf("no access to %s", absPath), h.realm)
		return
	}
	write := tree.Action.CanWrite()

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		klog.Errorf("ws upgrade failed for %s: %v", absPath, err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsapi.MaxMessageSize)

	ctx := r.Context()
	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if len(raw) < 4 {
			closeMsg := websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "")
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
			return
		}
		h.handleWebSocketMessage(ctx, conn, absPath, write, raw)
	}
}

func (h *Handler) handleWebSocketMessage(ctx context.Context, conn *websocket.Conn, basePath string, write bool, raw []byte) {
	req, err := wsapi.DecodeRequest(raw)
	if err != nil {
		klog.Errorf("ws: malformed frame on %s: %v", basePath, err)
		h.wsSendBareError(conn, err)
		return
	}

	if verr := validateRelativePath(req.Path); verr != nil {
		h.wsSendError(conn, req.Op, req.ID, verr)
		return
	}
	effectivePath := basePath
	if req.Path != "" {
		effectivePath = basePath + "/" + req.Path
	}

	var ackExtra map[string]any
	var ackData []byte
	var opErr error

	switch req.Op {
	case wsapi.OpRead:
		if req.Size > wsapi.MaxReadSize {
			h.wsSendError(conn, req.Op, req.ID, gatewayerr.BadRequestf("too large read size"))
			return
		}
		ackData, opErr = h.storage.Read(ctx, effectivePath, req.Offset, req.Size)

	case wsapi.OpStat:
		var fstat storage.FileStatus
		fstat, opErr = h.storage.GetFileStatus(ctx, effectivePath)
		if opErr == nil {
			ackExtra = map[string]any{"FileStatus": fileStatusCBORMap(fstat)}
		}

	case wsapi.OpList:
		var statuses []storage.FileStatus
		statuses, opErr = h.storage.ListStatus(ctx, effectivePath)
		if opErr == nil {
			entries := make([]map[string]any, len(statuses))
			for i, s := range statuses {
				entries[i] = fileStatusCBORMap(s)
			}
			ackExtra = map[string]any{"FileStatuses": map[string]any{"FileStatus": entries}}
		}

	case wsapi.OpWrite:
		if !write {
			h.wsSendError(conn, req.Op, req.ID, gatewayerr.Forbiddenf("requires writing permission"))
			return
		}
		opErr = h.storage.Write(ctx, effectivePath, req.Offset, req.Payload)

	case wsapi.OpCreate:
		if !write {
			h.wsSendError(conn, req.Op, req.ID, gatewayerr.Forbiddenf("requires writing permission"))
			return
		}
		opErr = h.storage.Create(ctx, effectivePath, req.Size)

	case wsapi.OpMkdirs:
		if !write {
			h.wsSendError(conn, req.Op, req.ID, gatewayerr.Forbiddenf("requires writing permission"))
			return
		}
		opErr = h.storage.Mkdir(ctx, effectivePath)

	default:
		h.wsSendError(conn, req.Op, req.ID, gatewayerr.BadRequestf("unknown operation: %s", req.Op))
		return
	}

	if opErr != nil {
		h.wsSendError(conn, req.Op, req.ID, opErr)
		return
	}

	frame, err := wsapi.EncodeAck(req.Op, req.ID, time.Now().Unix(), ackExtra, ackData)
	if err != nil {
		klog.Errorf("ws: encoding ack for op %s: %v", req.Op, err)
		return
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		klog.Errorf("ws: writing ack for op %s: %v", req.Op, err)
	}
}

func (h *Handler) wsSendError(conn *websocket.Conn, op string, reqID int64, err error) {
	gwErr, _ := gatewayerr.As(err)
	message := err.Error()
	errno := ""
	if gwErr != nil {
		message = gwErr.Message
		errno = gwErr.Errno
	}
	frame, encErr := wsapi.EncodeError(op, reqID, time.Now().Unix(), message, errno)
	if encErr != nil {
		klog.Errorf("ws: encoding error frame for op %s: %v", op, encErr)
		return
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		klog.Errorf("ws: writing error frame for op %s: %v", op, err)
	}
}

// wsSendBareError sends an ERROR frame with no "rop"/"rid" fields, for
// failures before a request's op/id could be decoded at all.
func (h *Handler) wsSendBareError(conn *websocket.Conn, err error) {
	frame, encErr := wsapi.EncodeBareError(err.Error())
	if encErr != nil {
		klog.Errorf("ws: encoding bare error frame: %v", encErr)
		return
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		klog.Errorf("ws: writing bare error frame: %v", err)
	}
}

// fileStatusCBORMap renders a FileStatus the way api.py's
// _convert_filestatus_to_primitive does, using CBOR-friendly plain map keys
// (the fileStatusJSON struct's "json" tags are not honored by the CBOR
// encoder).
func fileStatusCBORMap(s storage.FileStatus) map[string]any {
	return map[string]any{
		"path":             s.Path,
		"length":           s.Size,
		"modificationTime": s.ModificationTime,
		"permission":       string(s.Permission),
		"type":             string(s.Type),
	}
}
