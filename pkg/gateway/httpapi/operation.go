package httpapi

import (
	"fmt"
	"net/http"
	"strings"
)

// Operation is one of the named operations the dispatcher recognizes via the
// "op" query parameter (or a bare recognized operation name used as its own
// query key), grounded on
// original_source/src/platform_storage_api/api.py's StorageOperation.
type Operation string

const (
	OpCreate        Operation = "CREATE"
	OpOpen          Operation = "OPEN"
	OpListStatus    Operation = "LISTSTATUS"
	OpGetFileStatus Operation = "GETFILESTATUS"
	OpMkdirs        Operation = "MKDIRS"
	OpDelete        Operation = "DELETE"
	OpRename        Operation = "RENAME"
	OpWrite         Operation = "WRITE"
	OpGetDiskUsage  Operation = "GETDISKUSAGE"
	OpWebSocket     Operation = "WEBSOCKET"
	OpWebSocketRead Operation = "WEBSOCKET_READ"
	OpWebSocketWrite Operation = "WEBSOCKET_WRITE"
)

var allOperations = []Operation{
	OpCreate, OpOpen, OpListStatus, OpGetFileStatus, OpMkdirs, OpDelete,
	OpRename, OpWrite, OpGetDiskUsage, OpWebSocket, OpWebSocketRead, OpWebSocketWrite,
}

// parseOperation extracts the requested Operation from a request's query
// string. Both `?op=NAME` and a bare `?NAME` (the name itself used as a
// valueless query key) are recognized; supplying more than one is rejected
// as ambiguous, matching the Python dispatcher's behavior exactly.
func parseOperation(r *http.Request) (Operation, error) {
	query := r.URL.Query()

	var found []string
	if op := query.Get("op"); op != "" {
		found = append(found, strings.ToUpper(op))
	}
	for key := range query {
		upper := strings.ToUpper(key)
		for _, op := range allOperations {
			if string(op) == upper {
				found = append(found, upper)
			}
		}
	}

	if len(found) > 1 {
		return "", fmt.Errorf("ambiguous operations: %s", strings.Join(found, ", "))
	}
	if len(found) == 1 {
		return Operation(found[0]), nil
	}
	return "", nil
}

func defaultedOperation(r *http.Request, fallback Operation) (Operation, error) {
	op, err := parseOperation(r)
	if err != nil {
		return "", err
	}
	if op == "" {
		return fallback, nil
	}
	return op, nil
}
