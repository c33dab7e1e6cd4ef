package livereload

import (
	"encoding/json"

	"github.com/sourcegraph/jsonrpc2"
)

const (
	// MethodReload is pushed to every page when served files change.
	MethodReload = "reload"
	// MethodPing may be called by pages to check the connection.
	MethodPing = "ping"
)

// ReloadParams lists the changed paths, relative to the served root.
type ReloadParams struct {
	Paths []string `json:"paths"`
}

func rawJSON(v any) (*json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	raw := json.RawMessage(b)
	return &raw, nil
}

// reloadNotification encodes a JSON-RPC 2.0 notification (no id) for paths.
func reloadNotification(paths []string) ([]byte, error) {
	params, err := rawJSON(ReloadParams{Paths: paths})
	if err != nil {
		return nil, err
	}

	req := &jsonrpc2.Request{
		Method: MethodReload,
		Params: params,
		Notif:  true,
	}

	return json.Marshal(req)
}

func errorResponse(id jsonrpc2.ID, code int64, message string) ([]byte, error) {
	resp := &jsonrpc2.Response{
		ID:    id,
		Error: &jsonrpc2.Error{Code: code, Message: message},
	}
	return json.Marshal(resp)
}

// handleMessage answers a request from a page. It returns nil for
// notifications, which get no reply.
func handleMessage(data []byte) ([]byte, error) {
	var req jsonrpc2.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return errorResponse(jsonrpc2.ID{}, jsonrpc2.CodeParseError, "Parse error")
	}

	if req.Notif {
		return nil, nil
	}

	switch req.Method {
	case MethodPing:
		result, err := rawJSON("pong")
		if err != nil {
			return nil, err
		}
		return json.Marshal(&jsonrpc2.Response{ID: req.ID, Result: result})
	default:
		return errorResponse(req.ID, jsonrpc2.CodeMethodNotFound, "Method not found")
	}
}
