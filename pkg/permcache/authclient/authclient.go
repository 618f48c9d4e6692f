// Package authclient is the HTTP client permcache.Cache wraps: a thin
// transport to the external identity service that answers "what sub-tree of
// actions does user U have on path P?", grounded on
// original_source/platform_storage_api/security.py's PermissionChecker
// (which forwards the caller's bearer token upstream and turns a "deny"
// sub-tree into a 404 to prevent enumeration).
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/neuro-inc/platform-storage-api/pkg/gatewayerr"
	"github.com/neuro-inc/platform-storage-api/pkg/permcache"
)

// Client is an HTTP-backed permcache.UpstreamChecker.
type Client struct {
	baseURL     *url.URL
	clusterName string
	httpClient  *http.Client
	serviceName string
}

var _ permcache.UpstreamChecker = (*Client)(nil)

// New builds a Client. baseURL is the identity service's root URL (e.g. the
// platform's NP_PLATFORM_AUTH_URL). serviceName is written as the realm into
// the message of the Unauthorized errors it originates; the HTTP
// WWW-Authenticate header itself carries the dispatcher's own realm.
func New(baseURL *url.URL, clusterName, serviceName string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, clusterName: clusterName, httpClient: httpClient, serviceName: serviceName}
}

type wireNode struct {
	Action   string              `json:"action"`
	Children map[string]wireNode `json:"children"`
}

type wireTreeResponse struct {
	Path    string   `json:"path"`
	SubTree wireNode `json:"sub_tree"`
}

func toTree(w wireNode) (permcache.AccessSubTree, error) {
	action, ok := permcache.ParseAction(w.Action)
	if !ok {
		return permcache.AccessSubTree{}, fmt.Errorf("authclient: unknown action %q", w.Action)
	}
	children := make(map[string]*permcache.AccessSubTree, len(w.Children))
	for name, childWire := range w.Children {
		child, err := toTree(childWire)
		if err != nil {
			return permcache.AccessSubTree{}, err
		}
		children[name] = &child
	}
	return permcache.AccessSubTree{Action: action, Children: children}, nil
}

// GetTree implements permcache.UpstreamChecker.
func (c *Client) GetTree(ctx context.Context, authHeader, absPath string) (permcache.AccessSubTree, error) {
	uri := permcache.PathToURI(c.clusterName, absPath)

	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/permissions/tree", url.Values{"uri": {uri}}, authHeader, nil)
	if err != nil {
		return permcache.AccessSubTree{}, gatewayerr.Internalf(err, "building permissions-tree request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return permcache.AccessSubTree{}, gatewayerr.Internalf(err, "calling identity service")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var wire wireTreeResponse
		if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
			return permcache.AccessSubTree{}, gatewayerr.Internalf(err, "decoding permissions-tree response")
		}
		tree, err := toTree(wire.SubTree)
		if err != nil {
			return permcache.AccessSubTree{}, gatewayerr.Internalf(err, "parsing permissions tree")
		}
		if tree.Action == permcache.ActionDeny {
			// A deny at the root of the requested sub-tree must be
			// surfaced as not-found to prevent enumeration.
			return permcache.AccessSubTree{}, gatewayerr.NotFoundf("no access to %s", absPath)
		}
		return tree, nil
	case http.StatusUnauthorized:
		return permcache.AccessSubTree{}, c.unauthorized()
	case http.StatusForbidden, http.StatusNotFound:
		return permcache.AccessSubTree{}, gatewayerr.NotFoundf("no access to %s", absPath)
	default:
		return permcache.AccessSubTree{}, gatewayerr.Internalf(nil, "identity service returned status %d", resp.StatusCode)
	}
}

// Check implements permcache.UpstreamChecker.
func (c *Client) Check(ctx context.Context, authHeader, absPath string, action permcache.Action) error {
	uri := permcache.PathToURI(c.clusterName, absPath)
	body, err := json.Marshal([]map[string]string{{"uri": uri, "action": action.String()}})
	if err != nil {
		return gatewayerr.Internalf(err, "encoding permission-check request")
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/permissions/check", nil, authHeader, body)
	if err != nil {
		return gatewayerr.Internalf(err, "building permission-check request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gatewayerr.Internalf(err, "calling identity service")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusUnauthorized:
		return c.unauthorized()
	case http.StatusForbidden, http.StatusNotFound:
		// Authorization errors never surface as Forbidden to gateway
		// clients; only admission-webhook peers see Forbidden.
		return gatewayerr.NotFoundf("no access to %s", absPath)
	default:
		return gatewayerr.Internalf(nil, "identity service returned status %d", resp.StatusCode)
	}
}

func (c *Client) unauthorized() *gatewayerr.Error {
	return gatewayerr.Unauthorizedf(`Bearer realm=%q`, c.serviceName)
}

func (c *Client) newRequest(ctx context.Context, method, p string, query url.Values, authHeader string, body []byte) (*http.Request, error) {
	u := *c.baseURL
	u.Path = joinPath(u.Path, p)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var bodyReader io.Reader = http.NoBody
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, err
	}
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	return req, nil
}

func joinPath(base, suffix string) string {
	if base == "" {
		return suffix
	}
	if base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base + suffix
}
