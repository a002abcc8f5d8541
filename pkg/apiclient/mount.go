package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/marmos91/shadowfs/pkg/api/handlers"
	"github.com/marmos91/shadowfs/pkg/shadow"
)

// Status returns the mount snapshot.
func (c *Client) Status(ctx context.Context) (*handlers.StatusResponse, error) {
	var st handlers.StatusResponse
	if err := c.get(ctx, "/api/v1/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SetStandby pauses or resumes migration and returns the resulting mode.
func (c *Client) SetStandby(ctx context.Context, enabled bool) (bool, error) {
	var out handlers.StandbyRequest
	if err := c.put(ctx, "/api/v1/standby", handlers.StandbyRequest{Enabled: enabled}, &out); err != nil {
		return false, err
	}
	return out.Enabled, nil
}

// Pending lists up to limit queued handles. A negative limit uses the
// server default.
func (c *Client) Pending(ctx context.Context, limit int) (*handlers.PendingResponse, error) {
	path := "/api/v1/pending"
	if limit >= 0 {
		path += "?" + url.Values{"limit": {fmt.Sprint(limit)}}.Encode()
	}
	var out handlers.PendingResponse
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Control runs one control operation using the JSON encoding.
func (c *Client) Control(ctx context.Context, op shadow.Op, req handlers.ControlJSONRequest) (*handlers.ControlJSONResponse, error) {
	var out handlers.ControlJSONResponse
	if err := c.post(ctx, "/api/v1/control/"+url.PathEscape(op.String()), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ControlBinary sends the fixed-size binary request and returns the binary
// response. Operation failures are reported in the response code, not as
// an error.
func (c *Client) ControlBinary(ctx context.Context, req shadow.ControlRequest) (shadow.ControlResponse, error) {
	var resp shadow.ControlResponse
	data, err := req.MarshalBinary()
	if err != nil {
		return resp, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/control", bytes.NewReader(data))
	if err != nil {
		return resp, fmt.Errorf("failed to create request: %w", err)
	}
	hreq.Header.Set("Content-Type", handlers.ContentTypeBinary)

	hresp, err := c.httpClient.Do(hreq)
	if err != nil {
		return resp, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = hresp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(hresp.Body, shadow.ResponseSize+1))
	if err != nil {
		return resp, fmt.Errorf("failed to read response body: %w", err)
	}
	if hresp.Header.Get("Content-Type") != handlers.ContentTypeBinary {
		return resp, parseError(hresp.StatusCode, body)
	}
	if err := resp.UnmarshalBinary(body); err != nil {
		return resp, err
	}
	return resp, nil
}

// Walk migrates everything left on the mount. It runs until the server
// finishes or ctx is cancelled.
func (c *Client) Walk(ctx context.Context) (*handlers.WalkResponse, error) {
	var out handlers.WalkResponse
	if err := c.do(ctx, c.untimed(), http.MethodPost, "/api/v1/walk", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Healthy reports whether the server answers its readiness probe.
func (c *Client) Healthy(ctx context.Context) error {
	return c.get(ctx, "/health/ready", nil)
}

// Liveness returns the liveness probe payload.
func (c *Client) Liveness(ctx context.Context) (*handlers.HealthInfo, error) {
	var out handlers.HealthInfo
	if err := c.get(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}
