package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shadowerrors "github.com/marmos91/shadowfs/pkg/shadow/errors"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", shadowerrors.New(shadowerrors.ErrNotFound, "control", "x", nil), http.StatusNotFound, "NotFound"},
		{"not shadow", shadowerrors.New(shadowerrors.ErrNotShadow, "control", "", nil), http.StatusConflict, "NotShadow"},
		{"would block", shadowerrors.NewWouldBlockError("resolve", ""), http.StatusServiceUnavailable, "WouldBlock"},
		{"remote", shadowerrors.NewRemoteIOError("copy", "", nil), http.StatusBadGateway, "RemoteIOError"},
		{"plain", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, ContentTypeProblemJSON, rec.Header().Get("Content-Type"))
			var p Problem
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
			assert.Equal(t, tt.status, p.Status)
			assert.Equal(t, http.StatusText(tt.status), p.Title)
			assert.Equal(t, tt.code, p.Code)
			if tt.code == "WouldBlock" {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			} else {
				assert.Empty(t, rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestReadinessReasons(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(nil).Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, "mount not configured", resp.Error)
}
