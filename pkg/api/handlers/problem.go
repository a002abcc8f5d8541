// Package handlers serves the shadowfs control API.
package handlers

import (
	"encoding/json"
	"net/http"

	shadowerrors "github.com/marmos91/shadowfs/pkg/shadow/errors"
)

// ContentTypeProblemJSON is the Content-Type of error replies.
const ContentTypeProblemJSON = "application/problem+json"

// Problem is an RFC 7807 problem document. Code names the migration error
// code when the failure came from the mount.
type Problem struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Code   string `json:"code,omitempty"`
}

func newProblem(status int, detail string) *Problem {
	return &Problem{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
}

// problemFor classifies err by its migration error code.
func problemFor(err error) *Problem {
	code := shadowerrors.CodeOf(err)
	p := newProblem(statusFor(code), err.Error())
	if code != 0 {
		p.Code = code.String()
	}
	return p
}

func statusFor(code shadowerrors.ErrorCode) int {
	switch code {
	case shadowerrors.ErrNotFound:
		return http.StatusNotFound
	case shadowerrors.ErrInvalidArgument:
		return http.StatusBadRequest
	case shadowerrors.ErrNotShadow, shadowerrors.ErrStructuralConflict:
		return http.StatusConflict
	case shadowerrors.ErrWouldBlock, shadowerrors.ErrInterrupted:
		return http.StatusServiceUnavailable
	case shadowerrors.ErrRemoteIO, shadowerrors.ErrRemoteUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (p *Problem) write(w http.ResponseWriter) {
	if p.Code == shadowerrors.ErrWouldBlock.String() {
		w.Header().Set("Retry-After", "1")
	}
	w.Header().Set("Content-Type", ContentTypeProblemJSON)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func writeError(w http.ResponseWriter, err error) { problemFor(err).write(w) }

// BadRequest replies 400 with detail.
func BadRequest(w http.ResponseWriter, detail string) {
	newProblem(http.StatusBadRequest, detail).write(w)
}

// NotFound replies 404 with detail.
func NotFound(w http.ResponseWriter, detail string) {
	newProblem(http.StatusNotFound, detail).write(w)
}

func UnsupportedMediaType(w http.ResponseWriter, detail string) {
	newProblem(http.StatusUnsupportedMediaType, detail).write(w)
}

func InternalServerError(w http.ResponseWriter, detail string) {
	newProblem(http.StatusInternalServerError, detail).write(w)
}
