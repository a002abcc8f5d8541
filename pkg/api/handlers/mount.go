package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/pkg/shadow"
	"github.com/marmos91/shadowfs/pkg/shadow/engine"
	shadowerrors "github.com/marmos91/shadowfs/pkg/shadow/errors"
	"github.com/marmos91/shadowfs/pkg/shadow/fid"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
)

// ContentTypeBinary selects the fixed-size binary control encoding.
const ContentTypeBinary = "application/octet-stream"

// DefaultPendingLimit bounds GET /pending when no limit is given.
const DefaultPendingLimit = 1000

// Mount is the part of a shadow mount served over HTTP.
type Mount interface {
	ID() string
	Configured() bool
	Standby() bool
	SetStandby(on bool)
	Stats() shadow.Stats
	Pending(ctx context.Context) ([]fid.FID, error)
	HandleToPath(ctx context.Context, h fid.FID) (string, error)
	LookupPath(ctx context.Context, rel string) (vfs.Node, error)
	Control(ctx context.Context, req shadow.ControlRequest) shadow.ControlResponse
	Walk(ctx context.Context) (engine.WalkStats, error)
}

// MountHandler serves the control surface of one mount.
type MountHandler struct {
	mount Mount
}

// NewMountHandler creates a mount handler.
func NewMountHandler(m Mount) *MountHandler {
	return &MountHandler{mount: m}
}

// Status handles GET /status.
func (h *MountHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeOK(w, NewStatusResponse(h.mount.Stats()))
}

// SetStandby handles PUT /standby.
func (h *MountHandler) SetStandby(w http.ResponseWriter, r *http.Request) {
	var req StandbyRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	h.mount.SetStandby(req.Enabled)
	logger.InfoCtx(r.Context(), "Standby changed", logger.MountID(h.mount.ID()), "standby", req.Enabled)
	writeOK(w, StandbyRequest{Enabled: h.mount.Standby()})
}

// Pending handles GET /pending?limit=N.
func (h *MountHandler) Pending(w http.ResponseWriter, r *http.Request) {
	limit := DefaultPendingLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			BadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	hs, err := h.mount.Pending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := PendingResponse{Total: len(hs), Entries: make([]PendingEntry, 0, min(limit, len(hs)))}
	for _, id := range hs {
		if len(resp.Entries) >= limit {
			break
		}
		e := PendingEntry{Handle: id.Hex()}
		if p, err := h.mount.HandleToPath(r.Context(), id); err == nil {
			e.Path = p
		}
		resp.Entries = append(resp.Entries, e)
	}
	writeOK(w, resp)
}

// Walk handles POST /walk: migrate everything that is left.
func (h *MountHandler) Walk(w http.ResponseWriter, r *http.Request) {
	// Lift the server write timeout; a walk is bounded by the client only.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	st, err := h.mount.Walk(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, WalkResponse{Dirs: st.Dirs, Files: st.Files, Other: st.Other})
}

// Control handles POST /control/{op} with a JSON body.
func (h *MountHandler) Control(w http.ResponseWriter, r *http.Request) {
	op, ok := shadow.ParseOp(chi.URLParam(r, "op"))
	if !ok {
		NotFound(w, "unknown control operation "+strconv.Quote(chi.URLParam(r, "op")))
		return
	}
	var body ControlJSONRequest
	if r.ContentLength != 0 {
		if !decodeJSONBody(w, r, &body) {
			return
		}
	}

	req := shadow.ControlRequest{Op: op, Blocking: body.Blocking, Start: body.Start, End: -1}
	if body.End != nil {
		req.End = *body.End
	}
	if op != shadow.OpProcessOnePending {
		id, err := h.target(r.Context(), body)
		if err != nil {
			writeError(w, err)
			return
		}
		req.Handle = id
	}

	resp := h.mount.Control(r.Context(), req)
	if err := resp.Err(); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, ControlJSONResponse{
		Op:        op.String(),
		Processed: resp.Processed,
		Path:      resp.Path,
	})
}

func (h *MountHandler) target(ctx context.Context, body ControlJSONRequest) (fid.FID, error) {
	switch {
	case body.Handle != "" && body.Path != "":
		return fid.FID{}, shadowerrors.NewInvalidArgumentError("control", "give either handle or path")
	case body.Handle != "":
		id, err := fid.ParseHex(body.Handle)
		if err != nil {
			return fid.FID{}, shadowerrors.NewInvalidArgumentError("control", err.Error())
		}
		return id, nil
	case body.Path != "":
		n, err := h.mount.LookupPath(ctx, body.Path)
		if err != nil {
			return fid.FID{}, err
		}
		return n.ID(), nil
	default:
		return fid.FID{}, shadowerrors.NewInvalidArgumentError("control", "handle or path is required")
	}
}

// ControlBinary handles POST /control with the fixed-size binary request.
// The reply is always a binary response; decode failures carry
// InvalidArgument.
func (h *MountHandler) ControlBinary(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != ContentTypeBinary {
		UnsupportedMediaType(w, "control requests must be "+ContentTypeBinary)
		return
	}

	status := http.StatusOK
	var resp shadow.ControlResponse
	data, err := io.ReadAll(io.LimitReader(r.Body, shadow.RequestSize+1))
	var req shadow.ControlRequest
	if err == nil {
		err = req.UnmarshalBinary(data)
	}
	if err != nil {
		status = http.StatusBadRequest
		resp = shadow.ControlResponse{Code: shadowerrors.ErrInvalidArgument}
	} else {
		resp = h.mount.Control(r.Context(), req)
	}

	out, err := resp.MarshalBinary()
	if err != nil {
		InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", ContentTypeBinary)
	w.WriteHeader(status)
	_, _ = w.Write(out)
}
