package handlers

import (
	"github.com/marmos91/shadowfs/pkg/shadow"
)

// StatusResponse is the JSON form of a mount snapshot.
type StatusResponse struct {
	ID         string           `json:"id"`
	Configured bool             `json:"configured"`
	Standby    bool             `json:"standby"`
	Objects    map[string]int   `json:"objects"`
	Pending    PendingStatus    `json:"pending"`
	Links      LinkStatus       `json:"links"`
	Scheduler  SchedulerStatus  `json:"scheduler"`
	Migration  MigrationCounter `json:"migration"`
}

// PendingStatus describes the pending log.
type PendingStatus struct {
	Active      int   `json:"active"`
	Records     int64 `json:"records"`
	Removed     int   `json:"removed"`
	Collapses   int64 `json:"collapses"`
	Corruptions int64 `json:"corruptions"`
	Processing  bool  `json:"processing"`
}

// LinkStatus describes the hard-link table.
type LinkStatus struct {
	Indexes       int   `json:"indexes"`
	Links         int64 `json:"links"`
	Invalidations int64 `json:"invalidations"`
}

// SchedulerStatus describes the background scheduler.
type SchedulerStatus struct {
	Cycles    int64 `json:"cycles"`
	Collapses int64 `json:"collapses"`
	Processed int64 `json:"processed"`
	Errors    int64 `json:"errors"`
	Suspended bool  `json:"suspended"`
}

// MigrationCounter holds the cumulative migration counters.
type MigrationCounter struct {
	BytesCopied     int64 `json:"bytes_copied"`
	HoleBytes       int64 `json:"hole_bytes"`
	ObjectsMigrated int64 `json:"objects_migrated"`
	Errors          int64 `json:"errors"`
	PendingHandled  int64 `json:"pending_handled"`
}

// NewStatusResponse converts a mount snapshot.
func NewStatusResponse(s shadow.Stats) StatusResponse {
	objects := make(map[string]int, len(s.Engine.Objects))
	for st, n := range s.Engine.Objects {
		objects[st.String()] = n
	}
	p, l, sc, mg := s.Engine.Pending, s.Engine.Links, s.Scheduler, s.Migration
	return StatusResponse{
		ID:         s.ID,
		Configured: s.Configured,
		Standby:    s.Standby,
		Objects:    objects,
		Pending: PendingStatus{
			Active:      p.Active,
			Records:     p.Records,
			Removed:     p.Removed,
			Collapses:   p.Collapses,
			Corruptions: p.Corruptions,
			Processing:  p.Processing,
		},
		Links: LinkStatus{Indexes: l.Indexes, Links: l.Links, Invalidations: l.Invalidations},
		Scheduler: SchedulerStatus{
			Cycles:    sc.Cycles,
			Collapses: sc.Collapses,
			Processed: sc.Processed,
			Errors:    sc.Errors,
			Suspended: sc.Suspended,
		},
		Migration: MigrationCounter{
			BytesCopied:     mg.BytesCopied,
			HoleBytes:       mg.HoleBytes,
			ObjectsMigrated: mg.ObjectsMigrated,
			Errors:          mg.Errors,
			PendingHandled:  mg.PendingHandled,
		},
	}
}

// PendingEntry is one queued handle. Path is empty when the handle no
// longer resolves.
type PendingEntry struct {
	Handle string `json:"handle"`
	Path   string `json:"path,omitempty"`
}

// PendingResponse lists queued handles.
type PendingResponse struct {
	Total   int            `json:"total"`
	Entries []PendingEntry `json:"entries"`
}

// StandbyRequest toggles standby mode.
type StandbyRequest struct {
	Enabled bool `json:"enabled"`
}

// ControlJSONRequest is the JSON form of a control call. The target is
// named by Handle (hex) or Path, relative to the local root.
type ControlJSONRequest struct {
	Handle   string `json:"handle,omitempty"`
	Path     string `json:"path,omitempty"`
	Start    int64  `json:"start,omitempty"`
	End      *int64 `json:"end,omitempty"`
	Blocking bool   `json:"blocking,omitempty"`
}

// ControlJSONResponse is the JSON result of a successful control call.
type ControlJSONResponse struct {
	Op        string `json:"op"`
	Processed bool   `json:"processed,omitempty"`
	Path      string `json:"path,omitempty"`
}

// WalkResponse reports a full tree migration.
type WalkResponse struct {
	Dirs  int64 `json:"dirs"`
	Files int64 `json:"files"`
	Other int64 `json:"other"`
}
