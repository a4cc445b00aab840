// Package idgen mints the stable, prefixed ids used across the data model
// (workspaces, sessions, events, blobs, branches). Every entity id follows
// the same "<prefix>_<uuid>" shape so ids are self-describing in logs and
// RPC payloads.
package idgen

import "github.com/google/uuid"

const (
	WorkspacePrefix = "ws_"
	SessionPrefix   = "sess_"
	EventPrefix     = "evt_"
	BlobPrefix      = "blob_"
	BranchPrefix    = "br_"
	HandoffPrefix   = "ho_"
)

// New returns a fresh id with the given prefix, e.g. New(SessionPrefix).
func New(prefix string) string {
	return prefix + uuid.NewString()
}

// Workspace mints a new workspace id.
func Workspace() string { return New(WorkspacePrefix) }

// Session mints a new session id.
func Session() string { return New(SessionPrefix) }

// Event mints a new event id.
func Event() string { return New(EventPrefix) }

// Blob mints a new blob id.
func Blob() string { return New(BlobPrefix) }

// Branch mints a new branch id.
func Branch() string { return New(BranchPrefix) }

// Handoff mints a new handoff id.
func Handoff() string { return New(HandoffPrefix) }
