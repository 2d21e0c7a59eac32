package syncstore

import "github.com/oklog/ulid/v2"

// Status is the human-in-the-loop approval state of an entry.
// Capabilities that are not confirmation-gated keep StatusNone.
type Status string

const (
	StatusNone      Status = ""
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
)

// Entry is the observable result of one capability invocation.
//
// Version is a monotonic per-identifier counter used by the optimistic
// guard: async writers capture it before starting work and their write
// is discarded if it moved on. SeqNo is store-assigned insertion order,
// assigned once on the identifier's first write and never reassigned.
//
// Entries sharing an EntityID describe the same logical subject; the
// one with the lowest SeqNo is the anchor and the sole render target.
// Followup entries have their output merged into the anchor and are
// left non-renderable (nil output, not loading).
type Entry struct {
	Output     any    `json:"output"`
	Loading    bool   `json:"loading"`
	Error      string `json:"error,omitempty"`
	Version    int64  `json:"version"`
	Capability string `json:"capability"`
	Status     Status `json:"status,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	SeqNo      int64  `json:"seq_no"`
}

// NewID generates a store identifier for callers that do not supply
// one. ULIDs sort by creation time, which keeps identifier order
// aligned with SeqNo order in logs and debugging output.
func NewID() string {
	return ulid.Make().String()
}
