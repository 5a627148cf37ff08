package patch

import (
	"time"

	"github.com/google/uuid"

	"github.com/Actunime/Actunime-API-sub000/pkg/diff"
)

// Type classifies what a change request proposes to do to its target.
type Type string

const (
	TypeCreate Type = "CREATE"
	TypeUpdate Type = "UPDATE"
	TypeDelete Type = "DELETE"
)

// Status is the moderation state. PENDING is the only non-terminal state:
// once a patch is ACCEPTED or REJECTED it never transitions again.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
)

// TargetPathPatch is the target path used when a patch amends another
// still-pending patch instead of a live record.
const TargetPathPatch = "Patch"

// Target identifies the record (or patch, for amendments) a change request
// mutates. It never changes over the patch's lifetime.
type Target struct {
	ID   uuid.UUID `json:"id"`
	Path string    `json:"path"`
}

// Patch is a moderatable change request against a catalog record.
//
// Exactly one snapshot/delta combination is populated per type: CREATE
// always carries Original, UPDATE always carries Changes, DELETE carries
// Original (the last known state before removal).
type Patch struct {
	ID               uuid.UUID        `json:"id"`
	Type             Type             `json:"type"`
	Status           Status           `json:"status"`
	Target           Target           `json:"target"`
	Original         any              `json:"original,omitempty"`
	Changes          []diff.Operation `json:"changes,omitempty"`
	IsChangesUpdated bool             `json:"isChangesUpdated"`
	AuthorID         uuid.UUID        `json:"authorId"`
	ModeratorID      uuid.UUID        `json:"moderatorId,omitempty"`
	RefID            uuid.UUID        `json:"refId,omitempty"`
	Description      string           `json:"description,omitempty"`
	Reason           string           `json:"reason,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// IsPending reports whether the patch can still be accepted, rejected or
// amended.
func (p *Patch) IsPending() bool {
	return p.Status == StatusPending
}
