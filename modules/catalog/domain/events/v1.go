package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	TopicPatchChangedV1 = "catalog.patch.changed.v1"
	EventVersionV1      = 1
)

// Patch lifecycle change types.
const (
	ChangePatchCreated  = "patch.created"
	ChangePatchAccepted = "patch.accepted"
	ChangePatchRejected = "patch.rejected"
	ChangePatchAmended  = "patch.amended"
	ChangeTargetDeleted = "target.deleted"
)

// PatchEventV1 is published on the event bus after a workflow transaction
// commits. Consumers (notification relays, webhooks) live outside this core.
type PatchEventV1 struct {
	EventID         uuid.UUID `json:"event_id"`
	EventVersion    int       `json:"event_version"`
	TransactionTime time.Time `json:"transaction_time"`
	InitiatorID     uuid.UUID `json:"initiator_id"`
	ChangeType      string    `json:"change_type"`
	TargetPath      string    `json:"target_path"`
	TargetID        uuid.UUID `json:"target_id"`
	PatchID         uuid.UUID `json:"patch_id"`
}

func NewPatchEventV1(changeType, targetPath string, targetID, patchID, initiatorID uuid.UUID) PatchEventV1 {
	return PatchEventV1{
		EventID:         uuid.New(),
		EventVersion:    EventVersionV1,
		TransactionTime: time.Now().UTC(),
		InitiatorID:     initiatorID,
		ChangeType:      changeType,
		TargetPath:      targetPath,
		TargetID:        targetID,
		PatchID:         patchID,
	}
}
