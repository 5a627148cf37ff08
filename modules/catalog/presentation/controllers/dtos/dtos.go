package dtos

// APIError is the JSON error envelope returned by every API endpoint.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateRecordRequest proposes a new catalog record. Data is the contributed
// document; identity and audit fields are assigned server-side.
type CreateRecordRequest struct {
	Data        map[string]any `json:"data"`
	Description string         `json:"description,omitempty"`
	RefID       string         `json:"refId,omitempty"`
}

// UpdateRecordRequest proposes changes to an existing record. Data may be
// partial; it is merged over the current document before diffing.
type UpdateRecordRequest struct {
	Data        map[string]any `json:"data"`
	Description string         `json:"description,omitempty"`
	RefID       string         `json:"refId,omitempty"`
}

type DeleteRecordRequest struct {
	Reason string `json:"reason,omitempty"`
}

// AmendPatchRequest replaces the delta of a still-pending patch with one
// recomputed from Data.
type AmendPatchRequest struct {
	Data map[string]any `json:"data"`
}
