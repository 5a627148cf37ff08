package services

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Actunime/Actunime-API-sub000/modules/catalog/domain/events"
	"github.com/Actunime/Actunime-API-sub000/modules/catalog/domain/patch"
	"github.com/Actunime/Actunime-API-sub000/modules/catalog/domain/record"
	"github.com/Actunime/Actunime-API-sub000/pkg/composables"
	"github.com/Actunime/Actunime-API-sub000/pkg/diff"
	"github.com/Actunime/Actunime-API-sub000/pkg/eventbus"
)

// administrative keys never take part in a diff: identity and audit fields
// are owned by the stores, not by contributors.
func ignoreAdministrativeKeys(path []any, key string) bool {
	if len(path) > 0 {
		return false
	}
	switch key {
	case "id", "isVerified", "createdAt", "updatedAt":
		return true
	}
	return false
}

// RevisionService is the moderated change-request workflow for one record
// kind. Every mutation to a live record passes through it: contributors
// produce PENDING patches, moderators produce immediately ACCEPTED ones,
// and acceptance re-applies the stored delta onto whatever the live record
// holds at that moment.
type RevisionService struct {
	targetPath string
	patches    patch.Repository
	targets    record.Store
	builder    record.Builder
	cache      Cache
	bus        eventbus.EventBus
	log        *logrus.Logger
}

type Option func(*RevisionService)

func WithBuilder(b record.Builder) Option {
	return func(s *RevisionService) { s.builder = b }
}

func WithCache(c Cache) Option {
	return func(s *RevisionService) { s.cache = c }
}

func WithEventBus(bus eventbus.EventBus) Option {
	return func(s *RevisionService) { s.bus = bus }
}

func WithLogger(log *logrus.Logger) Option {
	return func(s *RevisionService) { s.log = log }
}

func NewRevisionService(targetPath string, patches patch.Repository, targets record.Store, opts ...Option) *RevisionService {
	s := &RevisionService{
		targetPath: targetPath,
		patches:    patches,
		targets:    targets,
		builder:    record.MergeBuilder(),
		cache:      noopCache{},
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WorkflowResult pairs the touched record (nil when it no longer exists)
// with the patch recording the action.
type WorkflowResult struct {
	Data  *record.Record `json:"data"`
	Patch *patch.Patch   `json:"patch,omitempty"`
}

type CreateInput struct {
	Proposed    map[string]any
	AsRequest   bool
	AuthorID    uuid.UUID
	Description string
	RefID       uuid.UUID
}

type UpdateInput struct {
	Proposed    map[string]any
	AsRequest   bool
	AuthorID    uuid.UUID
	Description string
	RefID       uuid.UUID
}

// inTx runs fn atomically when a database is wired into the context. The
// in-memory doubles manage their own consistency, so tests run fn directly.
func inTx(ctx context.Context, fn func(context.Context) error) error {
	if _, err := composables.UseTx(ctx); err != nil {
		return fn(ctx)
	}
	return composables.InTx(ctx, fn)
}

func inTxResult[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := inTx(ctx, func(txCtx context.Context) error {
		var innerErr error
		out, innerErr = fn(txCtx)
		return innerErr
	})
	return out, err
}

func (s *RevisionService) normalizeDocument(doc map[string]any) (map[string]any, error) {
	norm, err := diff.Normalize(doc)
	if err != nil {
		return nil, newServiceError(http.StatusBadRequest, CodeBadRequest, "document is not JSON-serializable", err)
	}
	if norm == nil {
		return map[string]any{}, nil
	}
	out, ok := norm.(map[string]any)
	if !ok {
		return nil, errBadRequest("document root must be an object")
	}
	return out, nil
}

// Create builds a full candidate record and registers a CREATE patch. An
// untrusted submission (AsRequest) pre-creates the target unverified with a
// PENDING patch; a moderator-authored one creates it verified with the patch
// born ACCEPTED. Target write and patch write share one transaction.
func (s *RevisionService) Create(ctx context.Context, in CreateInput) (*WorkflowResult, error) {
	if len(in.Proposed) == 0 {
		return nil, errBadRequest("proposed data is required")
	}

	res, err := inTxResult(ctx, func(txCtx context.Context) (*WorkflowResult, error) {
		candidate, err := s.builder.Build(txCtx, in.Proposed, nil)
		if err != nil {
			return nil, mapPgError(err, CodeTargetNotFound)
		}
		document, err := s.normalizeDocument(candidate)
		if err != nil {
			return nil, err
		}

		rec, err := s.targets.Create(txCtx, &record.Record{
			ID:         uuid.New(),
			IsVerified: !in.AsRequest,
			Document:   document,
		})
		if err != nil {
			return nil, mapPgError(err, CodeTargetNotFound)
		}

		p := &patch.Patch{
			ID:          uuid.New(),
			Type:        patch.TypeCreate,
			Status:      patch.StatusAccepted,
			Target:      patch.Target{ID: rec.ID, Path: s.targetPath},
			Original:    diff.Clone(document),
			AuthorID:    in.AuthorID,
			RefID:       in.RefID,
			Description: in.Description,
		}
		if in.AsRequest {
			p.Status = patch.StatusPending
		} else {
			p.ModeratorID = in.AuthorID
		}

		p, err = s.patches.Create(txCtx, p)
		if err != nil {
			return nil, mapPgError(err, CodePatchNotFound)
		}

		s.cache.Invalidate(txCtx, recordCacheKey(s.targetPath, rec.ID))
		return &WorkflowResult{Data: rec, Patch: p}, nil
	})
	if err != nil {
		return nil, err
	}

	recordTransition(s.targetPath, "create")
	s.publish(events.ChangePatchCreated, res.Patch.Target.ID, res.Patch.ID, in.AuthorID)
	s.log.WithFields(logrus.Fields{
		"kind":      s.targetPath,
		"target_id": res.Patch.Target.ID,
		"patch_id":  res.Patch.ID,
		"pending":   in.AsRequest,
	}).Info("create patch registered")
	return res, nil
}

// Update diffs a rebuilt candidate against the current target. An empty diff
// is rejected with EMPTY_CHANGES before anything is written. A pending
// update never touches the target; a moderator-authored one applies the
// candidate immediately.
func (s *RevisionService) Update(ctx context.Context, targetID uuid.UUID, in UpdateInput) (*WorkflowResult, error) {
	if targetID == uuid.Nil {
		return nil, errBadRequest("target id is required")
	}

	res, err := inTxResult(ctx, func(txCtx context.Context) (*WorkflowResult, error) {
		cur, err := s.targets.Get(txCtx, targetID)
		if err != nil {
			return nil, mapPgError(err, CodeTargetNotFound)
		}
		current, err := s.normalizeDocument(cur.Document)
		if err != nil {
			return nil, err
		}

		candidate, err := s.builder.Build(txCtx, in.Proposed, current)
		if err != nil {
			return nil, mapPgError(err, CodeTargetNotFound)
		}
		document, err := s.normalizeDocument(candidate)
		if err != nil {
			return nil, err
		}

		changes := diff.Compute(current, document, diff.WithIgnore(ignoreAdministrativeKeys))
		if len(changes) == 0 {
			return nil, errEmptyChanges()
		}

		p := &patch.Patch{
			ID:          uuid.New(),
			Type:        patch.TypeUpdate,
			Status:      patch.StatusAccepted,
			Target:      patch.Target{ID: targetID, Path: s.targetPath},
			Original:    diff.Clone(current),
			Changes:     changes,
			AuthorID:    in.AuthorID,
			RefID:       in.RefID,
			Description: in.Description,
		}
		if in.AsRequest {
			p.Status = patch.StatusPending
		} else {
			p.ModeratorID = in.AuthorID
		}

		p, err = s.patches.Create(txCtx, p)
		if err != nil {
			return nil, mapPgError(err, CodePatchNotFound)
		}

		rec := cur
		if !in.AsRequest {
			rec, err = s.targets.Update(txCtx, targetID, document)
			if err != nil {
				return nil, mapPgError(err, CodeTargetNotFound)
			}
			s.cache.Invalidate(txCtx, recordCacheKey(s.targetPath, targetID))
		}

		return &WorkflowResult{Data: rec, Patch: p}, nil
	})
	if err != nil {
		return nil, err
	}

	recordTransition(s.targetPath, "update")
	s.publish(events.ChangePatchCreated, targetID, res.Patch.ID, in.AuthorID)
	return res, nil
}

// Delete removes the target unconditionally. Only a verified target leaves
// an audit trail: its deletion is recorded as an ACCEPTED DELETE patch
// carrying the last known snapshot. An unverified target simply vanishes.
func (s *RevisionService) Delete(ctx context.Context, targetID uuid.UUID, reason string, moderatorID uuid.UUID) (*WorkflowResult, error) {
	res, err := inTxResult(ctx, func(txCtx context.Context) (*WorkflowResult, error) {
		cur, err := s.targets.Get(txCtx, targetID)
		if err != nil {
			return nil, mapPgError(err, CodeTargetNotFound)
		}

		if _, err := s.targets.Delete(txCtx, targetID); err != nil {
			return nil, mapPgError(err, CodeTargetNotFound)
		}
		s.cache.Invalidate(txCtx, recordCacheKey(s.targetPath, targetID))

		if !cur.IsVerified {
			return &WorkflowResult{Data: cur}, nil
		}

		p, err := s.patches.Create(txCtx, &patch.Patch{
			ID:          uuid.New(),
			Type:        patch.TypeDelete,
			Status:      patch.StatusAccepted,
			Target:      patch.Target{ID: targetID, Path: s.targetPath},
			Original:    diff.Clone(cur.Document),
			AuthorID:    moderatorID,
			ModeratorID: moderatorID,
			Reason:      reason,
		})
		if err != nil {
			return nil, mapPgError(err, CodePatchNotFound)
		}
		return &WorkflowResult{Data: cur, Patch: p}, nil
	})
	if err != nil {
		return nil, err
	}

	recordTransition(s.targetPath, "delete")
	if res.Patch != nil {
		s.publish(events.ChangeTargetDeleted, targetID, res.Patch.ID, moderatorID)
	}
	return res, nil
}

// Verify marks a target as canonical. It is forbidden while the target's
// originating CREATE patch is still pending.
func (s *RevisionService) Verify(ctx context.Context, targetID uuid.UUID) (*WorkflowResult, error) {
	return s.setVerified(ctx, targetID, true)
}

func (s *RevisionService) Unverify(ctx context.Context, targetID uuid.UUID) (*WorkflowResult, error) {
	return s.setVerified(ctx, targetID, false)
}

func (s *RevisionService) setVerified(ctx context.Context, targetID uuid.UUID, verified bool) (*WorkflowResult, error) {
	return inTxResult(ctx, func(txCtx context.Context) (*WorkflowResult, error) {
		pending := patch.StatusPending
		open, err := s.patches.FindByTarget(txCtx, s.targetPath, targetID, &pending)
		if err != nil {
			return nil, mapPgError(err, CodePatchNotFound)
		}
		for _, p := range open {
			if p.Type == patch.TypeCreate {
				return nil, errForbidden("target has a pending creation request")
			}
		}

		rec, err := s.targets.SetVerified(txCtx, targetID, verified)
		if err != nil {
			return nil, mapPgError(err, CodeTargetNotFound)
		}
		s.cache.Invalidate(txCtx, recordCacheKey(s.targetPath, targetID))
		return &WorkflowResult{Data: rec}, nil
	})
}

// Accept applies a pending CREATE or UPDATE patch. The stored delta is
// re-applied onto the live record as it stands now, not onto the snapshot
// taken at request time: the last diff wins, re-based automatically.
func (s *RevisionService) Accept(ctx context.Context, targetID, patchID, moderatorID uuid.UUID) (*WorkflowResult, error) {
	res, err := inTxResult(ctx, func(txCtx context.Context) (*WorkflowResult, error) {
		p, err := s.loadPendingPatch(txCtx, targetID, patchID)
		if err != nil {
			return nil, err
		}

		cur, err := s.targets.Get(txCtx, targetID)
		if err != nil {
			return nil, mapPgError(err, CodeTargetNotFound)
		}

		rec := cur
		if len(p.Changes) > 0 {
			current, err := s.normalizeDocument(cur.Document)
			if err != nil {
				return nil, err
			}
			applied, err := diff.Apply(current, p.Changes)
			if err != nil {
				return nil, newServiceError(http.StatusBadRequest, CodeBadRequest, "stored changes no longer apply to the target", err)
			}
			document, ok := applied.(map[string]any)
			if !ok {
				return nil, errBadRequest("applied changes do not produce an object")
			}
			rec, err = s.targets.Update(txCtx, targetID, document)
			if err != nil {
				return nil, mapPgError(err, CodeTargetNotFound)
			}
		} else if p.Type == patch.TypeUpdate {
			return nil, errEmptyChanges()
		}

		p, err = s.patches.UpdateStatus(txCtx, patchID, patch.StatusAccepted, moderatorID)
		if err != nil {
			return nil, mapPgError(err, CodePatchNotFound)
		}

		s.cache.Invalidate(txCtx, recordCacheKey(s.targetPath, targetID))
		return &WorkflowResult{Data: rec, Patch: p}, nil
	})
	if err != nil {
		return nil, err
	}

	recordTransition(s.targetPath, "accept")
	s.publish(events.ChangePatchAccepted, targetID, patchID, moderatorID)
	s.log.WithFields(logrus.Fields{
		"kind":      s.targetPath,
		"target_id": targetID,
		"patch_id":  patchID,
	}).Info("patch accepted")
	return res, nil
}

// Reject closes a pending CREATE or UPDATE patch. A rejected CREATE deletes
// the pre-created target, which never should have existed publicly; a
// rejected UPDATE leaves the live record untouched.
func (s *RevisionService) Reject(ctx context.Context, targetID, patchID, moderatorID uuid.UUID) (*WorkflowResult, error) {
	res, err := inTxResult(ctx, func(txCtx context.Context) (*WorkflowResult, error) {
		p, err := s.loadPendingPatch(txCtx, targetID, patchID)
		if err != nil {
			return nil, err
		}

		var rec *record.Record
		if p.Type == patch.TypeCreate {
			if _, err := s.targets.Delete(txCtx, targetID); err != nil {
				return nil, mapPgError(err, CodeTargetNotFound)
			}
		} else {
			rec, err = s.targets.Get(txCtx, targetID)
			if err != nil {
				return nil, mapPgError(err, CodeTargetNotFound)
			}
		}

		p, err = s.patches.UpdateStatus(txCtx, patchID, patch.StatusRejected, moderatorID)
		if err != nil {
			return nil, mapPgError(err, CodePatchNotFound)
		}

		s.cache.Invalidate(txCtx, recordCacheKey(s.targetPath, targetID))
		return &WorkflowResult{Data: rec, Patch: p}, nil
	})
	if err != nil {
		return nil, err
	}

	recordTransition(s.targetPath, "reject")
	s.publish(events.ChangePatchRejected, targetID, patchID, moderatorID)
	s.log.WithFields(logrus.Fields{
		"kind":      s.targetPath,
		"target_id": targetID,
		"patch_id":  patchID,
	}).Info("patch rejected")
	return res, nil
}

func (s *RevisionService) loadPendingPatch(ctx context.Context, targetID, patchID uuid.UUID) (*patch.Patch, error) {
	p, err := s.patches.GetByID(ctx, patchID)
	if err != nil {
		return nil, mapPgError(err, CodePatchNotFound)
	}
	if p.Target.ID != targetID || p.Target.Path != s.targetPath {
		return nil, errBadRequest("patch does not belong to this target")
	}
	if !p.IsPending() {
		return nil, errForbidden("patch is no longer pending")
	}
	if p.Type != patch.TypeCreate && p.Type != patch.TypeUpdate {
		return nil, errForbidden("only create and update patches can be moderated")
	}
	return p, nil
}

// Amend replaces the delta of a still-pending patch. The candidate is built
// over the pending state (live target plus the stored changes), the new
// delta is computed against the live target, and the edit itself is recorded
// as a separate, immediately ACCEPTED patch whose target is the amended
// patch. Same diff machinery, one level up.
func (s *RevisionService) Amend(ctx context.Context, targetID, patchID uuid.UUID, proposed map[string]any, moderatorID uuid.UUID) (*WorkflowResult, error) {
	res, err := inTxResult(ctx, func(txCtx context.Context) (*WorkflowResult, error) {
		p, err := s.patches.GetByID(txCtx, patchID)
		if err != nil {
			return nil, mapPgError(err, CodePatchNotFound)
		}
		if !p.IsPending() || p.Target.ID != targetID || p.Target.Path != s.targetPath {
			return nil, errBadRequest("patch is not pending for this target")
		}

		cur, err := s.targets.Get(txCtx, targetID)
		if err != nil {
			return nil, mapPgError(err, CodeTargetNotFound)
		}
		current, err := s.normalizeDocument(cur.Document)
		if err != nil {
			return nil, err
		}

		// The pending diff has not been applied to the live record yet, so
		// the baseline for the caller's data is the pending state.
		pendingState, err := diff.Apply(current, p.Changes)
		if err != nil {
			return nil, newServiceError(http.StatusBadRequest, CodeBadRequest, "stored changes no longer apply to the target", err)
		}
		baseline, _ := pendingState.(map[string]any)

		candidate, err := s.builder.Build(txCtx, proposed, baseline)
		if err != nil {
			return nil, mapPgError(err, CodeTargetNotFound)
		}
		document, err := s.normalizeDocument(candidate)
		if err != nil {
			return nil, err
		}

		newChanges := diff.Compute(current, document, diff.WithIgnore(ignoreAdministrativeKeys))
		if len(newChanges) == 0 {
			return nil, errEmptyChanges()
		}

		if _, err := s.patches.Create(txCtx, &patch.Patch{
			ID:          uuid.New(),
			Type:        patch.TypeUpdate,
			Status:      patch.StatusAccepted,
			Target:      patch.Target{ID: p.ID, Path: patch.TargetPathPatch},
			Original:    p.Changes,
			Changes:     newChanges,
			AuthorID:    moderatorID,
			ModeratorID: moderatorID,
		}); err != nil {
			return nil, mapPgError(err, CodePatchNotFound)
		}

		p, err = s.patches.UpdateChanges(txCtx, patchID, newChanges)
		if err != nil {
			return nil, mapPgError(err, CodePatchNotFound)
		}
		return &WorkflowResult{Data: cur, Patch: p}, nil
	})
	if err != nil {
		return nil, err
	}

	recordTransition(s.targetPath, "amend")
	s.publish(events.ChangePatchAmended, targetID, patchID, moderatorID)
	return res, nil
}

// DeletePatch is moderator audit cleanup. Pending patches cannot be removed;
// they must be accepted or rejected first.
func (s *RevisionService) DeletePatch(ctx context.Context, patchID uuid.UUID) (bool, error) {
	return inTxResult(ctx, func(txCtx context.Context) (bool, error) {
		p, err := s.patches.GetByID(txCtx, patchID)
		if err != nil {
			return false, mapPgError(err, CodePatchNotFound)
		}
		if p.IsPending() {
			return false, errForbidden("pending patches cannot be deleted")
		}
		ok, err := s.patches.DeleteByID(txCtx, patchID)
		if err != nil {
			return false, mapPgError(err, CodePatchNotFound)
		}
		return ok, nil
	})
}

// GetRecord serves the read path, through the short-TTL cache when one is
// wired in.
func (s *RevisionService) GetRecord(ctx context.Context, targetID uuid.UUID) (*record.Record, error) {
	key := recordCacheKey(s.targetPath, targetID)
	if raw, ok := s.cache.Get(ctx, key); ok {
		var rec record.Record
		if err := json.Unmarshal(raw, &rec); err == nil {
			return &rec, nil
		}
		s.cache.Invalidate(ctx, key)
	}

	rec, err := s.targets.Get(ctx, targetID)
	if err != nil {
		return nil, mapPgError(err, CodeTargetNotFound)
	}
	if raw, err := json.Marshal(rec); err == nil {
		s.cache.Set(ctx, key, raw)
	}
	return rec, nil
}

func (s *RevisionService) GetPatch(ctx context.Context, patchID uuid.UUID) (*patch.Patch, error) {
	p, err := s.patches.GetByID(ctx, patchID)
	if err != nil {
		return nil, mapPgError(err, CodePatchNotFound)
	}
	return p, nil
}

func (s *RevisionService) ListPatches(ctx context.Context, targetID uuid.UUID, status *patch.Status) ([]*patch.Patch, error) {
	out, err := s.patches.FindByTarget(ctx, s.targetPath, targetID, status)
	if err != nil {
		return nil, mapPgError(err, CodePatchNotFound)
	}
	return out, nil
}

func (s *RevisionService) publish(changeType string, targetID, patchID, initiatorID uuid.UUID) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.NewPatchEventV1(changeType, s.targetPath, targetID, patchID, initiatorID))
}
