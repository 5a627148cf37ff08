package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Actunime/Actunime-API-sub000/modules/catalog/domain/events"
	"github.com/Actunime/Actunime-API-sub000/modules/catalog/domain/patch"
	"github.com/Actunime/Actunime-API-sub000/modules/catalog/infrastructure/cache"
	"github.com/Actunime/Actunime-API-sub000/modules/catalog/infrastructure/persistence"
	"github.com/Actunime/Actunime-API-sub000/pkg/eventbus"
)

var (
	author    = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	moderator = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newTestService(t *testing.T, opts ...Option) (*RevisionService, *persistence.MemoryRecordStore, *persistence.MemoryPatchRepository) {
	t.Helper()
	targets := persistence.NewMemoryRecordStore("Anime")
	patches := persistence.NewMemoryPatchRepository()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	svc := NewRevisionService("Anime", patches, targets, opts...)
	return svc, targets, patches
}

func requireCode(t *testing.T, err error, code string, status int) {
	t.Helper()
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, code, svcErr.Code)
	require.Equal(t, status, svcErr.Status)
}

func animeDoc() map[string]any {
	return map[string]any{"title": "A", "year": 2020}
}

func TestCreate_AsRequest_PendingLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Create(ctx, CreateInput{Proposed: animeDoc(), AsRequest: true, AuthorID: author})
	require.NoError(t, err)
	require.False(t, res.Data.IsVerified)
	require.Equal(t, patch.TypeCreate, res.Patch.Type)
	require.Equal(t, patch.StatusPending, res.Patch.Status)
	require.Equal(t, author, res.Patch.AuthorID)
	require.NotNil(t, res.Patch.Original)
	require.Empty(t, res.Patch.Changes)
	require.Equal(t, res.Data.ID, res.Patch.Target.ID)
	require.Equal(t, "Anime", res.Patch.Target.Path)

	accepted, err := svc.Accept(ctx, res.Data.ID, res.Patch.ID, moderator)
	require.NoError(t, err)
	require.Equal(t, patch.StatusAccepted, accepted.Patch.Status)
	require.Equal(t, moderator, accepted.Patch.ModeratorID)
	// No changes stored: the pre-created snapshot already matched.
	require.Equal(t, "A", accepted.Data.Document["title"])
	require.Equal(t, float64(2020), accepted.Data.Document["year"])
}

func TestCreate_ModeratorAuthored(t *testing.T) {
	svc, _, _ := newTestService(t)

	res, err := svc.Create(context.Background(), CreateInput{Proposed: animeDoc(), AuthorID: moderator})
	require.NoError(t, err)
	require.True(t, res.Data.IsVerified)
	require.Equal(t, patch.StatusAccepted, res.Patch.Status)
	require.Equal(t, moderator, res.Patch.ModeratorID)
}

func TestUpdate_NoopRejectedWithEmptyChanges(t *testing.T) {
	svc, _, patches := newTestService(t)
	ctx := context.Background()

	res, err := svc.Create(ctx, CreateInput{Proposed: animeDoc(), AuthorID: moderator})
	require.NoError(t, err)

	_, err = svc.Update(ctx, res.Data.ID, UpdateInput{Proposed: animeDoc(), AsRequest: true, AuthorID: author})
	requireCode(t, err, CodeEmptyChanges, 400)

	// No change request was created by the failed no-op.
	all, err := patches.FindByTarget(ctx, "Anime", res.Data.ID, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestUpdate_AsRequest_DoesNotTouchTarget(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Proposed: animeDoc(), AuthorID: moderator})
	require.NoError(t, err)

	res, err := svc.Update(ctx, created.Data.ID, UpdateInput{
		Proposed:  map[string]any{"year": 2021},
		AsRequest: true,
		AuthorID:  author,
	})
	require.NoError(t, err)
	require.Equal(t, patch.TypeUpdate, res.Patch.Type)
	require.Equal(t, patch.StatusPending, res.Patch.Status)
	require.Len(t, res.Patch.Changes, 1)

	op := res.Patch.Changes[0]
	require.Equal(t, "E", string(op.Kind))
	require.Equal(t, []any{"year"}, op.Path)
	require.Equal(t, float64(2020), op.Lhs)
	require.Equal(t, float64(2021), op.Rhs)

	// Live record is untouched until moderation.
	rec, err := svc.GetRecord(ctx, created.Data.ID)
	require.NoError(t, err)
	require.Equal(t, float64(2020), rec.Document["year"])

	accepted, err := svc.Accept(ctx, created.Data.ID, res.Patch.ID, moderator)
	require.NoError(t, err)
	require.Equal(t, float64(2021), accepted.Data.Document["year"])
	require.Equal(t, "A", accepted.Data.Document["title"])
}

func TestUpdate_ModeratorAuthoredAppliesImmediately(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Proposed: animeDoc(), AuthorID: moderator})
	require.NoError(t, err)

	res, err := svc.Update(ctx, created.Data.ID, UpdateInput{
		Proposed: map[string]any{"year": 2021},
		AuthorID: moderator,
	})
	require.NoError(t, err)
	require.Equal(t, patch.StatusAccepted, res.Patch.Status)
	require.Equal(t, float64(2021), res.Data.Document["year"])
}

func TestAccept_RebasesOntoLiveRecord(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Proposed: animeDoc(), AuthorID: moderator})
	require.NoError(t, err)
	id := created.Data.ID

	pending, err := svc.Update(ctx, id, UpdateInput{
		Proposed:  map[string]any{"year": 2021},
		AsRequest: true,
		AuthorID:  author,
	})
	require.NoError(t, err)

	// The target drifts before moderation.
	_, err = svc.Update(ctx, id, UpdateInput{
		Proposed: map[string]any{"title": "B"},
		AuthorID: moderator,
	})
	require.NoError(t, err)

	accepted, err := svc.Accept(ctx, id, pending.Patch.ID, moderator)
	require.NoError(t, err)
	// The stored delta was re-applied onto the drifted record, not replayed
	// from the request-time snapshot.
	require.Equal(t, "B", accepted.Data.Document["title"])
	require.Equal(t, float64(2021), accepted.Data.Document["year"])
}

func TestReject_UndoesCreation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Create(ctx, CreateInput{Proposed: animeDoc(), AsRequest: true, AuthorID: author})
	require.NoError(t, err)

	rejected, err := svc.Reject(ctx, res.Data.ID, res.Patch.ID, moderator)
	require.NoError(t, err)
	require.Equal(t, patch.StatusRejected, rejected.Patch.Status)
	require.Nil(t, rejected.Data)

	_, err = svc.GetRecord(ctx, res.Data.ID)
	requireCode(t, err, CodeTargetNotFound, 404)
}

func TestReject_UpdateLeavesTargetUntouched(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Proposed: animeDoc(), AuthorID: moderator})
	require.NoError(t, err)

	pending, err := svc.Update(ctx, created.Data.ID, UpdateInput{
		Proposed:  map[string]any{"year": 2021},
		AsRequest: true,
		AuthorID:  author,
	})
	require.NoError(t, err)

	_, err = svc.Reject(ctx, created.Data.ID, pending.Patch.ID, moderator)
	require.NoError(t, err)

	rec, err := svc.GetRecord(ctx, created.Data.ID)
	require.NoError(t, err)
	require.Equal(t, float64(2020), rec.Document["year"])
}

func TestModeration_Guards(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Create(ctx, CreateInput{Proposed: animeDoc(), AsRequest: true, AuthorID: author})
	require.NoError(t, err)

	t.Run("unknown patch", func(t *testing.T) {
		_, err := svc.Accept(ctx, res.Data.ID, uuid.New(), moderator)
		requireCode(t, err, CodePatchNotFound, 404)
	})

	t.Run("target mismatch", func(t *testing.T) {
		_, err := svc.Accept(ctx, uuid.New(), res.Patch.ID, moderator)
		requireCode(t, err, CodeBadRequest, 400)
	})

	t.Run("wrong kind", func(t *testing.T) {
		// The patches table is shared across kinds; a service must refuse a
		// patch whose target path belongs to another kind.
		other := NewRevisionService(
			"Manga",
			svc.patches,
			persistence.NewMemoryRecordStore("Manga"),
			WithLogger(quietLogger()),
		)
		_, err := other.Accept(ctx, res.Data.ID, res.Patch.ID, moderator)
		requireCode(t, err, CodeBadRequest, 400)

		_, err = other.Amend(ctx, res.Data.ID, res.Patch.ID, map[string]any{"year": 2022}, moderator)
		requireCode(t, err, CodeBadRequest, 400)
	})

	t.Run("already moderated", func(t *testing.T) {
		_, err := svc.Accept(ctx, res.Data.ID, res.Patch.ID, moderator)
		require.NoError(t, err)
		_, err = svc.Reject(ctx, res.Data.ID, res.Patch.ID, moderator)
		requireCode(t, err, CodeForbidden, 403)
	})
}

func TestVerify_ForbiddenWhileCreatePending(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Create(ctx, CreateInput{Proposed: animeDoc(), AsRequest: true, AuthorID: author})
	require.NoError(t, err)

	_, err = svc.Verify(ctx, res.Data.ID)
	requireCode(t, err, CodeForbidden, 403)

	_, err = svc.Accept(ctx, res.Data.ID, res.Patch.ID, moderator)
	require.NoError(t, err)

	verified, err := svc.Verify(ctx, res.Data.ID)
	require.NoError(t, err)
	require.True(t, verified.Data.IsVerified)

	unverified, err := svc.Unverify(ctx, res.Data.ID)
	require.NoError(t, err)
	require.False(t, unverified.Data.IsVerified)
}

func TestAmend_AuditTrail(t *testing.T) {
	svc, _, patches := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Proposed: animeDoc(), AuthorID: moderator})
	require.NoError(t, err)
	id := created.Data.ID

	pending, err := svc.Update(ctx, id, UpdateInput{
		Proposed:  map[string]any{"year": 2021},
		AsRequest: true,
		AuthorID:  author,
	})
	require.NoError(t, err)
	oldChanges := pending.Patch.Changes

	amended, err := svc.Amend(ctx, id, pending.Patch.ID, map[string]any{"year": 2022}, moderator)
	require.NoError(t, err)

	// The amended patch is still pending, its delta replaced.
	require.Equal(t, patch.StatusPending, amended.Patch.Status)
	require.True(t, amended.Patch.IsChangesUpdated)
	require.Len(t, amended.Patch.Changes, 1)
	require.Equal(t, float64(2022), amended.Patch.Changes[0].Rhs)

	// The edit itself is a separate, immediately accepted patch targeting
	// the original patch.
	audit, err := patches.FindByTarget(ctx, patch.TargetPathPatch, pending.Patch.ID, nil)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	require.Equal(t, patch.StatusAccepted, audit[0].Status)
	require.Equal(t, pending.Patch.ID, audit[0].Target.ID)
	require.Len(t, oldChanges, 1)

	accepted, err := svc.Accept(ctx, id, pending.Patch.ID, moderator)
	require.NoError(t, err)
	require.Equal(t, float64(2022), accepted.Data.Document["year"])
}

func TestAmend_PendingCreateThenAccept(t *testing.T) {
	svc, _, patches := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Proposed: animeDoc(), AsRequest: true, AuthorID: author})
	require.NoError(t, err)
	require.Empty(t, created.Patch.Changes)

	// A pending CREATE carries no delta yet; the amendment becomes its first.
	amended, err := svc.Amend(ctx, created.Data.ID, created.Patch.ID, map[string]any{"year": 2022}, moderator)
	require.NoError(t, err)
	require.Equal(t, patch.TypeCreate, amended.Patch.Type)
	require.Equal(t, patch.StatusPending, amended.Patch.Status)
	require.True(t, amended.Patch.IsChangesUpdated)
	require.Len(t, amended.Patch.Changes, 1)
	require.Equal(t, float64(2022), amended.Patch.Changes[0].Rhs)

	audit, err := patches.FindByTarget(ctx, patch.TargetPathPatch, created.Patch.ID, nil)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	require.Equal(t, patch.StatusAccepted, audit[0].Status)

	accepted, err := svc.Accept(ctx, created.Data.ID, created.Patch.ID, moderator)
	require.NoError(t, err)
	require.Equal(t, patch.StatusAccepted, accepted.Patch.Status)
	require.Equal(t, "A", accepted.Data.Document["title"])
	require.Equal(t, float64(2022), accepted.Data.Document["year"])
}

func TestAmend_NoopRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Proposed: animeDoc(), AuthorID: moderator})
	require.NoError(t, err)

	pending, err := svc.Update(ctx, created.Data.ID, UpdateInput{
		Proposed:  map[string]any{"year": 2021},
		AsRequest: true,
		AuthorID:  author,
	})
	require.NoError(t, err)

	// Re-proposing the current live state produces an empty delta.
	_, err = svc.Amend(ctx, created.Data.ID, pending.Patch.ID, map[string]any{"year": 2020}, moderator)
	requireCode(t, err, CodeEmptyChanges, 400)
}

func TestDelete_VerifiedTargetLeavesAuditPatch(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Proposed: animeDoc(), AuthorID: moderator})
	require.NoError(t, err)

	res, err := svc.Delete(ctx, created.Data.ID, "duplicate entry", moderator)
	require.NoError(t, err)
	require.NotNil(t, res.Patch)
	require.Equal(t, patch.TypeDelete, res.Patch.Type)
	require.Equal(t, patch.StatusAccepted, res.Patch.Status)
	require.Equal(t, "duplicate entry", res.Patch.Reason)
	require.NotNil(t, res.Patch.Original)

	_, err = svc.GetRecord(ctx, created.Data.ID)
	requireCode(t, err, CodeTargetNotFound, 404)
}

func TestDelete_UnverifiedTargetVanishesSilently(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Proposed: animeDoc(), AsRequest: true, AuthorID: author})
	require.NoError(t, err)

	res, err := svc.Delete(ctx, created.Data.ID, "spam", moderator)
	require.NoError(t, err)
	require.Nil(t, res.Patch)
}

func TestDeletePatch_PendingForbidden(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Proposed: animeDoc(), AsRequest: true, AuthorID: author})
	require.NoError(t, err)

	_, err = svc.DeletePatch(ctx, created.Patch.ID)
	requireCode(t, err, CodeForbidden, 403)

	_, err = svc.Accept(ctx, created.Data.ID, created.Patch.ID, moderator)
	require.NoError(t, err)

	ok, err := svc.DeletePatch(ctx, created.Patch.ID)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestWorkflow_PublishesLifecycleEvents(t *testing.T) {
	bus := eventbus.NewEventPublisher(quietLogger())
	var received []events.PatchEventV1
	bus.Subscribe(func(e events.PatchEventV1) {
		received = append(received, e)
	})

	svc, _, _ := newTestService(t, WithEventBus(bus))
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Proposed: animeDoc(), AsRequest: true, AuthorID: author})
	require.NoError(t, err)
	_, err = svc.Accept(ctx, created.Data.ID, created.Patch.ID, moderator)
	require.NoError(t, err)

	require.Len(t, received, 2)
	require.Equal(t, events.ChangePatchCreated, received[0].ChangeType)
	require.Equal(t, events.ChangePatchAccepted, received[1].ChangeType)
	require.Equal(t, created.Patch.ID, received[1].PatchID)
}

func TestGetRecord_CacheInvalidatedOnWrite(t *testing.T) {
	svc, _, _ := newTestService(t, WithCache(cache.NewMemoryCache(time.Minute)))
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Proposed: animeDoc(), AuthorID: moderator})
	require.NoError(t, err)

	// Prime the cache.
	rec, err := svc.GetRecord(ctx, created.Data.ID)
	require.NoError(t, err)
	require.Equal(t, float64(2020), rec.Document["year"])

	_, err = svc.Update(ctx, created.Data.ID, UpdateInput{
		Proposed: map[string]any{"year": 2021},
		AuthorID: moderator,
	})
	require.NoError(t, err)

	rec, err = svc.GetRecord(ctx, created.Data.ID)
	require.NoError(t, err)
	require.Equal(t, float64(2021), rec.Document["year"])
}
