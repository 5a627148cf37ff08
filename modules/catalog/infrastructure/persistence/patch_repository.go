package persistence

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pkg/errors"

	"github.com/Actunime/Actunime-API-sub000/modules/catalog/domain/patch"
	"github.com/Actunime/Actunime-API-sub000/pkg/composables"
	"github.com/Actunime/Actunime-API-sub000/pkg/diff"
)

// PatchRepository persists patches in the patches table. Original and
// Changes travel as jsonb so every record kind shares one schema.
type PatchRepository struct{}

func NewPatchRepository() patch.Repository {
	return &PatchRepository{}
}

const patchColumns = `
id, type, status, target_id, target_path, original, changes,
is_changes_updated, author_id, moderator_id, ref_id, description, reason,
created_at, updated_at`

func scanPatch(row pgx.Row) (*patch.Patch, error) {
	var (
		p           patch.Patch
		originalRaw []byte
		changesRaw  []byte
		moderatorID pgtype.UUID
		refID       pgtype.UUID
		createdAt   pgtype.Timestamptz
		updatedAt   pgtype.Timestamptz
	)
	err := row.Scan(
		&p.ID, &p.Type, &p.Status, &p.Target.ID, &p.Target.Path,
		&originalRaw, &changesRaw, &p.IsChangesUpdated, &p.AuthorID,
		&moderatorID, &refID, &p.Description, &p.Reason,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(originalRaw) > 0 {
		if err := json.Unmarshal(originalRaw, &p.Original); err != nil {
			return nil, errors.Wrap(err, "decode patch original")
		}
	}
	if len(changesRaw) > 0 {
		if err := json.Unmarshal(changesRaw, &p.Changes); err != nil {
			return nil, errors.Wrap(err, "decode patch changes")
		}
	}
	p.ModeratorID = asUUID(moderatorID)
	p.RefID = asUUID(refID)
	p.CreatedAt = asTime(createdAt)
	p.UpdatedAt = asTime(updatedAt)
	return &p, nil
}

func (r *PatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*patch.Patch, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	row := tx.QueryRow(ctx, `SELECT`+patchColumns+` FROM patches WHERE id=$1`, id)
	return scanPatch(row)
}

func (r *PatchRepository) FindByTarget(ctx context.Context, targetPath string, targetID uuid.UUID, status *patch.Status) ([]*patch.Patch, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT` + patchColumns + ` FROM patches WHERE target_path=$1 AND target_id=$2`
	args := []any{targetPath, targetID}
	if status != nil {
		query += ` AND status=$3`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*patch.Patch
	for rows.Next() {
		p, err := scanPatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PatchRepository) Create(ctx context.Context, p *patch.Patch) (*patch.Patch, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	originalRaw, err := marshalNullable(p.Original)
	if err != nil {
		return nil, errors.Wrap(err, "encode patch original")
	}
	var changesRaw []byte
	if len(p.Changes) > 0 {
		changesRaw, err = json.Marshal(p.Changes)
		if err != nil {
			return nil, errors.Wrap(err, "encode patch changes")
		}
	}

	row := tx.QueryRow(ctx, `
INSERT INTO patches (
	id, type, status, target_id, target_path, original, changes,
	is_changes_updated, author_id, moderator_id, ref_id, description, reason
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
RETURNING`+patchColumns,
		p.ID, p.Type, p.Status, p.Target.ID, p.Target.Path,
		originalRaw, changesRaw, p.IsChangesUpdated, p.AuthorID,
		pgUUID(p.ModeratorID), pgUUID(p.RefID), p.Description, p.Reason,
	)
	return scanPatch(row)
}

func (r *PatchRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status patch.Status, moderatorID uuid.UUID) (*patch.Patch, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	row := tx.QueryRow(ctx, `
UPDATE patches
SET status=$2, moderator_id=$3, updated_at=now()
WHERE id=$1
RETURNING`+patchColumns, id, status, pgUUID(moderatorID))
	return scanPatch(row)
}

func (r *PatchRepository) UpdateChanges(ctx context.Context, id uuid.UUID, changes []diff.Operation) (*patch.Patch, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	changesRaw, err := json.Marshal(changes)
	if err != nil {
		return nil, errors.Wrap(err, "encode patch changes")
	}
	row := tx.QueryRow(ctx, `
UPDATE patches
SET changes=$2, is_changes_updated=true, updated_at=now()
WHERE id=$1
RETURNING`+patchColumns, id, changesRaw)
	return scanPatch(row)
}

func (r *PatchRepository) DeleteByID(ctx context.Context, id uuid.UUID) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM patches WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
