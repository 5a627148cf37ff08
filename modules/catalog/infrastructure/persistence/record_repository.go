package persistence

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pkg/errors"

	"github.com/Actunime/Actunime-API-sub000/modules/catalog/domain/record"
	"github.com/Actunime/Actunime-API-sub000/pkg/composables"
)

// RecordRepository is the generic target-record store: one table holds every
// record kind, the document itself is schemaless jsonb. Instantiated once
// per kind.
type RecordRepository struct {
	kind string
}

func NewRecordRepository(kind string) record.Store {
	return &RecordRepository{kind: kind}
}

const recordColumns = `kind, id, is_verified, document, created_at, updated_at`

func scanRecord(row pgx.Row) (*record.Record, error) {
	var (
		rec         record.Record
		documentRaw []byte
		createdAt   pgtype.Timestamptz
		updatedAt   pgtype.Timestamptz
	)
	if err := row.Scan(&rec.Kind, &rec.ID, &rec.IsVerified, &documentRaw, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if len(documentRaw) > 0 {
		if err := json.Unmarshal(documentRaw, &rec.Document); err != nil {
			return nil, errors.Wrap(err, "decode record document")
		}
	}
	rec.CreatedAt = asTime(createdAt)
	rec.UpdatedAt = asTime(updatedAt)
	return &rec, nil
}

func (r *RecordRepository) Get(ctx context.Context, id uuid.UUID) (*record.Record, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	row := tx.QueryRow(ctx, `
SELECT `+recordColumns+` FROM records WHERE kind=$1 AND id=$2`, r.kind, id)
	return scanRecord(row)
}

func (r *RecordRepository) Create(ctx context.Context, rec *record.Record) (*record.Record, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	documentRaw, err := json.Marshal(rec.Document)
	if err != nil {
		return nil, errors.Wrap(err, "encode record document")
	}
	row := tx.QueryRow(ctx, `
INSERT INTO records (kind, id, is_verified, document)
VALUES ($1, $2, $3, $4)
RETURNING `+recordColumns, r.kind, rec.ID, rec.IsVerified, documentRaw)
	return scanRecord(row)
}

func (r *RecordRepository) Update(ctx context.Context, id uuid.UUID, document map[string]any) (*record.Record, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	documentRaw, err := json.Marshal(document)
	if err != nil {
		return nil, errors.Wrap(err, "encode record document")
	}
	row := tx.QueryRow(ctx, `
UPDATE records SET document=$3, updated_at=now()
WHERE kind=$1 AND id=$2
RETURNING `+recordColumns, r.kind, id, documentRaw)
	return scanRecord(row)
}

func (r *RecordRepository) SetVerified(ctx context.Context, id uuid.UUID, verified bool) (*record.Record, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	row := tx.QueryRow(ctx, `
UPDATE records SET is_verified=$3, updated_at=now()
WHERE kind=$1 AND id=$2
RETURNING `+recordColumns, r.kind, id, verified)
	return scanRecord(row)
}

func (r *RecordRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM records WHERE kind=$1 AND id=$2`, r.kind, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
