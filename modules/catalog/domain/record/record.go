package record

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record is a live versioned catalog entity (anime, person, company, ...).
// The entity-specific field schema lives entirely inside Document; the
// revision workflow only ever inspects ID and IsVerified.
type Record struct {
	ID         uuid.UUID      `json:"id"`
	Kind       string         `json:"kind"`
	IsVerified bool           `json:"isVerified"`
	Document   map[string]any `json:"document"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Store is the uniform target-record contract consumed by the revision
// workflow, one instance per record kind.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*Record, error)
	Create(ctx context.Context, rec *Record) (*Record, error)
	Update(ctx context.Context, id uuid.UUID, document map[string]any) (*Record, error)
	SetVerified(ctx context.Context, id uuid.UUID, verified bool) (*Record, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

// Builder assembles a full candidate document from caller-proposed data.
// Entity-specific nested assembly (companies, staff, tracks) hides behind
// this interface so the workflow itself stays generic. baseline is nil on
// create and the current (or pending) document state on update/amend.
type Builder interface {
	Build(ctx context.Context, proposed map[string]any, baseline map[string]any) (map[string]any, error)
}

// BuilderFunc adapts a function to the Builder interface.
type BuilderFunc func(ctx context.Context, proposed map[string]any, baseline map[string]any) (map[string]any, error)

func (f BuilderFunc) Build(ctx context.Context, proposed, baseline map[string]any) (map[string]any, error) {
	return f(ctx, proposed, baseline)
}

// MergeBuilder is the default assembly strategy: proposed fields overlay the
// baseline document key by key.
func MergeBuilder() Builder {
	return BuilderFunc(func(_ context.Context, proposed, baseline map[string]any) (map[string]any, error) {
		out := make(map[string]any, len(baseline)+len(proposed))
		for k, v := range baseline {
			out[k] = v
		}
		for k, v := range proposed {
			out[k] = v
		}
		return out, nil
	})
}
