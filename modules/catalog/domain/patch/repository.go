package patch

import (
	"context"

	"github.com/google/uuid"

	"github.com/Actunime/Actunime-API-sub000/pkg/diff"
)

// Repository is plain persistence for patches. No business rules live here;
// all writes run inside the transactional scope carried by ctx.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Patch, error)
	// FindByTarget returns patches for the given target, newest first.
	// A nil status matches every status.
	FindByTarget(ctx context.Context, targetPath string, targetID uuid.UUID, status *Status) ([]*Patch, error)
	Create(ctx context.Context, p *Patch) (*Patch, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, moderatorID uuid.UUID) (*Patch, error)
	UpdateChanges(ctx context.Context, id uuid.UUID, changes []diff.Operation) (*Patch, error)
	DeleteByID(ctx context.Context, id uuid.UUID) (bool, error)
}
