package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Cache is the read-path cache port. Write paths of the workflow invalidate
// the touched target's entry inside the same transactional scope as the
// store writes, before readers can observe the commit.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
	Invalidate(ctx context.Context, keys ...string)
}

func recordCacheKey(kind string, id uuid.UUID) string {
	return fmt.Sprintf("record:%s:%s", kind, id)
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (noopCache) Set(context.Context, string, []byte)        {}
func (noopCache) Invalidate(context.Context, ...string)      {}
