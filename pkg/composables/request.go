package composables

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Actunime/Actunime-API-sub000/pkg/constants"
)

var (
	ErrNoLogger = errors.New("logger not found")
)

// WithLogger returns a new context with the request-scoped logger entry.
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, constants.LoggerKey, logger)
}

// UseLogger returns the request logger from the context, falling back to the
// standard logger so call sites never get a nil entry.
func UseLogger(ctx context.Context) *logrus.Entry {
	logger, ok := ctx.Value(constants.LoggerKey).(*logrus.Entry)
	if !ok {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return logger
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, constants.RequestIDKey, id)
}

func UseRequestID(ctx context.Context) string {
	id, _ := ctx.Value(constants.RequestIDKey).(string)
	return id
}

// WithAuthorID records the identity the upstream auth layer resolved for the
// caller proposing a change.
func WithAuthorID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, constants.AuthorIDKey, id)
}

func UseAuthorID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(constants.AuthorIDKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// WithModeratorID records the moderator identity, when the caller has one.
func WithModeratorID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, constants.ModeratorIDKey, id)
}

func UseModeratorID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(constants.ModeratorIDKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
