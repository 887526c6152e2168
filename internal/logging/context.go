// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// Context keys for logging.
type contextKey string

const (
	// sourceKey is the context key for the EntityGlobalId/ZenohId string of
	// whatever source a background operation is acting on.
	sourceKey contextKey = "source"

	// loggerKey is the context key for storing a logger instance.
	loggerKey contextKey = "logger"
)

// ContextWithSource attaches the string form of a source identifier (a
// session.EntityGlobalId or session.ZenohId) to ctx. advsub's recovery
// engine carries one source per in-flight query/reply/retry chain, so
// tagging it once here means every logging.Ctx call downstream of a query
// gets a "source" field without each call site repeating
// `.Str("source", id.String())`.
func ContextWithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey, source)
}

// SourceFromContext retrieves the source set by ContextWithSource, if any.
func SourceFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(sourceKey).(string)
	return s, ok
}

// ContextWithLogger stores a logger in the context, letting a caller pin a
// pre-scoped logger ahead of a Ctx call deeper in the stack.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func ContextWithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves a logger from context.
// Returns the global logger if no logger is stored in context.
func LoggerFromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return logger
	}
	return Logger()
}

// Ctx returns a logger with the source field (if any) automatically added.
// This is the recommended way to log from advsub/advpub/pubcache call
// sites that run on behalf of a particular source.
//
//	logging.Ctx(ctx).Warn().Err(err).Msg("recovery query failed")
func Ctx(ctx context.Context) *zerolog.Logger {
	logger := LoggerFromContext(ctx)
	if source, ok := SourceFromContext(ctx); ok {
		logger = logger.With().Str("source", source).Logger()
	}
	return &logger
}
