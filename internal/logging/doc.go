// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

// Package logging provides centralized zerolog-based structured logging for
// advpub, advsub, and pubcache.
//
// # Log Levels
//
//	debug  - Detailed diagnostic information
//	info   - General operational information (default)
//	warn   - Warning conditions that should be addressed
//	error  - Error conditions requiring attention
//	fatal  - Fatal errors that terminate the program
//
// # Source-Tagged Logging
//
// advsub's recovery engine ties every query/reply/retry back to the source
// (EntityGlobalId or ZenohId) it is recovering for. ContextWithSource tags a
// context once; Ctx(ctx) then adds a "source" field to every log line
// without each call site repeating Str("source", id.String()):
//
//	ctx = logging.ContextWithSource(ctx, id.String())
//	logging.Ctx(ctx).Warn().Err(err).Msg("per-source history query failed")
//
// # slog Adapter
//
// SlogHandler/NewSlogHandlerWithLogger adapt a zerolog.Logger to slog.Handler
// for libraries that require slog, such as suture's sutureslog.
//
// # Thread Safety
//
// All exported functions are safe for concurrent use. The global logger is
// protected by sync.RWMutex for configuration changes.
package logging
