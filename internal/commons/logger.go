// Package commons holds the small cross-cutting interfaces every other
// package depends on instead of a concrete third-party type, mirroring the
// teacher's own pattern of wrapping vendor SDKs behind a local interface.
package commons

// Logger is the narrow logging surface every component depends on. The
// concrete implementation in internal/logging wraps *zap.SugaredLogger;
// nothing outside internal/logging imports zap directly.
type Logger interface {
	Debugw(msg string, kv ...any)
	Infow(msg string, kv ...any)
	Warnw(msg string, kv ...any)
	Errorw(msg string, kv ...any)
	With(kv ...any) Logger
}
