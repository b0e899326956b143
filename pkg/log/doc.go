// Package log provides the logging abstraction used by driftlab components.
//
// The package defines a small Logger interface that any logging library can
// implement. A zerolog-backed adapter is provided for real output and a no-op
// logger for tests and for callers that want silence.
//
// # Usage
//
// Console logging to stderr:
//
//	logger := log.NewZerologAdapter()
//
// Wrapping a configured zerolog.Logger (level, JSON output, custom writer):
//
//	zl := zerolog.New(os.Stderr).Level(zerolog.DebugLevel).With().Timestamp().Logger()
//	logger := log.NewZerologAdapterWithLogger(zl)
//
// Silence:
//
//	logger := log.NewNoopLogger()
//
// # Custom Loggers
//
// Implement the Logger interface to plug in different infrastructure:
//
//	type MyLogger struct { ... }
//
//	func (l *MyLogger) Debug(msg string, fields ...log.Field) { ... }
//	func (l *MyLogger) Info(msg string, fields ...log.Field) { ... }
//	func (l *MyLogger) Warn(msg string, fields ...log.Field) { ... }
//	func (l *MyLogger) Error(msg string, fields ...log.Field) { ... }
package log
