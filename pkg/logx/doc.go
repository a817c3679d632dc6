// Package logx configures dynpush's structured logging.
//
// It wraps zerolog in a small value type (logx.Logger) so that:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON-structured
//   - Warnings can be mirrored to a Telegram chat (min-level + rate limiting)
//
// Loggers derived from a Service follow Service.Apply, so a config reload
// changes level and sinks without re-plumbing every component.
package logx
