// Package logx configures remindbot's structured logging.
//
// A small value-type wrapper (logx.Logger) sits on top of zerolog so that:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON-structured
//   - Warnings can optionally be mirrored to a Telegram chat (min-level + rate limiting)
//
// Loggers derived from a Service follow Service.Apply() on config hot reload.
package logx
