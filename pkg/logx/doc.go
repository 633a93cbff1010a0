// Package logx wraps zerolog behind a small Field-based API.
//
// Sinks (console, file) are configurable and can be swapped at runtime via
// Service.Apply without invalidating loggers handed out earlier.
package logx
