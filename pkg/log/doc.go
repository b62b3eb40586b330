// Package log provides structured logging built on zerolog: a global
// Logger configured once via Init, and child-logger helpers
// (WithComponent, WithUserID, WithRequestID, WithNodeID) that attach a
// single field without callers repeating the zerolog builder chain.
package log
