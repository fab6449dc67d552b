// Package logging provides structured logging for the Algo_Domo bridge.
//
// It wraps log/slog with configuration-driven handler selection and a
// small set of default attributes shared by every log line.
package logging
