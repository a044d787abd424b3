// Package observability provides structured logging and Prometheus metrics
// for the authgate sidecar.
//
// The logger is a plain *zap.Logger built from level and format settings.
// Metrics live in their own registry so tests can create isolated instances,
// and Metrics satisfies both authgate.Recorder and cognito.RefreshRecorder.
package observability
