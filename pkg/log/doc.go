// Package log provides structured protocol logging for CBridge.
//
// This package defines the Logger interface and Event types for capturing
// connection-layer events (framing, handshake, state transitions, security
// drops). It is separate from operational logging (slog) - protocol capture
// provides a machine-readable event trace for debugging connection issues
// after the fact.
//
// Loggers are constructed explicitly and injected; there is no package
// global, so tests can run isolated instances in parallel.
//
//	// Development: console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Production: binary CBOR trace file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/cbridge/host.ctrace")
//
//	// Both at once
//	cfg.ProtocolLogger = log.NewMultiLogger(adapter, fileLogger)
package log
