// Package logging provides structured, context-aware logging for mcpforge.
//
// The Logger wraps Zap and adds correlation fields pulled from the context
// on every call: the active OpenTelemetry trace and span ids, plus the
// workflow run, owner and phase attached by the orchestrator.
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, "01HZX3...")
//	logger.Info(ctx, "phase entered", zap.String("phase", "deploying"))
//
// Sensitive keys (tokens, api keys, authorization headers) and values that
// look like bearer credentials are redacted by the stdout encoder.
//
// Tests use NewTestLogger, which records entries in memory via
// zaptest/observer and offers assertion helpers.
package logging
