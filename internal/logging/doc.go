// Package logging provides structured logging with OpenTelemetry integration.
//
// # Overview
//
// Logging package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Dual output (stdout + OpenTelemetry)
//   - Automatic context field injection (trace_id, tenant, session)
//   - Defense-in-depth secret redaction
//   - Level-aware sampling (errors never sampled)
//
// # Usage
//
// Create logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Log with context:
//
//	ctx := logging.WithTenant(ctx, &logging.Tenant{OrgID: "acme", TeamID: "platform", ProjectID: "api"})
//	ctx = logging.WithSessionID(ctx, "sess_123")
//	logger.Info(ctx, "request processed", zap.Duration("duration", d))
//
// Output includes automatic correlation (duration is encoded in seconds):
//
//	{
//	  "ts": "2025-11-24T10:15:30.000Z",
//	  "level": "info",
//	  "msg": "request processed",
//	  "trace_id": "abc123",
//	  "tenant.org": "acme",
//	  "tenant.team": "platform",
//	  "tenant.project": "api",
//	  "session.id": "sess_123",
//	  "duration": 0.045
//	}
//
// # Configuration
//
// Config carries koanf tags, but cmd/ragmemoryd builds its logger from
// NewDefaultConfig; logging options are not read from config.yaml or
// from environment variables.
//
// # Secret Redaction
//
// Secrets are redacted at multiple layers:
//  1. Domain primitives (config.Secret type)
//  2. Encoder-level field name filtering
//  3. Encoder-level pattern matching
//
// Use helpers for manual redaction:
//
//	logger.Info(ctx, "auth received",
//	    logging.RedactedString("authorization", authHeader))
//
// # Sampling
//
// Sampling prevents log floods. Every level below Error shares one rate,
// taken from the Info entry of SamplingConfig.Levels (by default: first
// 100 per tick, then 1 every 10); the Trace, Debug and Warn entries are
// not consulted. Error and above are never sampled.
//
// Disable for debugging:
//
//	cfg.Sampling.Enabled = false
//
// # Testing
//
// Use TestLogger for test assertions:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "test message", zap.String("key", "value"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "test message")
//	tl.AssertField(t, "test message", "key", "value")
//	tl.AssertNoSecrets(t)
//
// # Concurrency Safety
//
// Logger is safe for concurrent use. Child loggers (With, Named) are
// independent and do not affect parent or siblings.
//
// # Performance
//
// Logging overhead: <1ms per entry in hot paths
// Trace skips context-field extraction when its level is disabled; the
// other level methods build context fields before Zap's level check
// Sampling reduces volume by ~90% in high-throughput scenarios
package logging
