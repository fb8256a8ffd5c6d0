// Package logger builds *slog.Logger instances for the service.
//
// New takes functional options for format, level, static attributes and
// ContextExtractor callbacks. Extractors run on every Handle call so values
// stored in the request context (request id, caller identity) end up on
// each record without threading them through call sites.
//
// Usage:
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.Env, "verdict"),
//		logger.WithContextExtractors(identity.LoggerExtractor()),
//	)
//	log.InfoContext(ctx, "check granted", logger.Identity(key), logger.CheckID(id))
//
// Attribute helpers in attr.go keep key names consistent across packages.
package logger
