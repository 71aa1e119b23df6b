// Package logger provides slog.Attr helper functions for structured
// logging across pipelinekit's kernel components. It does not construct
// or configure a *slog.Logger itself — callers bring their own handler
// (text, JSON, or otherwise) and wire it in through each component's
// WithLogger option or Logger config field; this package only supplies
// consistent attribute keys for the fields it covers.
//
// Basic usage:
//
//	import "github.com/gifton/pipelinekit/core/logger"
//
//	log.Info("cache hit",
//		logger.Key("key", cacheKey),
//		logger.CacheOutcome("hit"),
//		logger.Elapsed(start),
//	)
//
//	log.Error("handler failed",
//		logger.Error(err),
//		logger.Attempt(3),
//		logger.CorrelationID(corrID),
//	)
//
// kernel_attr.go extends the general-purpose set above with attributes
// specific to the resilience and caching middleware: BreakerState,
// QueueDepth, Attempt, CacheOutcome.
package logger
