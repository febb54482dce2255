// Package middleware provides the gin middleware used by the DocAsk HTTP
// server.
//
// The chain is installed in this order:
//   - Recovery: turns panics into a JSON error response
//   - RequestID: adds a unique request ID to each request
//   - Logger: structured request logging through kart-io/logger
//   - Metrics: request counters exported in Prometheus text format
//   - BodyLimit: rejects oversized request bodies
//
// Usage:
//
//	engine := gin.New()
//	collector := middleware.NewMetricsCollector("docask", "http")
//	engine.Use(
//	    middleware.Recovery(),
//	    middleware.RequestID(),
//	    middleware.Logger(middleware.LoggerConfig{SkipPaths: []string{"/health"}}),
//	    middleware.Metrics(collector, "/metrics"),
//	)
package middleware

import "strings"

// pathMatcher reports whether path is one of the exact paths or starts
// with one of the prefixes.
func pathMatcher(paths, prefixes []string) func(string) bool {
	exact := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		exact[p] = struct{}{}
	}
	return func(path string) bool {
		if _, ok := exact[path]; ok {
			return true
		}
		for _, p := range prefixes {
			if strings.HasPrefix(path, p) {
				return true
			}
		}
		return false
	}
}
