// Package observability provides structured logging and Prometheus metrics
// for the bookshelf API.
//
// This package implements:
//   - zap logger construction from LOG_LEVEL / LOG_FORMAT
//   - Token verification and JWKS fetch metrics (tokenauth.Metrics)
//   - HTTP request rate, error and duration metrics
package observability
