// Package httpmw provides HTTP middleware for the message wall server.
//
// Middleware is composed in a specific order in httpserver.NewHandler:
// security headers, request ID, client IP extraction, denylist, identity,
// time gate, role gate, rate limiting, OTEL tracing, metrics, and
// structured logging, then the chi router.
//
// Each middleware is an independent function that can be tested, reordered,
// or removed individually. User-supplied data (query params, user-agent,
// message bodies) is intentionally excluded from logs to prevent PII leaks
// and log injection.
package httpmw
