// Package http contains the HTTP transport layer: chi handlers for the
// payment webhooks, the internal fulfillment trigger, buyer claim and key
// redemption endpoints, and the ambient health/metrics surface. Handlers
// bind and validate payloads, delegate to the service layer, and map
// domain errors onto RFC 7807 problem responses.
package http
