// Package app assembles the fulfillment service: configuration, logging,
// tracing, the datastore, the service layer, and the HTTP server, with a
// managed lifecycle from startup through graceful shutdown.
package app
