// Package payments verifies inbound provider webhooks and confirms
// payment state before fulfillment runs.
//
// Stripe events are authenticated with the official SDK's signature
// verification against the endpoint secret. Coinbase Commerce signs the
// raw body with a plain HMAC-SHA256, so that path is verified directly
// with crypto/hmac. Both verifiers operate on the raw request body; any
// re-serialization before checking would break the signatures.
package payments
