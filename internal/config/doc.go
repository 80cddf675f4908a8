// Package config provides the application configuration for the Rosina
// fulfillment service.
//
// Configuration is loaded from environment variables (prefix ROSINA) merged
// with an optional config.yaml file; environment values take precedence.
// Secrets (webhook signing secrets, the key hash secret, the delivery
// encryption secret, the internal fulfill secret) are only ever supplied
// through configuration and passed explicitly into constructors.
package config
