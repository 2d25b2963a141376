// Package common contains shared constants, sentinel errors and small helpers
// used across the session and transfer services.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on inbound requests.
const AccessTokenHeaderName = "access_token"

// IdempotencyKeyHeaderName is the gRPC metadata key that may carry the
// client-supplied idempotency key of a transfer.
const IdempotencyKeyHeaderName = "idempotency-key"
