// Package jwt decodes identity-provider access tokens on the client side and
// issues/verifies portal tokens for development backends and tests.
//
// [Decode] and [RoleOf] read the payload segment only. [Manager] signs and
// verifies with a configured key and is never used by the client on real
// identity-provider tokens.
package jwt
