// Package jwt reads access-token claims. The client needs the expiry and
// subject of tokens handed to it from outside (SetSession); signature
// verification is optional and enabled by configuring a key.
package jwt
