// Package security holds the content-protection boundary of the feed.
//
// Bodies are stored and transmitted in the clear; the only protection applied
// is that they never reach the logs.
package security

import "go.uber.org/zap"

const redacted = "[REDACTED]"

// RedactBody returns a zap field that records a body's length but never its content.
func RedactBody(body string) zap.Field {
	return zap.Dict("body", zap.String("value", redacted), zap.Int("len", len(body)))
}
