// Package ratelimit provides keyed token-bucket limiters: a blocking Wait for
// outgoing platform API calls and a Gin middleware for the login callback
// listener, both with automatic stale-entry cleanup.
package ratelimit
