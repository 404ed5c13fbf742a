// Package auth runs the acctl login flows and owns the account lifecycle:
// the interactive authorization code flow with PKCE over a loopback
// callback, the service account client credentials flow, and the Manager
// that finds, logs in, logs out, switches orgs and keeps credentials valid.
package auth
