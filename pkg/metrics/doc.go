// Package metrics defines Prometheus counters for logins, token refreshes,
// logouts, token store operations and platform API requests.
package metrics
