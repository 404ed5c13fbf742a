package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	LoginAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acctl_login_attempts_total",
		Help: "Total number of login attempts by flow",
	}, []string{"flow"})
	// result is one of success, error, cancelled, conflict
	LoginResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acctl_login_results_total",
		Help: "Login outcomes by flow and result",
	}, []string{"flow", "result"})
	TokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acctl_token_refreshes_total",
		Help: "Silent token refreshes by result",
	}, []string{"result"})
	// Counts refreshes that joined an already in-flight refresh for the same account.
	TokenRefreshesCoalesced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "acctl_token_refreshes_coalesced_total",
		Help: "Refresh requests that shared an in-flight refresh",
	})
	Reauthentications = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "acctl_reauthentications_total",
		Help: "Full re-authentications triggered by expired or rejected refresh tokens",
	})
	Logouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "acctl_logouts_total",
		Help: "Accounts removed by logout",
	})
	RevokeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "acctl_revoke_failures_total",
		Help: "Best-effort token revocations that failed",
	})
	OrgSwitches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acctl_org_switches_total",
		Help: "Organization switches by result",
	}, []string{"result"})
	TokenStoreOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acctl_tokenstore_operations_total",
		Help: "Token store operations by backend, operation and result",
	}, []string{"backend", "op", "result"})
	PlatformRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acctl_platform_requests_total",
		Help: "Platform API requests by endpoint and status class",
	}, []string{"endpoint", "status"})
)

func init() {
	prometheus.MustRegister(LoginAttempts)
	prometheus.MustRegister(LoginResults)
	prometheus.MustRegister(TokenRefreshes)
	prometheus.MustRegister(TokenRefreshesCoalesced)
	prometheus.MustRegister(Reauthentications)
	prometheus.MustRegister(Logouts)
	prometheus.MustRegister(RevokeFailures)
	prometheus.MustRegister(OrgSwitches)
	prometheus.MustRegister(TokenStoreOps)
	prometheus.MustRegister(PlatformRequests)
}

// Result maps an error to the result label used across counters.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// WriteTextfile dumps the default registry in the text exposition format,
// for the node exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
