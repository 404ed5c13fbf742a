package version

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

var (
	// Version is the semantic version, injected at build time via -ldflags
	Version = "dev"
	// GitCommit is the git commit hash, injected at build time
	GitCommit = "unknown"
	// BuildDate is the build timestamp, injected at build time
	BuildDate = "unknown"
	// GoVersion is the Go compiler version
	GoVersion = runtime.Version()
	// Platform is the OS/Arch
	Platform = runtime.GOOS + "/" + runtime.GOARCH
)

// CLIVersionEnv names the variable a wrapping CLI sets to identify itself
// in the user agent.
const CLIVersionEnv = "ACCTL_CLI"

// BuildInfo contains metadata about the build
type BuildInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"gitCommit"`
	BuildDate string    `json:"buildDate"`
	GoVersion string    `json:"goVersion"`
	Platform  string    `json:"platform"`
	BuildTime time.Time `json:"buildTime,omitempty"`
}

// GetBuildInfo returns build metadata
func GetBuildInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
		Platform:  Platform,
	}

	// Try to parse BuildDate as RFC3339
	if t, err := time.Parse(time.RFC3339, BuildDate); err == nil {
		info.BuildTime = t
	}

	return info
}

// UserAgent identifies this client to the identity provider and platform,
// for example "acctl/1.2.0 (linux; amd64; go:go1.25.0) acctl-cli/1.2.0".
// Non-empty suffix parts are appended verbatim.
func UserAgent(suffix ...string) string {
	parts := []string{fmt.Sprintf("acctl/%s (%s; %s; go:%s)", Version, runtime.GOOS, runtime.GOARCH, strings.TrimPrefix(GoVersion, "go"))}
	if cli := os.Getenv(CLIVersionEnv); cli != "" {
		parts = append(parts, "acctl-cli/"+cli)
	}
	for _, s := range suffix {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
