package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(LoginResults.WithLabelValues("pkce", "success"))
	LoginResults.WithLabelValues("pkce", "success").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(LoginResults.WithLabelValues("pkce", "success")))

	TokenStoreOps.WithLabelValues("memory", "set", "success").Add(2)
	assert.GreaterOrEqual(t, testutil.ToFloat64(TokenStoreOps.WithLabelValues("memory", "set", "success")), 2.0)
}

func TestResult(t *testing.T) {
	assert.Equal(t, "success", Result(nil))
	assert.Equal(t, "error", Result(errors.New("boom")))
}

func TestWriteTextfile(t *testing.T) {
	Logouts.Inc()
	path := filepath.Join(t.TempDir(), "acctl.prom")
	require.NoError(t, WriteTextfile(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "acctl_logouts_total")
}
