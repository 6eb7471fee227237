package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "healthsup.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

const validConfig = `
[[services]]
name = "cleaning"
command = ["python3", "start.py"]
[services.health]
url = "http://127.0.0.1:80/api/stats"
`

func TestHelp(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	for _, sub := range []string{"run", "stop", "status", "validate"} {
		assert.Contains(t, out, sub)
	}
}

func TestValidate(t *testing.T) {
	out, err := execute(t, "validate", "--config", writeConfig(t, validConfig))
	require.NoError(t, err)
	assert.Contains(t, out, "OK: 1 service(s)")
	assert.Contains(t, out, "cleaning: python3 start.py")
	assert.Contains(t, out, "threshold 3")
}

func TestValidateErrors(t *testing.T) {
	_, err := execute(t, "validate")
	assert.ErrorIs(t, err, errConfigRequired)

	_, err = execute(t, "validate", "--config", writeConfig(t, "[log]\nlevel = \"loud\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
}

func TestRunRequiresConfig(t *testing.T) {
	_, err := execute(t, "run")
	assert.ErrorIs(t, err, errConfigRequired)
}

func TestStopWithoutPidfile(t *testing.T) {
	_, err := execute(t, "stop", "--config", writeConfig(t, validConfig))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pid file")

	_, err = execute(t, "stop", "--pidfile", filepath.Join(t.TempDir(), "absent.pid"))
	assert.Error(t, err)
}

func TestStatusViaAPI(t *testing.T) {
	gin.SetMode(gin.TestMode)
	url, _ := startFakeAPI(t)

	out, err := execute(t, "status", "--api-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, `"service": "cleaning"`)
	assert.Contains(t, out, `"state": "running"`)

	out, err = execute(t, "status", "--api-url", url, "--name", "cleaning")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "{"), out)

	_, err = execute(t, "status", "--api-url", url, "--name", "ghost")
	assert.Error(t, err)
}

func TestStopViaAPI(t *testing.T) {
	gin.SetMode(gin.TestMode)
	url, b := startFakeAPI(t)
	out, err := execute(t, "stop", "--api-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "shutdown requested")
	assert.True(t, b.down.Load())
}
