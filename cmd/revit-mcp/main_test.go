package main

import (
	"bytes"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-servers-for-revit/revit-mcp/pkg/mcp/auth"
	"github.com/mcp-servers-for-revit/revit-mcp/pkg/routehost/routehosttest"
)

// execute runs the CLI with args and returns stdout and the command error.
func execute(t *testing.T, args ...string) (stdout string, err error) {
	t.Helper()

	var out, errOut bytes.Buffer

	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)

	err = root.Execute()
	stdout = out.String()

	return stdout, err
}

// hostPort splits a test server URL into the --revit-host and --revit-port flag values.
func hostPort(t *testing.T, rawURL string) (host string, port string) {
	t.Helper()

	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)

	host, port, err = net.SplitHostPort(parsed.Host)
	require.NoError(t, err)

	return host, port
}

func TestTransportSelection(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		args    []string
		want    string
		wantErr string
	}{
		{name: "default", want: "transport: stdio"},
		{name: "explicit", args: []string{"--transport", "sse"}, want: "transport: sse"},
		{name: "http alias", args: []string{"--transport", "http"}, want: "transport: streamable-http"},
		{name: "sse switch", args: []string{"--sse"}, want: "transport: sse"},
		{name: "http switch", args: []string{"--http"}, want: "transport: streamable-http"},
		{name: "streamable-http switch", args: []string{"--streamable-http"}, want: "transport: streamable-http"},
		{name: "combined switch", args: []string{"--combined"}, want: "transport: combined"},
		{name: "agreeing transport and switch", args: []string{"--sse", "--transport", "sse"}, want: "transport: sse"},
		{name: "two switches", args: []string{"--sse", "--combined"}, wantErr: "mutually exclusive"},
		{name: "conflicting transport", args: []string{"--http", "--transport", "sse"}, wantErr: "conflicts"},
		{name: "unknown transport", args: []string{"--transport", "pigeon"}, wantErr: "unknown transport"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out, err := execute(t, append([]string{"config"}, tc.args...)...)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Contains(t, out, tc.want)
		})
	}
}

func TestConfigCommandAppliesFlags(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "config", "--revit-host", "revit-box", "--revit-port", "5000", "--port", "9100", "--log-level", "debug")
	require.NoError(t, err)

	assert.Contains(t, out, "host: revit-box")
	assert.Contains(t, out, "port: 5000")
	assert.Contains(t, out, "port: 9100")
	assert.Contains(t, out, "level: debug")
	assert.Contains(t, out, "image_timeout: 1m0s")
}

func TestToolsCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "tools")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 15, "header plus one line per tool")
	assert.Contains(t, lines[0], "NAME")

	assert.Regexp(t, `(?m)^get_revit_status\s+read\s+`, out)
	assert.Regexp(t, `(?m)^execute_revit_code\s+destructive\s+`, out)
	assert.Regexp(t, `(?m)^place_family\s+write\s+`, out)
}

func TestStatusCommand(t *testing.T) {
	t.Parallel()

	fake := routehosttest.New(t)
	fake.JSON(http.MethodGet, "/status/", http.StatusOK, map[string]any{
		"status": "active",
		"health": "healthy",
	})
	host, port := hostPort(t, fake.URL)

	out, err := execute(t, "status", "--revit-host", host, "--revit-port", port)
	require.NoError(t, err)
	assert.Contains(t, out, "=== REVIT STATUS ===")
	assert.Contains(t, out, "Health: healthy")
}

func TestStatusCommandUnreachable(t *testing.T) {
	t.Parallel()

	dead := httptest.NewServer(http.NotFoundHandler())
	host, port := hostPort(t, dead.URL)
	dead.Close()

	out, err := execute(t, "status", "--revit-host", host, "--revit-port", port)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not available")
	assert.Contains(t, out, "Error: connection to Revit")
}

func TestTokenCommand(t *testing.T) {
	t.Parallel()

	const secret = "0123456789abcdef0123456789abcdef"

	configFile := filepath.Join(t.TempDir(), "revit-mcp.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("auth:\n  jwt_secret: "+secret+"\n"), 0o600))

	out, err := execute(t, "token", "--config", configFile, "--subject", "alice", "--group", "bim")
	require.NoError(t, err)

	token := strings.TrimSpace(out)
	require.NotEmpty(t, token)

	jwtAuth, err := auth.NewJWTAuth(&auth.JWTConfig{Secret: []byte(secret)})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	result, err := jwtAuth.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "alice", result.Username)
	assert.Equal(t, []string{"bim"}, result.Groups)
}

func TestTokenCommandErrors(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "token", "--subject", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")

	_, err = execute(t, "token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subject")
}
