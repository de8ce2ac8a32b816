package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const offlineConfig = "bridge:\n  base_url: \"\"\ncache:\n  enabled: false\n"

// runCLI executes the root command against an offline configuration file.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	return runCLIWithConfig(t, offlineConfig, args...)
}

func runCLIWithConfig(t *testing.T, configYAML string, args ...string) (string, error) {
	t.Helper()

	for _, name := range []string{"RE_BRIDGE_BRIDGE_BASE_URL", "BN_MCP_BASE_URL", "SMART_DIFF_BASE_URL"} {
		t.Setenv(name, "")
	}

	path := filepath.Join(t.TempDir(), "re-bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	var out bytes.Buffer

	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--quiet", "--config", path))

	err := cmd.Execute()

	return out.String(), err
}

func newDirectBackend(t *testing.T, code string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/decompile" {
			http.NotFound(w, r)

			return
		}

		body, _ := json.Marshal(map[string]string{"decompiled_code": code})
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)

	return server
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)

	assert.Contains(t, out, "re-bridge")
	assert.Contains(t, out, "Version: "+Version)
	assert.Contains(t, out, "Build Time: "+BuildTime)
	assert.Contains(t, out, "Git Commit: "+GitCommit)
}

func TestServersCommand_OfflineJSON(t *testing.T) {
	out, err := runCLI(t, "servers", "-o", "json")
	require.NoError(t, err)

	var got struct {
		Source  string `json:"source"`
		Servers []struct {
			LogicalID     string `json:"logical_id"`
			DirectBaseURL string `json:"direct_base_url"`
		} `json:"servers"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))

	assert.Equal(t, "static", got.Source)
	require.Len(t, got.Servers, 3)
	assert.Equal(t, "port_9009", got.Servers[0].LogicalID)
	assert.Equal(t, "http://localhost:9009", got.Servers[0].DirectBaseURL)
}

func TestServersCommand_Table(t *testing.T) {
	out, err := runCLI(t, "servers")
	require.NoError(t, err)

	assert.Contains(t, out, "DIRECT URL")
	assert.Contains(t, out, "port_9013")
	assert.Contains(t, out, "tx-isp-t23.ko")
}

func TestServersCommand_LiveRefetchesFromBridge(t *testing.T) {
	bridge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/servers" {
			http.NotFound(w, r)

			return
		}

		_, _ = w.Write([]byte(`[{"id":"port_9100","name":"libx.so"}]`))
	}))
	t.Cleanup(bridge.Close)

	out, err := runCLIWithConfig(t, "bridge:\n  base_url: \""+bridge.URL+"\"\n", "servers", "--live", "-o", "json")
	require.NoError(t, err)

	var got serversOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))

	assert.Equal(t, sourceLive, got.Source)
	require.Len(t, got.Servers, 1)
	assert.Equal(t, "port_9100", got.Servers[0].ResolvedID)
	assert.Equal(t, "libx.so", got.Servers[0].DisplayName)
}

func TestServersCommand_LiveOffline(t *testing.T) {
	out, err := runCLI(t, "servers", "--live", "-o", "json")
	require.NoError(t, err)

	var got serversOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))

	assert.Equal(t, sourceLive, got.Source)
	assert.Empty(t, got.Servers)
}

func TestFunctionsCommand_SearchYAML(t *testing.T) {
	out, err := runCLI(t, "functions", "libimp", "--search", "imp_system", "-o", "yaml")
	require.NoError(t, err)

	var got functionsOutput
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))

	assert.Equal(t, "libimp", got.Binary)
	assert.Equal(t, "static", got.Source)
	require.NotEmpty(t, got.Functions)

	for _, name := range got.Functions {
		assert.Contains(t, strings.ToLower(name), "imp_system")
	}
}

func TestDecompileCommand_Direct(t *testing.T) {
	backend := newDirectBackend(t, "int f(void) { return 0; }")

	out, err := runCLI(t, "decompile", backend.URL, "f")
	require.NoError(t, err)

	assert.Equal(t, "int f(void) { return 0; }\n", out)
}

func TestDecompileCommand_NoResult(t *testing.T) {
	_, err := runCLI(t, "decompile", "libimp", "f")
	require.ErrorIs(t, err, ErrNoResult)
}

func TestOffsetsCommand(t *testing.T) {
	backend := newDirectBackend(t, "x = *(ptr + 0x10); y = *(arg1 + 0x4); z = ptr + 0x10;")

	out, err := runCLI(t, "offsets", backend.URL, "f", "-o", "json")
	require.NoError(t, err)

	var got struct {
		Offsets     []string `json:"offsets"`
		OffsetCount int      `json:"offset_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))

	assert.Equal(t, []string{"0x0004", "0x0010"}, got.Offsets)
	assert.Equal(t, 2, got.OffsetCount)
}

func TestCompareCommand(t *testing.T) {
	oldBackend := newDirectBackend(t, "int f(void) { return 0; }")
	newBackend := newDirectBackend(t, "int f(void) { return 1; }")

	out, err := runCLI(t, "compare", oldBackend.URL, newBackend.URL, "f", "-o", "json")
	require.NoError(t, err)

	var got struct {
		Function string `json:"function"`
		Changed  bool   `json:"changed"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))

	assert.Equal(t, "f", got.Function)
	assert.True(t, got.Changed)
}

func TestEventsCommand_Offline(t *testing.T) {
	_, err := runCLI(t, "events", "--duration", "10ms")
	require.ErrorIs(t, err, ErrOffline)
}

func TestUnknownOutputFormat(t *testing.T) {
	_, err := runCLI(t, "servers", "-o", "xml")
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestRenderer_Table(t *testing.T) {
	var out bytes.Buffer

	r, err := newRenderer(&out, formatTable)
	require.NoError(t, err)

	require.NoError(t, r.Render(nil, []interface{}{"Name", "Count"}, [][]interface{}{{"alpha", 1}, {"beta", 22}}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "NAME")
	assert.Contains(t, lines[0], "|")
	assert.Contains(t, lines[2], "beta")
}
