package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/reglet-dev/trapbridge/internal/testutil"
)

func runCLI(t *testing.T, args ...string) (map[string]any, error) {
	t.Helper()
	t.Setenv("TRAPBRIDGE_LOG_LEVEL", "error")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)

	var out map[string]any
	if stdout.Len() > 0 {
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &out), stdout.String())
	}
	return out, err
}

func exitCode(err error) int {
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	if err != nil {
		return exitFailure
	}
	return 0
}

func TestRun_WasmCompleted(t *testing.T) {
	out, err := runCLI(t, "--export", "add", "--args", "2,3", "testdata/arith.wasm")
	require.NoError(t, err)
	assert.Equal(t, "completed", out["outcome"])
	assert.Equal(t, []any{5.0}, out["result"])
}

func TestRun_WasmTrapExitsAborted(t *testing.T) {
	out, err := runCLI(t, "--export", "div", "--args", "1,0", "testdata/arith.wasm")
	require.Error(t, err)
	assert.Equal(t, exitAborted, exitCode(err))

	testutil.AssertMapContains(t, map[string]interface{}{
		"outcome": "aborted",
		"engine":  "wasm",
		"guest":   "div",
	}, out)
	trapInfo := out["trap"].(map[string]any)
	assert.Equal(t, "integer_divide_by_zero", trapInfo["code"])
}

func TestRun_Interpreter(t *testing.T) {
	out, err := runCLI(t, "--interpreter", "--export", "div", "--args", "9,3", "testdata/arith.wasm")
	require.NoError(t, err)
	assert.Equal(t, []any{3.0}, out["result"])
}

func TestRun_ScriptTimeout(t *testing.T) {
	script := filepath.Join(t.TempDir(), "spin.js")
	require.NoError(t, os.WriteFile(script, []byte("while (true) {}"), 0o600))

	out, err := runCLI(t, "--timeout", "50ms", script)
	assert.Equal(t, exitAborted, exitCode(err))
	assert.Equal(t, "interrupted", out["trap"].(map[string]any)["code"])
}

func TestRun_Manifest(t *testing.T) {
	dir := t.TempDir()
	wasm, err := os.ReadFile("testdata/arith.wasm")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "arith.wasm"), wasm, 0o600))
	manifest := filepath.Join(dir, "add.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte("name: add\nengine: wasm\nsource: arith.wasm\nexport: add\nargs: [40, 2]\n"), 0o600))

	out, err := runCLI(t, manifest)
	require.NoError(t, err)
	assert.Equal(t, []any{42.0}, out["result"])
}

func TestRun_YAMLFormat(t *testing.T) {
	t.Setenv("TRAPBRIDGE_LOG_LEVEL", "error")
	var stdout bytes.Buffer
	err := run(context.Background(), []string{"-o", "yaml", "--export", "add", "--args", "1,1", "testdata/arith.wasm"}, &stdout, &bytes.Buffer{})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, yaml.Unmarshal(stdout.Bytes(), &out))
	assert.Equal(t, "completed", out["outcome"])
}

func TestRun_PrintSchema(t *testing.T) {
	out, err := runCLI(t, "--print-schema")
	require.NoError(t, err)
	assert.Contains(t, out, "properties")
}

func TestRun_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"no file", nil, exitUsage},
		{"bad flag", []string{"--nope"}, exitUsage},
		{"bad format", []string{"-o", "xml", "testdata/arith.wasm"}, exitUsage},
		{"unknown extension", []string{"guest.bin"}, exitUsage},
		{"missing export", []string{"--export", "nope", "testdata/arith.wasm"}, exitFailure},
		{"missing file", []string{"absent.wasm"}, exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.want, exitCode(err))
		})
	}
}
