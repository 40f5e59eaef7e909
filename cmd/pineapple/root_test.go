package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/pineapple/internal/store"
	"github.com/rendis/pineapple/pkg/schema"
)

// cliEnv isolates a test from the user's settings and returns the flags
// pointing at temporary modules and archive locations.
func cliEnv(t *testing.T) (modulesDir string, flags []string) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	modulesDir = filepath.Join(home, "modules")
	require.NoError(t, os.MkdirAll(modulesDir, 0o755))
	return modulesDir, []string{
		"--modules-dir", modulesDir,
		"--db-path", filepath.Join(home, "data", "pineapple.db"),
		"--log-level", "error",
	}
}

func writeModels(t *testing.T, dir, module, environment, content string) {
	t.Helper()
	path := filepath.Join(dir, module, "models", environment+".yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"execute", "history", "schedule", "modules", "serve", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "pineapple version "+version+"\n", out)
}

func TestExecuteAndHistory(t *testing.T) {
	modulesDir, flags := cliEnv(t)
	writeModels(t, modulesDir, "app", "dev", `
models:
  - plugin: noop
    description: first
  - plugin: noop
    description: second
`)

	out, err := runCLI(t, append([]string{"execute", "deploy", "-m", "app", "-e", "dev", "--no-color", "--messages"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Execute operation <deploy> on module <app> in environment <dev>")
	assert.Contains(t, out, "Result: SUCCESS")

	out, err = runCLI(t, append([]string{"history", "-m", "app", "--json"}, flags...)...)
	require.NoError(t, err)
	var recs []store.ExecutionRecord
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "deploy", recs[0].Operation)
	assert.Equal(t, "dev", recs[0].Environment)
	assert.Equal(t, schema.StateSuccess, recs[0].State)

	out, err = runCLI(t, append([]string{"history", "show", recs[0].ID, "--json"}, flags...)...)
	require.NoError(t, err)
	var rep struct {
		Result   string `json:"result"`
		Children int    `json:"children"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "SUCCESS", rep.Result)
	assert.Equal(t, 2, rep.Children)
}

func TestExecute_UnknownModuleFails(t *testing.T) {
	_, flags := cliEnv(t)

	out, err := runCLI(t, append([]string{"execute", "deploy", "-m", "missing", "-e", "dev", "--json"}, flags...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "finished with ERROR")

	var rep struct {
		Result string `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "ERROR", rep.Result)
}

func TestExecute_RequiresModuleAndEnv(t *testing.T) {
	_, flags := cliEnv(t)

	_, err := runCLI(t, append([]string{"execute", "deploy"}, flags...)...)
	assert.Error(t, err)
}

func TestScheduleCommands(t *testing.T) {
	_, flags := cliEnv(t)

	out, err := runCLI(t, append([]string{"schedule", "create", "nightly", "-m", "app", "-e", "qa", "-o", "test", "--cron", "0 2 * * *"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "nightly")

	_, err = runCLI(t, append([]string{"schedule", "create", "nightly", "-m", "app", "-e", "qa", "-o", "test", "--cron", "0 3 * * *"}, flags...)...)
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))

	_, err = runCLI(t, append([]string{"schedule", "pause", "nightly"}, flags...)...)
	require.NoError(t, err)

	out, err = runCLI(t, append([]string{"schedule", "list", "--json"}, flags...)...)
	require.NoError(t, err)
	var ops []store.ScheduledOperation
	require.NoError(t, json.Unmarshal([]byte(out), &ops))
	require.Len(t, ops, 1)
	assert.Equal(t, "0 2 * * *", ops[0].Cron)
	assert.False(t, ops[0].Enabled)

	_, err = runCLI(t, append([]string{"schedule", "delete", "nightly"}, flags...)...)
	require.NoError(t, err)
	_, err = runCLI(t, append([]string{"schedule", "delete", "nightly"}, flags...)...)
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestModulesCmd(t *testing.T) {
	modulesDir, flags := cliEnv(t)
	writeModels(t, modulesDir, "app", "dev", "models: []\n")
	writeModels(t, modulesDir, "app", "prod", "models: []\n")

	out, err := runCLI(t, append([]string{"modules"}, flags...)...)
	require.NoError(t, err)
	assert.Equal(t, "app\n", out)

	out, err = runCLI(t, append([]string{"modules", "app"}, flags...)...)
	require.NoError(t, err)
	assert.Equal(t, "dev\nprod\n", out)
}
