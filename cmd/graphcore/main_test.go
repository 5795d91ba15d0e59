package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("GRAPHCORE_LOG_LEVEL", "error")
	t.Setenv("GRAPHCORE_SNAPSHOT", "")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDemoSaveThenShell(t *testing.T) {
	snapshot := filepath.Join(t.TempDir(), "family.db")

	out, err := runCLI(t, "", "demo", "--save", "--snapshot", snapshot)
	require.NoError(t, err)
	assert.Contains(t, out, "THE SIMPSONS")
	assert.Contains(t, out, "COUNT(c) = 3")
	assert.Contains(t, out, `firstname="Homer"`)
	assert.Contains(t, out, "saved to "+snapshot)

	out, err = runCLI(t, "", "shell", "--snapshot", snapshot,
		"START n=node:__types__(type='user') MATCH n-[:IS_CHILD_OF]->() RETURN count(*)")
	require.NoError(t, err)
	assert.Contains(t, out, "count(*) = 3")

	out, err = runCLI(t, "help\nSTART n=node:__types__(type='user') WHERE n.lastname = 'Burns' RETURN n\nnonsense\nexit\n",
		"shell", "--snapshot", snapshot)
	require.NoError(t, err)
	assert.Contains(t, out, "Example queries:")
	assert.Contains(t, out, `lastname="Burns"`)
	assert.Contains(t, out, "Error:")
	assert.Contains(t, out, "Goodbye!")
}

func TestShellMissingSnapshot(t *testing.T) {
	_, err := runCLI(t, "", "shell", "--snapshot", filepath.Join(t.TempDir(), "missing.db"), "RETURN n")
	assert.Error(t, err)
}
