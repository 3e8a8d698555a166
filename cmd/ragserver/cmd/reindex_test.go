package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReindexCmd_HasFlags(t *testing.T) {
	// Given: the root command
	cmd := NewRootCmd()

	// When: looking up the reindex subcommand
	reindexCmd, _, err := cmd.Find([]string{"reindex"})
	require.NoError(t, err)

	// Then: display and wait behavior are controllable
	for _, name := range []string{"no-tui", "no-wait"} {
		flag := reindexCmd.Flags().Lookup(name)
		assert.NotNil(t, flag, "Reindex should have --%s flag", name)
		assert.Equal(t, "false", flag.DefValue)
	}
}

func TestReindexCmd_ServerDown(t *testing.T) {
	// Given: no server running
	tmpDir := t.TempDir()
	oldDir, _ := os.Getwd()
	_ = os.Chdir(tmpDir)
	defer func() { _ = os.Chdir(oldDir) }()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	// When: triggering a reindex
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"reindex", "--no-wait"})

	err := cmd.Execute()

	// Then: the trigger fails because nothing listens
	require.Error(t, err)
}
