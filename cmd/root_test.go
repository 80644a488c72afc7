package cmd

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunnelctl/pkg/logging"
)

func TestMain(m *testing.M) {
	logging.InitForCLI(logging.LevelDebug, io.Discard)
	os.Exit(m.Run())
}

// executeRoot runs the root command with args and returns stdout.
func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "tunnelctl", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.True(t, rootCmd.SilenceUsage)

	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"version", "self-update", "serve", "run", "tunnel"} {
		assert.True(t, names[want], "subcommand %s not registered", want)
	}
}

func TestVersionCommand(t *testing.T) {
	original := rootCmd.Version
	defer SetVersion(original)

	SetVersion("1.2.3-test")
	assert.Equal(t, "1.2.3-test", rootCmd.Version)

	out, err := executeRoot(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "tunnelctl version 1.2.3-test\n", out)
}

func TestRootCommandHelp(t *testing.T) {
	out, err := executeRoot(t, "--help")
	require.NoError(t, err)

	assert.Contains(t, out, "duration of a build")
	for _, flag := range []string{"--config", "--log-level", "--log-format"} {
		assert.Contains(t, out, flag)
	}
}

func TestExecute_ExitCode(t *testing.T) {
	originalExit := osExit
	defer func() { osExit = originalExit }()

	code := -1
	osExit = func(c int) { code = c }

	rootCmd.SetArgs([]string{"run"})
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	}()

	Execute()
	assert.Equal(t, 1, code, "a run without a command exits 1")
}

func TestExitCodeError(t *testing.T) {
	err := &exitCodeError{code: 7}
	assert.Equal(t, "build command exited with code 7", err.Error())
}
