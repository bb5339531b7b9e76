package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the root command with args and returns stdout and stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("APPDATA", home)
	t.Chdir(home)

	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func TestNormalize(t *testing.T) {
	stdout, stderr, err := run(t, "normalize",
		"https://youtu.be/dQw4w9WgXcQ?t=5",
		"https://www.youtube.com/shorts/abcdefghij_",
		"https://example.com/video",
	)
	require.NoError(t, err)

	assert.Equal(t, strings.Join([]string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=abcdefghij_",
		"https://example.com/video",
	}, "\n")+"\n", stdout)
	assert.Contains(t, stderr, "no video ID in https://example.com/video")
}

func TestNormalizeIDOnly(t *testing.T) {
	stdout, _, err := run(t, "normalize", "--id", "https://www.youtube.com/embed/dQw4w9WgXcQ", "nothing")
	require.NoError(t, err)
	assert.Equal(t, "dQw4w9WgXcQ\n", stdout)
}

func TestNormalizeRequiresArgs(t *testing.T) {
	_, _, err := run(t, "normalize")
	assert.Error(t, err)
}

func TestSweep(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "old.mp4")
	fresh := filepath.Join(dir, "new.mp4")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("new"), 0o644))
	old := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	stdout, _, err := run(t, "sweep", "--dir", dir, "--max-age", "2h")
	require.NoError(t, err)

	assert.Contains(t, stdout, "deleted")
	assert.Contains(t, stdout, stale)
	assert.Contains(t, stdout, "scanned 2, 1 deleted, 0 failed")

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestVersion(t *testing.T) {
	stdout, _, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "tubefetch v"))
}

func TestInitWritesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tubefetch.yml")

	stdout, _, err := run(t, "--config", path, "init")
	require.NoError(t, err)
	assert.Contains(t, stdout, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "delete_delay: 30s")

	_, _, err = run(t, "--config", path, "init")
	assert.Error(t, err)
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	_, _, err := run(t, "serve", "--port", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestCompletion(t *testing.T) {
	stdout, _, err := run(t, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, stdout, "tubefetch")
}
