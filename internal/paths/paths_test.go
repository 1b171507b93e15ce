package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveProjectDir(t *testing.T) {
	root := t.TempDir()

	require.Equal(t, filepath.Join(root, DirName), ResolveProjectDir(root))
	require.Equal(t, filepath.Join(root, DirName), ResolveProjectDir(filepath.Join(root, DirName)))
	require.Equal(t, DirName, ResolveProjectDir(""))
}

func TestResolveProjectDir_FollowsRedirect(t *testing.T) {
	main := t.TempDir()
	worktree := t.TempDir()
	dir := filepath.Join(worktree, DirName)
	require.NoError(t, os.MkdirAll(dir, 0o750))

	rel, err := filepath.Rel(dir, filepath.Join(main, DirName))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "redirect"), []byte(rel+"\n"), 0o600))
	require.Equal(t, filepath.Join(main, DirName), ResolveProjectDir(worktree))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "redirect"), []byte(filepath.Join(main, DirName)), 0o600))
	require.Equal(t, filepath.Join(main, DirName), ResolveProjectDir(worktree))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "redirect"), []byte("  "), 0o600))
	require.Equal(t, dir, ResolveProjectDir(worktree), "blank redirect is ignored")
}

func TestConfigFile(t *testing.T) {
	require.Equal(t, "/etc/custom.yaml", ConfigFile("/etc/custom.yaml"))

	root := t.TempDir()
	t.Chdir(root)
	t.Setenv("HOME", t.TempDir())

	require.Equal(t, filepath.Join(DirName, ConfigName), ConfigFile(""), "defaults to the project file")

	user := filepath.Join(UserConfigDir(), ConfigName)
	require.NoError(t, os.MkdirAll(filepath.Dir(user), 0o750))
	require.NoError(t, os.WriteFile(user, nil, 0o600))
	require.Equal(t, user, ConfigFile(""))

	require.NoError(t, os.MkdirAll(DirName, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(DirName, ConfigName), nil, 0o600))
	require.Equal(t, filepath.Join(DirName, ConfigName), ConfigFile(""), "project file wins")
}
