package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/fleetd/internal/perms"
)

func TestAppDirName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "fleetd", AppDirName())
}

func TestUserSpecificConfigDir(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		name     string
		xdgValue string
		expected string
		errMsg   string
	}{
		{
			name:     "XDG_CONFIG_HOME is used",
			xdgValue: "/custom/xdg",
			expected: filepath.Join("/custom/xdg", "fleetd"),
		},
		{
			name:     "XDG_CONFIG_HOME is trimmed",
			xdgValue: "  /trimmed/xdg  ",
			expected: filepath.Join("/trimmed/xdg", "fleetd"),
		},
		{
			name:     "empty XDG_CONFIG_HOME falls back to home",
			xdgValue: "   ",
			expected: filepath.Join(home, ".config", "fleetd"),
		},
		{
			name:     "relative XDG_CONFIG_HOME is rejected",
			xdgValue: "relative/path",
			errMsg:   "must be an absolute path",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(EnvVarXDGConfigHome, tc.xdgValue)

			dir, err := UserSpecificConfigDir()
			if tc.errMsg != "" {
				require.ErrorContains(t, err, tc.errMsg)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, dir)
		})
	}
}

func TestUserSpecificDir_InvalidEnvVar(t *testing.T) {
	t.Parallel()

	_, err := userSpecificDir("FLEETD_HOME", ".config")
	require.ErrorContains(t, err, "does not follow XDG Base Directory Specification")
}

func TestIsPermissionAcceptable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		actual   os.FileMode
		required os.FileMode
		expected bool
	}{
		{name: "exact match", actual: 0o755, required: perms.RegularDir, expected: true},
		{name: "more restrictive", actual: 0o700, required: perms.RegularDir, expected: true},
		{name: "group writable", actual: 0o775, required: perms.RegularDir, expected: false},
		{name: "world readable secure dir", actual: 0o755, required: perms.SecureDir, expected: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.expected, isPermissionAcceptable(tc.actual, tc.required))
		})
	}
}

func TestEnsureAtLeastRegularDir(t *testing.T) {
	t.Parallel()

	t.Run("creates nested directories", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "a", "b", "reports")
		require.NoError(t, EnsureAtLeastRegularDir(dir))

		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
		require.True(t, isPermissionAcceptable(info.Mode().Perm(), perms.RegularDir))
	})

	t.Run("rejects too open permissions", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "open")
		require.NoError(t, os.Mkdir(dir, 0o755))
		require.NoError(t, os.Chmod(dir, 0o777))

		err := EnsureAtLeastRegularDir(dir)
		require.ErrorContains(t, err, "incorrect permissions")
		require.ErrorContains(t, err, dir)
	})

	t.Run("rejects symlinks", func(t *testing.T) {
		t.Parallel()

		base := t.TempDir()
		target := filepath.Join(base, "target")
		link := filepath.Join(base, "link")
		require.NoError(t, os.Mkdir(target, 0o755))
		require.NoError(t, os.Symlink(target, link))

		require.ErrorContains(t, EnsureAtLeastRegularDir(link), "is a symlink")
	})

	t.Run("rejects files", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(path, nil, perms.RegularFile))

		require.Error(t, EnsureAtLeastRegularDir(path))
	})
}

func TestEnsureAtLeastSecureDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "secure")
	require.NoError(t, EnsureAtLeastSecureDir(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, isPermissionAcceptable(info.Mode().Perm(), perms.SecureDir))
}

func TestWriteAtomic(t *testing.T) {
	t.Parallel()

	t.Run("creates file and parent", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "reports", "health.json")
		require.NoError(t, WriteAtomic(path, []byte(`{"total":1}`), perms.RegularFile))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.JSONEq(t, `{"total":1}`, string(data))

		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Equal(t, perms.RegularFile, info.Mode().Perm())
	})

	t.Run("replaces existing content and leaves no temporary files", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		path := filepath.Join(dir, "health.yaml")
		require.NoError(t, WriteAtomic(path, []byte("first"), perms.RegularFile))
		require.NoError(t, WriteAtomic(path, []byte("second"), perms.SecureFile))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Equal(t, "second", string(data))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
	})
}
