package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/andthedropout/claude-dev/internal/output"
	"github.com/andthedropout/claude-dev/internal/store"
)

// testEnv points the config dir, state dir, and database at a temp
// directory and swaps ui for a buffered one. Returns the temp dir.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	oldConfigDir := configDirFunc
	configDirFunc = func() (string, error) { return dir, nil }
	t.Cleanup(func() { configDirFunc = oldConfigDir })

	viper.Set("state_dir", dir)
	viper.Set("db_path", filepath.Join(dir, "test.db"))
	t.Cleanup(func() {
		viper.Set("state_dir", nil)
		viper.Set("db_path", nil)
	})

	ui = &output.UI{Out: &bytes.Buffer{}, ErrOut: &bytes.Buffer{}}

	if dataStore != nil {
		_ = dataStore.Close()
		dataStore = nil
	}
	t.Cleanup(func() {
		if dataStore != nil {
			_ = dataStore.Close()
			dataStore = nil
		}
	})

	return dir
}

// testStore opens the test database directly.
func testStore(t *testing.T, dir string) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

// uiOut returns what the buffered test UI has written to stdout so far.
func uiOut() string {
	return ui.Out.(*bytes.Buffer).String()
}
