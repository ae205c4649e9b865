// Package sqlitetest opens migrated throwaway databases for tests.
package sqlitetest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jdholdren/podcatch/internal/live"
	"github.com/jdholdren/podcatch/internal/migrations"
	"github.com/jdholdren/podcatch/internal/sqlite"
)

// New returns a store over a fresh, fully migrated database file that is removed
// when the test ends.
func New(t testing.TB) *sqlite.DB {
	t.Helper()

	dbx, err := sqlite.Open(filepath.Join(t.TempDir(), "podcatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbx.Close() })

	require.NoError(t, migrations.Run(dbx))

	return sqlite.New(dbx, live.NewBus())
}
