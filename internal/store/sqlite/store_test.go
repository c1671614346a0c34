package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kiliankoe/famemely/internal/game"
	"github.com/kiliankoe/famemely/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), filepath.Join(t.TempDir(), "famemely.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.Error(t, err)
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) game.Store { return openTempStore(t) })
}

func TestReopenKeepsSessions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "famemely.db")

	st, err := Open(ctx, path)
	require.NoError(t, err)
	s := game.NewSession("ABC234", "host", "Host", game.DefaultSettings(), time.Now().UTC())
	require.NoError(t, st.Create(ctx, s))
	require.NoError(t, st.Close())

	st, err = Open(ctx, path)
	require.NoError(t, err)
	defer st.Close()
	got, err := st.Get(ctx, "ABC234")
	require.NoError(t, err)
	assert.Equal(t, "host", got.HostID)
}

func TestUpSection(t *testing.T) {
	sql := "-- +migrate Up\nCREATE TABLE a (id TEXT);\n-- +migrate Down\nDROP TABLE a;\n"
	assert.Equal(t, "\nCREATE TABLE a (id TEXT);\n", upSection(sql))
	assert.Equal(t, "SELECT 1;", upSection("SELECT 1;"))
}
