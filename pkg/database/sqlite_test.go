package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/cartkeeper/pkg/logger"
)

func TestOpenSQLite_CreatesKVTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	db, err := OpenSQLite(context.Background(), path, logger.Discard())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO kv (key, value) VALUES ('@orders', '[]')`)
	require.NoError(t, err)

	var value string
	require.NoError(t, db.QueryRow(`SELECT value FROM kv WHERE key = '@orders'`).Scan(&value))
	assert.Equal(t, "[]", value)
}

func TestOpenSQLite_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	ctx := context.Background()

	db, err := OpenSQLite(ctx, path, logger.Discard())
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO kv (key, value) VALUES ('@myapp_cart', '[]')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// A second open finds the schema already applied.
	db, err = OpenSQLite(ctx, path, logger.Discard())
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOpenSQLite_BadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "kv.db")
	_, err := OpenSQLite(context.Background(), path, logger.Discard())
	require.Error(t, err)
}

func TestDBStatsCollector(t *testing.T) {
	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "kv.db"), logger.Discard())
	require.NoError(t, err)
	defer db.Close()

	c := NewDBStatsCollector(db, "cartd")
	assert.Equal(t, 8, testutil.CollectAndCount(c))
	assert.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(`
# HELP db_pool_max_open_connections Maximum number of open connections allowed
# TYPE db_pool_max_open_connections gauge
db_pool_max_open_connections{service="cartd"} 1
`), "db_pool_max_open_connections"))
}
