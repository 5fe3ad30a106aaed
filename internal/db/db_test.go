package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sumanyunandwani/AnalyzeAI/internal/bdoc"
)

func TestDialector(t *testing.T) {
	_, driver := dialector("sqlite:/tmp/x.db")
	assert.Equal(t, "sqlite", driver)
	_, driver = dialector("file:x?mode=memory")
	assert.Equal(t, "sqlite", driver)
	_, driver = dialector("app:pass@tcp(127.0.0.1:3306)/bdoc?parseTime=true")
	assert.Equal(t, "mysql", driver)
}

func TestConnectAndMigrate_SQLite(t *testing.T) {
	gdb, err := Connect("file:dbtest?mode=memory&cache=shared")
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Migrate(gdb))
	require.NoError(t, Migrate(gdb))

	repo := bdoc.NewRepo(gdb)
	require.NoError(t, repo.SeedBusinesses(context.Background(), []string{"Acme"}))
	names, err := repo.ListBusinessNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme"}, names)
}
