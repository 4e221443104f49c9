package db

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/polylog/internal/models"
)

func TestConnect_SQLiteMigrates(t *testing.T) {
	req := require.New(t)

	gdb, err := Connect("sqlite", "file::memory:")
	req.NoError(err)
	req.NoError(Migrate(gdb))
	req.NoError(Ping(gdb))

	req.True(gdb.Migrator().HasTable(&models.User{}))
	req.True(gdb.Migrator().HasTable(&models.ArchivedMessage{}))
}

func TestConnect_UnknownDriver(t *testing.T) {
	_, err := Connect("postgres", "whatever")
	require.ErrorContains(t, err, "unsupported driver")
}
