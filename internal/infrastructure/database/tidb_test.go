package database

import (
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN_Local(t *testing.T) {
	dsn := DSN(Config{Host: "127.0.0.1", User: "root", Database: "approvals"})
	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4000", cfg.Addr)
	assert.Equal(t, "approvals", cfg.DBName)
	assert.True(t, cfg.ParseTime)
	assert.Empty(t, cfg.TLSConfig)
}

func TestDSN_RemoteUsesTLS(t *testing.T) {
	dsn := DSN(Config{Host: "gateway.tidbcloud.com", Port: "4001", User: "u", Password: "p"})
	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "gateway.tidbcloud.com:4001", cfg.Addr)
	assert.Equal(t, "tidb", cfg.TLSConfig)
}
