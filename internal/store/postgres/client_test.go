package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{"explicit dsn wins", ClientConfig{DSN: "postgres://x", Host: "ignored"}, "postgres://x"},
		{"defaults", ClientConfig{Host: "db", Database: "ammarb", User: "u", Password: "p"}, "postgres://u:p@db:5432/ammarb?sslmode=disable"},
		{"custom port and ssl", ClientConfig{Host: "db", Port: 6432, Database: "d", User: "u", Password: "p", SSLMode: "require"}, "postgres://u:p@db:6432/d?sslmode=require"},
		{"escaped password", ClientConfig{Host: "db", Database: "d", User: "u", Password: "p@ss/word"}, "postgres://u:p%40ss%2Fword@db:5432/d?sslmode=disable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DSN(tt.cfg))
		})
	}
}

func TestLoadMigrations_Embedded(t *testing.T) {
	migrations, err := loadMigrations(migrationsFS)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].version)
	assert.Equal(t, "001_settlement.sql", migrations[0].name)
	assert.Equal(t, 2, migrations[1].version)

	var all strings.Builder
	for _, m := range migrations {
		all.WriteString(m.sql)
	}
	for _, table := range requiredTables {
		assert.Contains(t, all.String(), "CREATE TABLE IF NOT EXISTS "+table+" ", table)
	}
}

func TestLoadMigrations_OrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/010_later.sql":  {Data: []byte("SELECT 10")},
		"migrations/002_second.sql": {Data: []byte("SELECT 2")},
		"migrations/README.md":      {Data: []byte("ignored")},
	}
	migrations, err := loadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, []int{2, 10}, []int{migrations[0].version, migrations[1].version})
	assert.Equal(t, "SELECT 10", migrations[1].sql)
}

func TestLoadMigrations_RejectsBadNames(t *testing.T) {
	_, err := loadMigrations(fstest.MapFS{"migrations/schema.sql": {Data: []byte("SELECT 1")}})
	assert.ErrorContains(t, err, "positive version")

	_, err = loadMigrations(fstest.MapFS{
		"migrations/001_a.sql": {Data: []byte("SELECT 1")},
		"migrations/1_b.sql":   {Data: []byte("SELECT 1")},
	})
	assert.ErrorContains(t, err, "share version 1")
}

func TestListQuery(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q, args := listQuery("SELECT id FROM t WHERE TRUE", "at", "at DESC", domain.ListOpts{Since: &since, Limit: 10, Offset: 5}, nil)
	assert.Equal(t, "SELECT id FROM t WHERE TRUE AND at >= $1 ORDER BY at DESC LIMIT $2 OFFSET $3", q)
	assert.Equal(t, []any{since, 10, 5}, args)

	q, args = listQuery("SELECT id FROM t WHERE x = $1", "at", "at", domain.ListOpts{}, []any{"x"})
	assert.True(t, strings.HasSuffix(q, "ORDER BY at"))
	assert.Len(t, args, 1)
}

func TestAssetText(t *testing.T) {
	assert.Equal(t, "", assetText(domain.Asset{}))
	assert.Equal(t, "0.1928 EOS", assetText(domain.Asset{Amount: 1928, Symbol: domain.Symbol{Code: "EOS", Precision: 4}}))
	assert.Equal(t, "", symbolText(domain.Symbol{}))
}
