package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/calsync/core"
)

func Test_dsn(t *testing.T) {
	conf := &core.Config{Database: core.DatabaseConfig{
		Host: "db", Port: "5432", Name: "calsync", User: "app", Password: "p@ss",
		AdminUser: "postgres", AdminPassword: "root", DisableTLS: true,
	}}

	tests := []struct {
		name   string
		dbName string
		admin  bool
		tls    bool
		want   string
	}{
		{name: "app user", dbName: "calsync", want: "postgres://app:p%40ss@db:5432/calsync?sslmode=disable&timezone=utc"},
		{name: "admin user", dbName: "postgres", admin: true, want: "postgres://postgres:root@db:5432/postgres?sslmode=disable&timezone=utc"},
		{name: "tls", dbName: "calsync", tls: true, want: "postgres://app:p%40ss@db:5432/calsync?sslmode=require&timezone=utc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *conf
			c.Database.DisableTLS = !tt.tls
			assert.Equal(t, tt.want, dsn(tt.dbName, tt.admin, &c))
		})
	}
}
