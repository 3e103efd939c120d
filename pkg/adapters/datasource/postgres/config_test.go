package postgres

import (
	"net/url"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

func testConfig() *models.ConnectionConfig {
	return &models.ConnectionConfig{
		DatabaseType: models.DatabasePostgreSQL,
		Title:        "Orders",
		Host:         "db.example.com",
		Port:         5432,
		Username:     "testuser",
		Password:     "testpass",
		DatabaseName: "testdb",
	}
}

// Passwords with URL metacharacters must be escaped so they cannot break parsing.
func TestBuildConnectionString_PasswordURLEscaping(t *testing.T) {
	tests := []struct {
		name     string
		password string
		encoded  []string
	}{
		{"at symbol", "p@ssword", []string{"%40"}},
		{"slash", "p/ssword", []string{"%2F"}},
		{"hash", "p#ssword", []string{"%23"}},
		{"question mark", "p?ssword", []string{"%3F"}},
		{"semicolon", "p;ssword", nil},
		{"space", "pass word", []string{"%20"}},
		{"multiple", "p@ss/w#rd?123;456", []string{"%40", "%2F", "%23", "%3F"}},
		{"sql injection attempt", "'; DROP TABLE users; --", []string{"%27", "%20"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Password = tt.password

			connStr := buildConnectionString(cfg)

			assert.True(t, strings.HasPrefix(connStr, "postgresql://"))
			for _, enc := range tt.encoded {
				assert.Contains(t, connStr, enc)
			}

			parsed, err := url.Parse(connStr)
			require.NoError(t, err)
			pass, _ := parsed.User.Password()
			assert.Equal(t, tt.password, pass, "password should round-trip through URL parsing")
			assert.Equal(t, "db.example.com", parsed.Hostname())

			pgCfg, err := pgx.ParseConfig(connStr)
			require.NoError(t, err)
			assert.Equal(t, tt.password, pgCfg.Password, "pgx must read the same password")
		})
	}
}

func TestBuildConnectionString_SpacesSurvivePgxParsing(t *testing.T) {
	cfg := testConfig()
	cfg.Username = "report reader"
	cfg.Password = "correct horse battery"
	cfg.DatabaseName = "sales archive"

	connStr := buildConnectionString(cfg)
	assert.NotContains(t, connStr, "+")

	pgCfg, err := pgx.ParseConfig(connStr)
	require.NoError(t, err)
	assert.Equal(t, "report reader", pgCfg.User)
	assert.Equal(t, "correct horse battery", pgCfg.Password)
	assert.Equal(t, "sales archive", pgCfg.Database)
	assert.Equal(t, "db.example.com", pgCfg.Host)
	assert.Equal(t, uint16(5432), pgCfg.Port)
}

func TestBuildConnectionString_UserAndDatabaseEscaping(t *testing.T) {
	cfg := testConfig()
	cfg.Username = "user@domain"
	cfg.DatabaseName = "my/db"

	parsed, err := url.Parse(buildConnectionString(cfg))
	require.NoError(t, err)

	assert.Equal(t, "user@domain", parsed.User.Username())
	assert.Equal(t, "my/db", strings.TrimPrefix(parsed.Path, "/"))
}

func TestBuildConnectionString_SSLMode(t *testing.T) {
	off := false
	on := true

	tests := []struct {
		name    string
		useSSL  *bool
		options map[string]string
		want    string
	}{
		{"default requires", nil, nil, "sslmode=require"},
		{"use_ssl false", &off, nil, "sslmode=disable"},
		{"use_ssl true", &on, nil, "sslmode=require"},
		{"option wins", &off, map[string]string{"ssl_mode": "verify-full"}, "sslmode=verify-full"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.UseSSL = tt.useSSL
			cfg.Options = tt.options
			assert.Contains(t, buildConnectionString(cfg), tt.want)
		})
	}
}

func TestBuildConnectionString_DefaultPort(t *testing.T) {
	cfg := testConfig()
	cfg.Port = 0
	assert.Contains(t, buildConnectionString(cfg), "@db.example.com:5432/")
}

func TestBuildConnectionString_ExplicitConnectionString(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectionString = "postgres://u:p@elsewhere:6543/other?sslmode=disable"
	assert.Equal(t, cfg.ConnectionString, buildConnectionString(cfg))
}
