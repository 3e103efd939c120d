package postgres

import (
	"net"
	"net/url"
	"strconv"

	"github.com/ekaya-inc/ekaya-connect/pkg/config"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// DefaultSchema is used for unqualified table identifiers unless the "schema"
// option overrides it.
const DefaultSchema = "public"

// sslMode resolves the libpq sslmode: the ssl_mode option wins, then use_ssl,
// then "require".
func sslMode(cfg *models.ConnectionConfig) string {
	if mode := cfg.Option("ssl_mode", ""); mode != "" {
		return mode
	}
	if cfg.SSLEnabled(true) {
		return "require"
	}
	return "disable"
}

// buildConnectionString builds a PostgreSQL URL. Userinfo and path are
// percent-encoded by net/url, so passwords containing @, /, # or spaces
// survive pgx's URL parsing. An explicit connection_string is used verbatim.
// When running in Docker, localhost resolves to host.docker.internal.
func buildConnectionString(cfg *models.ConnectionConfig) string {
	if cfg.ConnectionString != "" {
		return cfg.ConnectionString
	}

	port := cfg.Port
	if port == 0 {
		port = models.DatabasePostgreSQL.DefaultPort()
	}

	u := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     net.JoinHostPort(config.ResolveHostForDocker(cfg.Host), strconv.Itoa(port)),
		Path:     "/" + cfg.DatabaseName,
		RawQuery: url.Values{"sslmode": {sslMode(cfg)}}.Encode(),
	}
	return u.String()
}
