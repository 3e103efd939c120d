package mariadb

import (
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/ekaya-inc/ekaya-connect/pkg/config"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

const dialTimeout = 10 * time.Second

// buildDSN renders a go-sql-driver DSN. parseTime is always on so DATETIME
// columns scan as time.Time. An explicit connection_string is parsed and
// adjusted the same way.
func buildDSN(cfg *models.ConnectionConfig) (string, error) {
	var dsn *mysql.Config
	if cfg.ConnectionString != "" {
		parsed, err := mysql.ParseDSN(cfg.ConnectionString)
		if err != nil {
			return "", err
		}
		dsn = parsed
	} else {
		port := cfg.Port
		if port == 0 {
			port = models.DatabaseMariaDB.DefaultPort()
		}
		dsn = mysql.NewConfig()
		dsn.User = cfg.Username
		dsn.Passwd = cfg.Password
		dsn.Net = "tcp"
		dsn.Addr = net.JoinHostPort(config.ResolveHostForDocker(cfg.Host), strconv.Itoa(port))
		dsn.DBName = cfg.DatabaseName
		dsn.Timeout = dialTimeout
		dsn.TLSConfig = tlsConfig(cfg)
	}

	dsn.ParseTime = true
	dsn.Loc = time.UTC
	return dsn.FormatDSN(), nil
}

// tlsConfig maps ssl_mode (or use_ssl) onto the driver's named TLS configs.
func tlsConfig(cfg *models.ConnectionConfig) string {
	switch mode := cfg.Option("ssl_mode", ""); mode {
	case "disable", "disabled", "false":
		return "false"
	case "require", "required", "true", "verify-full":
		return "true"
	case "skip-verify", "preferred":
		return mode
	}
	if cfg.SSLEnabled(false) {
		return "true"
	}
	return "false"
}
