package mssql

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/ekaya-inc/ekaya-connect/pkg/config"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// Authentication methods selected by the "auth_method" option.
const (
	AuthSQL              = "sql"
	AuthServicePrincipal = "service_principal"
)

// DefaultConnectionTimeout is the login timeout in seconds.
const DefaultConnectionTimeout = 30

// connection is a resolved driver name and DSN.
type connection struct {
	driverName string
	dsn        string
}

// buildConnection picks the driver and renders its URL. SQL authentication uses
// username/password; service_principal authenticates against Azure AD with the
// username as client id, the password as client secret and the tenant_id option.
func buildConnection(cfg *models.ConnectionConfig) (connection, error) {
	if cfg.ConnectionString != "" {
		return connection{driverName: "sqlserver", dsn: cfg.ConnectionString}, nil
	}

	port := cfg.Port
	if port == 0 {
		port = models.DatabaseSQLServer.DefaultPort()
	}

	query := url.Values{}
	query.Add("database", cfg.DatabaseName)
	query.Add("encrypt", encryptMode(cfg))
	if cfg.Option("trust_server_certificate", "") == "true" {
		query.Add("TrustServerCertificate", "true")
	}
	query.Add("connection timeout", cfg.Option("connection_timeout", strconv.Itoa(DefaultConnectionTimeout)))

	u := url.URL{
		Scheme: "sqlserver",
		Host:   net.JoinHostPort(config.ResolveHostForDocker(cfg.Host), strconv.Itoa(port)),
	}

	switch method := cfg.Option("auth_method", AuthSQL); method {
	case AuthSQL:
		u.User = url.UserPassword(cfg.Username, cfg.Password)
		u.RawQuery = query.Encode()
		return connection{driverName: "sqlserver", dsn: u.String()}, nil

	case AuthServicePrincipal:
		tenant := cfg.Option("tenant_id", "")
		if tenant == "" {
			return connection{}, fmt.Errorf("service_principal auth requires the tenant_id option")
		}
		query.Add("fedauth", "ActiveDirectoryServicePrincipal")
		query.Add("user id", cfg.Username)
		query.Add("password", cfg.Password)
		query.Add("tenant id", tenant)
		u.RawQuery = query.Encode()
		return connection{driverName: "azuresql", dsn: u.String()}, nil

	default:
		return connection{}, fmt.Errorf("unsupported auth method: %s", method)
	}
}

// encryptMode honours the encrypt option ("true", "false", "strict", "disable"),
// then use_ssl, defaulting to encrypted.
func encryptMode(cfg *models.ConnectionConfig) string {
	if mode := cfg.Option("encrypt", ""); mode != "" {
		return mode
	}
	if cfg.SSLEnabled(true) {
		return "true"
	}
	return "false"
}
