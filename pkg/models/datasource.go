package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/jsonutil"
)

// DatabaseType identifies the remote database product behind a data source.
type DatabaseType string

const (
	DatabasePostgreSQL DatabaseType = "PostgreSQL"
	DatabaseMariaDB    DatabaseType = "MariaDB"
	DatabaseMySQL      DatabaseType = "MySQL"
	DatabaseSQLite     DatabaseType = "SQLite"
	DatabaseBigQuery   DatabaseType = "BigQuery"
	DatabaseSQLServer  DatabaseType = "SQLServer"
)

var databaseTypeAliases = map[string]DatabaseType{
	"postgresql": DatabasePostgreSQL,
	"postgres":   DatabasePostgreSQL,
	"mariadb":    DatabaseMariaDB,
	"mysql":      DatabaseMySQL,
	"sqlite":     DatabaseSQLite,
	"bigquery":   DatabaseBigQuery,
	"sqlserver":  DatabaseSQLServer,
	"mssql":      DatabaseSQLServer,
}

// ParseDatabaseType resolves a case-insensitive database type name or alias.
func ParseDatabaseType(s string) (DatabaseType, error) {
	if t, ok := databaseTypeAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t, nil
	}
	return "", apperrors.Configuration("unsupported database type %q", s)
}

// DefaultPort returns the conventional port for t, or 0 when t has none.
func (t DatabaseType) DefaultPort() int {
	switch t {
	case DatabasePostgreSQL:
		return 5432
	case DatabaseMariaDB, DatabaseMySQL:
		return 3306
	case DatabaseSQLServer:
		return 1433
	}
	return 0
}

// ConnectionConfig describes how to reach one external data source.
// Which fields are required depends on DatabaseType; see Validated.
type ConnectionConfig struct {
	ID                    string            `json:"id,omitempty" yaml:"id"`
	DatabaseType          DatabaseType      `json:"database_type" yaml:"database_type"`
	Title                 string            `json:"title" yaml:"title"`
	Host                  string            `json:"host,omitempty" yaml:"host"`
	Port                  int               `json:"port,omitempty" yaml:"port"`
	DatabaseName          string            `json:"database_name,omitempty" yaml:"database_name"`
	Username              string            `json:"username,omitempty" yaml:"username"`
	Password              string            `json:"password,omitempty" yaml:"password"`
	UseSSL                *bool             `json:"use_ssl,omitempty" yaml:"use_ssl"`
	ConnectionString      string            `json:"connection_string,omitempty" yaml:"connection_string"`
	ProjectID             string            `json:"project_id,omitempty" yaml:"project_id"`
	StructuredCredentials string            `json:"structured_credentials,omitempty" yaml:"structured_credentials"`
	Options               map[string]string `json:"options,omitempty" yaml:"options"`
}

// UnmarshalJSON accepts ports and booleans as strings, "service_account" as an
// alias of structured_credentials, and credentials given inline or encoded as a string.
func (c *ConnectionConfig) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID                    string            `json:"id"`
		DatabaseType          string            `json:"database_type"`
		Title                 string            `json:"title"`
		Host                  string            `json:"host"`
		Port                  json.RawMessage   `json:"port"`
		DatabaseName          string            `json:"database_name"`
		Username              string            `json:"username"`
		Password              string            `json:"password"`
		UseSSL                json.RawMessage   `json:"use_ssl"`
		ConnectionString      string            `json:"connection_string"`
		ProjectID             string            `json:"project_id"`
		StructuredCredentials json.RawMessage   `json:"structured_credentials"`
		ServiceAccount        json.RawMessage   `json:"service_account"`
		Options               map[string]string `json:"options"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return apperrors.Configuration("connection config is not valid JSON: %v", err)
	}

	port, err := jsonutil.FlexibleIntValue(aux.Port)
	if err != nil {
		return apperrors.Configuration("port: %v", err)
	}
	useSSL, err := jsonutil.FlexibleBoolValue(aux.UseSSL)
	if err != nil {
		return apperrors.Configuration("use_ssl: %v", err)
	}
	credentials := jsonutil.EmbeddedDocument(aux.StructuredCredentials)
	if credentials == "" {
		credentials = jsonutil.EmbeddedDocument(aux.ServiceAccount)
	}

	*c = ConnectionConfig{
		ID:                    aux.ID,
		DatabaseType:          DatabaseType(aux.DatabaseType),
		Title:                 aux.Title,
		Host:                  aux.Host,
		Port:                  port,
		DatabaseName:          aux.DatabaseName,
		Username:              aux.Username,
		Password:              aux.Password,
		UseSSL:                useSSL,
		ConnectionString:      aux.ConnectionString,
		ProjectID:             aux.ProjectID,
		StructuredCredentials: credentials,
		Options:               aux.Options,
	}
	return nil
}

// Option returns the named option or def when unset.
func (c *ConnectionConfig) Option(name, def string) string {
	if v, ok := c.Options[name]; ok && v != "" {
		return v
	}
	return def
}

// SSLEnabled reports use_ssl, falling back to def when it was not provided.
func (c *ConnectionConfig) SSLEnabled(def bool) bool {
	if c.UseSSL == nil {
		return def
	}
	return *c.UseSSL
}

// Validated checks that every field required by the database type is present and
// returns a copy with defaults filled in. It never touches the network. All failures
// are configuration errors.
func (c ConnectionConfig) Validated() (ConnectionConfig, error) {
	dbType, err := ParseDatabaseType(string(c.DatabaseType))
	if err != nil {
		return c, err
	}
	c.DatabaseType = dbType

	switch dbType {
	case DatabasePostgreSQL, DatabaseMariaDB, DatabaseMySQL, DatabaseSQLServer:
		if c.ConnectionString == "" {
			var missing []string
			if c.Host == "" {
				missing = append(missing, "host")
			}
			if c.Username == "" {
				missing = append(missing, "username")
			}
			if c.DatabaseName == "" {
				missing = append(missing, "database_name")
			}
			if len(missing) > 0 {
				return c, apperrors.Configuration("%s requires %s (or connection_string)", dbType, strings.Join(missing, ", "))
			}
		}
		if c.Port == 0 {
			c.Port = dbType.DefaultPort()
		}
		if c.Port < 0 || c.Port > 65535 {
			return c, apperrors.Configuration("port %d is out of range", c.Port)
		}

	case DatabaseSQLite:
		if c.DatabaseName == "" {
			if c.Title == "" {
				return c, apperrors.Configuration("SQLite requires database_name or title")
			}
			c.DatabaseName = Scrub(c.Title) + ".db"
		}

	case DatabaseBigQuery:
		account, err := ParseServiceAccount(c.StructuredCredentials)
		if err != nil {
			return c, err
		}
		if c.ProjectID == "" {
			c.ProjectID = account.ProjectID
		}
		if c.ProjectID == "" {
			return c, apperrors.Configuration("BigQuery requires project_id")
		}
	}

	return c, nil
}

// Key identifies the connection for pooling. Two configs share a key only if every
// connection-relevant field matches, so edited credentials never reuse a stale pool.
func (c *ConnectionConfig) Key() string {
	name := c.ID
	if name == "" {
		name = Scrub(c.Title)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s|%s|%s|%s|%s|%s|%v",
		c.DatabaseType, c.Host, c.Port, c.DatabaseName, c.Username, c.Password,
		c.ConnectionString, c.ProjectID, c.StructuredCredentials, c.SSLEnabled(false))
	return fmt.Sprintf("%s:%s:%s", strings.ToLower(string(c.DatabaseType)), name, hex.EncodeToString(h.Sum(nil))[:12])
}

// Name is the data source name used in the catalog.
func (c *ConnectionConfig) Name() string {
	if c.ID != "" {
		return c.ID
	}
	return Scrub(c.Title)
}

// ServiceAccount holds the fields of a Google service account key the core reads.
type ServiceAccount struct {
	Type        string `json:"type"`
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
}

// ParseServiceAccount validates a service account key document.
func ParseServiceAccount(doc string) (*ServiceAccount, error) {
	if strings.TrimSpace(doc) == "" {
		return nil, apperrors.Configuration("BigQuery requires structured_credentials (service account JSON)")
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(doc), &raw); err != nil {
		return nil, apperrors.Configuration("service account is not valid JSON")
	}
	var account ServiceAccount
	if err := json.Unmarshal([]byte(doc), &account); err != nil {
		return nil, apperrors.Configuration("service account is not valid JSON")
	}
	if account.Type != "" && account.Type != "service_account" {
		return nil, apperrors.Configuration("credentials type %q is not a service account", account.Type)
	}
	return &account, nil
}

var scrubPattern = regexp.MustCompile(`[^a-z0-9_]+`)

// Scrub lowercases s and replaces runs of non-alphanumerics with underscores.
func Scrub(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Trim(scrubPattern.ReplaceAllString(s, "_"), "_")
}
