// Package audit provides security audit logging for SIEM consumption.
// Events are written as structured JSON under the "security_audit" logger.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/logging"
	sqlc "github.com/ekaya-inc/ekaya-connect/pkg/sql"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a request value.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventQueryExecution is logged for every successful query execution.
	EventQueryExecution SecurityEventType = "query_execution"
)

// SecurityEvent is one auditable event.
type SecurityEvent struct {
	ID         uuid.UUID         `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	EventType  SecurityEventType `json:"event_type"`
	DataSource string            `json:"data_source"`
	Table      string            `json:"table"`
	Details    any               `json:"details"`
	Severity   string            `json:"severity"` // info, warning
}

// SQLInjectionDetails describes a flagged request value.
type SQLInjectionDetails struct {
	Field       string `json:"field"`
	Value       string `json:"value"`
	Fingerprint string `json:"fingerprint"`
}

// QueryExecutionDetails describes a completed query.
type QueryExecutionDetails struct {
	Query     string `json:"query"`
	Rows      int    `json:"rows"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// SecurityAuditor logs security events.
type SecurityAuditor struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewSecurityAuditor creates an auditor logging under the "security_audit" namespace.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityAuditor{logger: logger.Named("security_audit"), now: time.Now}
}

func (a *SecurityAuditor) event(t SecurityEventType, source, table, severity string, details any) SecurityEvent {
	return SecurityEvent{
		ID:         uuid.New(),
		Timestamp:  a.now().UTC(),
		EventType:  t,
		DataSource: source,
		Table:      table,
		Details:    details,
		Severity:   severity,
	}
}

// LogInjectionAttempt records a request value that libinjection flagged.
// Values are always bound as parameters, so this is a warning, not a block.
func (a *SecurityAuditor) LogInjectionAttempt(source, table string, hit *sqlc.InjectionCheckResult) {
	value, _ := hit.Value.(string)
	details := SQLInjectionDetails{
		Field:       hit.Field,
		Value:       value,
		Fingerprint: hit.Fingerprint,
	}
	event := a.event(EventSQLInjectionAttempt, source, table, "warning", details)

	// Marshaling known types cannot fail.
	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("SQL injection pattern in request value",
		zap.String("event_json", string(eventJSON)),
		zap.String("data_source", source),
		zap.String("table", table),
		zap.String("field", details.Field),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("severity", event.Severity),
	)
}

// LogQueryExecution records a successful query for the audit trail. The
// statement text is sanitized before it is logged.
func (a *SecurityAuditor) LogQueryExecution(source, table, query string, rows int, elapsed time.Duration) {
	details := QueryExecutionDetails{
		Query:     logging.SanitizeQuery(query),
		Rows:      rows,
		ElapsedMS: elapsed.Milliseconds(),
	}
	event := a.event(EventQueryExecution, source, table, "info", details)
	eventJSON, _ := json.Marshal(event)

	a.logger.Info("Query executed",
		zap.String("event_json", string(eventJSON)),
		zap.String("data_source", source),
		zap.String("table", table),
		zap.Int("rows", rows),
		zap.String("severity", event.Severity),
	)
}
