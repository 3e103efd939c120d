package models

// SyncScope selects the tables a synchronization pass considers.
// An empty Tables list means every remote table.
type SyncScope struct {
	Tables []string `json:"tables,omitempty"`
}

// AllTables reports whether the scope covers the whole remote schema.
func (s SyncScope) AllTables() bool {
	return len(s.Tables) == 0
}

// SyncFailure records why one table could not be synchronized.
type SyncFailure struct {
	Table  string `json:"table"`
	Reason string `json:"reason"`
}

// SyncReport summarizes a synchronization pass.
// Skipped holds tables already in the catalog (without force) and requested tables
// absent from the remote. Ignored holds tables removed by ignore patterns.
type SyncReport struct {
	Synced  []string      `json:"synced"`
	Skipped []string      `json:"skipped"`
	Ignored []string      `json:"ignored,omitempty"`
	Failed  []SyncFailure `json:"failed"`
}

// NewSyncReport returns a report with empty, non-nil lists.
func NewSyncReport() *SyncReport {
	return &SyncReport{
		Synced:  []string{},
		Skipped: []string{},
		Failed:  []SyncFailure{},
	}
}
