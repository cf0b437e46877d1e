// Package postprocess deterministically repairs accepted generation output.
//
// The pipeline runs ordered, idempotent passes: sentinel strip, multi-phase
// cleanup, duplicate and paraphrase removal, perspective enforcement,
// repetition limiting, and cross-language flagging. Every deletion is
// recorded on an append-only audit trail so false positives can be reviewed
// without re-running the pipeline.
package postprocess

import "time"

// AuditEntry records one deletion made by a pipeline pass.
type AuditEntry struct {
	Time    time.Time `json:"time"`
	UnitID  string    `json:"unit_id"`
	Phase   string    `json:"phase"`
	Rule    string    `json:"rule"`
	Removed string    `json:"removed"`
}

// Auditor receives deletion records. Implementations must be safe for
// concurrent use; the telemetry package provides a JSON-lines file auditor.
type Auditor interface {
	Record(entry AuditEntry)
}

// NopAuditor discards all entries.
type NopAuditor struct{}

func (NopAuditor) Record(AuditEntry) {}
