package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the orchestration engine.
const (
	ProjectCreated         = "project.created"
	ProjectStatusChanged   = "project.status_changed"
	BriefDistributionSet   = "project.brief_distribution_set"
	MilestoneCompleted     = "milestone.completed"
	PhaseStarted           = "phase.started"
	PhaseCompleted         = "phase.completed"
	ApprovalSubmitted      = "approval.submitted"
	ApprovalApproved       = "approval.approved"
	ApprovalRejected       = "approval.rejected"
	AppointmentCreated     = "appointment.created"
	AppointmentReplaced    = "appointment.replaced"
	AppointmentContractSet = "appointment.contract_executed_set"
	AppointmentCompleted   = "appointment.completed"
	ReportRecorded         = "monitoring.report_recorded"
)

// Writer appends audit events inside the caller's transaction, so an event is
// visible exactly when the state change it describes is.
type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Record is one event to append.
type Record struct {
	Type       string
	ProjectID  string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    Payload
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, rec Record) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	payload := rec.Payload
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), rec.Type, nullable(rec.ProjectID), rec.EntityKind, nullable(rec.EntityID), rec.ActorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", rec.Type, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
