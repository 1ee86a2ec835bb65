package server

import (
	"encoding/json"
	"time"

	"siteline/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	ID        string        `json:"id,omitempty"`
	Title     string        `json:"title" minLength:"1"`
	Type      string        `json:"type" enum:"residential,strata,commercial"`
	Location  string        `json:"location,omitempty"`
	Budget    *domain.Money `json:"budget,omitempty"`
	StartDate *time.Time    `json:"start_date,omitempty"`
	EndDate   *time.Time    `json:"end_date,omitempty"`
}

type CompleteMilestoneRequest struct {
	CompletedDate   time.Time `json:"completed_date"`
	EvidenceRefs    []string  `json:"evidence_refs,omitempty"`
	InspectorRef    string    `json:"inspector_ref,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	ExpectedVersion *int64    `json:"expected_version,omitempty"`
}

type PhaseTransitionRequest struct {
	Date            *time.Time `json:"date,omitempty"`
	ExpectedVersion *int64     `json:"expected_version,omitempty"`
}

type SubmitApprovalRequest struct {
	SubmittedDate   time.Time            `json:"submitted_date"`
	Documents       []domain.DocumentRef `json:"documents,omitempty"`
	ExpectedVersion *int64               `json:"expected_version,omitempty"`
}

type ApprovalDecisionRequest struct {
	Approved        bool      `json:"approved"`
	DecisionDate    time.Time `json:"decision_date"`
	Feedback        string    `json:"feedback,omitempty"`
	ExpectedVersion *int64    `json:"expected_version,omitempty"`
}

// AppointmentRequest engages a consultant. Discipline is read from the body on
// create and from the path on replacement.
type AppointmentRequest struct {
	Discipline      string        `json:"discipline,omitempty"`
	ConsultantRef   string        `json:"consultant_ref" minLength:"1"`
	ConsultantName  string        `json:"consultant_name,omitempty"`
	ContractValue   *domain.Money `json:"contract_value,omitempty"`
	ContractType    string        `json:"contract_type,omitempty"`
	ApprovalScope   []string      `json:"approval_scope,omitempty"`
	Deliverables    []string      `json:"deliverables,omitempty"`
	AppointedAt     *time.Time    `json:"appointed_at,omitempty"`
	ExpectedVersion *int64        `json:"expected_version,omitempty"`
}

type ContractExecutedRequest struct {
	Executed        bool   `json:"executed"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

type VersionedRequest struct {
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

type BriefRequest struct {
	Distributed     bool   `json:"distributed"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

type ProjectStatusRequest struct {
	Status          string `json:"status" enum:"active,paused,completed,cancelled"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

type MonitoringReportRequest struct {
	Kind    string         `json:"kind" minLength:"1"`
	Summary string         `json:"summary,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Response payloads

type ProjectHeaderResponse struct {
	ID               string               `json:"id"`
	Title            string               `json:"title"`
	Type             domain.ProjectType   `json:"type"`
	Location         string               `json:"location,omitempty"`
	Budget           *domain.Money        `json:"budget,omitempty"`
	Status           domain.ProjectStatus `json:"status"`
	StartDate        *time.Time           `json:"start_date,omitempty"`
	EndDate          *time.Time           `json:"end_date,omitempty"`
	BriefDistributed bool                 `json:"brief_distributed"`
	Version          int64                `json:"version"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

type ProjectListResponse struct {
	Items []ProjectHeaderResponse `json:"items"`
}

type AppointmentListResponse struct {
	Items []domain.Appointment `json:"items"`
}

type MonitoringReportResponse struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	Kind      string         `json:"kind"`
	Summary   string         `json:"summary,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	ActorID   string         `json:"actor_id"`
	TS        time.Time      `json:"ts"`
}

type MonitoringReportListResponse struct {
	Items []MonitoringReportResponse `json:"items"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func projectHeader(p domain.Project) ProjectHeaderResponse {
	return ProjectHeaderResponse{
		ID:               p.ID,
		Title:            p.Title,
		Type:             p.Type,
		Location:         p.Location,
		Budget:           p.Budget,
		Status:           p.Status,
		StartDate:        p.StartDate,
		EndDate:          p.EndDate,
		BriefDistributed: p.BriefDistributed,
		Version:          p.Version,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func reportResponse(r domain.MonitoringReport) MonitoringReportResponse {
	var payload map[string]any
	if r.PayloadJSON != "" {
		_ = json.Unmarshal([]byte(r.PayloadJSON), &payload)
	}
	return MonitoringReportResponse{
		ID:        r.ID,
		ProjectID: r.ProjectID,
		Kind:      r.Kind,
		Summary:   r.Summary,
		Payload:   payload,
		ActorID:   r.ActorID,
		TS:        r.TS,
	}
}

func eventResponse(e domain.Event) EventResponse {
	var payload map[string]any
	if e.Payload != "" {
		_ = json.Unmarshal([]byte(e.Payload), &payload)
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
