package sitelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Siteline HTTP API client bound to one project.
type Client struct {
	BaseURL     string
	ProjectID   string
	ActorID     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Project is the project header.
type Project struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Type             string     `json:"type"`
	Location         string     `json:"location,omitempty"`
	Budget           *Money     `json:"budget,omitempty"`
	Status           string     `json:"status"`
	StartDate        *time.Time `json:"start_date,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty"`
	BriefDistributed bool       `json:"brief_distributed"`
	Version          int64      `json:"version"`
}

type PhaseSummary struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Status               string     `json:"status"`
	EffectiveStatus      string     `json:"effective_status"`
	Progress             int        `json:"progress"`
	Blocked              bool       `json:"blocked"`
	BlockingDependencies []string   `json:"blocking_dependencies"`
	Delayed              bool       `json:"delayed"`
	OverdueMilestones    []string   `json:"overdue_milestones"`
	ProjectedEndDate     *time.Time `json:"projected_end_date,omitempty"`
}

type ApprovalSummary struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Status           string     `json:"status"`
	ProjectedDate    *time.Time `json:"projected_date,omitempty"`
	Progress         int        `json:"progress"`
	Overdue          bool       `json:"overdue"`
	MissingDocuments []string   `json:"missing_documents"`
}

type AppointmentMatrix struct {
	RequiredCount        int  `json:"required_count"`
	AppointedCount       int  `json:"appointed_count"`
	CompletionPercentage int  `json:"completion_percentage"`
	AllContractsExecuted bool `json:"all_contracts_executed"`
	BriefDistributed     bool `json:"brief_distributed"`
	ReadyForApprovals    bool `json:"ready_for_approvals"`
}

// Summary is the derived project view returned by reads and every command.
type Summary struct {
	ProjectID         string            `json:"project_id"`
	Status            string            `json:"status"`
	Version           int64             `json:"version"`
	AsOf              time.Time         `json:"as_of"`
	OverallProgress   int               `json:"overall_progress"`
	Phases            []PhaseSummary    `json:"phases"`
	Approvals         []ApprovalSummary `json:"approvals"`
	AppointmentMatrix AppointmentMatrix `json:"appointment_matrix"`
	ReadyForApprovals bool              `json:"ready_for_approvals"`
}

type Appointment struct {
	ID               string `json:"id"`
	Discipline       string `json:"discipline"`
	ConsultantRef    string `json:"consultant_ref"`
	ConsultantName   string `json:"consultant_name,omitempty"`
	Status           string `json:"status"`
	ContractExecuted bool   `json:"contract_executed"`
	SupersedesID     string `json:"supersedes_id,omitempty"`
}

type Document struct {
	Name string `json:"name"`
	Ref  string `json:"ref"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

type Report struct {
	ID      string         `json:"id"`
	Kind    string         `json:"kind"`
	Summary string         `json:"summary"`
	Payload map[string]any `json:"payload,omitempty"`
	ActorID string         `json:"actor_id"`
	TS      time.Time      `json:"ts"`
}

// APIError wraps non-2xx responses. Code carries the server's error code
// (for example "dependency_unmet") when the body was an error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProjectInput describes a new project. Empty ID lets the server pick one.
type CreateProjectInput struct {
	ID        string     `json:"id,omitempty"`
	Title     string     `json:"title"`
	Type      string     `json:"type"`
	Location  string     `json:"location,omitempty"`
	Budget    *Money     `json:"budget,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// CreateProject creates a project and binds the client to it.
func (c *Client) CreateProject(ctx context.Context, in CreateProjectInput) (Project, error) {
	var resp Project
	if err := c.do(ctx, http.MethodPost, "v0/projects", in, &resp); err != nil {
		return resp, err
	}
	c.ProjectID = resp.ID
	return resp, nil
}

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp struct {
		Items []Project `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/projects", nil, &resp)
	return resp.Items, err
}

// Summary returns the derived summary at asOf; zero asOf means server time.
func (c *Client) Summary(ctx context.Context, asOf time.Time) (Summary, error) {
	endpoint := c.projectPath("summary")
	if !asOf.IsZero() {
		endpoint += "?as_of=" + url.QueryEscape(asOf.UTC().Format(time.RFC3339))
	}
	var resp Summary
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CompleteMilestone records a milestone completion. Milestone ids are
// "<phase>.<milestone>".
func (c *Client) CompleteMilestone(ctx context.Context, milestoneID string, completed time.Time, evidence []string) (Summary, error) {
	body := map[string]any{
		"completed_date": completed.UTC(),
		"evidence_refs":  evidence,
	}
	return c.command(ctx, http.MethodPost, fmt.Sprintf("milestones/%s/complete", url.PathEscape(milestoneID)), body)
}

func (c *Client) StartPhase(ctx context.Context, phaseID string) (Summary, error) {
	return c.command(ctx, http.MethodPost, fmt.Sprintf("phases/%s/start", url.PathEscape(phaseID)), map[string]any{})
}

func (c *Client) CompletePhase(ctx context.Context, phaseID string) (Summary, error) {
	return c.command(ctx, http.MethodPost, fmt.Sprintf("phases/%s/complete", url.PathEscape(phaseID)), map[string]any{})
}

func (c *Client) SubmitApproval(ctx context.Context, approvalID string, submitted time.Time, docs []Document) (Summary, error) {
	body := map[string]any{
		"submitted_date": submitted.UTC(),
		"documents":      docs,
	}
	return c.command(ctx, http.MethodPost, fmt.Sprintf("approvals/%s/submit", url.PathEscape(approvalID)), body)
}

func (c *Client) DecideApproval(ctx context.Context, approvalID string, approved bool, decided time.Time, feedback string) (Summary, error) {
	body := map[string]any{
		"approved":      approved,
		"decision_date": decided.UTC(),
		"feedback":      feedback,
	}
	return c.command(ctx, http.MethodPost, fmt.Sprintf("approvals/%s/decision", url.PathEscape(approvalID)), body)
}

// Appoint fills an empty discipline slot.
func (c *Client) Appoint(ctx context.Context, discipline, consultantRef string, value *Money) (Summary, error) {
	body := map[string]any{
		"discipline":     discipline,
		"consultant_ref": consultantRef,
	}
	if value != nil {
		body["contract_value"] = value
	}
	return c.command(ctx, http.MethodPost, "appointments", body)
}

// Replace supersedes the current appointment for discipline.
func (c *Client) Replace(ctx context.Context, discipline, consultantRef string) (Summary, error) {
	body := map[string]any{"consultant_ref": consultantRef}
	return c.command(ctx, http.MethodPut, fmt.Sprintf("appointments/%s", url.PathEscape(discipline)), body)
}

func (c *Client) MarkContractExecuted(ctx context.Context, discipline string, executed bool) (Summary, error) {
	body := map[string]any{"executed": executed}
	return c.command(ctx, http.MethodPost, fmt.Sprintf("appointments/%s/contract-executed", url.PathEscape(discipline)), body)
}

func (c *Client) Appointments(ctx context.Context, includeHistory bool) ([]Appointment, error) {
	endpoint := c.projectPath("appointments")
	if includeHistory {
		endpoint += "?include_history=true"
	}
	var resp struct {
		Items []Appointment `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) SetBriefDistributed(ctx context.Context, distributed bool) (Summary, error) {
	return c.command(ctx, http.MethodPut, "brief", map[string]any{"distributed": distributed})
}

func (c *Client) SetStatus(ctx context.Context, status string) (Summary, error) {
	return c.command(ctx, http.MethodPut, "status", map[string]any{"status": status})
}

// AddReport appends to the project's monitoring log.
func (c *Client) AddReport(ctx context.Context, kind, summary string, payload map[string]any) (Report, error) {
	body := map[string]any{
		"kind":    kind,
		"summary": summary,
		"payload": payload,
	}
	var resp Report
	err := c.do(ctx, http.MethodPost, c.projectPath("reports"), body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.projectPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) command(ctx context.Context, method, p string, body any) (Summary, error) {
	var resp Summary
	err := c.do(ctx, method, c.projectPath(p), body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
