package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"siteline/internal/config"
	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/repo"
)

type summaryOutput struct {
	Body domain.ProjectSummary `json:"body"`
}

var commandErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

// meta builds the command envelope shared by every project mutation.
func meta(ctx context.Context, projectID string, expected *int64) (engine.Meta, huma.StatusError) {
	actorID, err := actorIDFromContext(ctx)
	if err != nil {
		return engine.Meta{}, err
	}
	return engine.Meta{ProjectID: projectID, ActorID: actorID, ExpectedVersion: expected}, nil
}

func summaryResult(s domain.ProjectSummary, err error) (*summaryOutput, error) {
	if err != nil {
		return nil, handleError(err)
	}
	return &summaryOutput{Body: s}, nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerCatalog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-catalog",
		Method:      http.MethodGet,
		Path:        "/catalog",
		Summary:     "Catalog used for new projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body *config.Config `json:"body"`
	}, error) {
		if e.Config == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "catalog not loaded", nil)
		}
		return &struct {
			Body *config.Config `json:"body"`
		}{Body: e.Config}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project-catalog",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/catalog",
		Summary:     "Catalog snapshot a project was created from",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body *config.Config `json:"body"`
	}, error) {
		cfg, err := e.ProjectCatalog(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *config.Config `json:"body"`
		}{Body: cfg}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project from the catalog",
		DefaultStatus: http.StatusCreated,
		Errors:        commandErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			ID:        input.Body.ID,
			Title:     input.Body.Title,
			Type:      domain.ProjectType(input.Body.Type),
			Location:  input.Body.Location,
			Budget:    input.Body.Budget,
			StartDate: input.Body.StartDate,
			EndDate:   input.Body.EndDate,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"active,paused,completed,cancelled"`
		Type   string `query:"type" enum:"residential,strata,commercial"`
	}) (*struct {
		Body ProjectListResponse `json:"body"`
	}, error) {
		items, err := e.ListProjects(ctx, repo.ProjectFilter{
			Status: domain.ProjectStatus(input.Status),
			Type:   domain.ProjectType(input.Type),
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := ProjectListResponse{Items: []ProjectHeaderResponse{}}
		for _, p := range items {
			resp.Items = append(resp.Items, projectHeader(p))
		}
		return &struct {
			Body ProjectListResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project with its phases, approvals and appointments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project-summary",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/summary",
		Summary:     "Derived progress summary",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		AsOf      string `query:"as_of" doc:"RFC3339 instant; defaults to now"`
	}) (*summaryOutput, error) {
		var asOf time.Time
		if input.AsOf != "" {
			parsed, err := time.Parse(time.RFC3339, input.AsOf)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, string(domain.CodeValidation), "invalid as_of", map[string]any{"as_of": input.AsOf})
			}
			asOf = parsed
		}
		return summaryResult(e.GetProjectSummary(ctx, input.ProjectID, asOf))
	})
}

func registerMilestones(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "complete-milestone",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/milestones/{milestone_id}/complete",
		Summary:     "Record milestone completion",
		Errors:      commandErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID   string                   `path:"project_id"`
		MilestoneID string                   `path:"milestone_id"`
		Body        CompleteMilestoneRequest `json:"body"`
	}) (*summaryOutput, error) {
		m, authErr := meta(ctx, input.ProjectID, input.Body.ExpectedVersion)
		if authErr != nil {
			return nil, authErr
		}
		return summaryResult(e.RecordMilestoneCompletion(ctx, engine.MilestoneCompletionCommand{
			Meta:          m,
			MilestoneID:   input.MilestoneID,
			CompletedDate: input.Body.CompletedDate,
			EvidenceRefs:  input.Body.EvidenceRefs,
			InspectorRef:  input.Body.InspectorRef,
			Notes:         input.Body.Notes,
		}))
	})
}

type phaseInput struct {
	ProjectID string                  `path:"project_id"`
	PhaseID   string                  `path:"phase_id"`
	Body      *PhaseTransitionRequest `json:"body" required:"false"`
}

func (in *phaseInput) command(ctx context.Context) (engine.PhaseCommand, huma.StatusError) {
	body := in.Body
	if body == nil {
		body = &PhaseTransitionRequest{}
	}
	m, err := meta(ctx, in.ProjectID, body.ExpectedVersion)
	if err != nil {
		return engine.PhaseCommand{}, err
	}
	return engine.PhaseCommand{Meta: m, PhaseID: in.PhaseID, Date: derefTime(body.Date)}, nil
}

func registerPhases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "start-phase",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/phases/{phase_id}/start",
		Summary:     "Start phase",
		Errors:      commandErrors,
	}, func(ctx context.Context, input *phaseInput) (*summaryOutput, error) {
		cmd, authErr := input.command(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return summaryResult(e.StartPhase(ctx, cmd))
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-phase",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/phases/{phase_id}/complete",
		Summary:     "Complete phase",
		Errors:      commandErrors,
	}, func(ctx context.Context, input *phaseInput) (*summaryOutput, error) {
		cmd, authErr := input.command(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return summaryResult(e.CompletePhase(ctx, cmd))
	})
}

func registerApprovals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-approval",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/approvals/{approval_id}/submit",
		Summary:     "Submit approval with documents",
		Errors:      commandErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID  string                `path:"project_id"`
		ApprovalID string                `path:"approval_id"`
		Body       SubmitApprovalRequest `json:"body"`
	}) (*summaryOutput, error) {
		m, authErr := meta(ctx, input.ProjectID, input.Body.ExpectedVersion)
		if authErr != nil {
			return nil, authErr
		}
		return summaryResult(e.SubmitApproval(ctx, engine.SubmitApprovalCommand{
			Meta:          m,
			ApprovalID:    input.ApprovalID,
			SubmittedDate: input.Body.SubmittedDate,
			Documents:     input.Body.Documents,
		}))
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-approval",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/approvals/{approval_id}/decision",
		Summary:     "Approve or reject a pending approval",
		Errors:      commandErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID  string                  `path:"project_id"`
		ApprovalID string                  `path:"approval_id"`
		Body       ApprovalDecisionRequest `json:"body"`
	}) (*summaryOutput, error) {
		m, authErr := meta(ctx, input.ProjectID, input.Body.ExpectedVersion)
		if authErr != nil {
			return nil, authErr
		}
		return summaryResult(e.DecideApproval(ctx, engine.DecideApprovalCommand{
			Meta:         m,
			ApprovalID:   input.ApprovalID,
			Approved:     input.Body.Approved,
			DecisionDate: input.Body.DecisionDate,
			Feedback:     input.Body.Feedback,
		}))
	})
}

func appointmentCommand(m engine.Meta, discipline string, body AppointmentRequest) engine.AppointmentCommand {
	return engine.AppointmentCommand{
		Meta:           m,
		Discipline:     domain.Discipline(discipline),
		ConsultantRef:  body.ConsultantRef,
		ConsultantName: body.ConsultantName,
		ContractValue:  body.ContractValue,
		ContractType:   body.ContractType,
		ApprovalScope:  body.ApprovalScope,
		Deliverables:   body.Deliverables,
		AppointedAt:    derefTime(body.AppointedAt),
	}
}

func registerAppointments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "appoint-consultant",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/appointments",
		Summary:     "Appoint consultant to an unfilled discipline",
		Errors:      commandErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      AppointmentRequest `json:"body"`
	}) (*summaryOutput, error) {
		m, authErr := meta(ctx, input.ProjectID, input.Body.ExpectedVersion)
		if authErr != nil {
			return nil, authErr
		}
		return summaryResult(e.AppointConsultant(ctx, appointmentCommand(m, input.Body.Discipline, input.Body)))
	})

	huma.Register(api, huma.Operation{
		OperationID: "replace-appointment",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/appointments/{discipline}",
		Summary:     "Replace the current appointment for a discipline",
		Errors:      commandErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID  string             `path:"project_id"`
		Discipline string             `path:"discipline"`
		Body       AppointmentRequest `json:"body"`
	}) (*summaryOutput, error) {
		m, authErr := meta(ctx, input.ProjectID, input.Body.ExpectedVersion)
		if authErr != nil {
			return nil, authErr
		}
		return summaryResult(e.ReplaceAppointment(ctx, appointmentCommand(m, input.Discipline, input.Body)))
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-contract-executed",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/appointments/{discipline}/contract-executed",
		Summary:     "Set the contract-executed flag",
		Errors:      commandErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID  string                  `path:"project_id"`
		Discipline string                  `path:"discipline"`
		Body       ContractExecutedRequest `json:"body"`
	}) (*summaryOutput, error) {
		m, authErr := meta(ctx, input.ProjectID, input.Body.ExpectedVersion)
		if authErr != nil {
			return nil, authErr
		}
		return summaryResult(e.MarkContractExecuted(ctx, engine.ContractCommand{
			Meta:       m,
			Discipline: domain.Discipline(input.Discipline),
			Executed:   input.Body.Executed,
		}))
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-appointment",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/appointments/{discipline}/complete",
		Summary:     "Complete the current appointment",
		Errors:      commandErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID  string            `path:"project_id"`
		Discipline string            `path:"discipline"`
		Body       *VersionedRequest `json:"body" required:"false"`
	}) (*summaryOutput, error) {
		var expected *int64
		if input.Body != nil {
			expected = input.Body.ExpectedVersion
		}
		m, authErr := meta(ctx, input.ProjectID, expected)
		if authErr != nil {
			return nil, authErr
		}
		return summaryResult(e.CompleteAppointment(ctx, engine.DisciplineCommand{
			Meta:       m,
			Discipline: domain.Discipline(input.Discipline),
		}))
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-appointments",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/appointments",
		Summary:     "List appointments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID      string `path:"project_id"`
		IncludeHistory bool   `query:"include_history" doc:"include superseded appointments"`
	}) (*struct {
		Body AppointmentListResponse `json:"body"`
	}, error) {
		items, err := e.ListAppointments(ctx, input.ProjectID, input.IncludeHistory)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AppointmentListResponse `json:"body"`
		}{Body: AppointmentListResponse{Items: items}}, nil
	})
}

func registerProjectFlags(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "set-brief-distributed",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/brief",
		Summary:     "Set the brief-distributed flag",
		Errors:      commandErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string       `path:"project_id"`
		Body      BriefRequest `json:"body"`
	}) (*summaryOutput, error) {
		m, authErr := meta(ctx, input.ProjectID, input.Body.ExpectedVersion)
		if authErr != nil {
			return nil, authErr
		}
		return summaryResult(e.SetBriefDistributed(ctx, engine.BriefCommand{Meta: m, Distributed: input.Body.Distributed}))
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-project-status",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/status",
		Summary:     "Pause, resume, complete or cancel a project",
		Errors:      commandErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      ProjectStatusRequest `json:"body"`
	}) (*summaryOutput, error) {
		m, authErr := meta(ctx, input.ProjectID, input.Body.ExpectedVersion)
		if authErr != nil {
			return nil, authErr
		}
		return summaryResult(e.SetProjectStatus(ctx, engine.StatusCommand{Meta: m, Status: domain.ProjectStatus(input.Body.Status)}))
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-monitoring-report",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/reports",
		Summary:       "Append to the monitoring log",
		DefaultStatus: http.StatusCreated,
		Errors:        commandErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string                  `path:"project_id"`
		Body      MonitoringReportRequest `json:"body"`
	}) (*struct {
		Body MonitoringReportResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rep, err := e.RecordMonitoringReport(ctx, engine.ReportCommand{
			ProjectID: input.ProjectID,
			ActorID:   actorID,
			Kind:      input.Body.Kind,
			Summary:   input.Body.Summary,
			Payload:   input.Body.Payload,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MonitoringReportResponse `json:"body"`
		}{Body: reportResponse(rep)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-monitoring-reports",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/reports",
		Summary:     "List monitoring reports, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Kind      string `query:"kind"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body MonitoringReportListResponse `json:"body"`
	}, error) {
		items, err := e.ListMonitoringReports(ctx, input.ProjectID, input.Kind, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		resp := MonitoringReportListResponse{Items: []MonitoringReportResponse{}}
		for _, r := range items {
			resp.Items = append(resp.Items, reportResponse(r))
		}
		return &struct {
			Body MonitoringReportListResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"project,phase,milestone,approval,appointment,monitoring_report"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ListEvents(ctx, repo.EventFilter{
			ProjectID:  input.ProjectID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}
