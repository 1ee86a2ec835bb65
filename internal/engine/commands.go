package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"siteline/internal/domain"
	"siteline/internal/events"
	"siteline/internal/lifecycle"
)

// ProjectCreateOptions are parameters for creating a project from the catalog.
type ProjectCreateOptions struct {
	ID        string
	Title     string             `validate:"required"`
	Type      domain.ProjectType `validate:"required"`
	Location  string
	Budget    *domain.Money
	StartDate *time.Time
	EndDate   *time.Time
	ActorID   string `validate:"required"`
}

// CreateProject instantiates a project from the engine's catalog and stores a
// snapshot of that catalog alongside it.
func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	log := e.log().WithFields(logrus.Fields{"command": "create project", "actor_id": opts.ActorID})
	p, err := e.createProject(ctx, opts)
	if err != nil {
		log.WithField("code", domain.CodeOf(err)).WithError(err).Warn("command rejected")
		return domain.Project{}, err
	}
	log.WithField("project_id", p.ID).Info("project created")
	return p, nil
}

func (e Engine) createProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if e.Config == nil {
		return domain.Project{}, errors.New("catalog not loaded")
	}
	if err := e.check(opts); err != nil {
		return domain.Project{}, err
	}
	if opts.Budget != nil && opts.Budget.Amount < 0 {
		return domain.Project{}, domain.ValidationError{Field: "budget", Reason: "negative amount"}
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	now := e.now()
	p, err := lifecycle.Instantiate(e.Config, lifecycle.Plan{
		ID:        opts.ID,
		Title:     opts.Title,
		Type:      opts.Type,
		Location:  opts.Location,
		Budget:    opts.Budget,
		StartDate: opts.StartDate,
		EndDate:   opts.EndDate,
		CreatedAt: now,
	})
	if err != nil {
		return domain.Project{}, err
	}

	locks := e.locks
	if locks == nil {
		locks = sharedLocks
	}
	unlock, err := locks.acquire(ctx, p.ID)
	if err != nil {
		return domain.Project{}, err
	}
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetProjectTx(ctx, tx, p.ID); err == nil {
		return domain.Project{}, domain.ValidationError{Field: "id", Reason: "project " + p.ID + " already exists"}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Project{}, err
	}
	if err := e.Repo.InsertProject(ctx, tx, &p); err != nil {
		return domain.Project{}, err
	}
	if err := e.Repo.InsertCatalogSnapshot(ctx, tx, p.ID, e.Config, now); err != nil {
		return domain.Project{}, fmt.Errorf("store catalog snapshot: %w", err)
	}
	if err := e.writer(now).Append(ctx, tx, events.Record{
		Type:       events.ProjectCreated,
		ProjectID:  p.ID,
		EntityKind: "project",
		EntityID:   p.ID,
		ActorID:    opts.ActorID,
		Payload: events.Payload{
			"type":        p.Type,
			"title":       p.Title,
			"disciplines": p.Disciplines,
			"phases":      len(p.Phases),
			"approvals":   len(p.Approvals),
			"version":     p.Version,
		},
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// MilestoneCompletionCommand records a milestone as completed.
type MilestoneCompletionCommand struct {
	Meta
	MilestoneID   string `validate:"required"`
	CompletedDate time.Time
	EvidenceRefs  []string
	InspectorRef  string
	Notes         string
}

func (e Engine) RecordMilestoneCompletion(ctx context.Context, cmd MilestoneCompletionCommand) (domain.ProjectSummary, error) {
	if err := e.check(cmd); err != nil {
		return domain.ProjectSummary{}, err
	}
	return e.mutate(ctx, cmd.Meta, mutateOpts{command: "complete milestone"}, func(p *domain.Project, _ time.Time) (change, error) {
		phase, err := lifecycle.CompleteMilestone(p, lifecycle.MilestoneCompletion{
			MilestoneID:   cmd.MilestoneID,
			CompletedDate: cmd.CompletedDate,
			EvidenceRefs:  cmd.EvidenceRefs,
			InspectorRef:  cmd.InspectorRef,
			Notes:         cmd.Notes,
		})
		if err != nil {
			return change{}, err
		}
		return change{
			Type:       events.MilestoneCompleted,
			EntityKind: "milestone",
			EntityID:   cmd.MilestoneID,
			Payload: events.Payload{
				"phase_id":       phase.ID,
				"completed_date": cmd.CompletedDate.UTC(),
				"evidence_refs":  cmd.EvidenceRefs,
				"phase_progress": phase.Progress,
				"phase_status":   phase.Status,
			},
		}, nil
	})
}

// PhaseCommand starts or completes a phase. A zero Date means "now".
type PhaseCommand struct {
	Meta
	PhaseID string `validate:"required"`
	Date    time.Time
}

func (e Engine) StartPhase(ctx context.Context, cmd PhaseCommand) (domain.ProjectSummary, error) {
	if err := e.check(cmd); err != nil {
		return domain.ProjectSummary{}, err
	}
	return e.mutate(ctx, cmd.Meta, mutateOpts{command: "start phase"}, func(p *domain.Project, now time.Time) (change, error) {
		phase, err := lifecycle.StartPhase(p, cmd.PhaseID, orNow(cmd.Date, now))
		if err != nil {
			return change{}, err
		}
		return change{Type: events.PhaseStarted, EntityKind: "phase", EntityID: phase.ID,
			Payload: events.Payload{"start_date": phase.StartDate}}, nil
	})
}

func (e Engine) CompletePhase(ctx context.Context, cmd PhaseCommand) (domain.ProjectSummary, error) {
	if err := e.check(cmd); err != nil {
		return domain.ProjectSummary{}, err
	}
	return e.mutate(ctx, cmd.Meta, mutateOpts{command: "complete phase"}, func(p *domain.Project, now time.Time) (change, error) {
		phase, err := lifecycle.CompletePhase(p, cmd.PhaseID, orNow(cmd.Date, now))
		if err != nil {
			return change{}, err
		}
		return change{Type: events.PhaseCompleted, EntityKind: "phase", EntityID: phase.ID,
			Payload: events.Payload{"end_date": phase.EndDate}}, nil
	})
}

// SubmitApprovalCommand submits (or resubmits) an approval with its documents.
type SubmitApprovalCommand struct {
	Meta
	ApprovalID    string `validate:"required"`
	SubmittedDate time.Time
	Documents     []domain.DocumentRef
}

func (e Engine) SubmitApproval(ctx context.Context, cmd SubmitApprovalCommand) (domain.ProjectSummary, error) {
	if err := e.check(cmd); err != nil {
		return domain.ProjectSummary{}, err
	}
	if e.Documents != nil {
		for _, d := range cmd.Documents {
			if d.Ref == "" {
				continue
			}
			if err := e.Documents.ResolveDocument(ctx, d.Ref); err != nil {
				return domain.ProjectSummary{}, domain.ValidationError{Field: "documents", Reason: fmt.Sprintf("document %s (%s) unresolved: %v", d.Name, d.Ref, err)}
			}
		}
	}
	return e.mutate(ctx, cmd.Meta, mutateOpts{command: "submit approval"}, func(p *domain.Project, _ time.Time) (change, error) {
		a, err := lifecycle.SubmitApproval(p, cmd.ApprovalID, cmd.SubmittedDate, cmd.Documents)
		if err != nil {
			return change{}, err
		}
		return change{Type: events.ApprovalSubmitted, EntityKind: "approval", EntityID: a.ID,
			Payload: events.Payload{"submitted_date": a.SubmittedDate, "documents": a.Documents, "submissions": a.Submissions}}, nil
	})
}

// DecideApprovalCommand approves or rejects a pending approval.
type DecideApprovalCommand struct {
	Meta
	ApprovalID   string `validate:"required"`
	Approved     bool
	DecisionDate time.Time
	Feedback     string
}

func (e Engine) DecideApproval(ctx context.Context, cmd DecideApprovalCommand) (domain.ProjectSummary, error) {
	if err := e.check(cmd); err != nil {
		return domain.ProjectSummary{}, err
	}
	return e.mutate(ctx, cmd.Meta, mutateOpts{command: "decide approval"}, func(p *domain.Project, _ time.Time) (change, error) {
		a, err := lifecycle.DecideApproval(p, cmd.ApprovalID, cmd.Approved, cmd.DecisionDate, cmd.Feedback)
		if err != nil {
			return change{}, err
		}
		typ := events.ApprovalRejected
		if cmd.Approved {
			typ = events.ApprovalApproved
		}
		return change{Type: typ, EntityKind: "approval", EntityID: a.ID,
			Payload: events.Payload{"decision_date": cmd.DecisionDate.UTC(), "feedback": cmd.Feedback}}, nil
	})
}

// AppointmentCommand binds a consultant to a discipline. AppointedAt defaults
// to now.
type AppointmentCommand struct {
	Meta
	Discipline     domain.Discipline `validate:"required"`
	ConsultantRef  string            `validate:"required"`
	ConsultantName string
	ContractValue  *domain.Money
	ContractType   string
	ApprovalScope  []string
	Deliverables   []string
	AppointedAt    time.Time
}

func (e Engine) AppointConsultant(ctx context.Context, cmd AppointmentCommand) (domain.ProjectSummary, error) {
	return e.engage(ctx, cmd, false)
}

// ReplaceAppointment supersedes the discipline's current appointment. The
// prior appointment is kept as history.
func (e Engine) ReplaceAppointment(ctx context.Context, cmd AppointmentCommand) (domain.ProjectSummary, error) {
	return e.engage(ctx, cmd, true)
}

func (e Engine) engage(ctx context.Context, cmd AppointmentCommand, replace bool) (domain.ProjectSummary, error) {
	if err := e.check(cmd); err != nil {
		return domain.ProjectSummary{}, err
	}
	if cmd.ContractValue != nil && cmd.ContractValue.Amount < 0 {
		return domain.ProjectSummary{}, domain.ValidationError{Field: "contract_value", Reason: "negative amount"}
	}
	if e.Directory != nil {
		c, err := e.Directory.LookupConsultant(ctx, cmd.ConsultantRef)
		if err != nil {
			return domain.ProjectSummary{}, domain.ValidationError{Field: "consultant_ref", Reason: err.Error()}
		}
		if cmd.ConsultantName == "" {
			cmd.ConsultantName = c.Name
		}
	}
	command := "appoint consultant"
	if replace {
		command = "replace appointment"
	}
	return e.mutate(ctx, cmd.Meta, mutateOpts{command: command}, func(p *domain.Project, now time.Time) (change, error) {
		eng := lifecycle.Engagement{
			ID:             uuid.NewString(),
			Discipline:     cmd.Discipline,
			ConsultantRef:  cmd.ConsultantRef,
			ConsultantName: cmd.ConsultantName,
			ContractValue:  cmd.ContractValue,
			ContractType:   cmd.ContractType,
			ApprovalScope:  cmd.ApprovalScope,
			Deliverables:   cmd.Deliverables,
			AppointedAt:    orNow(cmd.AppointedAt, now),
		}
		if !replace {
			a, err := lifecycle.Appoint(p, eng)
			if err != nil {
				return change{}, err
			}
			return change{Type: events.AppointmentCreated, EntityKind: "appointment", EntityID: a.ID,
				Payload: events.Payload{"discipline": a.Discipline, "consultant_ref": a.ConsultantRef}}, nil
		}
		a, err := lifecycle.Replace(p, eng)
		if err != nil {
			return change{}, err
		}
		return change{Type: events.AppointmentReplaced, EntityKind: "appointment", EntityID: a.ID,
			Payload: events.Payload{"discipline": a.Discipline, "consultant_ref": a.ConsultantRef, "supersedes_id": a.SupersedesID}}, nil
	})
}

// ContractCommand records the external contract-execution signal.
type ContractCommand struct {
	Meta
	Discipline domain.Discipline `validate:"required"`
	Executed   bool
}

func (e Engine) MarkContractExecuted(ctx context.Context, cmd ContractCommand) (domain.ProjectSummary, error) {
	if err := e.check(cmd); err != nil {
		return domain.ProjectSummary{}, err
	}
	return e.mutate(ctx, cmd.Meta, mutateOpts{command: "mark contract executed"}, func(p *domain.Project, _ time.Time) (change, error) {
		a, err := lifecycle.SetContractExecuted(p, cmd.Discipline, cmd.Executed)
		if err != nil {
			return change{}, err
		}
		return change{Type: events.AppointmentContractSet, EntityKind: "appointment", EntityID: a.ID,
			Payload: events.Payload{"discipline": a.Discipline, "executed": cmd.Executed, "status": a.Status}}, nil
	})
}

// DisciplineCommand addresses the current appointment of one discipline.
type DisciplineCommand struct {
	Meta
	Discipline domain.Discipline `validate:"required"`
}

func (e Engine) CompleteAppointment(ctx context.Context, cmd DisciplineCommand) (domain.ProjectSummary, error) {
	if err := e.check(cmd); err != nil {
		return domain.ProjectSummary{}, err
	}
	return e.mutate(ctx, cmd.Meta, mutateOpts{command: "complete appointment"}, func(p *domain.Project, _ time.Time) (change, error) {
		a, err := lifecycle.CompleteAppointment(p, cmd.Discipline)
		if err != nil {
			return change{}, err
		}
		return change{Type: events.AppointmentCompleted, EntityKind: "appointment", EntityID: a.ID,
			Payload: events.Payload{"discipline": a.Discipline}}, nil
	})
}

// BriefCommand sets the brief-distributed flag.
type BriefCommand struct {
	Meta
	Distributed bool
}

func (e Engine) SetBriefDistributed(ctx context.Context, cmd BriefCommand) (domain.ProjectSummary, error) {
	if err := e.check(cmd); err != nil {
		return domain.ProjectSummary{}, err
	}
	return e.mutate(ctx, cmd.Meta, mutateOpts{command: "set brief distributed"}, func(p *domain.Project, _ time.Time) (change, error) {
		p.BriefDistributed = cmd.Distributed
		return change{Type: events.BriefDistributionSet, EntityKind: "project", EntityID: p.ID,
			Payload: events.Payload{"distributed": cmd.Distributed}}, nil
	})
}

// StatusCommand moves the project between active, paused and its terminal states.
type StatusCommand struct {
	Meta
	Status domain.ProjectStatus `validate:"required,oneof=active paused completed cancelled"`
}

func (e Engine) SetProjectStatus(ctx context.Context, cmd StatusCommand) (domain.ProjectSummary, error) {
	if err := e.check(cmd); err != nil {
		return domain.ProjectSummary{}, err
	}
	return e.mutate(ctx, cmd.Meta, mutateOpts{command: "set project status", allowInactive: true}, func(p *domain.Project, _ time.Time) (change, error) {
		from := p.Status
		if err := lifecycle.SetProjectStatus(p, cmd.Status); err != nil {
			return change{}, err
		}
		return change{Type: events.ProjectStatusChanged, EntityKind: "project", EntityID: p.ID,
			Payload: events.Payload{"from": from, "to": p.Status}}, nil
	})
}

// ReportCommand appends a record to the project's monitoring log.
type ReportCommand struct {
	ProjectID string `validate:"required"`
	ActorID   string `validate:"required"`
	Kind      string `validate:"required"`
	Summary   string
	Payload   map[string]any
}

// RecordMonitoringReport appends to the monitoring log. Reports do not change
// project state, so the project version is left alone.
func (e Engine) RecordMonitoringReport(ctx context.Context, cmd ReportCommand) (domain.MonitoringReport, error) {
	if err := e.check(cmd); err != nil {
		return domain.MonitoringReport{}, err
	}
	payload := "{}"
	if cmd.Payload != nil {
		data, err := json.Marshal(cmd.Payload)
		if err != nil {
			return domain.MonitoringReport{}, domain.ValidationError{Field: "payload", Reason: err.Error()}
		}
		payload = string(data)
	}
	now := e.now()
	rep := domain.MonitoringReport{
		ID:          uuid.NewString(),
		ProjectID:   cmd.ProjectID,
		Kind:        cmd.Kind,
		Summary:     cmd.Summary,
		PayloadJSON: payload,
		ActorID:     cmd.ActorID,
		TS:          now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.MonitoringReport{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetProjectTx(ctx, tx, cmd.ProjectID); err != nil {
		return domain.MonitoringReport{}, err
	}
	if err := e.Repo.InsertMonitoringReportTx(ctx, tx, rep); err != nil {
		return domain.MonitoringReport{}, fmt.Errorf("insert report: %w", err)
	}
	if err := e.writer(now).Append(ctx, tx, events.Record{
		Type:       events.ReportRecorded,
		ProjectID:  rep.ProjectID,
		EntityKind: "monitoring_report",
		EntityID:   rep.ID,
		ActorID:    rep.ActorID,
		Payload:    events.Payload{"kind": rep.Kind},
	}); err != nil {
		return domain.MonitoringReport{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.MonitoringReport{}, err
	}
	e.log().WithFields(logrus.Fields{"project_id": rep.ProjectID, "kind": rep.Kind}).Info("monitoring report recorded")
	return rep, nil
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}
