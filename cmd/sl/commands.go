package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/repo"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectStatusCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	var projectType, start, end, currency string
	var budget int64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project from the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.StartDate, err = optionalDate(start); err != nil {
				return err
			}
			if opts.EndDate, err = optionalDate(end); err != nil {
				return err
			}
			if cmd.Flags().Changed("budget") {
				opts.Budget = &domain.Money{Amount: budget, Currency: currency}
			}
			opts.Type = domain.ProjectType(projectType)
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("Created project %s (%s): %d phases, %d approvals, disciplines %s\n",
					p.ID, p.Type, len(p.Phases), len(p.Approvals), joinDisciplines(p.Disciplines))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "project title")
	cmd.Flags().StringVar(&projectType, "type", "", "project type (residential, strata, commercial)")
	cmd.Flags().StringVar(&opts.Location, "location", "", "site location")
	cmd.Flags().Int64Var(&budget, "budget", 0, "budget in minor currency units")
	cmd.Flags().StringVar(&currency, "currency", "USD", "budget currency")
	cmd.Flags().StringVar(&start, "start", "", "planned start date")
	cmd.Flags().StringVar(&end, "end", "", "planned end date")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func projectListCmd() *cobra.Command {
	var status, projectType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjects(ctx, repo.ProjectFilter{
					Status: domain.ProjectStatus(status),
					Type:   domain.ProjectType(projectType),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Type", "Status", "Version", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Title, p.Type, p.Status, p.Version, p.CreatedAt.Format("2006-01-02")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&projectType, "type", "", "type filter")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print a project with all of its phases, approvals and appointments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				p, err := e.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
}

func projectStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "status <active|paused|completed|cancelled>",
		Short:     "Pause, resume, complete or cancel the project",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"active", "paused", "completed", "cancelled"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd.Context(), func(ctx context.Context, e engine.Engine, m engine.Meta) (domain.ProjectSummary, error) {
				return e.SetProjectStatus(ctx, engine.StatusCommand{Meta: m, Status: domain.ProjectStatus(args[0])})
			})
		},
	}
}

func summaryCmd() *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show derived progress, readiness and overdue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseDate(asOf)
			if err != nil {
				return err
			}
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				s, err := e.GetProjectSummary(ctx, projectID, at)
				if err != nil {
					return err
				}
				return printSummary(s)
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "evaluate at this date instead of now")
	return cmd
}

// runCommand resolves the project, runs one façade command and prints the
// resulting summary.
func runCommand(ctx context.Context, fn func(context.Context, engine.Engine, engine.Meta) (domain.ProjectSummary, error)) error {
	return withProject(ctx, func(ctx context.Context, e engine.Engine, projectID string) error {
		s, err := fn(ctx, e, meta(projectID))
		if err != nil {
			return err
		}
		return printSummary(s)
	})
}

func milestoneCmd() *cobra.Command {
	c := &cobra.Command{Use: "milestone", Short: "Record milestone progress"}
	var date, inspector, notes string
	var evidence []string
	complete := &cobra.Command{
		Use:   "complete <phase.milestone>",
		Short: "Record a milestone as completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseDate(date)
			if err != nil {
				return err
			}
			if at.IsZero() {
				at = time.Now().UTC()
			}
			return runCommand(cmd.Context(), func(ctx context.Context, e engine.Engine, m engine.Meta) (domain.ProjectSummary, error) {
				return e.RecordMilestoneCompletion(ctx, engine.MilestoneCompletionCommand{
					Meta:          m,
					MilestoneID:   args[0],
					CompletedDate: at,
					EvidenceRefs:  evidence,
					InspectorRef:  inspector,
					Notes:         notes,
				})
			})
		},
	}
	complete.Flags().StringVar(&date, "date", "", "completion date (defaults to today)")
	complete.Flags().StringSliceVar(&evidence, "evidence", nil, "evidence reference (repeatable)")
	complete.Flags().StringVar(&inspector, "inspector", "", "inspector reference")
	complete.Flags().StringVar(&notes, "notes", "", "notes")
	c.AddCommand(complete)
	return c
}

func phaseCmd() *cobra.Command {
	c := &cobra.Command{Use: "phase", Short: "Start or complete phases"}
	for _, action := range []string{"start", "complete"} {
		var date string
		sub := &cobra.Command{
			Use:   action + " <phase-id>",
			Short: strings.ToUpper(action[:1]) + action[1:] + " a phase",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				at, err := parseDate(date)
				if err != nil {
					return err
				}
				return runCommand(cmd.Context(), func(ctx context.Context, e engine.Engine, m engine.Meta) (domain.ProjectSummary, error) {
					pc := engine.PhaseCommand{Meta: m, PhaseID: args[0], Date: at}
					if action == "start" {
						return e.StartPhase(ctx, pc)
					}
					return e.CompletePhase(ctx, pc)
				})
			},
		}
		sub.Flags().StringVar(&date, "date", "", "transition date (defaults to now)")
		c.AddCommand(sub)
	}
	return c
}

func approvalCmd() *cobra.Command {
	c := &cobra.Command{Use: "approval", Short: "Submit and decide regulatory approvals"}

	var submitDate string
	var docs []string
	submit := &cobra.Command{
		Use:   "submit <approval-id>",
		Short: "Submit an approval with its documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseDate(submitDate)
			if err != nil {
				return err
			}
			if at.IsZero() {
				at = time.Now().UTC()
			}
			refs := make([]domain.DocumentRef, 0, len(docs))
			for _, d := range docs {
				name, ref, ok := strings.Cut(d, "=")
				if !ok || name == "" {
					return fmt.Errorf("invalid --doc %q (want name=ref)", d)
				}
				refs = append(refs, domain.DocumentRef{Name: name, Ref: ref})
			}
			return runCommand(cmd.Context(), func(ctx context.Context, e engine.Engine, m engine.Meta) (domain.ProjectSummary, error) {
				return e.SubmitApproval(ctx, engine.SubmitApprovalCommand{Meta: m, ApprovalID: args[0], SubmittedDate: at, Documents: refs})
			})
		},
	}
	submit.Flags().StringVar(&submitDate, "date", "", "submission date (defaults to today)")
	submit.Flags().StringArrayVar(&docs, "doc", nil, "document as name=ref (repeatable)")
	c.AddCommand(submit)

	var decideDate, feedback string
	var reject bool
	decide := &cobra.Command{
		Use:   "decide <approval-id>",
		Short: "Record the authority's decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseDate(decideDate)
			if err != nil {
				return err
			}
			if at.IsZero() {
				at = time.Now().UTC()
			}
			return runCommand(cmd.Context(), func(ctx context.Context, e engine.Engine, m engine.Meta) (domain.ProjectSummary, error) {
				return e.DecideApproval(ctx, engine.DecideApprovalCommand{
					Meta:         m,
					ApprovalID:   args[0],
					Approved:     !reject,
					DecisionDate: at,
					Feedback:     feedback,
				})
			})
		},
	}
	decide.Flags().StringVar(&decideDate, "date", "", "decision date (defaults to today)")
	decide.Flags().BoolVar(&reject, "reject", false, "record a rejection instead of an approval")
	decide.Flags().StringVar(&feedback, "feedback", "", "authority feedback")
	c.AddCommand(decide)
	return c
}

func appointmentCmd() *cobra.Command {
	c := &cobra.Command{Use: "appointment", Aliases: []string{"appoint"}, Short: "Manage discipline appointments"}
	c.AddCommand(engageCmd("add", "Appoint a consultant to an unfilled discipline", false))
	c.AddCommand(engageCmd("replace", "Replace the discipline's current consultant", true))

	var executed bool
	contract := &cobra.Command{
		Use:   "contract <discipline>",
		Short: "Set the contract-executed flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd.Context(), func(ctx context.Context, e engine.Engine, m engine.Meta) (domain.ProjectSummary, error) {
				return e.MarkContractExecuted(ctx, engine.ContractCommand{Meta: m, Discipline: domain.Discipline(args[0]), Executed: executed})
			})
		},
	}
	contract.Flags().BoolVar(&executed, "executed", true, "contract executed")
	c.AddCommand(contract)

	c.AddCommand(&cobra.Command{
		Use:   "complete <discipline>",
		Short: "Complete the discipline's current appointment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd.Context(), func(ctx context.Context, e engine.Engine, m engine.Meta) (domain.ProjectSummary, error) {
				return e.CompleteAppointment(ctx, engine.DisciplineCommand{Meta: m, Discipline: domain.Discipline(args[0])})
			})
		},
	})

	var history bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List appointments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				items, err := e.ListAppointments(ctx, projectID, history)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Discipline", "Consultant", "Status", "Contract", "Appointed", "Supersedes"})
				for _, a := range items {
					consultant := a.ConsultantRef
					if a.ConsultantName != "" {
						consultant = a.ConsultantName + " (" + a.ConsultantRef + ")"
					}
					tw.AppendRow(table.Row{a.Discipline, consultant, a.Status, yesNo(a.ContractExecuted), a.AppointedAt.Format("2006-01-02"), a.SupersedesID})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().BoolVar(&history, "history", false, "include superseded appointments")
	c.AddCommand(list)
	return c
}

func engageCmd(use, short string, replace bool) *cobra.Command {
	var cmdArgs engine.AppointmentCommand
	var date, currency string
	var value int64
	cmd := &cobra.Command{
		Use:   use + " <discipline>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseDate(date)
			if err != nil {
				return err
			}
			cmdArgs.AppointedAt = at
			cmdArgs.Discipline = domain.Discipline(args[0])
			if cmd.Flags().Changed("value") {
				cmdArgs.ContractValue = &domain.Money{Amount: value, Currency: currency}
			}
			return runCommand(cmd.Context(), func(ctx context.Context, e engine.Engine, m engine.Meta) (domain.ProjectSummary, error) {
				cmdArgs.Meta = m
				if replace {
					return e.ReplaceAppointment(ctx, cmdArgs)
				}
				return e.AppointConsultant(ctx, cmdArgs)
			})
		},
	}
	cmd.Flags().StringVar(&cmdArgs.ConsultantRef, "consultant", "", "consultant reference")
	cmd.Flags().StringVar(&cmdArgs.ConsultantName, "name", "", "consultant display name")
	cmd.Flags().Int64Var(&value, "value", 0, "contract value in minor currency units")
	cmd.Flags().StringVar(&currency, "currency", "USD", "contract currency")
	cmd.Flags().StringVar(&cmdArgs.ContractType, "contract-type", "", "contract type")
	cmd.Flags().StringSliceVar(&cmdArgs.ApprovalScope, "scope", nil, "approval ids within the consultant's scope")
	cmd.Flags().StringSliceVar(&cmdArgs.Deliverables, "deliverable", nil, "deliverable (repeatable)")
	cmd.Flags().StringVar(&date, "date", "", "appointment date (defaults to now)")
	_ = cmd.MarkFlagRequired("consultant")
	return cmd
}

func briefCmd() *cobra.Command {
	var distributed bool
	cmd := &cobra.Command{
		Use:   "brief",
		Short: "Record whether the project brief has been distributed to consultants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd.Context(), func(ctx context.Context, e engine.Engine, m engine.Meta) (domain.ProjectSummary, error) {
				return e.SetBriefDistributed(ctx, engine.BriefCommand{Meta: m, Distributed: distributed})
			})
		},
	}
	cmd.Flags().BoolVar(&distributed, "distributed", true, "brief distributed")
	return cmd
}

func reportCmd() *cobra.Command {
	c := &cobra.Command{Use: "report", Short: "Monitoring log"}

	var kind, summary string
	var fields []string
	add := &cobra.Command{
		Use:   "add",
		Short: "Append a monitoring report",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{}
			for _, f := range fields {
				k, v, ok := strings.Cut(f, "=")
				if !ok || k == "" {
					return fmt.Errorf("invalid --field %q (want key=value)", f)
				}
				payload[k] = v
			}
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				rep, err := e.RecordMonitoringReport(ctx, engine.ReportCommand{
					ProjectID: projectID,
					ActorID:   viper.GetString("actor-id"),
					Kind:      kind,
					Summary:   summary,
					Payload:   payload,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				fmt.Printf("Recorded %s report %s\n", rep.Kind, rep.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&kind, "kind", "", "report kind (site-visit, progress, incident, ...)")
	add.Flags().StringVar(&summary, "summary", "", "one-line summary")
	add.Flags().StringArrayVar(&fields, "field", nil, "payload field as key=value (repeatable)")
	_ = add.MarkFlagRequired("kind")
	c.AddCommand(add)

	var filterKind string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List monitoring reports, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				items, err := e.ListMonitoringReports(ctx, projectID, filterKind, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Kind", "Summary", "Actor"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.TS.Format(time.RFC3339), r.Kind, r.Summary, r.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&filterKind, "kind", "", "kind filter")
	list.Flags().IntVarP(&limit, "limit", "n", 20, "number of reports")
	c.AddCommand(list)
	return c
}

func printSummary(s domain.ProjectSummary) error {
	if viper.GetBool("json") {
		return printJSON(s)
	}
	fmt.Printf("Project: %s %q (%s, %s) version %d\n", s.ProjectID, s.Title, s.Type, s.Status, s.Version)
	fmt.Printf("As of %s: overall progress %d%%, ready for approvals: %s\n\n", s.AsOf.Format("2006-01-02"), s.OverallProgress, yesNo(s.ReadyForApprovals))

	phases := table.NewWriter()
	phases.SetOutputMirror(os.Stdout)
	phases.SetTitle("Phases")
	phases.AppendHeader(table.Row{"Phase", "Status", "Progress", "Milestones", "Overdue", "Waiting on", "Projected end"})
	for _, p := range s.Phases {
		phases.AppendRow(table.Row{
			p.ID,
			p.EffectiveStatus,
			fmt.Sprintf("%d%%", p.Progress),
			fmt.Sprintf("%d/%d", p.CompletedMilestones, p.TotalMilestones),
			strings.Join(p.OverdueMilestones, ", "),
			strings.Join(p.BlockingDependencies, ", "),
			formatDate(p.ProjectedEndDate),
		})
	}
	phases.Render()

	approvals := table.NewWriter()
	approvals.SetOutputMirror(os.Stdout)
	approvals.SetTitle("Approvals")
	approvals.AppendHeader(table.Row{"Approval", "Authority", "Status", "Progress", "Projected", "Overdue", "Missing documents"})
	for _, a := range s.Approvals {
		approvals.AppendRow(table.Row{
			a.ID,
			a.Authority,
			a.Status,
			fmt.Sprintf("%d%%", a.Progress),
			formatDate(a.ProjectedDate),
			yesNo(a.Overdue),
			strings.Join(a.MissingDocuments, ", "),
		})
	}
	approvals.Render()

	m := s.AppointmentMatrix
	matrix := table.NewWriter()
	matrix.SetOutputMirror(os.Stdout)
	matrix.SetTitle("Appointments %d/%d (%d%%), brief distributed: %s", m.AppointedCount, m.RequiredCount, m.CompletionPercentage, yesNo(m.BriefDistributed))
	matrix.AppendHeader(table.Row{"Discipline", "Consultant", "Contract executed"})
	for _, slot := range m.Slots {
		consultant := "-"
		if slot.Filled {
			consultant = slot.ConsultantRef
			if slot.ConsultantName != "" {
				consultant = slot.ConsultantName
			}
		}
		matrix.AppendRow(table.Row{slot.Discipline, consultant, yesNo(slot.ContractExecuted)})
	}
	matrix.Render()
	return nil
}

func printEvents(events []domain.Event) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "When", "Type", "Entity", "Actor", "Payload"})
	for _, e := range events {
		entity := e.EntityKind
		if e.EntityID != "" {
			entity += ":" + e.EntityID
		}
		tw.AppendRow(table.Row{e.ID, e.TS, e.Type, entity, e.ActorID, e.Payload})
	}
	tw.Render()
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func joinDisciplines(ds []domain.Discipline) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = string(d)
	}
	return strings.Join(parts, ", ")
}
