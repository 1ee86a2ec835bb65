package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/migrate"
	"siteline/internal/repo"
)

const testCatalog = `disciplines:
  architect: {description: Architect}
  civil-structural: {description: Civil and structural engineer}
phases:
  - id: earthworks
    name: Earthworks
    estimated_days: 30
    milestones:
      - {id: clear, name: Site clearance, due_offset_days: 5}
      - {id: dig, name: Excavation, due_offset_days: 10}
      - {id: compact, name: Compaction, due_offset_days: 20}
  - id: superstructure
    name: Superstructure
    estimated_days: 60
    depends_on: [earthworks]
    milestones:
      - {id: frame, name: Frame, due_offset_days: 50}
      - {id: roof, name: Roof, due_offset_days: 80}
approvals:
  - id: development-order
    name: Development Order
    authority: Planning Authority
    estimated_days: 40
    required_documents: [site-plan]
project_types:
  residential:
    disciplines: [architect, civil-structural]
    phases: [earthworks, superstructure]
    approvals: [development-order]
`

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time { return epoch.AddDate(0, 0, n) }

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg, err := config.FromYAML([]byte(testCatalog))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return epoch }
	if _, err := eng.CreateProject(ctx, engine.ProjectCreateOptions{
		ID:      "proj-1",
		Title:   "Riverside Villas",
		Type:    domain.ProjectResidential,
		ActorID: "tester",
	}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func meta() engine.Meta {
	return engine.Meta{ProjectID: "proj-1", ActorID: "tester"}
}

func completeMilestone(env testEnv, id string, at time.Time) (domain.ProjectSummary, error) {
	return env.Engine.RecordMilestoneCompletion(env.Ctx, engine.MilestoneCompletionCommand{
		Meta:          meta(),
		MilestoneID:   id,
		CompletedDate: at,
		EvidenceRefs:  []string{"photo-" + id},
	})
}

func TestCreateProjectInstantiatesCatalog(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.GetProject(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if p.Version != 1 || p.Status != domain.ProjectActive {
		t.Fatalf("unexpected project header: version=%d status=%s", p.Version, p.Status)
	}
	if len(p.Phases) != 2 || len(p.Phases[0].Milestones) != 3 || len(p.Phases[1].DependsOn) != 1 {
		t.Fatalf("unexpected phases: %+v", p.Phases)
	}
	if len(p.Disciplines) != 2 || len(p.Approvals) != 1 {
		t.Fatalf("unexpected catalog instantiation: %+v %+v", p.Disciplines, p.Approvals)
	}
	snap, err := env.Engine.ProjectCatalog(env.Ctx, "proj-1")
	if err != nil || len(snap.Phases) != 2 {
		t.Fatalf("catalog snapshot: %v", err)
	}

	_, err = env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{ID: "proj-1", Title: "dup", Type: domain.ProjectResidential, ActorID: "tester"})
	if domain.CodeOf(err) != domain.CodeValidation {
		t.Fatalf("expected duplicate id validation error, got %v", err)
	}
	_, err = env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Title: "no type", ActorID: "tester"})
	var verr domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "type" {
		t.Fatalf("expected type validation error, got %v", err)
	}
	_, err = env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Title: "x", Type: domain.ProjectCommercial, ActorID: "tester"})
	if domain.CodeOf(err) != domain.CodeValidation {
		t.Fatalf("expected unknown type rejection, got %v", err)
	}
}

func TestScenario(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.AppointConsultant(env.Ctx, engine.AppointmentCommand{
		Meta: meta(), Discipline: "architect", ConsultantRef: "consultant-7", AppointedAt: day(1),
	})
	if err != nil {
		t.Fatalf("appoint architect: %v", err)
	}
	if s.AppointmentMatrix.CompletionPercentage != 50 || s.ReadyForApprovals {
		t.Fatalf("unexpected matrix: %+v", s.AppointmentMatrix)
	}
	for i, id := range []string{"earthworks.clear", "earthworks.dig", "earthworks.compact"} {
		if s, err = completeMilestone(env, id, day(i+2)); err != nil {
			t.Fatalf("complete %s: %v", id, err)
		}
	}
	if s.Phases[0].Progress != 100 || s.Phases[0].Status != domain.PhaseCompleted {
		t.Fatalf("earthworks not completed: %+v", s.Phases[0])
	}
	s, err = completeMilestone(env, "superstructure.frame", day(10))
	if err != nil {
		t.Fatalf("superstructure milestone: %v", err)
	}
	if s.ReadyForApprovals {
		t.Fatalf("readiness must stay false with civil-structural unfilled")
	}
	if s.OverallProgress != 75 {
		t.Fatalf("expected overall 75, got %d", s.OverallProgress)
	}
	_, err = env.Engine.SubmitApproval(env.Ctx, engine.SubmitApprovalCommand{
		Meta: meta(), ApprovalID: "development-order", SubmittedDate: day(10),
	})
	var md domain.MissingDocumentsError
	if !errors.As(err, &md) || len(md.Missing) != 1 || md.Missing[0] != "site-plan" {
		t.Fatalf("expected missing site-plan, got %v", err)
	}
}

func TestMilestoneDoubleCompletion(t *testing.T) {
	env := newTestEnv(t)
	if _, err := completeMilestone(env, "earthworks.clear", day(1)); err != nil {
		t.Fatal(err)
	}
	_, err := completeMilestone(env, "earthworks.clear", day(2))
	if domain.CodeOf(err) != domain.CodeInvalidTransition {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	s, err := env.Engine.GetProjectSummary(env.Ctx, "proj-1", day(2))
	if err != nil {
		t.Fatal(err)
	}
	if s.Phases[0].Progress != 33 || s.Version != 2 {
		t.Fatalf("rejected command changed state: progress=%d version=%d", s.Phases[0].Progress, s.Version)
	}
}

func TestDependencyGatingPersists(t *testing.T) {
	env := newTestEnv(t)
	_, err := completeMilestone(env, "superstructure.frame", day(1))
	var dep domain.DependencyUnmetError
	if !errors.As(err, &dep) || dep.Blocking[0] != "earthworks" {
		t.Fatalf("expected dependency unmet, got %v", err)
	}
	_, err = env.Engine.StartPhase(env.Ctx, engine.PhaseCommand{Meta: meta(), PhaseID: "superstructure", Date: day(1)})
	if domain.CodeOf(err) != domain.CodeDependencyUnmet {
		t.Fatalf("expected start to be gated, got %v", err)
	}
	if _, err := env.Engine.StartPhase(env.Ctx, engine.PhaseCommand{Meta: meta(), PhaseID: "earthworks", Date: day(1)}); err != nil {
		t.Fatalf("start earthworks: %v", err)
	}
	_, err = env.Engine.CompletePhase(env.Ctx, engine.PhaseCommand{Meta: meta(), PhaseID: "earthworks", Date: day(2)})
	if domain.CodeOf(err) != domain.CodeForceCompletionForbidden {
		t.Fatalf("expected force completion refusal, got %v", err)
	}
	for _, id := range []string{"earthworks.clear", "earthworks.dig", "earthworks.compact"} {
		if _, err := completeMilestone(env, id, day(3)); err != nil {
			t.Fatalf("complete %s: %v", id, err)
		}
	}
	s, err := completeMilestone(env, "superstructure.frame", day(4))
	if err != nil {
		t.Fatalf("expected success once earthworks is done: %v", err)
	}
	if s.Phases[1].Status != domain.PhaseInProgress || s.Phases[1].Blocked {
		t.Fatalf("unexpected superstructure summary: %+v", s.Phases[1])
	}
}

func TestApprovalFlow(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.DecideApproval(env.Ctx, engine.DecideApprovalCommand{Meta: meta(), ApprovalID: "development-order", Approved: true, DecisionDate: day(1)})
	if domain.CodeOf(err) != domain.CodeInvalidTransition {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	docs := []domain.DocumentRef{{Name: "site-plan", Ref: "doc-1"}}
	s, err := env.Engine.SubmitApproval(env.Ctx, engine.SubmitApprovalCommand{Meta: meta(), ApprovalID: "development-order", SubmittedDate: day(1), Documents: docs})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	a := s.Approvals[0]
	if a.Status != domain.ApprovalPending || a.ProjectedDate == nil || !a.ProjectedDate.Equal(day(41)) {
		t.Fatalf("unexpected approval summary: %+v", a)
	}
	s, err = env.Engine.DecideApproval(env.Ctx, engine.DecideApprovalCommand{Meta: meta(), ApprovalID: "development-order", Approved: true, DecisionDate: day(20), Feedback: "granted"})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if s.Approvals[0].Status != domain.ApprovalApproved || !s.Approvals[0].ProjectedDate.Equal(day(20)) {
		t.Fatalf("unexpected approval after decision: %+v", s.Approvals[0])
	}
	p, err := env.Engine.GetProject(env.Ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Approvals[0].Feedback != "granted" || len(p.Approvals[0].Documents) != 1 {
		t.Fatalf("approval not persisted: %+v", p.Approvals[0])
	}
}

func TestAppointmentReplacementKeepsHistory(t *testing.T) {
	env := newTestEnv(t)
	cmd := engine.AppointmentCommand{Meta: meta(), Discipline: "architect", ConsultantRef: "c-1", AppointedAt: day(1),
		ContractValue: &domain.Money{Amount: 1500000, Currency: "USD"}}
	if _, err := env.Engine.AppointConsultant(env.Ctx, cmd); err != nil {
		t.Fatalf("appoint: %v", err)
	}
	cmd.ConsultantRef = "c-2"
	_, err := env.Engine.AppointConsultant(env.Ctx, cmd)
	if domain.CodeOf(err) != domain.CodeAlreadyAppointed {
		t.Fatalf("expected already appointed, got %v", err)
	}
	_, err = env.Engine.ReplaceAppointment(env.Ctx, engine.AppointmentCommand{Meta: meta(), Discipline: "civil-structural", ConsultantRef: "c-3"})
	if domain.CodeOf(err) != domain.CodeNoExistingAppointment {
		t.Fatalf("expected no existing appointment, got %v", err)
	}
	_, err = env.Engine.AppointConsultant(env.Ctx, engine.AppointmentCommand{Meta: meta(), Discipline: "landscape", ConsultantRef: "c-4"})
	if domain.CodeOf(err) != domain.CodeDisciplineNotRequired {
		t.Fatalf("expected discipline not required, got %v", err)
	}
	cmd.AppointedAt = day(5)
	if _, err := env.Engine.ReplaceAppointment(env.Ctx, cmd); err != nil {
		t.Fatalf("replace: %v", err)
	}
	current, err := env.Engine.ListAppointments(env.Ctx, "proj-1", false)
	if err != nil {
		t.Fatal(err)
	}
	all, err := env.Engine.ListAppointments(env.Ctx, "proj-1", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(current) != 1 || current[0].ConsultantRef != "c-2" {
		t.Fatalf("unexpected current appointments: %+v", current)
	}
	if len(all) != 2 || all[0].Status != domain.AppointmentSuperseded || all[0].SupersededByID != current[0].ID {
		t.Fatalf("history not retained: %+v", all)
	}
	if all[0].ContractValue == nil || all[0].ContractValue.Amount != 1500000 {
		t.Fatalf("contract value lost: %+v", all[0])
	}
}

func TestReadinessGate(t *testing.T) {
	env := newTestEnv(t)
	for _, d := range []domain.Discipline{"architect", "civil-structural"} {
		if _, err := env.Engine.AppointConsultant(env.Ctx, engine.AppointmentCommand{Meta: meta(), Discipline: d, ConsultantRef: "c-" + string(d)}); err != nil {
			t.Fatalf("appoint %s: %v", d, err)
		}
	}
	s, err := env.Engine.SetBriefDistributed(env.Ctx, engine.BriefCommand{Meta: meta(), Distributed: true})
	if err != nil {
		t.Fatal(err)
	}
	if s.ReadyForApprovals || s.AppointmentMatrix.AllContractsExecuted {
		t.Fatalf("contracts not executed yet: %+v", s.AppointmentMatrix)
	}
	if _, err := env.Engine.MarkContractExecuted(env.Ctx, engine.ContractCommand{Meta: meta(), Discipline: "architect", Executed: true}); err != nil {
		t.Fatal(err)
	}
	s, err = env.Engine.MarkContractExecuted(env.Ctx, engine.ContractCommand{Meta: meta(), Discipline: "civil-structural", Executed: true})
	if err != nil {
		t.Fatal(err)
	}
	if !s.ReadyForApprovals {
		t.Fatalf("expected ready: %+v", s.AppointmentMatrix)
	}
	s, err = env.Engine.SetBriefDistributed(env.Ctx, engine.BriefCommand{Meta: meta(), Distributed: false})
	if err != nil {
		t.Fatal(err)
	}
	if s.ReadyForApprovals || !s.AppointmentMatrix.AllAppointed || !s.AppointmentMatrix.AllContractsExecuted {
		t.Fatalf("brief flag must flip readiness alone: %+v", s.AppointmentMatrix)
	}
	s, err = env.Engine.CompleteAppointment(env.Ctx, engine.DisciplineCommand{Meta: meta(), Discipline: "architect"})
	if err != nil {
		t.Fatalf("complete appointment: %v", err)
	}
	if s.AppointmentMatrix.AppointedCount != 2 {
		t.Fatalf("completed appointment must keep its slot: %+v", s.AppointmentMatrix)
	}
}

func TestExpectedVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	stale := int64(1)
	m := meta()
	m.ExpectedVersion = &stale
	if _, err := env.Engine.SetBriefDistributed(env.Ctx, engine.BriefCommand{Meta: m, Distributed: true}); err != nil {
		t.Fatalf("first write at version 1: %v", err)
	}
	_, err := env.Engine.SetBriefDistributed(env.Ctx, engine.BriefCommand{Meta: m, Distributed: false})
	var conflict domain.ConcurrencyConflictError
	if !errors.As(err, &conflict) || conflict.Actual != 2 {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
}

func TestConcurrentCommandsAreSerialized(t *testing.T) {
	env := newTestEnv(t)
	ids := []string{"earthworks.clear", "earthworks.dig", "earthworks.compact"}
	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := completeMilestone(env, id, day(3))
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent completion: %v", err)
		}
	}
	s, err := env.Engine.GetProjectSummary(env.Ctx, "proj-1", day(3))
	if err != nil {
		t.Fatal(err)
	}
	if s.Phases[0].Progress != 100 || s.Version != 4 {
		t.Fatalf("lost update: progress=%d version=%d", s.Phases[0].Progress, s.Version)
	}
}

func TestProjectStatusGatesCommands(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.SetProjectStatus(env.Ctx, engine.StatusCommand{Meta: meta(), Status: domain.ProjectPaused}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	_, err := completeMilestone(env, "earthworks.clear", day(1))
	if domain.CodeOf(err) != domain.CodeInvalidTransition {
		t.Fatalf("expected paused project to reject work, got %v", err)
	}
	_, err = env.Engine.SetProjectStatus(env.Ctx, engine.StatusCommand{Meta: meta(), Status: domain.ProjectCompleted})
	if domain.CodeOf(err) != domain.CodeValidation {
		t.Fatalf("expected completion refusal with open phases, got %v", err)
	}
	if _, err := env.Engine.SetProjectStatus(env.Ctx, engine.StatusCommand{Meta: meta(), Status: domain.ProjectCancelled}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, err = env.Engine.SetProjectStatus(env.Ctx, engine.StatusCommand{Meta: meta(), Status: domain.ProjectActive})
	if domain.CodeOf(err) != domain.CodeInvalidTransition {
		t.Fatalf("cancelled must be terminal, got %v", err)
	}
	_, err = env.Engine.SetProjectStatus(env.Ctx, engine.StatusCommand{Meta: meta(), Status: "archived"})
	if domain.CodeOf(err) != domain.CodeValidation {
		t.Fatalf("expected unknown status rejection, got %v", err)
	}
}

func TestSummaryIsIdempotentAndDerivesLabels(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.GetProjectSummary(env.Ctx, "proj-1", day(31))
	if err != nil {
		t.Fatal(err)
	}
	b, err := env.Engine.GetProjectSummary(env.Ctx, "proj-1", day(31))
	if err != nil {
		t.Fatal(err)
	}
	if a.Phases[0].EffectiveStatus != domain.PhaseDelayed || a.Phases[1].EffectiveStatus != domain.PhaseBlocked {
		t.Fatalf("unexpected derived labels: %s %s", a.Phases[0].EffectiveStatus, a.Phases[1].EffectiveStatus)
	}
	if len(a.Phases[0].OverdueMilestones) != 3 {
		t.Fatalf("expected all earthworks milestones overdue: %+v", a.Phases[0].OverdueMilestones)
	}
	if a.Version != b.Version || a.OverallProgress != b.OverallProgress || len(a.Phases) != len(b.Phases) {
		t.Fatalf("summary not idempotent")
	}
	p, err := env.Engine.GetProject(env.Ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Phases[0].Status != domain.PhaseNotStarted || p.Version != 1 {
		t.Fatalf("reads must not persist derived state: %+v", p.Phases[0])
	}
}

func TestEventsAndReports(t *testing.T) {
	env := newTestEnv(t)
	if _, err := completeMilestone(env, "earthworks.clear", day(1)); err != nil {
		t.Fatal(err)
	}
	rep, err := env.Engine.RecordMonitoringReport(env.Ctx, engine.ReportCommand{
		ProjectID: "proj-1", ActorID: "tester", Kind: "site-inspection", Summary: "clearance verified",
		Payload: map[string]any{"inspector": "insp-2"},
	})
	if err != nil {
		t.Fatalf("record report: %v", err)
	}
	reports, err := env.Engine.ListMonitoringReports(env.Ctx, "proj-1", "", 10)
	if err != nil || len(reports) != 1 || reports[0].ID != rep.ID {
		t.Fatalf("list reports: %v %+v", err, reports)
	}
	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilter{ProjectID: "proj-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 3 || evts[0].Type != "monitoring.report_recorded" || evts[1].Type != "milestone.completed" || evts[2].Type != "project.created" {
		t.Fatalf("unexpected events: %+v", evts)
	}
	if _, err := env.Engine.ListMonitoringReports(env.Ctx, "missing", "", 10); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type stubDirectory map[string]string

func (d stubDirectory) LookupConsultant(_ context.Context, ref string) (engine.Consultant, error) {
	name, ok := d[ref]
	if !ok {
		return engine.Consultant{}, errors.New("unknown consultant")
	}
	return engine.Consultant{Ref: ref, Name: name}, nil
}

type stubDocuments map[string]bool

func (d stubDocuments) ResolveDocument(_ context.Context, ref string) error {
	if !d[ref] {
		return errors.New("no such document")
	}
	return nil
}

func TestCollaboratorsDenormalizeAndValidate(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Directory = stubDirectory{"c-1": "Tan & Partners"}
	env.Engine.Documents = stubDocuments{"doc-1": true}

	if _, err := env.Engine.AppointConsultant(env.Ctx, engine.AppointmentCommand{Meta: meta(), Discipline: "architect", ConsultantRef: "c-9"}); domain.CodeOf(err) != domain.CodeValidation {
		t.Fatalf("expected unknown consultant rejection, got %v", err)
	}
	s, err := env.Engine.AppointConsultant(env.Ctx, engine.AppointmentCommand{Meta: meta(), Discipline: "architect", ConsultantRef: "c-1"})
	if err != nil {
		t.Fatal(err)
	}
	if s.AppointmentMatrix.Slots[0].ConsultantName != "Tan & Partners" {
		t.Fatalf("consultant name not denormalized: %+v", s.AppointmentMatrix.Slots[0])
	}
	_, err = env.Engine.SubmitApproval(env.Ctx, engine.SubmitApprovalCommand{Meta: meta(), ApprovalID: "development-order", SubmittedDate: day(1),
		Documents: []domain.DocumentRef{{Name: "site-plan", Ref: "doc-404"}}})
	if domain.CodeOf(err) != domain.CodeValidation {
		t.Fatalf("expected unresolved document rejection, got %v", err)
	}
}
