package lifecycle

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteline/internal/config"
	"siteline/internal/domain"
)

const scenarioCatalog = `disciplines:
  architect: {description: Architect}
  civil-structural: {description: Engineer}
phases:
  - id: earthworks
    name: Earthworks
    estimated_days: 30
    milestones:
      - {id: clear, name: Clear, due_offset_days: 5}
      - {id: dig, name: Dig, due_offset_days: 10}
      - {id: compact, name: Compact, due_offset_days: 20}
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
    authority: Planning
    estimated_days: 40
    required_documents: [site-plan, planning-report]
project_types:
  residential:
    disciplines: [architect, civil-structural]
    phases: [earthworks, superstructure]
    approvals: [development-order]
`

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time { return t0.Add(time.Duration(n) * 24 * time.Hour) }

func scenarioProject(t *testing.T) *domain.Project {
	t.Helper()
	cfg, err := config.FromYAML([]byte(scenarioCatalog))
	require.NoError(t, err)
	p, err := Instantiate(cfg, Plan{ID: "p1", Title: "Riverside", Type: domain.ProjectResidential, CreatedAt: t0})
	require.NoError(t, err)
	return &p
}

func complete(t *testing.T, p *domain.Project, id string, at time.Time) {
	t.Helper()
	_, err := CompleteMilestone(p, MilestoneCompletion{MilestoneID: id, CompletedDate: at})
	require.NoError(t, err)
}

func TestInstantiateFromCatalog(t *testing.T) {
	p := scenarioProject(t)
	assert.Equal(t, domain.ProjectActive, p.Status)
	assert.Equal(t, []domain.Discipline{"architect", "civil-structural"}, p.Disciplines)
	require.Len(t, p.Phases, 2)
	assert.Len(t, p.Phases[0].Milestones, 3)
	assert.Equal(t, "earthworks.dig", p.Phases[0].Milestones[1].ID)
	assert.Equal(t, day(10), p.Phases[0].Milestones[1].DueDate)
	assert.Equal(t, domain.ApprovalNotStarted, p.Approvals[0].Status)

	_, err := Instantiate(config.Default(), Plan{ID: "x", Type: "castle", CreatedAt: t0})
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
}

func TestValidatePlanRejectsCycles(t *testing.T) {
	p := &domain.Project{Phases: []domain.Phase{
		{ID: "a", DependsOn: []string{"c"}},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
	}}
	err := ValidatePlan(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")

	p.Phases[0].DependsOn = nil
	assert.NoError(t, ValidatePlan(p))
}

func TestValidatePlanRejectsDuplicates(t *testing.T) {
	cases := map[string]*domain.Project{
		"disciplines": {
			Disciplines: []domain.Discipline{"architect", "architect"},
			Phases:      []domain.Phase{{ID: "a"}},
		},
		"phases": {Phases: []domain.Phase{{ID: "p1"}, {ID: "p1"}}},
		"approvals": {
			Phases:    []domain.Phase{{ID: "a"}},
			Approvals: []domain.ApprovalItem{{ID: "dev"}, {ID: "dev"}},
		},
	}
	for field, p := range cases {
		err := ValidatePlan(p)
		assert.Equal(t, domain.CodeValidation, domain.CodeOf(err), field)
		assert.Contains(t, err.Error(), "twice", field)
	}
}

func TestMilestoneProgressIsMonotonic(t *testing.T) {
	p := scenarioProject(t)
	ids := []string{"earthworks.clear", "earthworks.dig", "earthworks.compact"}
	want := []int{33, 67, 100}
	last := 0
	for i, id := range ids {
		complete(t, p, id, day(i+1))
		got := p.Phase("earthworks").Progress
		assert.Equal(t, want[i], got)
		assert.GreaterOrEqual(t, got, last)
		last = got
	}
	ph := p.Phase("earthworks")
	assert.Equal(t, domain.PhaseCompleted, ph.Status)
	require.NotNil(t, ph.EndDate)
	assert.Equal(t, day(3), *ph.EndDate)
}

func TestRoundedProgressDoesNotCompletePhase(t *testing.T) {
	phase := &domain.Phase{ID: "big", Status: domain.PhaseInProgress}
	for i := 0; i < 201; i++ {
		phase.Milestones = append(phase.Milestones, domain.Milestone{
			ID:        MilestoneID("big", fmt.Sprintf("m%03d", i)),
			PhaseID:   "big",
			Status:    domain.MilestonePending,
			CreatedAt: t0,
		})
	}
	p := &domain.Project{ID: "p1", Status: domain.ProjectActive, CreatedAt: t0, Phases: []domain.Phase{*phase}}
	for _, m := range p.Phases[0].Milestones[:200] {
		complete(t, p, m.ID, day(1))
	}
	ph := p.Phase("big")
	assert.Equal(t, 99, ph.Progress)
	assert.Equal(t, domain.PhaseInProgress, ph.Status)
	assert.Nil(t, ph.EndDate)

	complete(t, p, ph.Milestones[200].ID, day(2))
	assert.Equal(t, 100, ph.Progress)
	assert.Equal(t, domain.PhaseCompleted, ph.Status)
	require.NotNil(t, ph.EndDate)
	assert.Equal(t, day(2), *ph.EndDate)
}

func TestCompletingMilestoneTwiceFails(t *testing.T) {
	p := scenarioProject(t)
	complete(t, p, "earthworks.clear", day(1))
	before := p.Phase("earthworks").Progress

	_, err := CompleteMilestone(p, MilestoneCompletion{MilestoneID: "earthworks.clear", CompletedDate: day(2)})
	assert.Equal(t, domain.CodeInvalidTransition, domain.CodeOf(err))
	assert.Equal(t, before, p.Phase("earthworks").Progress)
}

func TestMilestoneDateValidation(t *testing.T) {
	p := scenarioProject(t)
	_, err := CompleteMilestone(p, MilestoneCompletion{MilestoneID: "earthworks.clear", CompletedDate: t0.Add(-time.Hour)})
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))

	_, err = StartPhase(p, "earthworks", day(5))
	require.NoError(t, err)
	_, err = CompleteMilestone(p, MilestoneCompletion{MilestoneID: "earthworks.clear", CompletedDate: day(4)})
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
	assert.Equal(t, domain.MilestonePending, p.Phase("earthworks").Milestones[0].Status)

	_, err = CompleteMilestone(p, MilestoneCompletion{MilestoneID: "nope", CompletedDate: day(4)})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDependencyGating(t *testing.T) {
	p := scenarioProject(t)
	_, err := CompleteMilestone(p, MilestoneCompletion{MilestoneID: "superstructure.frame", CompletedDate: day(40)})
	var dep domain.DependencyUnmetError
	require.ErrorAs(t, err, &dep)
	assert.Equal(t, "superstructure", dep.PhaseID)
	assert.Equal(t, []string{"earthworks"}, dep.Blocking)

	_, err = StartPhase(p, "superstructure", day(40))
	assert.Equal(t, domain.CodeDependencyUnmet, domain.CodeOf(err))

	for i, id := range []string{"earthworks.clear", "earthworks.dig", "earthworks.compact"} {
		complete(t, p, id, day(i+1))
	}
	_, err = CompleteMilestone(p, MilestoneCompletion{MilestoneID: "superstructure.frame", CompletedDate: day(40)})
	require.NoError(t, err)
	assert.Equal(t, 50, p.Phase("superstructure").Progress)
	assert.Equal(t, domain.PhaseInProgress, p.Phase("superstructure").Status)
}

func TestCompletePhaseForbidsForcing(t *testing.T) {
	p := scenarioProject(t)
	complete(t, p, "earthworks.clear", day(1))

	_, err := CompletePhase(p, "earthworks", day(2))
	var fc domain.ForceCompletionForbiddenError
	require.ErrorAs(t, err, &fc)
	assert.Equal(t, []string{"earthworks.dig", "earthworks.compact"}, fc.Incomplete)
	assert.Equal(t, domain.PhaseInProgress, p.Phase("earthworks").Status)

	complete(t, p, "earthworks.dig", day(2))
	complete(t, p, "earthworks.compact", day(3))
	_, err = CompletePhase(p, "earthworks", day(4))
	assert.Equal(t, domain.CodeInvalidTransition, domain.CodeOf(err))
}

func TestCompletePhaseWithoutMilestones(t *testing.T) {
	p := &domain.Project{ID: "p", Phases: []domain.Phase{{ID: "a", Status: domain.PhaseNotStarted}}}
	ph, err := CompletePhase(p, "a", day(1))
	require.NoError(t, err)
	assert.Equal(t, 100, ph.Progress)
	assert.Equal(t, domain.PhaseCompleted, ph.Status)
}

func TestDerivedPhaseLabels(t *testing.T) {
	p := scenarioProject(t)
	earth := p.Phase("earthworks")
	super := p.Phase("superstructure")

	assert.Equal(t, domain.PhaseNotStarted, EffectivePhaseStatus(p, earth, day(10)))
	assert.Equal(t, domain.PhaseDelayed, EffectivePhaseStatus(p, earth, day(31)))
	assert.Equal(t, domain.PhaseBlocked, EffectivePhaseStatus(p, super, day(200)))
	assert.False(t, PhaseDelayed(p, super, day(200)))

	// labels are computed, not stored
	assert.Equal(t, domain.PhaseNotStarted, earth.Status)

	complete(t, p, "earthworks.clear", day(31))
	assert.Equal(t, domain.PhaseInProgress, EffectivePhaseStatus(p, earth, day(40)))
}

func TestOverdueMilestoneIsDerived(t *testing.T) {
	p := scenarioProject(t)
	m := p.Phases[0].Milestones[0]
	assert.False(t, MilestoneOverdue(m, day(5)))
	assert.True(t, MilestoneOverdue(m, day(6)))
	assert.Equal(t, domain.MilestoneOverdue, EffectiveMilestoneStatus(m, day(6)))

	complete(t, p, m.ID, day(7))
	assert.Equal(t, domain.MilestoneCompleted, EffectiveMilestoneStatus(p.Phases[0].Milestones[0], day(30)))
}

func TestApprovalOrdering(t *testing.T) {
	p := scenarioProject(t)
	_, err := DecideApproval(p, "development-order", true, day(1), "")
	assert.Equal(t, domain.CodeInvalidTransition, domain.CodeOf(err))

	_, err = SubmitApproval(p, "development-order", day(1), []domain.DocumentRef{{Name: "planning-report", Ref: "doc-2"}})
	var md domain.MissingDocumentsError
	require.ErrorAs(t, err, &md)
	assert.Equal(t, []string{"site-plan"}, md.Missing)
	a := p.Approval("development-order")
	assert.Equal(t, domain.ApprovalNotStarted, a.Status)
	assert.Nil(t, a.SubmittedDate)

	docs := []domain.DocumentRef{{Name: "site-plan", Ref: "doc-1"}, {Name: "planning-report", Ref: "doc-2"}}
	_, err = SubmitApproval(p, "development-order", day(1), docs)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalPending, a.Status)

	_, err = SubmitApproval(p, "development-order", day(2), docs)
	assert.Equal(t, domain.CodeInvalidTransition, domain.CodeOf(err))

	_, err = DecideApproval(p, "development-order", false, day(10), "traffic study outdated")
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalRejected, a.Status)
	assert.Equal(t, day(41), *ProjectedApprovalDate(*a))

	_, err = DecideApproval(p, "development-order", true, day(11), "")
	assert.Equal(t, domain.CodeInvalidTransition, domain.CodeOf(err))

	_, err = SubmitApproval(p, "development-order", day(12), docs)
	require.NoError(t, err)
	assert.Equal(t, 2, a.Submissions)
	assert.Empty(t, a.Feedback)
	assert.Equal(t, day(52), *ProjectedApprovalDate(*a))

	_, err = DecideApproval(p, "development-order", true, day(11), "")
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
	_, err = DecideApproval(p, "development-order", true, day(30), "granted")
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, a.Status)
	assert.Equal(t, day(30), *ProjectedApprovalDate(*a))
	assert.Equal(t, 100, ApprovalProgress(*a, day(31)))
}

func TestApprovalTimelineProjection(t *testing.T) {
	a := domain.ApprovalItem{Status: domain.ApprovalNotStarted, EstimatedDays: 40}
	assert.Nil(t, ProjectedApprovalDate(a))
	assert.Equal(t, 0, ApprovalProgress(a, day(5)))

	sub := day(0)
	a.Status = domain.ApprovalPending
	a.SubmittedDate = &sub
	assert.Equal(t, day(40), *ProjectedApprovalDate(a))
	assert.Equal(t, 25, ApprovalProgress(a, day(10)))
	assert.Equal(t, 100, ApprovalProgress(a, day(90)))
	assert.False(t, ApprovalOverdue(a, day(40)))
	assert.True(t, ApprovalOverdue(a, day(41)))
}

func TestAppointmentUniqueness(t *testing.T) {
	p := scenarioProject(t)
	eng := Engagement{ID: "a1", Discipline: "architect", ConsultantRef: "c-1", AppointedAt: day(1)}
	_, err := Appoint(p, eng)
	require.NoError(t, err)

	eng.ID = "a2"
	eng.ConsultantRef = "c-2"
	_, err = Appoint(p, eng)
	var aa domain.AlreadyAppointedError
	require.ErrorAs(t, err, &aa)
	assert.Equal(t, "a1", aa.AppointmentID)

	_, err = Replace(p, Engagement{ID: "x", Discipline: "civil-structural", ConsultantRef: "c-3", AppointedAt: day(1)})
	assert.Equal(t, domain.CodeNoExistingAppointment, domain.CodeOf(err))

	next, err := Replace(p, Engagement{ID: "a2", Discipline: "architect", ConsultantRef: "c-2", AppointedAt: day(5)})
	require.NoError(t, err)
	assert.Equal(t, "a1", next.SupersedesID)
	require.Len(t, p.Appointments, 2)
	assert.Equal(t, domain.AppointmentSuperseded, p.Appointments[0].Status)
	assert.Equal(t, "a2", p.Appointments[0].SupersededByID)
	assert.Equal(t, "a2", p.CurrentAppointment("architect").ID)

	_, err = Appoint(p, Engagement{ID: "z", Discipline: "landscape", ConsultantRef: "c", AppointedAt: day(1)})
	assert.Equal(t, domain.CodeDisciplineNotRequired, domain.CodeOf(err))
	_, err = Replace(p, Engagement{ID: "z", Discipline: "landscape", ConsultantRef: "c", AppointedAt: day(1)})
	assert.Equal(t, domain.CodeDisciplineNotRequired, domain.CodeOf(err))
}

func TestAppointmentLifecycle(t *testing.T) {
	p := scenarioProject(t)
	_, err := SetContractExecuted(p, "architect", true)
	assert.Equal(t, domain.CodeNoExistingAppointment, domain.CodeOf(err))

	_, err = Appoint(p, Engagement{ID: "a1", Discipline: "architect", ConsultantRef: "c-1", AppointedAt: day(1)})
	require.NoError(t, err)
	_, err = CompleteAppointment(p, "architect")
	assert.Equal(t, domain.CodeInvalidTransition, domain.CodeOf(err))

	a, err := SetContractExecuted(p, "architect", true)
	require.NoError(t, err)
	assert.Equal(t, domain.AppointmentActive, a.Status)

	a, err = CompleteAppointment(p, "architect")
	require.NoError(t, err)
	assert.Equal(t, domain.AppointmentCompleted, a.Status)
	assert.Equal(t, 1, Matrix(p).AppointedCount)
}

func TestReadinessGate(t *testing.T) {
	p := scenarioProject(t)
	for _, d := range []domain.Discipline{"architect", "civil-structural"} {
		_, err := Appoint(p, Engagement{ID: "a-" + string(d), Discipline: d, ConsultantRef: "c", AppointedAt: day(1)})
		require.NoError(t, err)
	}
	set := func(appointed, executed, brief bool) {
		if appointed {
			if p.CurrentAppointment("civil-structural") == nil {
				_, err := Appoint(p, Engagement{ID: "again", Discipline: "civil-structural", ConsultantRef: "c", AppointedAt: day(2)})
				require.NoError(t, err)
			}
		} else {
			kept := p.Appointments[:0]
			for _, a := range p.Appointments {
				if a.Discipline != "civil-structural" {
					kept = append(kept, a)
				}
			}
			p.Appointments = kept
		}
		for i := range p.Appointments {
			p.Appointments[i].ContractExecuted = executed
		}
		p.BriefDistributed = brief
	}
	for _, appointed := range []bool{false, true} {
		for _, executed := range []bool{false, true} {
			for _, brief := range []bool{false, true} {
				set(appointed, executed, brief)
				m := Matrix(p)
				assert.Equal(t, appointed, m.AllAppointed)
				assert.Equal(t, brief, m.BriefDistributed)
				assert.Equal(t, appointed && executed && brief, m.ReadyForApprovals,
					"appointed=%v executed=%v brief=%v", appointed, executed, brief)
			}
		}
	}
}

func TestSummarizeScenario(t *testing.T) {
	p := scenarioProject(t)
	_, err := Appoint(p, Engagement{ID: "a1", Discipline: "architect", ConsultantRef: "c-1", AppointedAt: day(1)})
	require.NoError(t, err)

	s := Summarize(p, day(2))
	assert.Equal(t, 50, s.AppointmentMatrix.CompletionPercentage)
	assert.False(t, s.ReadyForApprovals)

	for i, id := range []string{"earthworks.clear", "earthworks.dig", "earthworks.compact"} {
		complete(t, p, id, day(i+3))
	}
	complete(t, p, "superstructure.frame", day(20))

	s = Summarize(p, day(21))
	assert.Equal(t, 100, s.Phases[0].Progress)
	assert.Equal(t, domain.PhaseCompleted, s.Phases[0].Status)
	assert.Equal(t, 50, s.Phases[1].Progress)
	assert.Equal(t, 75, s.OverallProgress)
	assert.False(t, s.ReadyForApprovals)
	assert.Equal(t, []string{"site-plan", "planning-report"}, s.Approvals[0].MissingDocuments)
	require.NotNil(t, s.Phases[1].ProjectedEndDate)
	assert.Equal(t, day(20+60), *s.Phases[1].ProjectedEndDate)

	assert.Equal(t, s, Summarize(p, day(21)))
}
