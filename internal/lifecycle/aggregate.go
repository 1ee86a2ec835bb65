package lifecycle

import (
	"math"
	"time"

	"siteline/internal/domain"
)

// Summarize derives the project summary at asOf. It is a pure function of its
// inputs; the project is not modified.
//
// OverallProgress is the unweighted mean of phase progress. Approvals and
// appointments do not contribute to it.
func Summarize(p *domain.Project, asOf time.Time) domain.ProjectSummary {
	s := domain.ProjectSummary{
		ProjectID: p.ID,
		Title:     p.Title,
		Type:      p.Type,
		Status:    p.Status,
		Version:   p.Version,
		AsOf:      asOf.UTC(),
		Phases:    make([]domain.PhaseSummary, 0, len(p.Phases)),
		Approvals: make([]domain.ApprovalSummary, 0, len(p.Approvals)),
	}
	total := 0
	for i := range p.Phases {
		ps := summarizePhase(p, &p.Phases[i], asOf)
		total += ps.Progress
		s.Phases = append(s.Phases, ps)
	}
	if len(p.Phases) > 0 {
		s.OverallProgress = int(math.Round(float64(total) / float64(len(p.Phases))))
	}
	for _, a := range p.Approvals {
		s.Approvals = append(s.Approvals, summarizeApproval(a, asOf))
	}
	s.AppointmentMatrix = Matrix(p)
	s.ReadyForApprovals = s.AppointmentMatrix.ReadyForApprovals
	return s
}

func summarizePhase(p *domain.Project, phase *domain.Phase, asOf time.Time) domain.PhaseSummary {
	blocking := BlockingDependencies(p, phase)
	ps := domain.PhaseSummary{
		ID:                   phase.ID,
		Name:                 phase.Name,
		Status:               phase.Status,
		EffectiveStatus:      EffectivePhaseStatus(p, phase, asOf),
		Progress:             phase.Progress,
		Blocked:              phase.Status != domain.PhaseCompleted && len(blocking) > 0,
		BlockingDependencies: nonNil(blocking),
		Delayed:              PhaseDelayed(p, phase, asOf),
		TotalMilestones:      len(phase.Milestones),
		OverdueMilestones:    []string{},
		StartDate:            copyTime(phase.StartDate),
		EndDate:              copyTime(phase.EndDate),
		ProjectedEndDate:     ProjectedPhaseEnd(phase),
	}
	for _, m := range phase.Milestones {
		if m.Status == domain.MilestoneCompleted {
			ps.CompletedMilestones++
		}
		if MilestoneOverdue(m, asOf) {
			ps.OverdueMilestones = append(ps.OverdueMilestones, m.ID)
		}
	}
	return ps
}

func summarizeApproval(a domain.ApprovalItem, asOf time.Time) domain.ApprovalSummary {
	return domain.ApprovalSummary{
		ID:               a.ID,
		Name:             a.Name,
		Authority:        a.Authority,
		Status:           a.Status,
		SubmittedDate:    copyTime(a.SubmittedDate),
		ApprovalDate:     copyTime(a.ApprovalDate),
		ProjectedDate:    ProjectedApprovalDate(a),
		Progress:         ApprovalProgress(a, asOf),
		Overdue:          ApprovalOverdue(a, asOf),
		MissingDocuments: nonNil(MissingDocuments(a.RequiredDocuments, a.Documents)),
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
