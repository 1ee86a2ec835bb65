// Package lifecycle holds the transition rules and derived views of a project
// aggregate. Nothing here touches storage or reads the wall clock; callers pass
// the project and the instant they want rules evaluated at.
package lifecycle

import (
	"time"

	"siteline/internal/domain"
)

// MilestoneCompletion is the input of CompleteMilestone.
type MilestoneCompletion struct {
	MilestoneID   string
	CompletedDate time.Time
	EvidenceRefs  []string
	InspectorRef  string
	Notes         string
}

// CompleteMilestone moves a pending milestone to completed and cascades into
// the owning phase's progress. The project is left untouched on error.
func CompleteMilestone(p *domain.Project, in MilestoneCompletion) (*domain.Phase, error) {
	phase, m := p.Milestone(in.MilestoneID)
	if m == nil {
		return nil, domain.NotFoundError{Kind: "milestone", ID: in.MilestoneID}
	}
	if m.Status == domain.MilestoneCompleted {
		return nil, domain.InvalidTransitionError{Kind: "milestone", ID: m.ID, From: string(m.Status), Command: "complete"}
	}
	if phase.Status == domain.PhaseCompleted {
		return nil, domain.InvalidTransitionError{Kind: "phase", ID: phase.ID, From: string(phase.Status), Command: "complete milestone"}
	}
	if blocking := BlockingDependencies(p, phase); len(blocking) > 0 {
		return nil, domain.DependencyUnmetError{PhaseID: phase.ID, Blocking: blocking}
	}
	if in.CompletedDate.IsZero() {
		return nil, domain.ValidationError{Field: "completed_date", Reason: "required"}
	}
	if in.CompletedDate.Before(m.CreatedAt) {
		return nil, domain.ValidationError{Field: "completed_date", Reason: "precedes milestone creation"}
	}
	if phase.StartDate != nil && in.CompletedDate.Before(*phase.StartDate) {
		return nil, domain.ValidationError{Field: "completed_date", Reason: "precedes phase start date"}
	}

	completed := in.CompletedDate.UTC()
	m.Status = domain.MilestoneCompleted
	m.CompletedDate = &completed
	m.EvidenceRefs = append([]string(nil), in.EvidenceRefs...)
	m.InspectorRef = in.InspectorRef
	m.Notes = in.Notes

	if phase.Status == domain.PhaseNotStarted {
		phase.Status = domain.PhaseInProgress
		if phase.StartDate == nil {
			phase.StartDate = &completed
		}
	}
	RecomputePhase(phase, completed)
	return phase, nil
}

// MilestoneOverdue is computed, never stored: pending and past due.
func MilestoneOverdue(m domain.Milestone, now time.Time) bool {
	return m.Status == domain.MilestonePending && now.After(m.DueDate)
}

// EffectiveMilestoneStatus reports the display status including overdue.
func EffectiveMilestoneStatus(m domain.Milestone, now time.Time) domain.MilestoneStatus {
	if MilestoneOverdue(m, now) {
		return domain.MilestoneOverdue
	}
	return m.Status
}
