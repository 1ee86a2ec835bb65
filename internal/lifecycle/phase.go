package lifecycle

import (
	"math"
	"time"

	"siteline/internal/domain"
)

// BlockingDependencies lists the phase's dependencies that are not completed,
// in declaration order.
func BlockingDependencies(p *domain.Project, phase *domain.Phase) []string {
	var blocking []string
	for _, dep := range phase.DependsOn {
		d := p.Phase(dep)
		if d == nil || d.Status != domain.PhaseCompleted {
			blocking = append(blocking, dep)
		}
	}
	return blocking
}

// RecomputePhase refreshes progress from milestone completion and completes
// the phase once every milestone is done. at stamps the end date.
func RecomputePhase(phase *domain.Phase, at time.Time) {
	total := len(phase.Milestones)
	if total == 0 {
		return
	}
	done := 0
	for _, m := range phase.Milestones {
		if m.Status == domain.MilestoneCompleted {
			done++
		}
	}
	phase.Progress = int(math.Round(100 * float64(done) / float64(total)))
	if done < total {
		// rounding must not report a phase with pending milestones as done
		phase.Progress = min(phase.Progress, 99)
		return
	}
	if phase.Status != domain.PhaseCompleted {
		phase.Status = domain.PhaseCompleted
		end := latestCompletion(phase)
		if end.IsZero() {
			end = at
		}
		phase.EndDate = &end
	}
}

func latestCompletion(phase *domain.Phase) time.Time {
	var latest time.Time
	for _, m := range phase.Milestones {
		if m.CompletedDate != nil && m.CompletedDate.After(latest) {
			latest = *m.CompletedDate
		}
	}
	return latest
}

// StartPhase moves a phase from not_started to in_progress.
func StartPhase(p *domain.Project, phaseID string, at time.Time) (*domain.Phase, error) {
	phase := p.Phase(phaseID)
	if phase == nil {
		return nil, domain.NotFoundError{Kind: "phase", ID: phaseID}
	}
	if phase.Status != domain.PhaseNotStarted {
		return nil, domain.InvalidTransitionError{Kind: "phase", ID: phase.ID, From: string(phase.Status), Command: "start"}
	}
	if blocking := BlockingDependencies(p, phase); len(blocking) > 0 {
		return nil, domain.DependencyUnmetError{PhaseID: phase.ID, Blocking: blocking}
	}
	if at.IsZero() {
		return nil, domain.ValidationError{Field: "start_date", Reason: "required"}
	}
	if p.StartDate != nil && at.Before(*p.StartDate) {
		return nil, domain.ValidationError{Field: "start_date", Reason: "precedes project start date"}
	}
	start := at.UTC()
	phase.Status = domain.PhaseInProgress
	phase.StartDate = &start
	return phase, nil
}

// CompletePhase is the explicit completion request. It never forces a phase
// past pending milestones.
func CompletePhase(p *domain.Project, phaseID string, at time.Time) (*domain.Phase, error) {
	phase := p.Phase(phaseID)
	if phase == nil {
		return nil, domain.NotFoundError{Kind: "phase", ID: phaseID}
	}
	if phase.Status == domain.PhaseCompleted {
		return nil, domain.InvalidTransitionError{Kind: "phase", ID: phase.ID, From: string(phase.Status), Command: "complete"}
	}
	var incomplete []string
	for _, m := range phase.Milestones {
		if m.Status != domain.MilestoneCompleted {
			incomplete = append(incomplete, m.ID)
		}
	}
	if len(incomplete) > 0 {
		return nil, domain.ForceCompletionForbiddenError{PhaseID: phase.ID, Incomplete: incomplete}
	}
	if blocking := BlockingDependencies(p, phase); len(blocking) > 0 {
		return nil, domain.DependencyUnmetError{PhaseID: phase.ID, Blocking: blocking}
	}
	end := at.UTC()
	if phase.StartDate == nil {
		phase.StartDate = &end
	}
	phase.Status = domain.PhaseCompleted
	phase.Progress = 100
	phase.EndDate = &end
	return phase, nil
}

// PhaseDelayed flags a phase that has shown no milestone activity for longer
// than its estimate. Advisory only.
func PhaseDelayed(p *domain.Project, phase *domain.Phase, now time.Time) bool {
	if phase.Status == domain.PhaseCompleted || phase.Progress != 0 || phase.EstimatedDays <= 0 {
		return false
	}
	if len(BlockingDependencies(p, phase)) > 0 {
		return false
	}
	ref := delayReference(p, phase)
	if ref.IsZero() {
		return false
	}
	return now.After(addDays(ref, phase.EstimatedDays))
}

// delayReference is the instant the phase's window opened: its own start,
// else the latest finish among its dependencies, else the project start.
func delayReference(p *domain.Project, phase *domain.Phase) time.Time {
	if phase.StartDate != nil {
		return *phase.StartDate
	}
	var ref time.Time
	for _, dep := range phase.DependsOn {
		if d := p.Phase(dep); d != nil && d.EndDate != nil && d.EndDate.After(ref) {
			ref = *d.EndDate
		}
	}
	if !ref.IsZero() {
		return ref
	}
	if p.StartDate != nil {
		return *p.StartDate
	}
	return p.CreatedAt
}

// EffectivePhaseStatus folds the derived labels into the stored status.
// Completed wins, then blocked, then delayed.
func EffectivePhaseStatus(p *domain.Project, phase *domain.Phase, now time.Time) domain.PhaseStatus {
	if phase.Status == domain.PhaseCompleted {
		return domain.PhaseCompleted
	}
	if len(BlockingDependencies(p, phase)) > 0 {
		return domain.PhaseBlocked
	}
	if PhaseDelayed(p, phase, now) {
		return domain.PhaseDelayed
	}
	return phase.Status
}

// ProjectedPhaseEnd is start + estimate while running, the actual end once done.
func ProjectedPhaseEnd(phase *domain.Phase) *time.Time {
	if phase.EndDate != nil {
		end := *phase.EndDate
		return &end
	}
	if phase.StartDate == nil {
		return nil
	}
	end := addDays(*phase.StartDate, phase.EstimatedDays)
	return &end
}

func addDays(t time.Time, days int) time.Time {
	return t.Add(time.Duration(days) * 24 * time.Hour)
}
