package lifecycle

import (
	"strings"

	"siteline/internal/domain"
)

// EnsureActive rejects work commands against a paused or closed project.
func EnsureActive(p *domain.Project, command string) error {
	if p.Status != domain.ProjectActive {
		return domain.InvalidTransitionError{Kind: "project", ID: p.ID, From: string(p.Status), Command: command}
	}
	return nil
}

// SetProjectStatus applies active <-> paused and closes a project as completed
// or cancelled. Closed projects are terminal.
func SetProjectStatus(p *domain.Project, next domain.ProjectStatus) error {
	ok := false
	switch p.Status {
	case domain.ProjectActive:
		ok = next == domain.ProjectPaused || next == domain.ProjectCompleted || next == domain.ProjectCancelled
	case domain.ProjectPaused:
		ok = next == domain.ProjectActive || next == domain.ProjectCompleted || next == domain.ProjectCancelled
	}
	if !ok {
		return domain.InvalidTransitionError{Kind: "project", ID: p.ID, From: string(p.Status), Command: "set status " + string(next)}
	}
	if next == domain.ProjectCompleted {
		var open []string
		for _, ph := range p.Phases {
			if ph.Status != domain.PhaseCompleted {
				open = append(open, ph.ID)
			}
		}
		if len(open) > 0 {
			return domain.ValidationError{Field: "status", Reason: "phases not completed: " + strings.Join(open, ", ")}
		}
	}
	p.Status = next
	return nil
}
