package lifecycle

import (
	"fmt"
	"time"

	"siteline/internal/config"
	"siteline/internal/domain"
)

// Plan carries the attributes supplied by the project-creation flow.
type Plan struct {
	ID        string
	Title     string
	Type      domain.ProjectType
	Location  string
	Budget    *domain.Money
	StartDate *time.Time
	EndDate   *time.Time
	CreatedAt time.Time
}

// Instantiate builds a fresh active project from the catalog entries of its
// type. Milestone due dates are offsets from the start date (or creation).
func Instantiate(cfg *config.Config, plan Plan) (domain.Project, error) {
	if plan.StartDate != nil && plan.EndDate != nil && plan.EndDate.Before(*plan.StartDate) {
		return domain.Project{}, domain.ValidationError{Field: "end_date", Reason: "precedes start date"}
	}
	pt, phases, approvals, err := cfg.ForType(string(plan.Type))
	if err != nil {
		return domain.Project{}, domain.ValidationError{Field: "type", Reason: err.Error()}
	}
	created := plan.CreatedAt.UTC()
	anchor := created
	if plan.StartDate != nil {
		anchor = plan.StartDate.UTC()
	}
	p := domain.Project{
		ID:          plan.ID,
		Title:       plan.Title,
		Type:        plan.Type,
		Location:    plan.Location,
		Budget:      plan.Budget,
		Status:      domain.ProjectActive,
		StartDate:   utcPtr(plan.StartDate),
		EndDate:     utcPtr(plan.EndDate),
		CreatedAt:   created,
		UpdatedAt:   created,
		Disciplines: make([]domain.Discipline, 0, len(pt.Disciplines)),
	}
	for _, d := range pt.Disciplines {
		p.Disciplines = append(p.Disciplines, domain.Discipline(d))
	}
	for _, tpl := range phases {
		ph := domain.Phase{
			ID:            tpl.ID,
			Name:          tpl.Name,
			Status:        domain.PhaseNotStarted,
			EstimatedDays: tpl.EstimatedDays,
			DependsOn:     append([]string(nil), tpl.DependsOn...),
		}
		for _, mt := range tpl.Milestones {
			ph.Milestones = append(ph.Milestones, domain.Milestone{
				ID:        MilestoneID(tpl.ID, mt.ID),
				PhaseID:   tpl.ID,
				Name:      mt.Name,
				Status:    domain.MilestonePending,
				DueDate:   addDays(anchor, mt.DueOffsetDays),
				CreatedAt: created,
			})
		}
		p.Phases = append(p.Phases, ph)
	}
	for _, tpl := range approvals {
		p.Approvals = append(p.Approvals, domain.ApprovalItem{
			ID:                tpl.ID,
			Name:              tpl.Name,
			Authority:         tpl.Authority,
			Status:            domain.ApprovalNotStarted,
			EstimatedDays:     tpl.EstimatedDays,
			RequiredDocuments: append([]string(nil), tpl.RequiredDocuments...),
		})
	}
	if err := ValidatePlan(&p); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// MilestoneID scopes a catalog milestone id to its phase.
func MilestoneID(phaseID, milestoneID string) string {
	return phaseID + "." + milestoneID
}

// ValidatePlan checks that the project has at least one phase, that no
// discipline, phase or approval appears twice and that phase dependencies
// reference known phases without cycles.
func ValidatePlan(p *domain.Project) error {
	if len(p.Phases) == 0 {
		return domain.ValidationError{Field: "phases", Reason: "project type defines no phases"}
	}
	seen := map[string]bool{}
	for _, d := range p.Disciplines {
		if seen["discipline:"+string(d)] {
			return domain.ValidationError{Field: "disciplines", Reason: fmt.Sprintf("discipline %s listed twice", d)}
		}
		seen["discipline:"+string(d)] = true
	}
	for _, ph := range p.Phases {
		if seen["phase:"+ph.ID] {
			return domain.ValidationError{Field: "phases", Reason: fmt.Sprintf("phase %s listed twice", ph.ID)}
		}
		seen["phase:"+ph.ID] = true
		for _, m := range ph.Milestones {
			if seen["milestone:"+m.ID] {
				return domain.ValidationError{Field: "milestones", Reason: fmt.Sprintf("milestone %s listed twice", m.ID)}
			}
			seen["milestone:"+m.ID] = true
		}
	}
	for _, a := range p.Approvals {
		if seen["approval:"+a.ID] {
			return domain.ValidationError{Field: "approvals", Reason: fmt.Sprintf("approval %s listed twice", a.ID)}
		}
		seen["approval:"+a.ID] = true
	}
	for _, ph := range p.Phases {
		for _, dep := range ph.DependsOn {
			if dep == ph.ID {
				return domain.ValidationError{Field: "phases", Reason: fmt.Sprintf("phase %s depends on itself", ph.ID)}
			}
			if p.Phase(dep) == nil {
				return domain.ValidationError{Field: "phases", Reason: fmt.Sprintf("phase %s depends on unknown phase %s", ph.ID, dep)}
			}
		}
	}
	const (
		unvisited = iota
		visiting
		done
	)
	state := map[string]int{}
	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return domain.ValidationError{Field: "phases", Reason: fmt.Sprintf("phase dependency cycle through %s", id)}
		case done:
			return nil
		}
		state[id] = visiting
		for _, dep := range p.Phase(id).DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	for _, ph := range p.Phases {
		if err := visit(ph.ID); err != nil {
			return err
		}
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
