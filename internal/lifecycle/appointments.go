package lifecycle

import (
	"math"
	"time"

	"siteline/internal/domain"
)

// Engagement describes the consultant and contract being bound to a discipline.
type Engagement struct {
	ID             string
	Discipline     domain.Discipline
	ConsultantRef  string
	ConsultantName string
	ContractValue  *domain.Money
	ContractType   string
	ApprovalScope  []string
	Deliverables   []string
	AppointedAt    time.Time
}

func (e Engagement) appointment() domain.Appointment {
	return domain.Appointment{
		ID:             e.ID,
		Discipline:     e.Discipline,
		ConsultantRef:  e.ConsultantRef,
		ConsultantName: e.ConsultantName,
		ContractValue:  e.ContractValue,
		ContractType:   e.ContractType,
		AppointedAt:    e.AppointedAt.UTC(),
		Status:         domain.AppointmentAppointed,
		ApprovalScope:  append([]string(nil), e.ApprovalScope...),
		Deliverables:   append([]string(nil), e.Deliverables...),
	}
}

func checkEngagement(p *domain.Project, e Engagement) error {
	if !p.Requires(e.Discipline) {
		return domain.DisciplineNotRequiredError{Discipline: e.Discipline}
	}
	if e.ID == "" {
		return domain.ValidationError{Field: "id", Reason: "required"}
	}
	if e.ConsultantRef == "" {
		return domain.ValidationError{Field: "consultant_ref", Reason: "required"}
	}
	if e.AppointedAt.IsZero() {
		return domain.ValidationError{Field: "appointed_at", Reason: "required"}
	}
	for _, id := range e.ApprovalScope {
		if p.Approval(id) == nil {
			return domain.ValidationError{Field: "approval_scope", Reason: "unknown approval " + id}
		}
	}
	return nil
}

// Appoint fills an empty discipline slot. An occupied slot is never
// overwritten; callers must Replace explicitly.
func Appoint(p *domain.Project, e Engagement) (*domain.Appointment, error) {
	if !p.Requires(e.Discipline) {
		return nil, domain.DisciplineNotRequiredError{Discipline: e.Discipline}
	}
	if cur := p.CurrentAppointment(e.Discipline); cur != nil {
		return nil, domain.AlreadyAppointedError{Discipline: e.Discipline, AppointmentID: cur.ID}
	}
	if err := checkEngagement(p, e); err != nil {
		return nil, err
	}
	p.Appointments = append(p.Appointments, e.appointment())
	return &p.Appointments[len(p.Appointments)-1], nil
}

// Replace supersedes the current appointment for the discipline. The prior
// appointment stays in the project's history.
func Replace(p *domain.Project, e Engagement) (*domain.Appointment, error) {
	if !p.Requires(e.Discipline) {
		return nil, domain.DisciplineNotRequiredError{Discipline: e.Discipline}
	}
	cur := p.CurrentAppointment(e.Discipline)
	if cur == nil {
		return nil, domain.NoExistingAppointmentError{Discipline: e.Discipline}
	}
	if err := checkEngagement(p, e); err != nil {
		return nil, err
	}
	if e.AppointedAt.Before(cur.AppointedAt) {
		return nil, domain.ValidationError{Field: "appointed_at", Reason: "precedes the appointment being replaced"}
	}
	at := e.AppointedAt.UTC()
	cur.Status = domain.AppointmentSuperseded
	cur.SupersededByID = e.ID
	cur.SupersededAt = &at
	next := e.appointment()
	next.SupersedesID = cur.ID
	p.Appointments = append(p.Appointments, next)
	return &p.Appointments[len(p.Appointments)-1], nil
}

// SetContractExecuted records the external contract signal. Execution
// activates an appointed engagement.
func SetContractExecuted(p *domain.Project, d domain.Discipline, executed bool) (*domain.Appointment, error) {
	if !p.Requires(d) {
		return nil, domain.DisciplineNotRequiredError{Discipline: d}
	}
	cur := p.CurrentAppointment(d)
	if cur == nil {
		return nil, domain.NoExistingAppointmentError{Discipline: d}
	}
	if !executed && cur.Status != domain.AppointmentAppointed && cur.Status != domain.AppointmentActive {
		return nil, domain.InvalidTransitionError{Kind: "appointment", ID: cur.ID, From: string(cur.Status), Command: "revoke contract execution"}
	}
	cur.ContractExecuted = executed
	switch {
	case executed && cur.Status == domain.AppointmentAppointed:
		cur.Status = domain.AppointmentActive
	case !executed && cur.Status == domain.AppointmentActive:
		cur.Status = domain.AppointmentAppointed
	}
	return cur, nil
}

// CompleteAppointment closes an active engagement. The slot stays filled.
func CompleteAppointment(p *domain.Project, d domain.Discipline) (*domain.Appointment, error) {
	if !p.Requires(d) {
		return nil, domain.DisciplineNotRequiredError{Discipline: d}
	}
	cur := p.CurrentAppointment(d)
	if cur == nil {
		return nil, domain.NoExistingAppointmentError{Discipline: d}
	}
	if cur.Status != domain.AppointmentActive {
		return nil, domain.InvalidTransitionError{Kind: "appointment", ID: cur.ID, From: string(cur.Status), Command: "complete"}
	}
	cur.Status = domain.AppointmentCompleted
	return cur, nil
}

// Matrix derives the appointment matrix and the readiness gate. Each of the
// three gate conditions is reported on its own.
func Matrix(p *domain.Project) domain.AppointmentMatrixSummary {
	out := domain.AppointmentMatrixSummary{
		Slots:            make([]domain.DisciplineSlot, 0, len(p.Disciplines)),
		RequiredCount:    len(p.Disciplines),
		BriefDistributed: p.BriefDistributed,
	}
	executed := 0
	for _, d := range p.Disciplines {
		slot := domain.DisciplineSlot{Discipline: d}
		if cur := p.CurrentAppointment(d); cur != nil {
			slot.Filled = true
			slot.AppointmentID = cur.ID
			slot.ConsultantRef = cur.ConsultantRef
			slot.ConsultantName = cur.ConsultantName
			slot.ContractExecuted = cur.ContractExecuted
			out.AppointedCount++
			if cur.ContractExecuted {
				executed++
			}
		}
		out.Slots = append(out.Slots, slot)
	}
	if out.RequiredCount == 0 {
		out.CompletionPercentage = 100
	} else {
		out.CompletionPercentage = int(math.Round(100 * float64(out.AppointedCount) / float64(out.RequiredCount)))
	}
	out.AllAppointed = out.AppointedCount == out.RequiredCount
	out.AllContractsExecuted = executed == out.AppointedCount
	out.ReadyForApprovals = out.AllAppointed && out.AllContractsExecuted && out.BriefDistributed
	return out
}
