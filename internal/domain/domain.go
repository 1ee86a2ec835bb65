package domain

import "time"

type ProjectType string

const (
	ProjectResidential ProjectType = "residential"
	ProjectStrata      ProjectType = "strata"
	ProjectCommercial  ProjectType = "commercial"
)

type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectPaused    ProjectStatus = "paused"
	ProjectCompleted ProjectStatus = "completed"
	ProjectCancelled ProjectStatus = "cancelled"
)

type PhaseStatus string

// Stored phase states. Blocked and delayed are derived at read time.
const (
	PhaseNotStarted PhaseStatus = "not_started"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseBlocked    PhaseStatus = "blocked"
	PhaseDelayed    PhaseStatus = "delayed"
)

type MilestoneStatus string

// MilestoneOverdue is never stored.
const (
	MilestonePending   MilestoneStatus = "pending"
	MilestoneCompleted MilestoneStatus = "completed"
	MilestoneOverdue   MilestoneStatus = "overdue"
)

type ApprovalStatus string

const (
	ApprovalNotStarted ApprovalStatus = "not_started"
	ApprovalPending    ApprovalStatus = "pending"
	ApprovalApproved   ApprovalStatus = "approved"
	ApprovalRejected   ApprovalStatus = "rejected"
)

type AppointmentStatus string

const (
	AppointmentAppointed  AppointmentStatus = "appointed"
	AppointmentActive     AppointmentStatus = "active"
	AppointmentCompleted  AppointmentStatus = "completed"
	AppointmentSuperseded AppointmentStatus = "superseded"
)

// Discipline is a catalog key such as "architect" or "mep".
type Discipline string

// Money is an amount in minor units.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type Project struct {
	ID               string        `json:"id"`
	Title            string        `json:"title"`
	Type             ProjectType   `json:"type" enum:"residential,strata,commercial"`
	Location         string        `json:"location,omitempty"`
	Budget           *Money        `json:"budget,omitempty"`
	Status           ProjectStatus `json:"status" enum:"active,paused,completed,cancelled"`
	StartDate        *time.Time    `json:"start_date,omitempty"`
	EndDate          *time.Time    `json:"end_date,omitempty"`
	BriefDistributed bool          `json:"brief_distributed"`
	Version          int64         `json:"version"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`

	Disciplines  []Discipline   `json:"disciplines"`
	Phases       []Phase        `json:"phases"`
	Approvals    []ApprovalItem `json:"approvals"`
	Appointments []Appointment  `json:"appointments"`
}

type Phase struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Status        PhaseStatus `json:"status" enum:"not_started,in_progress,completed"`
	Progress      int         `json:"progress"`
	StartDate     *time.Time  `json:"start_date,omitempty"`
	EndDate       *time.Time  `json:"end_date,omitempty"`
	EstimatedDays int         `json:"estimated_days"`
	DependsOn     []string    `json:"depends_on,omitempty"`
	Milestones    []Milestone `json:"milestones"`
}

type Milestone struct {
	ID            string          `json:"id"`
	PhaseID       string          `json:"phase_id"`
	Name          string          `json:"name"`
	Status        MilestoneStatus `json:"status" enum:"pending,completed"`
	DueDate       time.Time       `json:"due_date"`
	CompletedDate *time.Time      `json:"completed_date,omitempty"`
	InspectorRef  string          `json:"inspector_ref,omitempty"`
	EvidenceRefs  []string        `json:"evidence_refs,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// DocumentRef points at a file held by the document store; Name is matched
// against an approval's required documents.
type DocumentRef struct {
	Name string `json:"name"`
	Ref  string `json:"ref"`
}

type ApprovalItem struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Authority         string         `json:"authority"`
	Status            ApprovalStatus `json:"status" enum:"not_started,pending,approved,rejected"`
	SubmittedDate     *time.Time     `json:"submitted_date,omitempty"`
	ApprovalDate      *time.Time     `json:"approval_date,omitempty"`
	RejectedDate      *time.Time     `json:"rejected_date,omitempty"`
	EstimatedDays     int            `json:"estimated_days"`
	RequiredDocuments []string       `json:"required_documents"`
	Documents         []DocumentRef  `json:"documents,omitempty"`
	Feedback          string         `json:"feedback,omitempty"`
	Submissions       int            `json:"submissions"`
}

type Appointment struct {
	ID               string            `json:"id"`
	Discipline       Discipline        `json:"discipline"`
	ConsultantRef    string            `json:"consultant_ref"`
	ConsultantName   string            `json:"consultant_name,omitempty"`
	ContractValue    *Money            `json:"contract_value,omitempty"`
	ContractType     string            `json:"contract_type,omitempty"`
	AppointedAt      time.Time         `json:"appointed_at"`
	Status           AppointmentStatus `json:"status" enum:"appointed,active,completed,superseded"`
	ContractExecuted bool              `json:"contract_executed"`
	ApprovalScope    []string          `json:"approval_scope,omitempty"`
	Deliverables     []string          `json:"deliverables,omitempty"`
	SupersedesID     string            `json:"supersedes_id,omitempty"`
	SupersededByID   string            `json:"superseded_by_id,omitempty"`
	SupersededAt     *time.Time        `json:"superseded_at,omitempty"`
}

// Current reports whether the appointment still fills its discipline slot.
func (a Appointment) Current() bool {
	return a.Status != AppointmentSuperseded
}

type MonitoringReport struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Kind        string    `json:"kind"`
	Summary     string    `json:"summary"`
	PayloadJSON string    `json:"payload_json,omitempty"`
	ActorID     string    `json:"actor_id"`
	TS          time.Time `json:"ts"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Lookup helpers. Each returns a pointer into the project's slices so callers
// can mutate in place.

func (p *Project) Phase(id string) *Phase {
	for i := range p.Phases {
		if p.Phases[i].ID == id {
			return &p.Phases[i]
		}
	}
	return nil
}

func (p *Project) Milestone(id string) (*Phase, *Milestone) {
	for i := range p.Phases {
		ph := &p.Phases[i]
		for j := range ph.Milestones {
			if ph.Milestones[j].ID == id {
				return ph, &ph.Milestones[j]
			}
		}
	}
	return nil, nil
}

func (p *Project) Approval(id string) *ApprovalItem {
	for i := range p.Approvals {
		if p.Approvals[i].ID == id {
			return &p.Approvals[i]
		}
	}
	return nil
}

// CurrentAppointment returns the appointment filling the discipline, if any.
func (p *Project) CurrentAppointment(d Discipline) *Appointment {
	for i := range p.Appointments {
		if p.Appointments[i].Discipline == d && p.Appointments[i].Current() {
			return &p.Appointments[i]
		}
	}
	return nil
}

func (p *Project) Requires(d Discipline) bool {
	for _, req := range p.Disciplines {
		if req == d {
			return true
		}
	}
	return false
}
