package domain

import "time"

// ProjectSummary is the derived, read-only view of a project at a point in time.
type ProjectSummary struct {
	ProjectID         string                   `json:"project_id"`
	Title             string                   `json:"title"`
	Type              ProjectType              `json:"type"`
	Status            ProjectStatus            `json:"status"`
	Version           int64                    `json:"version"`
	AsOf              time.Time                `json:"as_of"`
	OverallProgress   int                      `json:"overall_progress"`
	Phases            []PhaseSummary           `json:"phases"`
	Approvals         []ApprovalSummary        `json:"approvals"`
	AppointmentMatrix AppointmentMatrixSummary `json:"appointment_matrix"`
	ReadyForApprovals bool                     `json:"ready_for_approvals"`
}

type PhaseSummary struct {
	ID                   string      `json:"id"`
	Name                 string      `json:"name"`
	Status               PhaseStatus `json:"status"`
	EffectiveStatus      PhaseStatus `json:"effective_status" enum:"not_started,in_progress,completed,blocked,delayed"`
	Progress             int         `json:"progress"`
	Blocked              bool        `json:"blocked"`
	BlockingDependencies []string    `json:"blocking_dependencies"`
	Delayed              bool        `json:"delayed"`
	CompletedMilestones  int         `json:"completed_milestones"`
	TotalMilestones      int         `json:"total_milestones"`
	OverdueMilestones    []string    `json:"overdue_milestones"`
	StartDate            *time.Time  `json:"start_date,omitempty"`
	EndDate              *time.Time  `json:"end_date,omitempty"`
	ProjectedEndDate     *time.Time  `json:"projected_end_date,omitempty"`
}

type ApprovalSummary struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Authority        string         `json:"authority"`
	Status           ApprovalStatus `json:"status"`
	SubmittedDate    *time.Time     `json:"submitted_date,omitempty"`
	ApprovalDate     *time.Time     `json:"approval_date,omitempty"`
	ProjectedDate    *time.Time     `json:"projected_date,omitempty"`
	Progress         int            `json:"progress"`
	Overdue          bool           `json:"overdue"`
	MissingDocuments []string       `json:"missing_documents"`
}

type DisciplineSlot struct {
	Discipline       Discipline `json:"discipline"`
	Filled           bool       `json:"filled"`
	AppointmentID    string     `json:"appointment_id,omitempty"`
	ConsultantRef    string     `json:"consultant_ref,omitempty"`
	ConsultantName   string     `json:"consultant_name,omitempty"`
	ContractExecuted bool       `json:"contract_executed"`
}

type AppointmentMatrixSummary struct {
	Slots                []DisciplineSlot `json:"slots"`
	RequiredCount        int              `json:"required_count"`
	AppointedCount       int              `json:"appointed_count"`
	CompletionPercentage int              `json:"completion_percentage"`
	AllAppointed         bool             `json:"all_appointed"`
	AllContractsExecuted bool             `json:"all_contracts_executed"`
	BriefDistributed     bool             `json:"brief_distributed"`
	ReadyForApprovals    bool             `json:"ready_for_approvals"`
}
