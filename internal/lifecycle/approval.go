package lifecycle

import (
	"math"
	"time"

	"siteline/internal/domain"
)

// MissingDocuments returns the required document names not covered by docs.
func MissingDocuments(required []string, docs []domain.DocumentRef) []string {
	have := make(map[string]bool, len(docs))
	for _, d := range docs {
		if d.Ref != "" {
			have[d.Name] = true
		}
	}
	var missing []string
	for _, req := range required {
		if !have[req] {
			missing = append(missing, req)
		}
	}
	return missing
}

// SubmitApproval moves not_started (or rejected, as a resubmission) to pending.
// Nothing is recorded unless every required document is attached.
func SubmitApproval(p *domain.Project, approvalID string, submitted time.Time, docs []domain.DocumentRef) (*domain.ApprovalItem, error) {
	a := p.Approval(approvalID)
	if a == nil {
		return nil, domain.NotFoundError{Kind: "approval", ID: approvalID}
	}
	if a.Status != domain.ApprovalNotStarted && a.Status != domain.ApprovalRejected {
		return nil, domain.InvalidTransitionError{Kind: "approval", ID: a.ID, From: string(a.Status), Command: "submit"}
	}
	if submitted.IsZero() {
		return nil, domain.ValidationError{Field: "submitted_date", Reason: "required"}
	}
	if a.RejectedDate != nil && submitted.Before(*a.RejectedDate) {
		return nil, domain.ValidationError{Field: "submitted_date", Reason: "precedes previous rejection"}
	}
	if missing := MissingDocuments(a.RequiredDocuments, docs); len(missing) > 0 {
		return nil, domain.MissingDocumentsError{ApprovalID: a.ID, Missing: missing}
	}
	at := submitted.UTC()
	a.Status = domain.ApprovalPending
	a.SubmittedDate = &at
	a.ApprovalDate = nil
	a.RejectedDate = nil
	a.Feedback = ""
	a.Documents = append([]domain.DocumentRef(nil), docs...)
	a.Submissions++
	return a, nil
}

// DecideApproval resolves a pending approval.
func DecideApproval(p *domain.Project, approvalID string, approved bool, decided time.Time, feedback string) (*domain.ApprovalItem, error) {
	a := p.Approval(approvalID)
	if a == nil {
		return nil, domain.NotFoundError{Kind: "approval", ID: approvalID}
	}
	command := "reject"
	if approved {
		command = "approve"
	}
	if a.Status != domain.ApprovalPending || a.SubmittedDate == nil {
		return nil, domain.InvalidTransitionError{Kind: "approval", ID: a.ID, From: string(a.Status), Command: command}
	}
	if decided.IsZero() {
		return nil, domain.ValidationError{Field: "decision_date", Reason: "required"}
	}
	if decided.Before(*a.SubmittedDate) {
		return nil, domain.ValidationError{Field: "decision_date", Reason: "precedes submission"}
	}
	at := decided.UTC()
	a.Feedback = feedback
	if approved {
		a.Status = domain.ApprovalApproved
		a.ApprovalDate = &at
	} else {
		a.Status = domain.ApprovalRejected
		a.RejectedDate = &at
	}
	return a, nil
}

// ProjectedApprovalDate is the actual approval date when known, otherwise
// the latest submission + estimate. Nil before submission.
func ProjectedApprovalDate(a domain.ApprovalItem) *time.Time {
	if a.ApprovalDate != nil {
		d := *a.ApprovalDate
		return &d
	}
	if a.SubmittedDate == nil {
		return nil
	}
	d := addDays(*a.SubmittedDate, a.EstimatedDays)
	return &d
}

// ApprovalProgress is the elapsed share of the estimate, clamped to [0,100].
func ApprovalProgress(a domain.ApprovalItem, now time.Time) int {
	switch a.Status {
	case domain.ApprovalApproved:
		return 100
	case domain.ApprovalPending:
	default:
		return 0
	}
	if a.SubmittedDate == nil {
		return 0
	}
	if a.EstimatedDays <= 0 {
		return 100
	}
	elapsed := now.Sub(*a.SubmittedDate).Hours() / 24
	pct := math.Round(elapsed / float64(a.EstimatedDays) * 100)
	return int(math.Max(0, math.Min(100, pct)))
}

// ApprovalOverdue is true while pending past the projected date.
func ApprovalOverdue(a domain.ApprovalItem, now time.Time) bool {
	if a.Status != domain.ApprovalPending {
		return false
	}
	projected := ProjectedApprovalDate(a)
	return projected != nil && now.After(*projected)
}
