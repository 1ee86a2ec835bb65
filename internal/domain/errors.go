package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode identifies a rejection class. Codes are stable and surface verbatim
// in API responses.
type ErrorCode string

const (
	CodeValidation               ErrorCode = "validation_error"
	CodeInvalidTransition        ErrorCode = "invalid_transition"
	CodeDependencyUnmet          ErrorCode = "dependency_unmet"
	CodeMissingDocuments         ErrorCode = "missing_documents"
	CodeDisciplineNotRequired    ErrorCode = "discipline_not_required"
	CodeAlreadyAppointed         ErrorCode = "already_appointed"
	CodeNoExistingAppointment    ErrorCode = "no_existing_appointment"
	CodeForceCompletionForbidden ErrorCode = "force_completion_forbidden"
	CodeConcurrencyConflict      ErrorCode = "concurrency_conflict"
	CodeNotFound                 ErrorCode = "not_found"
)

var ErrNotFound = errors.New("not found")

// CodedError is implemented by every domain rejection.
type CodedError interface {
	error
	Code() ErrorCode
	Details() map[string]any
}

// NotFoundError names the missing entity and unwraps to ErrNotFound.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string           { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }
func (e NotFoundError) Unwrap() error           { return ErrNotFound }
func (e NotFoundError) Code() ErrorCode         { return CodeNotFound }
func (e NotFoundError) Details() map[string]any { return map[string]any{"kind": e.Kind, "id": e.ID} }

type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
func (e ValidationError) Code() ErrorCode { return CodeValidation }
func (e ValidationError) Details() map[string]any {
	return map[string]any{"field": e.Field, "reason": e.Reason}
}

type InvalidTransitionError struct {
	Kind    string
	ID      string
	From    string
	Command string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s %s: %s not allowed from %s", e.Kind, e.ID, e.Command, e.From)
}
func (e InvalidTransitionError) Code() ErrorCode { return CodeInvalidTransition }
func (e InvalidTransitionError) Details() map[string]any {
	return map[string]any{"kind": e.Kind, "id": e.ID, "from": e.From, "command": e.Command}
}

type DependencyUnmetError struct {
	PhaseID  string
	Blocking []string
}

func (e DependencyUnmetError) Error() string {
	return fmt.Sprintf("phase %s blocked by %s", e.PhaseID, strings.Join(e.Blocking, ", "))
}
func (e DependencyUnmetError) Code() ErrorCode { return CodeDependencyUnmet }
func (e DependencyUnmetError) Details() map[string]any {
	return map[string]any{"phase_id": e.PhaseID, "blocking_dependencies": e.Blocking}
}

type MissingDocumentsError struct {
	ApprovalID string
	Missing    []string
}

func (e MissingDocumentsError) Error() string {
	return fmt.Sprintf("approval %s missing documents: %s", e.ApprovalID, strings.Join(e.Missing, ", "))
}
func (e MissingDocumentsError) Code() ErrorCode { return CodeMissingDocuments }
func (e MissingDocumentsError) Details() map[string]any {
	return map[string]any{"approval_id": e.ApprovalID, "missing": e.Missing}
}

type DisciplineNotRequiredError struct {
	Discipline Discipline
}

func (e DisciplineNotRequiredError) Error() string {
	return fmt.Sprintf("discipline %s not required for this project", e.Discipline)
}
func (e DisciplineNotRequiredError) Code() ErrorCode { return CodeDisciplineNotRequired }
func (e DisciplineNotRequiredError) Details() map[string]any {
	return map[string]any{"discipline": e.Discipline}
}

type AlreadyAppointedError struct {
	Discipline    Discipline
	AppointmentID string
}

func (e AlreadyAppointedError) Error() string {
	return fmt.Sprintf("discipline %s already appointed (%s); use replace", e.Discipline, e.AppointmentID)
}
func (e AlreadyAppointedError) Code() ErrorCode { return CodeAlreadyAppointed }
func (e AlreadyAppointedError) Details() map[string]any {
	return map[string]any{"discipline": e.Discipline, "appointment_id": e.AppointmentID}
}

type NoExistingAppointmentError struct {
	Discipline Discipline
}

func (e NoExistingAppointmentError) Error() string {
	return fmt.Sprintf("discipline %s has no current appointment", e.Discipline)
}
func (e NoExistingAppointmentError) Code() ErrorCode { return CodeNoExistingAppointment }
func (e NoExistingAppointmentError) Details() map[string]any {
	return map[string]any{"discipline": e.Discipline}
}

type ForceCompletionForbiddenError struct {
	PhaseID    string
	Incomplete []string
}

func (e ForceCompletionForbiddenError) Error() string {
	return fmt.Sprintf("phase %s has %d incomplete milestones", e.PhaseID, len(e.Incomplete))
}
func (e ForceCompletionForbiddenError) Code() ErrorCode { return CodeForceCompletionForbidden }
func (e ForceCompletionForbiddenError) Details() map[string]any {
	return map[string]any{"phase_id": e.PhaseID, "incomplete_milestones": e.Incomplete}
}

type ConcurrencyConflictError struct {
	ProjectID string
	Expected  int64
	Actual    int64
}

func (e ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("project %s changed (expected version %d, found %d); reload and retry", e.ProjectID, e.Expected, e.Actual)
}
func (e ConcurrencyConflictError) Code() ErrorCode { return CodeConcurrencyConflict }
func (e ConcurrencyConflictError) Details() map[string]any {
	return map[string]any{"project_id": e.ProjectID, "expected_version": e.Expected, "actual_version": e.Actual}
}

// CodeOf returns the domain code of err, or "" for infrastructure errors.
func CodeOf(err error) ErrorCode {
	var ce CodedError
	if errors.As(err, &ce) {
		return ce.Code()
	}
	return ""
}
