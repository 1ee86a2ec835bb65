package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"siteline/internal/domain"
)

const projectColumns = `id,title,type,location,budget_amount,budget_currency,status,start_date,end_date,brief_distributed,version,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(s scanner) (domain.Project, error) {
	var (
		p                domain.Project
		amount           sql.NullInt64
		currency         sql.NullString
		start, end       sql.NullString
		created, updated string
		brief            int
	)
	if err := s.Scan(&p.ID, &p.Title, &p.Type, &p.Location, &amount, &currency, &p.Status, &start, &end, &brief, &p.Version, &created, &updated); err != nil {
		return p, err
	}
	if amount.Valid {
		p.Budget = &domain.Money{Amount: amount.Int64, Currency: currency.String}
	}
	p.BriefDistributed = brief != 0
	var err error
	if p.StartDate, err = parseTimePtr(start); err != nil {
		return p, err
	}
	if p.EndDate, err = parseTimePtr(end); err != nil {
		return p, err
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return p, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return p, err
	}
	return p, nil
}

// GetProject loads the full project aggregate from one snapshot, so the
// header version always matches the child rows.
func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	return loadProject(ctx, tx, id)
}

// GetProjectTx loads the full project aggregate inside tx.
func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return loadProject(ctx, tx, id)
}

func loadProject(ctx context.Context, q queryer, id string) (domain.Project, error) {
	p, err := scanProject(q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return p, domain.NotFoundError{Kind: "project", ID: id}
	}
	if err != nil {
		return p, err
	}
	if p.Disciplines, err = loadDisciplines(ctx, q, id); err != nil {
		return p, fmt.Errorf("load disciplines: %w", err)
	}
	if p.Phases, err = loadPhases(ctx, q, id); err != nil {
		return p, fmt.Errorf("load phases: %w", err)
	}
	if p.Approvals, err = loadApprovals(ctx, q, id); err != nil {
		return p, fmt.Errorf("load approvals: %w", err)
	}
	if p.Appointments, err = loadAppointments(ctx, q, id); err != nil {
		return p, fmt.Errorf("load appointments: %w", err)
	}
	return p, nil
}

func loadDisciplines(ctx context.Context, q queryer, projectID string) ([]domain.Discipline, error) {
	rows, err := q.QueryContext(ctx, `SELECT discipline FROM project_disciplines WHERE project_id=? ORDER BY position`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Discipline{}
	for rows.Next() {
		var d domain.Discipline
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func loadPhases(ctx context.Context, q queryer, projectID string) ([]domain.Phase, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,name,status,progress,start_date,end_date,estimated_days FROM phases WHERE project_id=? ORDER BY position`, projectID)
	if err != nil {
		return nil, err
	}
	var phases []domain.Phase
	index := map[string]int{}
	for rows.Next() {
		var (
			ph         domain.Phase
			start, end sql.NullString
		)
		if err := rows.Scan(&ph.ID, &ph.Name, &ph.Status, &ph.Progress, &start, &end, &ph.EstimatedDays); err != nil {
			rows.Close()
			return nil, err
		}
		if ph.StartDate, err = parseTimePtr(start); err != nil {
			rows.Close()
			return nil, err
		}
		if ph.EndDate, err = parseTimePtr(end); err != nil {
			rows.Close()
			return nil, err
		}
		index[ph.ID] = len(phases)
		phases = append(phases, ph)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	deps, err := q.QueryContext(ctx, `SELECT phase_id,depends_on FROM phase_dependencies WHERE project_id=? ORDER BY phase_id, position`, projectID)
	if err != nil {
		return nil, err
	}
	for deps.Next() {
		var phaseID, dep string
		if err := deps.Scan(&phaseID, &dep); err != nil {
			deps.Close()
			return nil, err
		}
		if i, ok := index[phaseID]; ok {
			phases[i].DependsOn = append(phases[i].DependsOn, dep)
		}
	}
	deps.Close()
	if err := deps.Err(); err != nil {
		return nil, err
	}

	ms, err := q.QueryContext(ctx, `SELECT id,phase_id,name,status,due_date,completed_date,inspector_ref,evidence_json,notes,created_at FROM milestones WHERE project_id=? ORDER BY position`, projectID)
	if err != nil {
		return nil, err
	}
	defer ms.Close()
	for ms.Next() {
		var (
			m            domain.Milestone
			due, created string
			completed    sql.NullString
			evidence     string
		)
		if err := ms.Scan(&m.ID, &m.PhaseID, &m.Name, &m.Status, &due, &completed, &m.InspectorRef, &evidence, &m.Notes, &created); err != nil {
			return nil, err
		}
		if m.DueDate, err = parseTime(due); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if m.CompletedDate, err = parseTimePtr(completed); err != nil {
			return nil, err
		}
		if err := decodeJSON(evidence, &m.EvidenceRefs); err != nil {
			return nil, fmt.Errorf("milestone %s evidence: %w", m.ID, err)
		}
		if i, ok := index[m.PhaseID]; ok {
			phases[i].Milestones = append(phases[i].Milestones, m)
		}
	}
	return phases, ms.Err()
}

func loadApprovals(ctx context.Context, q queryer, projectID string) ([]domain.ApprovalItem, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,name,authority,status,submitted_date,approval_date,rejected_date,estimated_days,required_docs_json,documents_json,feedback,submissions FROM approvals WHERE project_id=? ORDER BY position`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ApprovalItem
	for rows.Next() {
		var (
			a                             domain.ApprovalItem
			submitted, approved, rejected sql.NullString
			required, docs                string
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Authority, &a.Status, &submitted, &approved, &rejected, &a.EstimatedDays, &required, &docs, &a.Feedback, &a.Submissions); err != nil {
			return nil, err
		}
		if a.SubmittedDate, err = parseTimePtr(submitted); err != nil {
			return nil, err
		}
		if a.ApprovalDate, err = parseTimePtr(approved); err != nil {
			return nil, err
		}
		if a.RejectedDate, err = parseTimePtr(rejected); err != nil {
			return nil, err
		}
		if err := decodeJSON(required, &a.RequiredDocuments); err != nil {
			return nil, fmt.Errorf("approval %s required documents: %w", a.ID, err)
		}
		if err := decodeJSON(docs, &a.Documents); err != nil {
			return nil, fmt.Errorf("approval %s documents: %w", a.ID, err)
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func loadAppointments(ctx context.Context, q queryer, projectID string) ([]domain.Appointment, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,discipline,consultant_ref,consultant_name,contract_amount,contract_currency,contract_type,appointed_at,status,contract_executed,approval_scope_json,deliverables_json,supersedes_id,superseded_by_id,superseded_at FROM appointments WHERE project_id=? ORDER BY seq`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Appointment
	for rows.Next() {
		var (
			a                        domain.Appointment
			amount                   sql.NullInt64
			currency                 sql.NullString
			appointed                string
			executed                 int
			scope, deliverables      string
			supersedes, supersededBy sql.NullString
			supersededAt             sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Discipline, &a.ConsultantRef, &a.ConsultantName, &amount, &currency, &a.ContractType, &appointed, &a.Status, &executed, &scope, &deliverables, &supersedes, &supersededBy, &supersededAt); err != nil {
			return nil, err
		}
		if amount.Valid {
			a.ContractValue = &domain.Money{Amount: amount.Int64, Currency: currency.String}
		}
		if a.AppointedAt, err = parseTime(appointed); err != nil {
			return nil, err
		}
		if a.SupersededAt, err = parseTimePtr(supersededAt); err != nil {
			return nil, err
		}
		a.ContractExecuted = executed != 0
		a.SupersedesID = supersedes.String
		a.SupersededByID = supersededBy.String
		if err := decodeJSON(scope, &a.ApprovalScope); err != nil {
			return nil, fmt.Errorf("appointment %s scope: %w", a.ID, err)
		}
		if err := decodeJSON(deliverables, &a.Deliverables); err != nil {
			return nil, fmt.Errorf("appointment %s deliverables: %w", a.ID, err)
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// InsertProject writes a freshly instantiated project at version 1.
func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p *domain.Project) error {
	var amount, currency any
	if p.Budget != nil {
		amount, currency = p.Budget.Amount, p.Budget.Currency
	}
	p.Version = 1
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Title, p.Type, p.Location, amount, currency, p.Status, fmtTimePtr(p.StartDate), fmtTimePtr(p.EndDate),
		boolInt(p.BriefDistributed), p.Version, fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt)); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	for i, d := range p.Disciplines {
		if _, err := tx.ExecContext(ctx, `INSERT INTO project_disciplines(project_id,discipline,position) VALUES (?,?,?)`, p.ID, d, i); err != nil {
			return fmt.Errorf("insert discipline %s: %w", d, err)
		}
	}
	if err := writeChildren(ctx, tx, p); err != nil {
		return err
	}
	for _, ph := range p.Phases {
		for i, dep := range ph.DependsOn {
			if _, err := tx.ExecContext(ctx, `INSERT INTO phase_dependencies(project_id,phase_id,depends_on,position) VALUES (?,?,?,?)`, p.ID, ph.ID, dep, i); err != nil {
				return fmt.Errorf("insert dependency %s->%s: %w", ph.ID, dep, err)
			}
		}
	}
	return nil
}

// SaveProject persists the mutable state of a loaded project. The write only
// lands if the stored version still equals p.Version; on success p.Version is
// advanced.
func (r Repo) SaveProject(ctx context.Context, tx *sql.Tx, p *domain.Project) error {
	var amount, currency any
	if p.Budget != nil {
		amount, currency = p.Budget.Amount, p.Budget.Currency
	}
	res, err := tx.ExecContext(ctx, `UPDATE projects SET title=?, location=?, budget_amount=?, budget_currency=?, status=?, start_date=?, end_date=?, brief_distributed=?, updated_at=?, version=version+1 WHERE id=? AND version=?`,
		p.Title, p.Location, amount, currency, p.Status, fmtTimePtr(p.StartDate), fmtTimePtr(p.EndDate),
		boolInt(p.BriefDistributed), fmtTime(p.UpdatedAt), p.ID, p.Version)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var actual int64
		err := tx.QueryRowContext(ctx, `SELECT version FROM projects WHERE id=?`, p.ID).Scan(&actual)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFoundError{Kind: "project", ID: p.ID}
		}
		if err != nil {
			return err
		}
		return domain.ConcurrencyConflictError{ProjectID: p.ID, Expected: p.Version, Actual: actual}
	}
	if err := writeChildren(ctx, tx, p); err != nil {
		return err
	}
	p.Version++
	return nil
}

// writeChildren upserts phases, milestones, approvals and appointments.
// Appointments are written in slice order so a superseded row is released
// from the current-slot index before its replacement is inserted.
func writeChildren(ctx context.Context, tx *sql.Tx, p *domain.Project) error {
	for i, ph := range p.Phases {
		if _, err := tx.ExecContext(ctx, `INSERT INTO phases(project_id,id,position,name,status,progress,start_date,end_date,estimated_days) VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(project_id,id) DO UPDATE SET status=excluded.status, progress=excluded.progress, start_date=excluded.start_date, end_date=excluded.end_date`,
			p.ID, ph.ID, i, ph.Name, ph.Status, ph.Progress, fmtTimePtr(ph.StartDate), fmtTimePtr(ph.EndDate), ph.EstimatedDays); err != nil {
			return fmt.Errorf("write phase %s: %w", ph.ID, err)
		}
	}
	pos := 0
	for _, ph := range p.Phases {
		for _, m := range ph.Milestones {
			evidence, err := encodeJSON(nonNil(m.EvidenceRefs))
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO milestones(project_id,id,phase_id,position,name,status,due_date,completed_date,inspector_ref,evidence_json,notes,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(project_id,id) DO UPDATE SET status=excluded.status, completed_date=excluded.completed_date, inspector_ref=excluded.inspector_ref, evidence_json=excluded.evidence_json, notes=excluded.notes`,
				p.ID, m.ID, ph.ID, pos, m.Name, m.Status, fmtTime(m.DueDate), fmtTimePtr(m.CompletedDate), m.InspectorRef, evidence, m.Notes, fmtTime(m.CreatedAt)); err != nil {
				return fmt.Errorf("write milestone %s: %w", m.ID, err)
			}
			pos++
		}
	}
	for i, a := range p.Approvals {
		required, err := encodeJSON(nonNil(a.RequiredDocuments))
		if err != nil {
			return err
		}
		docs := a.Documents
		if docs == nil {
			docs = []domain.DocumentRef{}
		}
		docsJSON, err := encodeJSON(docs)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO approvals(project_id,id,position,name,authority,status,submitted_date,approval_date,rejected_date,estimated_days,required_docs_json,documents_json,feedback,submissions) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(project_id,id) DO UPDATE SET status=excluded.status, submitted_date=excluded.submitted_date, approval_date=excluded.approval_date, rejected_date=excluded.rejected_date, documents_json=excluded.documents_json, feedback=excluded.feedback, submissions=excluded.submissions`,
			p.ID, a.ID, i, a.Name, a.Authority, a.Status, fmtTimePtr(a.SubmittedDate), fmtTimePtr(a.ApprovalDate), fmtTimePtr(a.RejectedDate),
			a.EstimatedDays, required, docsJSON, a.Feedback, a.Submissions); err != nil {
			return fmt.Errorf("write approval %s: %w", a.ID, err)
		}
	}
	for i, a := range p.Appointments {
		var amount, currency any
		if a.ContractValue != nil {
			amount, currency = a.ContractValue.Amount, a.ContractValue.Currency
		}
		scope, err := encodeJSON(nonNil(a.ApprovalScope))
		if err != nil {
			return err
		}
		deliverables, err := encodeJSON(nonNil(a.Deliverables))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO appointments(project_id,id,seq,discipline,consultant_ref,consultant_name,contract_amount,contract_currency,contract_type,appointed_at,status,contract_executed,approval_scope_json,deliverables_json,supersedes_id,superseded_by_id,superseded_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(project_id,id) DO UPDATE SET status=excluded.status, contract_executed=excluded.contract_executed, superseded_by_id=excluded.superseded_by_id, superseded_at=excluded.superseded_at`,
			p.ID, a.ID, i, a.Discipline, a.ConsultantRef, a.ConsultantName, amount, currency, a.ContractType, fmtTime(a.AppointedAt),
			a.Status, boolInt(a.ContractExecuted), scope, deliverables, nullable(a.SupersedesID), nullable(a.SupersededByID), fmtTimePtr(a.SupersededAt)); err != nil {
			return fmt.Errorf("write appointment %s: %w", a.ID, err)
		}
	}
	return nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
