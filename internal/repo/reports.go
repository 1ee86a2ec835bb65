package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"siteline/internal/domain"
)

func (r Repo) InsertMonitoringReportTx(ctx context.Context, tx *sql.Tx, rep domain.MonitoringReport) error {
	payload := rep.PayloadJSON
	if payload == "" {
		payload = "{}"
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO monitoring_reports(id,project_id,kind,summary,payload_json,actor_id,ts) VALUES (?,?,?,?,?,?,?)`,
		rep.ID, rep.ProjectID, rep.Kind, rep.Summary, payload, rep.ActorID, fmtTime(rep.TS))
	return err
}

// ListMonitoringReports returns the project's reports, newest first.
func (r Repo) ListMonitoringReports(ctx context.Context, projectID, kind string, limit int) ([]domain.MonitoringReport, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"project_id=?"}
	args := []any{projectID}
	if kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, kind)
	}
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,kind,summary,payload_json,actor_id,ts FROM monitoring_reports WHERE `+
		strings.Join(clauses, " AND ")+` ORDER BY ts DESC, id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.MonitoringReport{}
	for rows.Next() {
		var (
			rep domain.MonitoringReport
			ts  string
		)
		if err := rows.Scan(&rep.ID, &rep.ProjectID, &rep.Kind, &rep.Summary, &rep.PayloadJSON, &rep.ActorID, &ts); err != nil {
			return nil, err
		}
		if rep.TS, err = parseTime(ts); err != nil {
			return nil, err
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}

// EventFilter narrows LatestEvents. Cursor pages backwards from an event id.
type EventFilter struct {
	ProjectID  string
	Type       string
	EntityKind string
	EntityID   string
	Cursor     int64
	Limit      int
}

// LatestEvents returns matching events, newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilter) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var (
			e                   domain.Event
			projectID, entityID sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &projectID, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.ProjectID = projectID.String
		e.EntityID = entityID.String
		res = append(res, e)
	}
	return res, rows.Err()
}
