package repo_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/domain"
	"siteline/internal/lifecycle"
	"siteline/internal/migrate"
	"siteline/internal/repo"
)

func newRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}, ctx
}

func seed(t *testing.T, r repo.Repo, ctx context.Context) domain.Project {
	t.Helper()
	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	p, err := lifecycle.Instantiate(config.Default(), lifecycle.Plan{
		ID:        "p-1",
		Title:     "Harbour Strata",
		Type:      domain.ProjectStrata,
		Budget:    &domain.Money{Amount: 250000000, Currency: "USD"},
		StartDate: &start,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.InsertProject(ctx, tx, &p); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := r.InsertCatalogSnapshot(ctx, tx, p.ID, config.Default(), p.CreatedAt); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return p
}

func save(ctx context.Context, r repo.Repo, p *domain.Project) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.SaveProject(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

func TestProjectRoundTrip(t *testing.T) {
	r, ctx := newRepo(t)
	want := seed(t, r, ctx)
	got, err := r.GetProject(ctx, "p-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != want.Title || got.Budget == nil || got.Budget.Amount != 250000000 || !got.StartDate.Equal(*want.StartDate) {
		t.Fatalf("header mismatch: %+v", got)
	}
	if len(got.Phases) != len(want.Phases) || len(got.Approvals) != len(want.Approvals) || len(got.Disciplines) != len(want.Disciplines) {
		t.Fatalf("collections mismatch: phases %d/%d approvals %d/%d", len(got.Phases), len(want.Phases), len(got.Approvals), len(want.Approvals))
	}
	for i := range want.Phases {
		if got.Phases[i].ID != want.Phases[i].ID || len(got.Phases[i].Milestones) != len(want.Phases[i].Milestones) {
			t.Fatalf("phase %d mismatch: %+v", i, got.Phases[i])
		}
		if len(got.Phases[i].DependsOn) != len(want.Phases[i].DependsOn) {
			t.Fatalf("phase %s dependencies mismatch", want.Phases[i].ID)
		}
	}
	if _, err := r.GetProject(ctx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSaveProjectPersistsTransitions(t *testing.T) {
	r, ctx := newRepo(t)
	seed(t, r, ctx)
	p, err := r.GetProject(ctx, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	first := p.Phases[0].Milestones[0]
	done := time.Date(2024, 2, 3, 10, 30, 0, 0, time.UTC)
	if _, err := lifecycle.CompleteMilestone(&p, lifecycle.MilestoneCompletion{MilestoneID: first.ID, CompletedDate: done, EvidenceRefs: []string{"ev-1"}}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := lifecycle.Appoint(&p, lifecycle.Engagement{ID: "a-1", Discipline: p.Disciplines[0], ConsultantRef: "c-1", AppointedAt: done}); err != nil {
		t.Fatalf("appoint: %v", err)
	}
	if err := save(ctx, r, &p); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := r.GetProject(ctx, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	m := got.Phases[0].Milestones[0]
	if got.Version != 2 || m.Status != domain.MilestoneCompleted || !m.CompletedDate.Equal(done) || len(m.EvidenceRefs) != 1 {
		t.Fatalf("milestone not persisted: version=%d %+v", got.Version, m)
	}
	if got.Phases[0].Status != domain.PhaseInProgress || got.Phases[0].Progress == 0 {
		t.Fatalf("phase not persisted: %+v", got.Phases[0])
	}
	if len(got.Appointments) != 1 || got.Appointments[0].ID != "a-1" {
		t.Fatalf("appointment not persisted: %+v", got.Appointments)
	}
}

func TestSaveProjectRejectsStaleVersion(t *testing.T) {
	r, ctx := newRepo(t)
	seed(t, r, ctx)
	a, err := r.GetProject(ctx, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.GetProject(ctx, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	a.BriefDistributed = true
	if err := save(ctx, r, &a); err != nil {
		t.Fatalf("first save: %v", err)
	}
	b.Title = "stale"
	err = save(ctx, r, &b)
	var conflict domain.ConcurrencyConflictError
	if !errors.As(err, &conflict) || conflict.Expected != 1 || conflict.Actual != 2 {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, _ := r.GetProject(ctx, "p-1")
	if got.Title == "stale" || !got.BriefDistributed {
		t.Fatalf("stale save leaked: %+v", got)
	}
}

func TestGetProjectReadsOneSnapshot(t *testing.T) {
	r, ctx := newRepo(t)
	seed(t, r, ctx)
	const saves = 25
	errc := make(chan error, 1)
	go func() {
		for i := 0; i < saves; i++ {
			p, err := r.GetProject(ctx, "p-1")
			if err != nil {
				errc <- err
				return
			}
			p.Approvals[0].Feedback = fmt.Sprintf("v%d", p.Version+1)
			if err := save(ctx, r, &p); err != nil {
				errc <- err
				return
			}
		}
		errc <- nil
	}()
	for {
		select {
		case err := <-errc:
			if err != nil {
				t.Fatalf("writer: %v", err)
			}
			return
		default:
		}
		got, err := r.GetProject(ctx, "p-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		want := fmt.Sprintf("v%d", got.Version)
		if got.Version == 1 {
			want = ""
		}
		if got.Approvals[0].Feedback != want {
			t.Fatalf("version %d read with approval feedback %q", got.Version, got.Approvals[0].Feedback)
		}
	}
}

func TestCurrentAppointmentIndex(t *testing.T) {
	r, ctx := newRepo(t)
	seed(t, r, ctx)
	p, err := r.GetProject(ctx, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	d := p.Disciplines[0]
	at := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	p.Appointments = append(p.Appointments,
		domain.Appointment{ID: "a-1", Discipline: d, ConsultantRef: "c-1", AppointedAt: at, Status: domain.AppointmentAppointed},
		domain.Appointment{ID: "a-2", Discipline: d, ConsultantRef: "c-2", AppointedAt: at, Status: domain.AppointmentAppointed},
	)
	if err := save(ctx, r, &p); err == nil {
		t.Fatalf("expected unique index to refuse two current appointments for %s", d)
	}
}

func TestListProjectsAndCatalog(t *testing.T) {
	r, ctx := newRepo(t)
	seed(t, r, ctx)
	list, err := r.ListProjects(ctx, repo.ProjectFilter{Type: domain.ProjectStrata})
	if err != nil || len(list) != 1 || list[0].ID != "p-1" {
		t.Fatalf("list: %v %+v", err, list)
	}
	list, err = r.ListProjects(ctx, repo.ProjectFilter{Status: domain.ProjectCancelled})
	if err != nil || len(list) != 0 {
		t.Fatalf("status filter: %v %+v", err, list)
	}
	cfg, err := r.GetCatalogSnapshot(ctx, "p-1")
	if err != nil || len(cfg.ProjectTypes) == 0 {
		t.Fatalf("snapshot: %v", err)
	}
}
