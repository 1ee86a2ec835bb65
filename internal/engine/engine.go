package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"siteline/internal/config"
	"siteline/internal/domain"
	"siteline/internal/events"
	"siteline/internal/lifecycle"
	"siteline/internal/repo"
)

// Engine is the only mutation entry point for projects. Commands against the
// same project are serialized; different projects proceed in parallel.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	Log    logrus.FieldLogger

	// Optional collaborators. Nil means "trust the caller".
	Directory ConsultantDirectory
	Documents DocumentResolver

	locks    *projectLocks
	validate *validator.Validate
}

// Consultant holds the display fields denormalized onto an appointment.
type Consultant struct {
	Ref  string
	Name string
}

// ConsultantDirectory resolves a consultant reference to display fields.
type ConsultantDirectory interface {
	LookupConsultant(ctx context.Context, ref string) (Consultant, error)
}

// DocumentResolver confirms an opaque document reference exists in the
// document store.
type DocumentResolver interface {
	ResolveDocument(ctx context.Context, ref string) error
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Now:    time.Now,
		Log:    logrus.StandardLogger(),
		locks:  newProjectLocks(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) log() logrus.FieldLogger {
	if e.Log != nil {
		return e.Log
	}
	return logrus.StandardLogger()
}

// writer stamps events with the command's clock reading unless a writer clock
// was configured explicitly.
func (e Engine) writer(now time.Time) events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = func() time.Time { return now }
	}
	return w
}

// Meta is carried by every project command.
type Meta struct {
	ProjectID string `validate:"required"`
	ActorID   string `validate:"required"`
	// ExpectedVersion, when set, must equal the stored project version.
	ExpectedVersion *int64
}

var (
	defaultValidator     *validator.Validate
	defaultValidatorOnce sync.Once
)

func (e Engine) validator() *validator.Validate {
	if e.validate != nil {
		return e.validate
	}
	defaultValidatorOnce.Do(func() { defaultValidator = validator.New() })
	return defaultValidator
}

// check runs struct validation and converts the first failure into a
// domain.ValidationError.
func (e Engine) check(cmd any) error {
	err := e.validator().Struct(cmd)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return domain.ValidationError{Field: snake(fe.Field()), Reason: reason}
	}
	return domain.ValidationError{Field: "command", Reason: err.Error()}
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 && !unicode.IsUpper(rune(s[i-1])) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// change is what a command's apply step reports back for the audit log.
type change struct {
	Type       string
	EntityKind string
	EntityID   string
	Payload    events.Payload
}

type applyFunc func(p *domain.Project, now time.Time) (change, error)

type mutateOpts struct {
	command string
	// allowInactive lets status changes through on paused projects.
	allowInactive bool
}

// mutate runs one command: lock, load, check version, apply, persist, log the
// event, commit, and summarize. Nothing is written unless every step succeeds.
func (e Engine) mutate(ctx context.Context, meta Meta, opts mutateOpts, apply applyFunc) (domain.ProjectSummary, error) {
	log := e.log().WithFields(logrus.Fields{"project_id": meta.ProjectID, "command": opts.command, "actor_id": meta.ActorID})
	summary, err := e.mutateLocked(ctx, meta, opts, apply)
	if err != nil {
		log.WithField("code", domain.CodeOf(err)).WithError(err).Warn("command rejected")
		return domain.ProjectSummary{}, err
	}
	log.WithField("version", summary.Version).Info("command applied")
	return summary, nil
}

func (e Engine) mutateLocked(ctx context.Context, meta Meta, opts mutateOpts, apply applyFunc) (domain.ProjectSummary, error) {
	locks := e.locks
	if locks == nil {
		locks = sharedLocks
	}
	unlock, err := locks.acquire(ctx, meta.ProjectID)
	if err != nil {
		return domain.ProjectSummary{}, err
	}
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProjectSummary{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, meta.ProjectID)
	if err != nil {
		return domain.ProjectSummary{}, err
	}
	if meta.ExpectedVersion != nil && *meta.ExpectedVersion != p.Version {
		return domain.ProjectSummary{}, domain.ConcurrencyConflictError{ProjectID: p.ID, Expected: *meta.ExpectedVersion, Actual: p.Version}
	}
	if !opts.allowInactive {
		if err := lifecycle.EnsureActive(&p, opts.command); err != nil {
			return domain.ProjectSummary{}, err
		}
	}
	now := e.now()
	ch, err := apply(&p, now)
	if err != nil {
		return domain.ProjectSummary{}, err
	}
	p.UpdatedAt = now
	if err := e.Repo.SaveProject(ctx, tx, &p); err != nil {
		return domain.ProjectSummary{}, err
	}
	payload := ch.Payload
	if payload == nil {
		payload = events.Payload{}
	}
	payload["version"] = p.Version
	if err := e.writer(now).Append(ctx, tx, events.Record{
		Type:       ch.Type,
		ProjectID:  p.ID,
		EntityKind: ch.EntityKind,
		EntityID:   ch.EntityID,
		ActorID:    meta.ActorID,
		Payload:    payload,
	}); err != nil {
		return domain.ProjectSummary{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProjectSummary{}, fmt.Errorf("commit: %w", err)
	}
	return lifecycle.Summarize(&p, now), nil
}

// projectLocks hands out one single-slot semaphore per project id so waiting
// callers can give up when their context ends.
type projectLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

var sharedLocks = newProjectLocks()

func newProjectLocks() *projectLocks {
	return &projectLocks{slots: map[string]chan struct{}{}}
}

func (l *projectLocks) acquire(ctx context.Context, projectID string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[projectID]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[projectID] = slot
	}
	l.mu.Unlock()
	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for project %s: %w", projectID, ctx.Err())
	}
}
