package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/migrate"
	"siteline/internal/repo"
)

// OpenWorkspace opens the workspace database and brings its schema up to date.
func OpenWorkspace(ctx context.Context, workspace string, log logrus.FieldLogger) (*sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if _, err := migrate.Migrate(ctx, conn, log); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// ResolveCatalog returns the workspace's siteline.yml when present, otherwise
// the built-in catalog.
func ResolveCatalog(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", config.Path(workspace), err)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// ResolveProject picks the project to operate on: the override when given,
// otherwise the only project in the workspace.
func ResolveProject(ctx context.Context, r repo.Repo, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	projects, err := r.ListProjects(ctx, repo.ProjectFilter{})
	if err != nil {
		return "", err
	}
	switch len(projects) {
	case 0:
		return "", fmt.Errorf("no projects in workspace; create one with 'sl project create'")
	case 1:
		return projects[0].ID, nil
	default:
		return "", fmt.Errorf("multiple projects exist; specify --project")
	}
}
