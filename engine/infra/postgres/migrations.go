package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"
	"github.com/taskdeck/taskdeck/pkg/logger"

	// database/sql driver used by goose.
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var embedded embed.FS

// MigrationState describes one embedded migration and whether it ran.
type MigrationState struct {
	Version int64
	Source  string
	Applied bool
}

type migrator struct {
	db       *sql.DB
	provider *goose.Provider
}

// openMigrator prepares a goose provider over the embedded migrations. The
// session locker serializes replicas that migrate on startup.
func openMigrator(dsn string) (*migrator, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open migration db: %w", err)
	}
	dir, err := fs.Sub(embedded, "migrations")
	if err != nil {
		db.Close()
		return nil, err
	}
	locker, err := lock.NewPostgresSessionLocker(lock.WithLockTimeout(5, 9))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migration locker: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, dir, goose.WithSessionLocker(locker))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migration provider: %w", err)
	}
	return &migrator{db: db, provider: provider}, nil
}

func (m *migrator) Close() {
	_ = m.provider.Close()
}

// ApplyMigrations brings the schema up to date.
func ApplyMigrations(ctx context.Context, dsn string) error {
	m, err := openMigrator(dsn)
	if err != nil {
		return err
	}
	defer m.Close()
	log := logger.FromContext(ctx)
	start := time.Now()
	results, err := m.provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("postgres: migrate up: %w", err)
	}
	for _, r := range results {
		log.Debug("Migration applied", "version", r.Source.Version, "duration", r.Duration)
	}
	log.Info("Database schema up to date", "applied", len(results), "took", time.Since(start))
	return nil
}

// MigrationStatus lists every embedded migration in version order.
func MigrationStatus(ctx context.Context, dsn string) ([]MigrationState, error) {
	m, err := openMigrator(dsn)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: migration status: %w", err)
	}
	out := make([]MigrationState, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, MigrationState{
			Version: s.Source.Version,
			Source:  s.Source.Path,
			Applied: s.State == goose.StateApplied,
		})
	}
	return out, nil
}
