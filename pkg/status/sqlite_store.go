package status

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/openboots/openboots/pkg/manifest"
	"github.com/openboots/openboots/pkg/telemetry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store on a local SQLite database with a JSON file
// mirror. The mirror is rewritten atomically after every database write so
// both representations stay consistent across a crash.
type SQLiteStore struct {
	db     *sql.DB
	mirror *Mirror
	log    *telemetry.Logger
}

// NewSQLiteStore opens the database at dbPath, runs migrations, and mirrors
// every write into mirrorPath. An empty mirrorPath disables the mirror.
func NewSQLiteStore(dbPath, mirrorPath string, log *telemetry.Logger) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open status database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping status database: %w", err)
	}

	s := &SQLiteStore{db: db, log: log}
	if mirrorPath != "" {
		s.mirror = NewMirror(mirrorPath)
	}

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// MirrorPath returns the JSON mirror location, or "" when disabled.
func (s *SQLiteStore) MirrorPath() string {
	if s.mirror == nil {
		return ""
	}
	return s.mirror.Path()
}

// SetPhaseStatus writes the complete record for status.Phase, replacing any
// previous record, then refreshes the JSON mirror.
func (s *SQLiteStore) SetPhaseStatus(ctx context.Context, status InstallationStatus) error {
	query := `
		INSERT INTO phase_statuses (
			phase, stage, start_time, completion_time, exit_code,
			last_error, run_id, architecture, bootstrap_url, version, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(phase) DO UPDATE SET
			stage = excluded.stage,
			start_time = excluded.start_time,
			completion_time = excluded.completion_time,
			exit_code = excluded.exit_code,
			last_error = excluded.last_error,
			run_id = excluded.run_id,
			architecture = excluded.architecture,
			bootstrap_url = excluded.bootstrap_url,
			version = excluded.version,
			updated_at = excluded.updated_at
	`

	var completion interface{}
	if status.CompletionTime != nil {
		completion = status.CompletionTime.UTC()
	}

	_, err := s.db.ExecContext(ctx, query,
		string(status.Phase),
		string(status.Stage),
		status.StartTime.UTC(),
		completion,
		status.ExitCode,
		status.LastError,
		status.RunID,
		status.Architecture,
		status.BootstrapURL,
		status.Version,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to write status for phase %s: %w", status.Phase, err)
	}

	s.refreshMirror(ctx)
	return nil
}

// GetPhaseStatus reads the record for phase. Missing or unreadable records
// produce a default Starting status so polling scripts always get an answer.
func (s *SQLiteStore) GetPhaseStatus(ctx context.Context, phase manifest.Phase) (InstallationStatus, error) {
	query := `
		SELECT phase, stage, start_time, completion_time, exit_code,
		       last_error, run_id, architecture, bootstrap_url, version
		FROM phase_statuses WHERE phase = ?
	`

	var (
		st         InstallationStatus
		phaseStr   string
		stageStr   string
		completion sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, string(phase)).Scan(
		&phaseStr, &stageStr, &st.StartTime, &completion, &st.ExitCode,
		&st.LastError, &st.RunID, &st.Architecture, &st.BootstrapURL, &st.Version,
	)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Warn().Str("phase", string(phase)).Err(err).Msg("status read failed, returning default")
		}
		return defaultStatus(phase), nil
	}

	st.Phase = manifest.Phase(phaseStr)
	st.Stage = Stage(stageStr)
	if completion.Valid {
		t := completion.Time
		st.CompletionTime = &t
	}
	return st, nil
}

// AllStatuses returns every stored record keyed by phase.
func (s *SQLiteStore) AllStatuses(ctx context.Context) (map[manifest.Phase]InstallationStatus, error) {
	query := `
		SELECT phase, stage, start_time, completion_time, exit_code,
		       last_error, run_id, architecture, bootstrap_url, version
		FROM phase_statuses
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list statuses: %w", err)
	}
	defer rows.Close()

	out := make(map[manifest.Phase]InstallationStatus)
	for rows.Next() {
		var (
			st         InstallationStatus
			phaseStr   string
			stageStr   string
			completion sql.NullTime
		)
		if err := rows.Scan(
			&phaseStr, &stageStr, &st.StartTime, &completion, &st.ExitCode,
			&st.LastError, &st.RunID, &st.Architecture, &st.BootstrapURL, &st.Version,
		); err != nil {
			return nil, fmt.Errorf("failed to scan status row: %w", err)
		}
		st.Phase = manifest.Phase(phaseStr)
		st.Stage = Stage(stageStr)
		if completion.Valid {
			t := completion.Time
			st.CompletionTime = &t
		}
		out[st.Phase] = st
	}
	return out, rows.Err()
}

// CleanupOldStatuses removes terminal records completed before now-maxAge.
// Running records are never touched regardless of age.
func (s *SQLiteStore) CleanupOldStatuses(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM phase_statuses
		WHERE stage IN (?, ?, ?)
		  AND completion_time IS NOT NULL
		  AND completion_time < ?
	`, string(StageCompleted), string(StageFailed), string(StageSkipped), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up statuses: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.refreshMirror(ctx)
	}
	return n, nil
}

// Clear removes all records and the mirror content.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM phase_statuses`); err != nil {
		return fmt.Errorf("failed to clear statuses: %w", err)
	}
	s.refreshMirror(ctx)
	return nil
}

// refreshMirror rewrites the JSON mirror from the database. Mirror failures
// are logged and swallowed; the database remains the source of truth.
func (s *SQLiteStore) refreshMirror(ctx context.Context) {
	if s.mirror == nil {
		return
	}
	all, err := s.AllStatuses(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read statuses for mirror")
		return
	}
	if err := s.mirror.Write(all); err != nil {
		s.log.Warn().Err(err).Msg("failed to write status mirror")
	}
}
