// Package history records finished runs in a SQLite database so scores can
// be compared over time.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// FileName is the database file under the output dir.
const FileName = "history.db"

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// Run is one recorded pipeline run.
type Run struct {
	ID             string             `json:"id"`
	Mode           string             `json:"mode"`
	Status         string             `json:"status"`
	Target         string             `json:"target"`
	Revision       string             `json:"revision,omitempty"`
	CompositeScore float64            `json:"composite_score"`
	Verdict        string             `json:"verdict"`
	Components     int                `json:"components"`
	Analyzed       int                `json:"analyzed"`
	Cached         int                `json:"cached"`
	Failed         int                `json:"failed"`
	Cycles         int                `json:"cycles"`
	Orphans        int                `json:"orphans"`
	BrokenLinks    int                `json:"broken_links"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     time.Time          `json:"finished_at"`
	Scores         map[string]float64 `json:"scores,omitempty"`
}

// Point is one component score in a trend.
type Point struct {
	RunID     string    `json:"run_id"`
	Score     float64   `json:"score"`
	StartedAt time.Time `json:"started_at"`
}

// Store persists runs.
type Store struct {
	conn   *sql.DB
	logger *slog.Logger
	dbPath string
}

// Open opens or creates the history database in dir.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	dbPath := filepath.Join(dir, FileName)

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	store := &Store{conn: conn, logger: logger, dbPath: dbPath}
	if err := store.initializeSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	logger.Debug("opened history database", "path", dbPath)
	return store, nil
}

func (s *Store) initializeSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			target TEXT NOT NULL,
			revision TEXT,
			composite_score REAL NOT NULL,
			verdict TEXT NOT NULL,
			components INTEGER NOT NULL,
			analyzed INTEGER NOT NULL,
			cached INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			cycles INTEGER NOT NULL,
			orphans INTEGER NOT NULL,
			broken_links INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);

		CREATE TABLE IF NOT EXISTS component_scores (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			component_id TEXT NOT NULL,
			score REAL NOT NULL,
			PRIMARY KEY (run_id, component_id)
		);
		CREATE INDEX IF NOT EXISTS idx_scores_component ON component_scores(component_id);

		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		);
		INSERT OR REPLACE INTO schema_version (version) VALUES (1);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Path returns the database file.
func (s *Store) Path() string { return s.dbPath }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Record inserts or replaces a run and its component scores.
func (s *Store) Record(ctx context.Context, run Run) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM component_scores WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("failed to clear scores for %s: %w", run.ID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (id, mode, status, target, revision, composite_score, verdict,
			components, analyzed, cached, failed, cycles, orphans, broken_links, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, run.Mode, run.Status, run.Target, nullString(run.Revision), run.CompositeScore, run.Verdict,
		run.Components, run.Analyzed, run.Cached, run.Failed, run.Cycles, run.Orphans, run.BrokenLinks,
		run.StartedAt.UTC().Format(timeLayout), run.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}

	if len(run.Scores) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO component_scores (run_id, component_id, score) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for id, score := range run.Scores {
			if _, err := stmt.ExecContext(ctx, run.ID, id, score); err != nil {
				return fmt.Errorf("failed to record score for %s: %w", id, err)
			}
		}
	}
	return tx.Commit()
}

const runColumns = `id, mode, status, target, revision, composite_score, verdict,
	components, analyzed, cached, failed, cycles, orphans, broken_links, started_at, finished_at`

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Get returns one run with its component scores.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, err
	}

	rows, err := s.conn.QueryContext(ctx, `SELECT component_id, score FROM component_scores WHERE run_id = ?`, id)
	if err != nil {
		return Run{}, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cid string
		var score float64
		if err := rows.Scan(&cid, &score); err != nil {
			return Run{}, err
		}
		if run.Scores == nil {
			run.Scores = make(map[string]float64)
		}
		run.Scores[cid] = score
	}
	return run, rows.Err()
}

// Trend returns the recorded scores of one component, oldest first.
func (s *Store) Trend(ctx context.Context, componentID string, limit int) ([]Point, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT run_id, score, started_at FROM (
			SELECT cs.run_id, cs.score, r.started_at
			FROM component_scores cs JOIN runs r ON r.id = cs.run_id
			WHERE cs.component_id = ?
			ORDER BY r.started_at DESC
			LIMIT ?
		) ORDER BY started_at ASC
	`, componentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trend: %w", err)
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		var p Point
		var started string
		if err := rows.Scan(&p.RunID, &p.Score, &started); err != nil {
			return nil, err
		}
		p.StartedAt, _ = time.Parse(timeLayout, started)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Prune deletes all but the newest keep runs.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.conn.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run               Run
		revision          sql.NullString
		started, finished string
	)
	err := row.Scan(&run.ID, &run.Mode, &run.Status, &run.Target, &revision, &run.CompositeScore, &run.Verdict,
		&run.Components, &run.Analyzed, &run.Cached, &run.Failed, &run.Cycles, &run.Orphans, &run.BrokenLinks,
		&started, &finished)
	if err != nil {
		return Run{}, err
	}
	run.Revision = revision.String
	if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return Run{}, fmt.Errorf("run %s: bad started_at: %w", run.ID, err)
	}
	if run.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return Run{}, fmt.Errorf("run %s: bad finished_at: %w", run.ID, err)
	}
	return run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
