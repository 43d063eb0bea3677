// Package results persists pipeline runs to a SQLite database: one row per
// run, per selected bug target and per optimizer epoch.
package results

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure Go driver, registers "sqlite"

	"github.com/kolkov/gradsan/internal/grad/optimizer"
)

// Run describes one pipeline run.
type Run struct {
	ID        string
	Input     string
	InputSize int
	Mode      string
	Started   time.Time
	Finished  time.Time
	Targets   int
	Err       string
}

// Store is a results database.
//
// Thread Safety: Safe for concurrent use (database/sql pools connections).
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the database at path. ":memory:" opens a private
// in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: an in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database path.
func (s *Store) Path() string { return s.path }

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		input TEXT NOT NULL,
		input_size INTEGER NOT NULL,
		mode TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		targets INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS targets (
		run_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		source INTEGER NOT NULL,
		sink INTEGER NOT NULL,
		opcode TEXT NOT NULL,
		rule TEXT NOT NULL,
		stop TEXT NOT NULL,
		PRIMARY KEY (run_id, idx),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS epochs (
		run_id TEXT NOT NULL,
		target_idx INTEGER NOT NULL,
		epoch INTEGER NOT NULL,
		old_x INTEGER NOT NULL,
		new_x INTEGER NOT NULL,
		f_x INTEGER NOT NULL,
		ndx REAL,
		pdx REAL,
		loss INTEGER NOT NULL,
		PRIMARY KEY (run_id, target_idx, epoch),
		FOREIGN KEY (run_id, target_idx) REFERENCES targets(run_id, idx)
	);
	CREATE INDEX IF NOT EXISTS idx_targets_run ON targets(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// BeginRun records the start of a run and returns it with a fresh ID.
func (s *Store) BeginRun(ctx context.Context, input string, size int, mode string) (Run, error) {
	r := Run{
		ID:        uuid.New().String(),
		Input:     input,
		InputSize: size,
		Mode:      mode,
		Started:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, input, input_size, mode, started_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Input, r.InputSize, r.Mode, r.Started)
	if err != nil {
		return Run{}, fmt.Errorf("failed to insert run: %w", err)
	}
	return r, nil
}

// SaveResults records the optimization history of every target of run id
// in one transaction.
func (s *Store) SaveResults(ctx context.Context, runID string, res []optimizer.Result) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i, r := range res {
		bt := r.Target
		_, err = tx.ExecContext(ctx,
			`INSERT INTO targets (run_id, idx, source, sink, opcode, rule, stop) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, i, bt.Source, uint32(bt.Sink), bt.Op.String(), bt.Rule, r.Stop.String())
		if err != nil {
			return fmt.Errorf("failed to insert target %d: %w", i, err)
		}
		for _, ep := range r.Epochs {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO epochs (run_id, target_idx, epoch, old_x, new_x, f_x, ndx, pdx, loss)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				runID, i, ep.Epoch, ep.OldX, ep.NewX, ep.FX, finite(ep.NegDeriv), finite(ep.PosDeriv), ep.Loss)
			if err != nil {
				return fmt.Errorf("failed to insert epoch %d of target %d: %w", ep.Epoch, i, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}
	return nil
}

// FinishRun records the end of run id. runErr may be nil.
func (s *Store) FinishRun(ctx context.Context, runID string, targets int, runErr error) error {
	var msg sql.NullString
	if runErr != nil {
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, targets = ?, error = ? WHERE id = ?`,
		time.Now().UTC(), targets, msg, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// GetRun returns run id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	var (
		r        Run
		finished sql.NullTime
		msg      sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, input, input_size, mode, started_at, finished_at, targets, error FROM runs WHERE id = ?`, id).
		Scan(&r.ID, &r.Input, &r.InputSize, &r.Mode, &r.Started, &finished, &r.Targets, &msg)
	if err != nil {
		return Run{}, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	r.Finished = finished.Time
	r.Err = msg.String
	return r, nil
}

// TargetSummary is one stored target with its epoch count and final byte.
type TargetSummary struct {
	Index  int
	Source int
	Sink   uint32
	Op     string
	Rule   string
	Stop   string
	Epochs int
	FinalX sql.NullInt64
}

// Targets returns the stored targets of run id in selection order.
func (s *Store) Targets(ctx context.Context, runID string) ([]TargetSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.idx, t.source, t.sink, t.opcode, t.rule, t.stop,
		       COUNT(e.epoch),
		       (SELECT new_x FROM epochs e2 WHERE e2.run_id = t.run_id AND e2.target_idx = t.idx
		        ORDER BY e2.epoch DESC LIMIT 1)
		FROM targets t
		LEFT JOIN epochs e ON e.run_id = t.run_id AND e.target_idx = t.idx
		WHERE t.run_id = ?
		GROUP BY t.idx
		ORDER BY t.idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query targets: %w", err)
	}
	defer rows.Close()

	var out []TargetSummary
	for rows.Next() {
		var ts TargetSummary
		if err := rows.Scan(&ts.Index, &ts.Source, &ts.Sink, &ts.Op, &ts.Rule, &ts.Stop, &ts.Epochs, &ts.FinalX); err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// finite maps NaN and infinities to NULL.
func finite(f float64) sql.NullFloat64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}
