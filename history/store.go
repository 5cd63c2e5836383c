// Package history persists the per-epoch statistics of training runs in a
// SQLite database so runs can be compared after the process exits.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/tsawler/go-latent/domain"
	"github.com/tsawler/go-latent/training"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("history: run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	status TEXT NOT NULL DEFAULT 'running'
);
CREATE TABLE IF NOT EXISTS epoch_metrics(
	run_id INTEGER NOT NULL REFERENCES runs(id),
	phase TEXT NOT NULL,
	epoch INTEGER NOT NULL,
	metric TEXT NOT NULL,
	value REAL,
	PRIMARY KEY(run_id, phase, epoch, metric)
);`

// Store is a run history database.
type Store struct {
	db     *sql.DB
	logger logrus.FieldLogger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger; the default is the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.logger = l }
}

// Open opens or creates the database at path and applies the schema.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history %s schema: %w", path, err)
	}

	s := &Store{db: db, logger: logrus.StandardLogger()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunInfo describes one stored run.
type RunInfo struct {
	ID         int64
	Name       string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
}

// StartRun registers a new run.
func (s *Store) StartRun(name string) (*Run, error) {
	res, err := s.db.Exec("INSERT INTO runs(name, started_at) VALUES(?, ?)",
		name, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("start run %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("start run %q: %w", name, err)
	}
	s.logger.WithFields(logrus.Fields{"run_id": id, "name": name}).Debug("run started")
	return &Run{store: s, id: id, name: name}, nil
}

// Runs lists all runs, newest first.
func (s *Store) Runs() ([]RunInfo, error) {
	rows, err := s.db.Query("SELECT id, name, started_at, finished_at, status FROM runs ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var (
			info     RunInfo
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&info.ID, &info.Name, &started, &finished, &info.Status); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		info.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if finished.Valid {
			info.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
		}
		runs = append(runs, info)
	}
	return runs, rows.Err()
}

// Point is one epoch's value of a metric.
type Point struct {
	Epoch int
	Value float64
}

// Series returns the values of metric in phase for run id, by epoch.
// Non-finite values are stored as NULL and read back as NaN.
func (s *Store) Series(runID int64, phase domain.Phase, metric string) ([]Point, error) {
	rows, err := s.db.Query(
		"SELECT epoch, value FROM epoch_metrics WHERE run_id = ? AND phase = ? AND metric = ? ORDER BY epoch",
		runID, string(phase), metric)
	if err != nil {
		return nil, fmt.Errorf("series %s/%s: %w", phase, metric, err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var (
			p     Point
			value sql.NullFloat64
		)
		if err := rows.Scan(&p.Epoch, &value); err != nil {
			return nil, fmt.Errorf("series %s/%s: %w", phase, metric, err)
		}
		p.Value = math.NaN()
		if value.Valid {
			p.Value = value.Float64
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Run records the statistics of one training run. It implements
// training.Recorder.
type Run struct {
	store *Store
	id    int64
	name  string
}

var _ training.Recorder = (*Run)(nil)

func (r *Run) ID() int64    { return r.id }
func (r *Run) Name() string { return r.name }

// RecordEpoch stores every statistic of a phase epoch in one transaction.
// Recording the same phase and epoch again overwrites the earlier values.
func (r *Run) RecordEpoch(phase domain.Phase, epoch int, stats training.Statistics) error {
	tx, err := r.store.db.Begin()
	if err != nil {
		return fmt.Errorf("record run %d: %w", r.id, err)
	}
	stmt, err := tx.Prepare("INSERT OR REPLACE INTO epoch_metrics(run_id, phase, epoch, metric, value) VALUES(?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("record run %d: %w", r.id, err)
	}
	defer stmt.Close()

	for _, name := range stats.Names() {
		v := stats[name]
		value := sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v) && !math.IsInf(v, 0)}
		if _, err := stmt.Exec(r.id, string(phase), epoch, name, value); err != nil {
			tx.Rollback()
			return fmt.Errorf("record run %d %s/%s: %w", r.id, phase, name, err)
		}
	}
	return tx.Commit()
}

// Series returns the values of metric in phase for this run.
func (r *Run) Series(phase domain.Phase, metric string) ([]Point, error) {
	return r.store.Series(r.id, phase, metric)
}

// Finish marks the run with a final status such as "completed" or "failed".
func (r *Run) Finish(status string) error {
	res, err := r.store.db.Exec("UPDATE runs SET finished_at = ?, status = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339Nano), status, r.id)
	if err != nil {
		return fmt.Errorf("finish run %d: %w", r.id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %d", ErrRunNotFound, r.id)
	}
	r.store.logger.WithFields(logrus.Fields{"run_id": r.id, "status": status}).Debug("run finished")
	return nil
}
