package runstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database holding the history of training runs.
type DB struct{ sql *sql.DB }

// Run is one finished training run.
type Run struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    time.Time
	Epochs        int
	BestEpoch     int
	StoppedEarly  bool
	LearningRate  float64
	TestLoss      float64
	TestAccuracy  float64
	Confusion     [2][2]int
	CheckpointDir string
	WebDir        string
}

// Epoch is one row of a run's training history.
type Epoch struct {
	Epoch        int
	Loss         float64
	Accuracy     float64
	ValLoss      sql.NullFloat64
	ValAccuracy  sql.NullFloat64
	LearningRate float64
}

func Open(path string) (*DB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases visible to every query.
	d.SetMaxOpenConns(1)
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		_ = d.Close()
		return nil, err
	}
	db := &DB{sql: d}
	if err := db.migrate(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) migrate() error {
	_, err := d.sql.Exec(`
	CREATE TABLE IF NOT EXISTS runs (
	  id TEXT PRIMARY KEY,
	  started_at INTEGER NOT NULL,
	  finished_at INTEGER NOT NULL,
	  epochs INTEGER NOT NULL,
	  best_epoch INTEGER NOT NULL,
	  stopped_early INTEGER NOT NULL,
	  learning_rate REAL NOT NULL,
	  test_loss REAL NOT NULL,
	  test_accuracy REAL NOT NULL,
	  confusion TEXT NOT NULL,
	  checkpoint_dir TEXT,
	  web_dir TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE TABLE IF NOT EXISTS epochs (
	  run_id TEXT NOT NULL,
	  epoch INTEGER NOT NULL,
	  loss REAL NOT NULL,
	  accuracy REAL NOT NULL,
	  val_loss REAL,
	  val_accuracy REAL,
	  learning_rate REAL NOT NULL,
	  PRIMARY KEY (run_id, epoch)
	);
	CREATE TABLE IF NOT EXISTS predictions (
	  run_id TEXT PRIMARY KEY,
	  probs BLOB NOT NULL
	);
	`)
	return err
}

// PutRun inserts or replaces a run record.
func (d *DB) PutRun(ctx context.Context, r Run) error {
	cm, err := json.Marshal(r.Confusion)
	if err != nil {
		return err
	}
	_, err = d.sql.ExecContext(ctx, `INSERT OR REPLACE INTO runs(id, started_at, finished_at, epochs, best_epoch, stopped_early, learning_rate, test_loss, test_accuracy, confusion, checkpoint_dir, web_dir) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(), r.Epochs, r.BestEpoch, boolInt(r.StoppedEarly), r.LearningRate, r.TestLoss, r.TestAccuracy, string(cm), r.CheckpointDir, r.WebDir)
	return err
}

// PutEpochs stores a run's per-epoch history in one transaction.
func (d *DB) PutEpochs(ctx context.Context, runID string, epochs []Epoch) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO epochs(run_id, epoch, loss, accuracy, val_loss, val_accuracy, learning_rate) VALUES(?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range epochs {
		if _, err := stmt.ExecContext(ctx, runID, e.Epoch, e.Loss, e.Accuracy, e.ValLoss, e.ValAccuracy, e.LearningRate); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PutPredictions stores test-set probabilities as a float32 blob.
func (d *DB) PutPredictions(ctx context.Context, runID string, probs []float64) error {
	v := make([]float32, len(probs))
	for i, p := range probs {
		v[i] = float32(p)
	}
	_, err := d.sql.ExecContext(ctx, `INSERT OR REPLACE INTO predictions(run_id, probs) VALUES(?,?)`, runID, encodeF32(v))
	return err
}

func (d *DB) LoadPredictions(ctx context.Context, runID string) ([]float32, error) {
	var b []byte
	if err := d.sql.QueryRowContext(ctx, `SELECT probs FROM predictions WHERE run_id=?`, runID).Scan(&b); err != nil {
		return nil, err
	}
	return decodeF32(b), nil
}

// ListRuns returns the most recent runs first.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.sql.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ErrNotFound is returned by GetRun for unknown ids.
var ErrNotFound = errors.New("run not found")

func (d *DB) GetRun(ctx context.Context, id string) (Run, error) {
	r, err := scanRun(d.sql.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	return r, err
}

func (d *DB) LoadEpochs(ctx context.Context, runID string) ([]Epoch, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT epoch, loss, accuracy, val_loss, val_accuracy, learning_rate FROM epochs WHERE run_id=? ORDER BY epoch`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Epoch
	for rows.Next() {
		var e Epoch
		if err := rows.Scan(&e.Epoch, &e.Loss, &e.Accuracy, &e.ValLoss, &e.ValAccuracy, &e.LearningRate); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const runColumns = `id, started_at, finished_at, epochs, best_epoch, stopped_early, learning_rate, test_loss, test_accuracy, confusion, COALESCE(checkpoint_dir, ''), COALESCE(web_dir, '')`

type scanner interface{ Scan(dest ...any) error }

func scanRun(s scanner) (Run, error) {
	var r Run
	var started, finished int64
	var stopped int
	var cm string
	if err := s.Scan(&r.ID, &started, &finished, &r.Epochs, &r.BestEpoch, &stopped, &r.LearningRate, &r.TestLoss, &r.TestAccuracy, &cm, &r.CheckpointDir, &r.WebDir); err != nil {
		return r, err
	}
	r.StartedAt = time.UnixMilli(started).UTC()
	r.FinishedAt = time.UnixMilli(finished).UTC()
	r.StoppedEarly = stopped != 0
	if err := json.Unmarshal([]byte(cm), &r.Confusion); err != nil {
		return r, err
	}
	return r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeF32(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v[i]))
	}
	return b
}

func decodeF32(b []byte) []float32 {
	n := len(b) / 4
	v := make([]float32, n)
	for i := 0; i < n; i++ {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
