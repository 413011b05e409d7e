// Package summary persists scalar training metrics.
//
// Metrics land in a single sqlite table keyed by update step and tag, so a
// run's loss curves, learning rate, eval accuracy, and privacy budget can
// be queried with plain SQL after (or during) training.
package summary

import (
	"database/sql"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS scalars (
	step  INTEGER NOT NULL,
	tag   TEXT    NOT NULL,
	value REAL    NOT NULL,
	PRIMARY KEY (step, tag)
);`

// Writer records scalar metrics. A nil Writer is valid and drops
// everything, for runs without a model directory.
type Writer struct {
	db *sql.DB
}

// Open creates or opens the summary database at path.
func Open(path string) (*Writer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open summary db")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create summary schema")
	}
	return &Writer{db: db}, nil
}

// WriteScalars records all tagged values at the given update step,
// overwriting earlier values for the same step and tag (a restarted run
// rewrites its tail).
func (w *Writer) WriteScalars(step int, values map[string]float64) error {
	if w == nil {
		return nil
	}
	tx, err := w.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin summary tx")
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO scalars (step, tag, value) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "prepare summary insert")
	}
	defer stmt.Close()

	for tag, value := range values {
		if _, err := stmt.Exec(step, tag, value); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "write scalar %q", tag)
		}
	}
	return errors.Wrap(tx.Commit(), "commit summary tx")
}

// ReadScalar returns the recorded value for a step and tag.
func (w *Writer) ReadScalar(step int, tag string) (float64, error) {
	if w == nil {
		return 0, errors.New("summary writer is nil")
	}
	var value float64
	err := w.db.QueryRow(`SELECT value FROM scalars WHERE step = ? AND tag = ?`, step, tag).Scan(&value)
	if err != nil {
		return 0, errors.Wrapf(err, "read scalar %q at step %d", tag, step)
	}
	return value, nil
}

// Close releases the database handle. Safe on a nil Writer.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	return w.db.Close()
}
