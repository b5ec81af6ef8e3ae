package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// ErrNotJournaled is returned by Load for an unknown identity.
var ErrNotJournaled = errors.New("session not journaled")

// Journal appends every recorded trial to SQLite so a session whose
// dataset write failed can be rebuilt later.
type Journal struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Entry is a journaled session.
type Entry struct {
	Experiment string
	Order      []int
	Dataset    Dataset
	Finished   bool
	Path       string // dataset file, set once written
}

// OpenJournal opens or creates the journal database at path.
func OpenJournal(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			participant TEXT NOT NULL,
			session     TEXT NOT NULL,
			experiment  TEXT NOT NULL,
			identity    BLOB NOT NULL,
			sequence    BLOB NOT NULL,
			calibration BLOB,
			summary     BLOB,
			output      TEXT NOT NULL DEFAULT '',
			started_at  TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			finished_at TEXT,
			PRIMARY KEY (participant, session)
		)`,
		`CREATE TABLE IF NOT EXISTS trials (
			participant TEXT NOT NULL,
			session     TEXT NOT NULL,
			idx         INTEGER NOT NULL,
			payload     BLOB NOT NULL,
			PRIMARY KEY (participant, session, idx)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create journal tables: %w", err)
		}
	}
	return &Journal{db: db, path: path}, nil
}

// Path returns the database file.
func (j *Journal) Path() string { return j.path }

// Close closes the database.
func (j *Journal) Close() error { return j.db.Close() }

// Begin starts a journal entry, discarding any earlier unfinished entry
// for the same identity.
func (j *Journal) Begin(ctx context.Context, experiment string, id Identity, order []int) (retErr error) {
	identity, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	sequence, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `DELETE FROM trials WHERE participant = ? AND session = ?`, id.Participant, id.Session); err != nil {
		return fmt.Errorf("clear trials: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO sessions (participant, session, experiment, identity, sequence)
		VALUES (?, ?, ?, ?, ?)`, id.Participant, id.Session, experiment, identity, sequence); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return tx.Commit()
}

// Append stores one recorded trial.
func (j *Journal) Append(ctx context.Context, id Identity, row Row) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode trial: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = j.db.ExecContext(ctx, `INSERT OR REPLACE INTO trials (participant, session, idx, payload) VALUES (?, ?, ?, ?)`,
		id.Participant, id.Session, row.Spec.Index, payload)
	if err != nil {
		return fmt.Errorf("insert trial: %w", err)
	}
	return nil
}

// SetCalibration stores the calibration pair of a session.
func (j *Journal) SetCalibration(ctx context.Context, id Identity, cal Calibration) error {
	return j.update(ctx, id, "calibration", cal)
}

// SetSummary stores the per-session summary values.
func (j *Journal) SetSummary(ctx context.Context, id Identity, summary map[string]float64) error {
	return j.update(ctx, id, "summary", summary)
}

func (j *Journal) update(ctx context.Context, id Identity, column string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", column, err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	// column is one of a fixed set of names.
	res, err := j.db.ExecContext(ctx, `UPDATE sessions SET `+column+` = ? WHERE participant = ? AND session = ?`,
		payload, id.Participant, id.Session)
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotJournaled
	}
	return nil
}

// Finish marks the session complete once its dataset is written.
func (j *Journal) Finish(ctx context.Context, id Identity, output string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	res, err := j.db.ExecContext(ctx, `UPDATE sessions SET output = ?, finished_at = CURRENT_TIMESTAMP
		WHERE participant = ? AND session = ?`, output, id.Participant, id.Session)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotJournaled
	}
	return nil
}

// Load rebuilds a journaled session. Rows are in canonical order.
func (j *Journal) Load(ctx context.Context, participant, session string) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var (
		entry                Entry
		identity, sequence   []byte
		calibration, summary []byte
		finished             sql.NullString
	)
	err := j.db.QueryRowContext(ctx, `SELECT experiment, identity, sequence, calibration, summary, output, finished_at
		FROM sessions WHERE participant = ? AND session = ?`, participant, session).
		Scan(&entry.Experiment, &identity, &sequence, &calibration, &summary, &entry.Path, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s/%s", ErrNotJournaled, participant, session)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("select session: %w", err)
	}
	entry.Finished = finished.Valid
	if err := json.Unmarshal(identity, &entry.Dataset.Identity); err != nil {
		return Entry{}, fmt.Errorf("decode identity: %w", err)
	}
	if err := json.Unmarshal(sequence, &entry.Order); err != nil {
		return Entry{}, fmt.Errorf("decode order: %w", err)
	}
	if len(calibration) > 0 {
		cal := &Calibration{}
		if err := json.Unmarshal(calibration, cal); err != nil {
			return Entry{}, fmt.Errorf("decode calibration: %w", err)
		}
		entry.Dataset.Calibration = cal
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &entry.Dataset.Summary); err != nil {
			return Entry{}, fmt.Errorf("decode summary: %w", err)
		}
	}

	rows, err := j.db.QueryContext(ctx, `SELECT payload FROM trials WHERE participant = ? AND session = ? ORDER BY idx`,
		participant, session)
	if err != nil {
		return Entry{}, fmt.Errorf("select trials: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return Entry{}, fmt.Errorf("scan: %w", err)
		}
		var row Row
		if err := json.Unmarshal(payload, &row); err != nil {
			return Entry{}, fmt.Errorf("decode trial: %w", err)
		}
		entry.Dataset.Rows = append(entry.Dataset.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Entry{}, fmt.Errorf("iterate trials: %w", err)
	}
	return entry, nil
}
